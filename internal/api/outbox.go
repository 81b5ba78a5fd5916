package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
)

// OutboxAdminAPI — операторская поверхность transactional outbox: просмотр
// backlog'а и единственный легальный способ вернуть FAILED-событие в
// очередь публикации.
type OutboxAdminAPI struct {
	repo   domain.OutboxRepository
	logger *log.Entry
}

func NewOutboxAdminAPI(repo domain.OutboxRepository, logger *log.Entry) *OutboxAdminAPI {
	if logger == nil {
		logger = log.WithField("component", "outbox-admin")
	}
	return &OutboxAdminAPI{repo: repo, logger: logger}
}

// Register mounts the operator routes.
func (a *OutboxAdminAPI) Register(r *mux.Router) {
	r.HandleFunc("/admin/outbox/stats", a.stats).Methods(http.MethodGet)
	r.HandleFunc("/admin/outbox/{id}/retry", a.retry).Methods(http.MethodPost)
}

func (a *OutboxAdminAPI) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.repo.Stats()
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":           stats.PendingCount,
		"failed":            stats.FailedCount,
		"oldest_pending_at": stats.OldestPendingAt,
	})
}

// retry сбрасывает FAILED-событие в PENDING с retries=0.
func (a *OutboxAdminAPI) retry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.repo.ResetForManualRetry(id); err != nil {
		if errors.Is(err, domain.ErrOutboxEventNotFound) {
			writeError(w, http.StatusNotFound, "OUTBOX_EVENT_NOT_FOUND", err.Error())
			return
		}
		writeDomainError(w, a.logger, err)
		return
	}

	a.logger.WithField("outbox_id", id).Info("outbox event scheduled for manual retry")
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "pending"})
}
