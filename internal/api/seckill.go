package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/seckill"
)

// headerAdminKey защищает инициализацию кампаний.
const headerAdminKey = "X-Admin-Key"

// SeckillAPI exposes the flash-sale hot path and campaign administration.
type SeckillAPI struct {
	engine   *seckill.Engine
	adminKey string
	logger   *log.Entry
}

func NewSeckillAPI(engine *seckill.Engine, adminKey string, logger *log.Entry) *SeckillAPI {
	if logger == nil {
		logger = log.WithField("component", "seckill-api")
	}
	return &SeckillAPI{engine: engine, adminKey: adminKey, logger: logger}
}

// Register mounts the flash-sale routes.
func (a *SeckillAPI) Register(r *mux.Router) {
	r.HandleFunc("/seckill/buy", a.buy).Methods(http.MethodPost)
	r.HandleFunc("/seckill/status/{productId}", a.status).Methods(http.MethodGet)
	r.HandleFunc("/admin/seckill/init", a.initCampaign).Methods(http.MethodPost)
}

type buyRequest struct {
	ProductID string `json:"productId"`
}

// buy — горячий путь. 202: выигрыш зафиксирован, заказ появится асинхронно.
func (a *SeckillAPI) buy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "productId is required")
		return
	}

	won, err := a.engine.Reserve(r.Context(), req.ProductID, userID, time.Now())
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"orderId": won.ReservationID})
}

func (a *SeckillAPI) status(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.CampaignStatus(r.Context(), mux.Vars(r)["productId"], time.Now())
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stockRemaining": status.StockRemaining,
		"totalStock":     status.TotalStock,
		"isActive":       status.IsActive,
	})
}

type initCampaignRequest struct {
	ProductID  string `json:"productId"`
	Stock      int64  `json:"stock"`
	PriceMinor int64  `json:"price"`
	StartAt    int64  `json:"startAt"`
	EndAt      int64  `json:"endAt"`
}

func (a *SeckillAPI) initCampaign(w http.ResponseWriter, r *http.Request) {
	if a.adminKey == "" || r.Header.Get(headerAdminKey) != a.adminKey {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return
	}

	var req initCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}

	campaign := domain.FlashSaleCampaign{
		ProductID:  req.ProductID,
		Stock:      req.Stock,
		TotalStock: req.Stock,
		PriceMinor: req.PriceMinor,
		StartAt:    time.Unix(req.StartAt, 0),
		EndAt:      time.Unix(req.EndAt, 0),
	}
	if err := a.engine.InitCampaign(r.Context(), campaign); err != nil {
		writeDomainError(w, a.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"productId": req.ProductID, "status": "initialized"})
}
