package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/orders"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
	maxBodyBytes         = 1 << 20
)

// OrdersAPI exposes order creation and reads. idem may be nil; with it, a
// client-supplied Idempotency-Key replays the cached response instead of
// creating a second order.
type OrdersAPI struct {
	svc    *orders.Service
	idem   domain.IdempotencyRepository
	logger *log.Entry
}

func NewOrdersAPI(svc *orders.Service, idem domain.IdempotencyRepository, logger *log.Entry) *OrdersAPI {
	if logger == nil {
		logger = log.WithField("component", "orders-api")
	}
	return &OrdersAPI{svc: svc, idem: idem, logger: logger}
}

// Register mounts the order routes.
func (a *OrdersAPI) Register(r *mux.Router) {
	r.HandleFunc("/api/orders", a.create).Methods(http.MethodPost)
	r.HandleFunc("/api/orders/{id}", a.get).Methods(http.MethodGet)
}

type createOrderRequest struct {
	ProductIDs []string `json:"productIds"`
	Quantities []int32  `json:"quantities"`
}

type orderItemView struct {
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	Qty        int32  `json:"quantity"`
	PriceMinor int64  `json:"priceMinor"`
	Reserved   bool   `json:"reserved"`
}

type orderView struct {
	OrderID            string          `json:"orderId"`
	Status             string          `json:"status"`
	Products           []orderItemView `json:"products"`
	TotalPriceMinor    int64           `json:"totalPrice"`
	Currency           string          `json:"currency"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	Source             string          `json:"source"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func toOrderView(order domain.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ProductID:  item.ProductID,
			Name:       item.NameSnapshot,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			Reserved:   item.Reserved,
		})
	}
	return orderView{
		OrderID:            order.ID,
		Status:             string(order.Status),
		Products:           items,
		TotalPriceMinor:    order.AmountMinor,
		Currency:           order.Currency,
		CancellationReason: order.CancellationReason,
		Source:             string(order.Metadata.Source),
		CreatedAt:          order.CreatedAt,
	}
}

// create принимает заказ и отвечает 201 сразу после фиксации PENDING +
// outbox: дальнейшая судьба заказа решается сагой, клиент опрашивает GET.
func (a *OrdersAPI) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "cannot read request body")
		return
	}

	idemKey := r.Header.Get(headerIdempotencyKey)
	if idemKey != "" && a.idem != nil {
		if replayed := a.beginIdempotent(w, idemKey, userID, body); replayed {
			return
		}
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.finishIdempotent(idemKey, nil, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	if len(req.ProductIDs) == 0 {
		a.finishIdempotent(idemKey, nil, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "VALIDATION", "productIds is required")
		return
	}

	order, err := a.svc.Create(r.Context(), orders.CreateRequest{
		CustomerID: userID,
		ProductIDs: req.ProductIDs,
		Quantities: req.Quantities,
	})
	if err != nil {
		a.finishIdempotent(idemKey, nil, http.StatusInternalServerError)
		writeDomainError(w, a.logger, err)
		return
	}

	view := toOrderView(order)
	if cached, err := json.Marshal(view); err == nil {
		a.finishIdempotentOK(idemKey, cached, http.StatusCreated)
	}
	writeJSON(w, http.StatusCreated, view)
}

// beginIdempotent регистрирует ключ идемпотентности. Возвращает true, если
// ответ уже отправлен (повтор или конфликт) и обработку надо прекратить.
func (a *OrdersAPI) beginIdempotent(w http.ResponseWriter, key, userID string, body []byte) bool {
	hash := requestHash(userID, body)
	_, err := a.idem.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		writeError(w, http.StatusConflict, "IDEMPOTENCY_MISMATCH", domain.ErrIdempotencyHashMismatch.Error())
		return true
	}
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		a.logger.WithError(err).Warn("idempotency registration failed, processing without replay protection")
		return false
	}

	record, getErr := a.idem.Get(key)
	if getErr != nil {
		writeError(w, http.StatusConflict, "IDEMPOTENCY_IN_FLIGHT", "request with this key is being processed")
		return true
	}
	if record.Expired(time.Now().UTC()) {
		// Просроченный ключ ещё не вычищен cleanup-воркером: replay по нему
		// запрещён, запрос обрабатывается как новый.
		return false
	}
	if record.RequestHash != hash {
		writeError(w, http.StatusConflict, "IDEMPOTENCY_MISMATCH", domain.ErrIdempotencyHashMismatch.Error())
		return true
	}
	if record.Status == domain.IdempotencyStatusProcessing {
		writeError(w, http.StatusConflict, "IDEMPOTENCY_IN_FLIGHT", "request with this key is being processed")
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(record.HTTPStatus)
	_, _ = w.Write(record.ResponseBody)
	return true
}

func (a *OrdersAPI) finishIdempotentOK(key string, responseBody []byte, status int) {
	if key == "" || a.idem == nil {
		return
	}
	if err := a.idem.MarkDone(key, responseBody, status); err != nil {
		a.logger.WithError(err).Warn("idempotency done-mark failed")
	}
}

func (a *OrdersAPI) finishIdempotent(key string, responseBody []byte, status int) {
	if key == "" || a.idem == nil {
		return
	}
	if err := a.idem.MarkFailed(key, responseBody, status); err != nil {
		a.logger.WithError(err).Warn("idempotency failed-mark failed")
	}
}

func requestHash(userID string, body []byte) string {
	sum := sha256.Sum256(append([]byte(userID+"\n"), body...))
	return hex.EncodeToString(sum[:])
}

func (a *OrdersAPI) get(w http.ResponseWriter, r *http.Request) {
	order, err := a.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}
