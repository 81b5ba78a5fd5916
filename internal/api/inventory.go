package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
)

// InventoryAPI exposes the warehouse catalog and stock operations.
type InventoryAPI struct {
	products domain.ProductRepository
	records  domain.InventoryRepository
	logger   *log.Entry
}

func NewInventoryAPI(products domain.ProductRepository, records domain.InventoryRepository, logger *log.Entry) *InventoryAPI {
	if logger == nil {
		logger = log.WithField("component", "inventory-api")
	}
	return &InventoryAPI{products: products, records: records, logger: logger}
}

// Register mounts the catalog and stock routes.
func (a *InventoryAPI) Register(r *mux.Router) {
	r.HandleFunc("/api/products", a.createProduct).Methods(http.MethodPost)
	r.HandleFunc("/api/products/{id}", a.getProduct).Methods(http.MethodGet)
	r.HandleFunc("/api/products/{id}", a.deleteProduct).Methods(http.MethodDelete)
	r.HandleFunc("/api/inventory/{productId}", a.getRecord).Methods(http.MethodGet)
	r.HandleFunc("/api/inventory/{productId}/reserve", a.reserve).Methods(http.MethodPost)
	r.HandleFunc("/api/inventory/{productId}/release", a.release).Methods(http.MethodPost)
	r.HandleFunc("/api/inventory/{productId}/confirm", a.confirm).Methods(http.MethodPost)
}

type createProductRequest struct {
	Name       string `json:"name"`
	PriceMinor int64  `json:"price"`
	Available  int64  `json:"available"`
}

type productView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceMinor int64     `json:"price_minor"`
	CreatedAt  time.Time `json:"created_at"`
}

type recordView struct {
	ProductID string `json:"product_id"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
	Version   int64  `json:"version"`
}

// createProduct создаёт карточку и запись остатка. Если запись остатка
// завести не удалось, карточка откатывается и клиент получает 502: товар без
// учёта стока продавать нельзя.
func (a *InventoryAPI) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	if req.Available < 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION", "available must be non-negative")
		return
	}

	product := domain.Product{
		ID:         uuid.NewString(),
		Name:       req.Name,
		PriceMinor: req.PriceMinor,
		CreatedAt:  time.Now().UTC(),
	}
	if errs := product.Validate(); len(errs) > 0 {
		writeDomainError(w, a.logger, errs[0])
		return
	}

	if err := a.products.Create(product); err != nil {
		writeDomainError(w, a.logger, err)
		return
	}

	if err := a.records.Create(domain.InventoryRecord{
		ProductID: product.ID,
		Available: req.Available,
	}); err != nil {
		if delErr := a.products.Delete(product.ID); delErr != nil {
			a.logger.WithError(delErr).WithField("product_id", product.ID).
				Error("product rollback failed after inventory sync error")
		}
		a.logger.WithError(err).WithField("product_id", product.ID).Warn("inventory sync failed, product rolled back")
		writeError(w, http.StatusBadGateway, "INVENTORY_SYNC_FAILED", "inventory record creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, productView{
		ID:         product.ID,
		Name:       product.Name,
		PriceMinor: product.PriceMinor,
		CreatedAt:  product.CreatedAt,
	})
}

func (a *InventoryAPI) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.products.Get(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productView{
		ID:         product.ID,
		Name:       product.Name,
		PriceMinor: product.PriceMinor,
		CreatedAt:  product.CreatedAt,
	})
}

// deleteProduct удаляет карточку вместе с записью остатка.
func (a *InventoryAPI) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.products.Delete(id); err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	if err := a.records.Delete(id); err != nil {
		a.logger.WithError(err).WithField("product_id", id).Warn("inventory record delete failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *InventoryAPI) getRecord(w http.ResponseWriter, r *http.Request) {
	record, err := a.records.Get(mux.Vars(r)["productId"])
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordView(record))
}

type qtyRequest struct {
	Qty int64 `json:"quantity"`
}

func (a *InventoryAPI) reserve(w http.ResponseWriter, r *http.Request) {
	a.mutateStock(w, r, a.records.Reserve)
}

func (a *InventoryAPI) release(w http.ResponseWriter, r *http.Request) {
	a.mutateStock(w, r, a.records.Release)
}

func (a *InventoryAPI) confirm(w http.ResponseWriter, r *http.Request) {
	a.mutateStock(w, r, a.records.Confirm)
}

func (a *InventoryAPI) mutateStock(w http.ResponseWriter, r *http.Request, op func(string, int64) (domain.InventoryRecord, error)) {
	var req qtyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}

	record, err := op(mux.Vars(r)["productId"], req.Qty)
	if err != nil {
		writeDomainError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordView(record))
}

func toRecordView(record domain.InventoryRecord) recordView {
	return recordView{
		ProductID: record.ProductID,
		Available: record.Available,
		Reserved:  record.Reserved,
		Version:   record.Version,
	}
}
