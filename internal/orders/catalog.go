package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/httpclient"
)

// httpCatalog читает карточки товара из сервиса склада через resilient
// HTTP-клиент: таймаут, retry и circuit breaker наследуются от клиента.
type httpCatalog struct {
	client  *httpclient.Client
	baseURL string
}

// NewHTTPCatalog builds a Catalog over the warehouse service HTTP API.
func NewHTTPCatalog(client *httpclient.Client, baseURL string) Catalog {
	return &httpCatalog{client: client, baseURL: baseURL}
}

type productResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
}

func (c *httpCatalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	resp, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/products/"+productID, nil)
	})
	if err != nil {
		return domain.Product{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body productResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return domain.Product{}, fmt.Errorf("decode product %s: %w", productID, err)
		}
		return domain.Product{ID: body.ID, Name: body.Name, PriceMinor: body.PriceMinor}, nil
	case http.StatusNotFound:
		return domain.Product{}, domain.ErrProductNotFound
	default:
		return domain.Product{}, fmt.Errorf("catalog returned %d for product %s", resp.StatusCode, productID)
	}
}
