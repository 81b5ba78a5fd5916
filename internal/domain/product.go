package domain

import "time"

// Product — карточка товара. Имя и цена снапшотятся в позицию заказа при
// создании, поэтому последующие изменения карточки на заказ не влияют.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	CreatedAt  time.Time
}

// Validate проверяет минимальные инварианты карточки товара.
func (p *Product) Validate() []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	return errs
}

// ProductRepository описывает хранилище карточек товаров.
type ProductRepository interface {
	// Create сохраняет новую карточку товара.
	Create(product Product) error
	// Get возвращает карточку или ErrProductNotFound.
	Get(id string) (Product, error)
	// Delete удаляет карточку (вместе с ней удаляется и запись остатка).
	Delete(id string) error
}
