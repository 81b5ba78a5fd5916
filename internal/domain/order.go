package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в saga.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, резервирование и оплата ещё не выполнены.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — инвентарь зарезервирован, заказ ожидает оплаты.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPaid — оплата подтверждена платёжным провайдером. Терминальный статус.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCancelled — заказ отменён (нехватка стока или неудачная оплата). Терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal возвращает true для статусов, из которых больше нет легальных переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// OrderSource отличает обычный заказ от выигранного в flash-sale.
type OrderSource string

const (
	OrderSourceRegular OrderSource = "regular"
	OrderSourceSeckill OrderSource = "seckill"
)

// OrderMetadata несёт происхождение заказа и сквозные идентификаторы.
type OrderMetadata struct {
	Source        OrderSource
	SeckillRef    string
	CorrelationID string
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — внешний идентификатор товара.
	ProductID string
	// NameSnapshot фиксирует имя товара на момент заказа (не меняется при переименовании товара).
	NameSnapshot string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Reserved отмечает, что склад подтвердил резерв по этой позиции.
	Reserved bool
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID                 string
	CustomerID         string
	Status             OrderStatus
	Currency           string
	AmountMinor        int64
	Items              []OrderItem
	CancellationReason string
	Metadata           OrderMetadata
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// IsSeckill сообщает, что заказ пришёл через flash-sale и должен обходить обычный reserve.
func (o *Order) IsSeckill() bool {
	return o.Metadata.Source == OrderSourceSeckill
}
