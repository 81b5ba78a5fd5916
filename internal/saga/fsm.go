// Package saga implements the order saga as a pure finite-state machine plus
// a set of event-driven handlers registered on the broker consumer pipeline.
// The legal-transition table lives in a pure function with no side effects;
// persistence, outbox enqueueing and timeline bookkeeping happen in the
// handlers, so the FSM itself can be tested exhaustively without a store.
package saga

import (
	"github.com/mkarasev/oms-saga/internal/domain"
)

// TriggerEvent names the broker event that is driving a state transition.
type TriggerEvent string

const (
	// EventInventoryReserveSucceeded — склад подтвердил резерв по всем позициям.
	EventInventoryReserveSucceeded TriggerEvent = "inventory.reserved.success"
	// EventInventoryReserveFailed — склад отказал в резерве (нет стока).
	EventInventoryReserveFailed TriggerEvent = "inventory.reserved.failed"
	// EventPaymentSucceeded — платёжный провайдер подтвердил списание.
	EventPaymentSucceeded TriggerEvent = "payment.succeeded"
	// EventPaymentFailed — платёж отклонён или завершился с ошибкой.
	EventPaymentFailed TriggerEvent = "payment.failed"
	// EventCustomerCancel — отмена, инициированная клиентом/оператором через API.
	EventCustomerCancel TriggerEvent = "order.cancel.requested"
)

// transitions — таблица легальных переходов FSM заказа. Прямой переход
// PENDING->PAID запрещён: оплата всегда идёт через CONFIRMED (резерв снят).
var transitions = map[domain.OrderStatus]map[TriggerEvent]domain.OrderStatus{
	domain.OrderStatusPending: {
		EventInventoryReserveSucceeded: domain.OrderStatusConfirmed,
		EventInventoryReserveFailed:    domain.OrderStatusCancelled,
		EventCustomerCancel:            domain.OrderStatusCancelled,
	},
	domain.OrderStatusConfirmed: {
		EventPaymentSucceeded: domain.OrderStatusPaid,
		EventPaymentFailed:    domain.OrderStatusCancelled,
		EventCustomerCancel:   domain.OrderStatusCancelled,
	},
}

// Transition returns the next status for (current, event), or
// domain.ErrIllegalTransition if the pair isn't in the table — covers both
// truly illegal transitions and repeat deliveries of an event against a
// status that has already moved past it (callers should treat the latter as
// an idempotent no-op, not a processing failure).
func Transition(current domain.OrderStatus, event TriggerEvent) (domain.OrderStatus, error) {
	if current.IsTerminal() {
		return current, domain.ErrIllegalTransition
	}
	byEvent, ok := transitions[current]
	if !ok {
		return current, domain.ErrIllegalTransition
	}
	next, ok := byEvent[event]
	if !ok {
		return current, domain.ErrIllegalTransition
	}
	return next, nil
}

// IsNoopRedelivery reports whether applying event to an order already sitting
// in status would be a harmless redelivery (the order already moved past this
// trigger) rather than a genuine illegal transition. Handlers use this to ack
// a duplicate broker delivery instead of retrying it forever.
func IsNoopRedelivery(status domain.OrderStatus, event TriggerEvent) bool {
	switch event {
	case EventInventoryReserveSucceeded:
		return status == domain.OrderStatusConfirmed || status == domain.OrderStatusPaid
	case EventPaymentSucceeded:
		return status == domain.OrderStatusPaid
	case EventInventoryReserveFailed, EventPaymentFailed, EventCustomerCancel:
		return status == domain.OrderStatusCancelled
	default:
		return false
	}
}
