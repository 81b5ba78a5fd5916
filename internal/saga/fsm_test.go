package saga

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarasev/oms-saga/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		current domain.OrderStatus
		event   TriggerEvent
		want    domain.OrderStatus
		wantErr bool
	}{
		{name: "pending + reserve success", current: domain.OrderStatusPending, event: EventInventoryReserveSucceeded, want: domain.OrderStatusConfirmed},
		{name: "pending + reserve failed", current: domain.OrderStatusPending, event: EventInventoryReserveFailed, want: domain.OrderStatusCancelled},
		{name: "pending + customer cancel", current: domain.OrderStatusPending, event: EventCustomerCancel, want: domain.OrderStatusCancelled},
		{name: "confirmed + payment success", current: domain.OrderStatusConfirmed, event: EventPaymentSucceeded, want: domain.OrderStatusPaid},
		{name: "confirmed + payment failed", current: domain.OrderStatusConfirmed, event: EventPaymentFailed, want: domain.OrderStatusCancelled},
		{name: "confirmed + customer cancel", current: domain.OrderStatusConfirmed, event: EventCustomerCancel, want: domain.OrderStatusCancelled},

		// Прямой PENDING->PAID запрещён.
		{name: "pending + payment success", current: domain.OrderStatusPending, event: EventPaymentSucceeded, wantErr: true},
		{name: "pending + payment failed", current: domain.OrderStatusPending, event: EventPaymentFailed, wantErr: true},
		{name: "confirmed + reserve success", current: domain.OrderStatusConfirmed, event: EventInventoryReserveSucceeded, wantErr: true},

		// Терминальные статусы не покидаются.
		{name: "paid + anything", current: domain.OrderStatusPaid, event: EventPaymentFailed, wantErr: true},
		{name: "cancelled + reserve success", current: domain.OrderStatusCancelled, event: EventInventoryReserveSucceeded, wantErr: true},
		{name: "cancelled + payment success", current: domain.OrderStatusCancelled, event: EventPaymentSucceeded, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.current, tc.event)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
				assert.Equal(t, tc.current, next, "failed transition must not move the status")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, next)
		})
	}
}

// TestReachabilityFromPending прогоняет все последовательности событий до
// глубины 4 и проверяет, что любой достижимый статус достижим легальным
// путём из PENDING, а терминальные статусы не покидаются.
func TestReachabilityFromPending(t *testing.T) {
	events := []TriggerEvent{
		EventInventoryReserveSucceeded,
		EventInventoryReserveFailed,
		EventPaymentSucceeded,
		EventPaymentFailed,
		EventCustomerCancel,
	}
	legal := map[domain.OrderStatus]bool{
		domain.OrderStatusPending:   true,
		domain.OrderStatusConfirmed: true,
		domain.OrderStatusPaid:      true,
		domain.OrderStatusCancelled: true,
	}

	var walk func(status domain.OrderStatus, depth int)
	walk = func(status domain.OrderStatus, depth int) {
		require.True(t, legal[status], "unexpected status %q", status)
		if depth == 0 {
			return
		}
		for _, event := range events {
			next, err := Transition(status, event)
			if err != nil {
				assert.Equal(t, status, next)
				continue
			}
			if status.IsTerminal() {
				t.Fatalf("terminal status %q allowed transition on %q", status, event)
			}
			walk(next, depth-1)
		}
	}
	walk(domain.OrderStatusPending, 4)
}

func TestIsNoopRedelivery(t *testing.T) {
	assert.True(t, IsNoopRedelivery(domain.OrderStatusConfirmed, EventInventoryReserveSucceeded))
	assert.True(t, IsNoopRedelivery(domain.OrderStatusPaid, EventInventoryReserveSucceeded))
	assert.True(t, IsNoopRedelivery(domain.OrderStatusPaid, EventPaymentSucceeded))
	assert.True(t, IsNoopRedelivery(domain.OrderStatusCancelled, EventPaymentFailed))
	assert.True(t, IsNoopRedelivery(domain.OrderStatusCancelled, EventInventoryReserveFailed))

	// Успех резерва по отменённому заказу — НЕ no-op: нужна компенсация.
	assert.False(t, IsNoopRedelivery(domain.OrderStatusCancelled, EventInventoryReserveSucceeded))
	assert.False(t, IsNoopRedelivery(domain.OrderStatusPending, EventPaymentSucceeded))
}
