package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа. Correlation id
// позволяет оператору сопоставить запись timeline с цепочкой событий брокера.
type TimelineEvent struct {
	OrderID       string
	Type          string
	Reason        string
	CorrelationID string
	Occurred      time.Time
}
