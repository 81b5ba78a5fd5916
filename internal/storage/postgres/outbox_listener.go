package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// OutboxListener holds a dedicated pgx connection LISTENing on
// outbox_events_channel, notified by outboxRepository.Enqueue via
// pg_notify. database/sql's pool can't hold a session open for LISTEN, so
// this bypasses it with a direct pgx.Conn (same driver already used for the
// stdlib registration in store.go).
type OutboxListener struct {
	conn   *pgx.Conn
	notify chan struct{}
	logger *log.Entry
}

// NewOutboxListener opens a dedicated connection and issues LISTEN.
func NewOutboxListener(ctx context.Context, dsn string, logger *log.Entry) (*OutboxListener, error) {
	if logger == nil {
		logger = log.WithField("component", "outbox-listener")
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN outbox_events_channel"); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	l := &OutboxListener{
		conn:   conn,
		notify: make(chan struct{}, 1),
		logger: logger,
	}
	go l.loop(ctx)
	return l, nil
}

func (l *OutboxListener) loop(ctx context.Context) {
	defer close(l.notify)
	for {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := l.conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Timeout just means no notification arrived in this window; keep polling.
			continue
		}

		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

// Notifications implements outbox.Notifier.
func (l *OutboxListener) Notifications() <-chan struct{} {
	return l.notify
}

// Close releases the dedicated connection.
func (l *OutboxListener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
