package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  It announces
// every session whose summary was stored so that veterinary dashboards can
// refresh.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	log     *zap.Logger
}

// NewNotifier constructs a new Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL setting; dsn is used for the dedicated listener
// connection.
func NewNotifier(db *sql.DB, dsn, channel string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{DB: db, DSN: dsn, Channel: channel, log: logger}
}

// Notify sends a notification to the channel with the session ID as payload.
func (n *Notifier) Notify(ctx context.Context, sessionID string) error {
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, sessionID)
	return err
}

// Listen opens a dedicated listener connection and yields session IDs as they
// are received on the channel.  The returned channel is closed once ctx is
// done.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	l := pq.NewListener(n.DSN, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.log.Warn("notify listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := l.Listen(n.Channel); err != nil {
		l.Close()
		return nil, err
	}

	ch := make(chan string)
	go func() {
		defer func() {
			_ = l.Close()
			close(ch)
		}()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-l.Notify:
				// nil is sent after a reconnect; notifications may have been missed.
				if note == nil {
					n.log.Info("notify listener reconnected", zap.String("channel", n.Channel))
					continue
				}
				select {
				case ch <- note.Extra:
				case <-ctx.Done():
					return
				}
			case <-ping.C:
				if err := l.Ping(); err != nil {
					n.log.Warn("notify listener ping failed", zap.Error(err))
				}
			}
		}
	}()
	return ch, nil
}
