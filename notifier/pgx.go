package notifier

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxListener implements Listener on a dedicated connection acquired from
// a pgx pool. The connection is held for the listener's lifetime; LISTEN
// registrations do not survive a reconnect, so the Notifier builds a
// fresh listener on every listen loop.
type PgxListener struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	conn   *pgxpool.Conn
	closed bool
}

// NewPgxListener creates a listener backed by the provided pool.
func NewPgxListener(pool *pgxpool.Pool) *PgxListener {
	return &PgxListener{pool: pool}
}

// Listen subscribes the dedicated connection to channel, acquiring the
// connection on first use.
func (l *PgxListener) Listen(ctx context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrNotStarted
	}

	if l.conn == nil {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		l.conn = conn
	}

	// Channel names are package constants, not user input.
	_, err := l.conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		l.conn.Release()
		l.conn = nil
		return err
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any
// subscribed channel or ctx is done.
func (l *PgxListener) WaitForNotification(ctx context.Context) (*Notification, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return nil, ErrNotStarted
	}

	notification, err := conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &Notification{
		Channel: notification.Channel,
		Payload: notification.Payload,
	}, nil
}

// Close releases the dedicated connection.
func (l *PgxListener) Close(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.conn != nil {
		l.conn.Release()
		l.conn = nil
	}
	return nil
}

// PgxSender implements Sender via pg_notify on a pooled connection.
type PgxSender struct {
	pool *pgxpool.Pool
}

// NewPgxSender creates a sender backed by the provided pool.
func NewPgxSender(pool *pgxpool.Pool) *PgxSender {
	return &PgxSender{pool: pool}
}

// Notify publishes payload on channel.
func (s *PgxSender) Notify(ctx context.Context, channel, payload string) error {
	_, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

// NewPgxNotifier wires a full listen-and-send notifier on one pool.
func NewPgxNotifier(pool *pgxpool.Pool, config *Config) *Notifier {
	getListener := func(_ context.Context) (Listener, error) {
		return NewPgxListener(pool), nil
	}
	return NewNotifier(getListener, NewPgxSender(pool), config)
}

var (
	_ Listener = (*PgxListener)(nil)
	_ Sender   = (*PgxSender)(nil)
)
