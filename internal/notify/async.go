package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultSendTimeout = 15 * time.Second

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier closed")

// AsyncNotifier queues notifications for a background worker so the engine
// never waits on a slow channel. A full queue drops the notification.
type AsyncNotifier struct {
	next   Notifier
	logger zerolog.Logger
	queue  chan Notification

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncNotifier starts the worker.
func NewAsyncNotifier(next Notifier, size int, logger zerolog.Logger) *AsyncNotifier {
	if size < 1 {
		size = 64
	}
	a := &AsyncNotifier{
		next:   next,
		logger: logger,
		queue:  make(chan Notification, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues n and returns immediately. It only fails after Close.
func (a *AsyncNotifier) Notify(ctx context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	select {
	case a.queue <- n:
	default:
		a.logger.Warn().Str("type", string(n.Type)).Str("title", n.Title).Msg("Notification queue full, dropping")
	}
	return nil
}

func (a *AsyncNotifier) run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		if err := a.next.Notify(ctx, n); err != nil {
			a.logger.Warn().Err(err).Str("type", string(n.Type)).Msg("Notification delivery failed")
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for the queue to drain or
// ctx to expire.
func (a *AsyncNotifier) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
