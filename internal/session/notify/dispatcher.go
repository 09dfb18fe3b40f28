// Package notify delivers best-effort out-of-band notifications (suspicious
// login alerts). Delivery never blocks or fails a login: the dispatcher is a
// bounded queue that drops when full and drains on close.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
)

// Sink receives notifications from the dispatcher, one at a time.
type Sink interface {
	Deliver(ctx context.Context, n domain.Notification)
}

// SlogSink logs notifications. It is the default sink when no external
// delivery channel is configured.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Deliver(_ context.Context, n domain.Notification) {
	s.Logger.Warn("notification",
		"kind", n.Kind,
		"principal_id", n.PrincipalID,
		"client_ip", n.ClientIP,
		"user_agent", n.UserAgent,
	)
}

// Dispatcher fans notifications to a Sink through a bounded channel.
type Dispatcher struct {
	sink      Sink
	ch        chan domain.Notification
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(sink Sink, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 64
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan domain.Notification, bufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case n := <-d.ch:
			d.sink.Deliver(context.Background(), n)
		case <-d.done:
			for {
				select {
				case n := <-d.ch:
					d.sink.Deliver(context.Background(), n)
				default:
					return
				}
			}
		}
	}
}

// Enqueue queues a notification without blocking. Notifications arriving
// after Close, or while the buffer is full, are counted as dropped.
func (d *Dispatcher) Enqueue(_ context.Context, n domain.Notification) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.ch <- n:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many notifications were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops accepting new notifications, drains the buffer and waits for
// the worker to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
