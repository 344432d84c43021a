// Package notify delivers teacher notifications off the request path.
//
// Delivery is best effort: a failed send is logged and dropped, and Enqueue
// never blocks. A full queue drops the notification.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pavelanni/escuela/internal/model"
)

// Sender persists or forwards a message.
type Sender interface {
	AddMessage(m model.Message) (int64, error)
}

// Dispatcher is a single-worker notification queue.
type Dispatcher struct {
	sender Sender
	queue  chan model.Message
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(s Sender, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = 64
	}
	return &Dispatcher{sender: s, queue: make(chan model.Message, capacity)}
}

// Start runs the worker until ctx is done or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-d.queue:
				if !ok {
					return
				}
				d.deliver(m)
			}
		}
	}()
}

func (d *Dispatcher) deliver(m model.Message) {
	if _, err := d.sender.AddMessage(m); err != nil {
		slog.Error("teacher notification failed", "student_id", m.StudentID, "error", err)
		return
	}
	slog.Debug("teacher notification sent", "student_id", m.StudentID)
}

// Enqueue schedules m for delivery and reports whether it was accepted.
func (d *Dispatcher) Enqueue(m model.Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- m:
		return true
	default:
		slog.Warn("notification queue full, dropping", "student_id", m.StudentID)
		return false
	}
}

// Close stops accepting work and waits for queued messages to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
