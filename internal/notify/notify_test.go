package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pavelanni/escuela/internal/model"
)

type recordingSender struct {
	mu   sync.Mutex
	got  []model.Message
	fail bool
}

func (r *recordingSender) AddMessage(m model.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return 0, errors.New("channel down")
	}
	r.got = append(r.got, m)
	return int64(len(r.got)), nil
}

func TestDispatcherDelivers(t *testing.T) {
	s := &recordingSender{}
	d := NewDispatcher(s, 8)
	d.Start(context.Background())

	for i := 0; i < 3; i++ {
		if !d.Enqueue(model.Message{StudentID: int64(i), Content: "hola"}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	d.Close()

	if len(s.got) != 3 {
		t.Fatalf("delivered %d, want 3", len(s.got))
	}
	if s.got[2].StudentID != 2 {
		t.Errorf("delivery order changed: %+v", s.got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	s := &recordingSender{}
	d := NewDispatcher(s, 1)
	// No worker running, so the second message cannot fit.
	if !d.Enqueue(model.Message{Content: "a"}) {
		t.Fatal("first enqueue should fit")
	}
	if d.Enqueue(model.Message{Content: "b"}) {
		t.Error("second enqueue should be dropped")
	}
}

func TestDispatcherSurvivesSendErrors(t *testing.T) {
	s := &recordingSender{fail: true}
	d := NewDispatcher(s, 4)
	d.Start(context.Background())
	d.Enqueue(model.Message{Content: "a"})
	d.Enqueue(model.Message{Content: "b"})
	d.Close()
	if len(s.got) != 0 {
		t.Errorf("nothing should be recorded, got %d", len(s.got))
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, 4)
	d.Start(context.Background())
	d.Close()
	if d.Enqueue(model.Message{Content: "late"}) {
		t.Error("enqueue after close should be rejected")
	}
	d.Close()
}
