package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
)

func TestStatusQueue_BasicOperations(t *testing.T) {
	q := NewStatusQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Publish(ctx, model.Status{Kind: model.StatusRecorded, EmployeeID: "ana"}); err != nil {
		t.Fatalf("expected publish to succeed: %v", err)
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	s := <-q.Subscribe(sub)
	if s.EmployeeID != "ana" {
		t.Errorf("expected ana, got %v", s.EmployeeID)
	}
}

func TestStatusQueue_Capacity(t *testing.T) {
	q := NewStatusQueue(WithCapacity(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Publish(ctx, model.Status{Kind: model.StatusNoFace}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := q.Publish(ctx, model.Status{Kind: model.StatusNoFace}); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if l := q.Len(); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestStatusQueue_Close(t *testing.T) {
	q := NewStatusQueue(WithCapacity(4))
	ctx := context.Background()
	_ = q.Publish(ctx, model.Status{Kind: model.StatusUnknown})

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if err := q.Publish(ctx, model.Status{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// buffered statuses drain, then the channel closes
	var got []model.Status
	for s := range q.Subscribe(ctx) {
		got = append(got, s)
	}
	if len(got) != 1 || got[0].Kind != model.StatusUnknown {
		t.Errorf("expected the buffered status, got %v", got)
	}
}

func TestStatusQueue_ConcurrentPublish(t *testing.T) {
	const producers, each = 10, 50
	q := NewStatusQueue(WithCapacity(producers * each))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				if err := q.Publish(ctx, model.Status{Kind: model.StatusNoFace}); err != nil {
					t.Errorf("publish: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	sub, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ch := q.Subscribe(sub)
	received := 0
	for received < producers*each {
		select {
		case <-ch:
			received++
		case <-sub.Done():
			t.Fatalf("timed out after %d statuses", received)
		}
	}
}

func TestStatusQueue_SubscribeStopsWithContext(t *testing.T) {
	q := NewStatusQueue()
	ctx, cancel := context.WithCancel(context.Background())
	ch := q.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("subscriber did not stop")
	}
}
