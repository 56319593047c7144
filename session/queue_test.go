package session

import (
	"context"
	"testing"
)

// TestQueueFIFO covers invariant 3: two submissions resolve in the order
// their perform functions were invoked by the sender loop.
func TestQueueFIFO(t *testing.T) {
	q := newWorkQueue(0, DropNew)
	go func() {
		for {
			item, ok := q.next()
			if !ok {
				return
			}
			item.complete(item.perform())
		}
	}()
	defer q.close()

	var order []int
	done := make(chan struct{}, 2)
	submit := func(n int) {
		w := newWorkItem(context.Background(), func() error {
			order = append(order, n)
			return nil
		})
		if err := q.submit(w); err != nil {
			t.Errorf("submit %d: %v", n, err)
		}
		if err := w.wait(context.Background()); err != nil {
			t.Errorf("wait %d: %v", n, err)
		}
		done <- struct{}{}
	}

	go submit(1)
	<-done
	go submit(2)
	<-done

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected order [1 2], got %v", order)
	}
}

func TestQueueDropNewWhenFull(t *testing.T) {
	q := newWorkQueue(1, DropNew)
	first := newWorkItem(context.Background(), func() error { return nil })
	if err := q.submit(first); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	second := newWorkItem(context.Background(), func() error { return nil })
	if err := q.submit(second); err == nil {
		t.Fatal("expected overflow error under DropNew")
	}
}

func TestQueueDropOldestWhenFull(t *testing.T) {
	q := newWorkQueue(1, DropOldest)
	first := newWorkItem(context.Background(), func() error { return nil })
	if err := q.submit(first); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	second := newWorkItem(context.Background(), func() error { return nil })
	if err := q.submit(second); err != nil {
		t.Fatalf("submit second under DropOldest: %v", err)
	}
	if err := first.wait(context.Background()); err == nil {
		t.Fatal("expected the evicted first item to complete with an error")
	}
}

func TestQueueCloseRejectsSubmit(t *testing.T) {
	q := newWorkQueue(0, DropNew)
	q.close()
	w := newWorkItem(context.Background(), func() error { return nil })
	if err := q.submit(w); err == nil {
		t.Fatal("expected submit to a closed queue to fail")
	}
	if _, ok := q.next(); ok {
		t.Fatal("expected next on a closed empty queue to return ok=false")
	}
}
