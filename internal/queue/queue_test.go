package queue

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_BasicPushPop(t *testing.T) {
	q := New[int](10, DropOldest)

	for i := 0; i < 5; i++ {
		if _, err := q.Push(i); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue should return false")
	}
}

func TestQueue_DropOldest(t *testing.T) {
	q := New[int](3, DropOldest)

	for i := 0; i < 3; i++ {
		evicted, err := q.Push(i)
		if err != nil || evicted {
			t.Fatalf("Push(%d) = %v, %v; want false, nil", i, evicted, err)
		}
	}

	evicted, err := q.Push(3)
	if err != nil {
		t.Fatalf("Push(3) failed: %v", err)
	}
	if !evicted {
		t.Error("Push on full DropOldest queue should evict")
	}

	// 0 was evicted; order of survivors preserved
	for _, want := range []int{1, 2, 3} {
		val, ok := q.TryPop()
		if !ok || val != want {
			t.Errorf("TryPop() = %d, %v; want %d, true", val, ok, want)
		}
	}

	stats := q.Stats()
	if stats.TotalDropped != 1 {
		t.Errorf("TotalDropped = %d, want 1", stats.TotalDropped)
	}
	if stats.TotalPushed != 4 {
		t.Errorf("TotalPushed = %d, want 4", stats.TotalPushed)
	}
}

func TestQueue_Reject(t *testing.T) {
	q := New[int](2, Reject)

	q.Push(1)
	q.Push(2)

	if _, err := q.Push(3); !errors.Is(err, ErrFull) {
		t.Errorf("Push on full Reject queue: err = %v, want ErrFull", err)
	}

	// Contents untouched
	if val, _ := q.TryPop(); val != 1 {
		t.Errorf("head = %d, want 1", val)
	}
	if q.Stats().TotalDropped != 1 {
		t.Errorf("TotalDropped = %d, want 1", q.Stats().TotalDropped)
	}
}

func TestQueue_Wraparound(t *testing.T) {
	q := New[int](4, DropOldest)

	next := 0
	for round := 0; round < 10; round++ {
		q.Push(round*2 + 0)
		q.Push(round*2 + 1)
		for j := 0; j < 2; j++ {
			val, ok := q.TryPop()
			if !ok || val != next {
				t.Fatalf("round %d: TryPop() = %d, %v; want %d", round, val, ok, next)
			}
			next++
		}
	}
}

func TestQueue_BlockingPop(t *testing.T) {
	q := New[int](10, DropOldest)

	received := make(chan int, 1)

	go func() {
		val, ok := q.Pop()
		if ok {
			received <- val
		}
	}()

	// Give consumer time to start waiting
	time.Sleep(10 * time.Millisecond)

	q.Push(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked Pop")
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int](10, DropOldest)

	q.Push(1)
	q.Push(2)
	q.Close()

	if _, err := q.Push(3); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close: err = %v, want ErrClosed", err)
	}
	if !q.Closed() {
		t.Error("Closed() = false after Close")
	}

	// Remaining items still drain
	if val, ok := q.Pop(); !ok || val != 1 {
		t.Errorf("Pop() = %d, %v; want 1, true", val, ok)
	}
	if val, ok := q.Pop(); !ok || val != 2 {
		t.Errorf("Pop() = %d, %v; want 2, true", val, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() should return false when closed and empty")
	}
}

func TestQueue_CloseUnblocksPop(t *testing.T) {
	q := New[int](10, DropOldest)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestQueue_Discard(t *testing.T) {
	q := New[int](10, DropOldest)
	for i := 0; i < 4; i++ {
		q.Push(i)
	}

	q.Close()
	if n := q.Discard(); n != 4 {
		t.Errorf("Discard() = %d, want 4", n)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop after Close+Discard should return false")
	}
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	q := New[int](64, DropOldest)
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(i)
		}
		q.Close()
	}()

	last := -1
	for {
		val, ok := q.Pop()
		if !ok {
			break
		}
		if val <= last {
			t.Fatalf("out of order: %d after %d", val, last)
		}
		last = val
	}
	wg.Wait()

	stats := q.Stats()
	if stats.TotalPopped+stats.TotalDropped != n {
		t.Errorf("popped %d + dropped %d != %d", stats.TotalPopped, stats.TotalDropped, n)
	}
}

func TestPolicy_String(t *testing.T) {
	if DropOldest.String() != "drop_oldest" {
		t.Errorf("DropOldest.String() = %q", DropOldest.String())
	}
	if Reject.String() != "reject" {
		t.Errorf("Reject.String() = %q", Reject.String())
	}
}
