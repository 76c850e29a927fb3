package queue

import (
	"sync"
	"testing"
	"time"
)

func TestBuffer_PushPopOrder(t *testing.T) {
	buf := New[int](10)

	for i := 0; i < 5; i++ {
		if !buf.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
}

func TestBuffer_GrowAt70Percent(t *testing.T) {
	buf := New[int](10)

	for i := 0; i < 7; i++ {
		buf.Push(i)
	}

	stats := buf.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}
}

func TestBuffer_GrowPreservesWrappedOrder(t *testing.T) {
	buf := New[int](5)

	buf.Push(1)
	buf.Push(2)
	buf.Push(3)
	buf.TryPop()
	buf.TryPop()

	// wraps, then grows
	for i := 4; i <= 8; i++ {
		buf.Push(i)
	}

	for _, want := range []int{3, 4, 5, 6, 7, 8} {
		got, ok := buf.TryPop()
		if !ok {
			t.Fatalf("TryPop failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestBuffer_Drain(t *testing.T) {
	buf := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		buf.Push(s)
	}

	first := buf.Drain(2)
	if len(first) != 2 || first[0] != "a" || first[1] != "b" {
		t.Fatalf("Drain(2) = %v, want [a b]", first)
	}

	rest := buf.Drain(0)
	if len(rest) != 3 || rest[0] != "c" || rest[2] != "e" {
		t.Fatalf("Drain(0) = %v, want [c d e]", rest)
	}

	if got := buf.Drain(0); got != nil {
		t.Errorf("Drain on empty buffer = %v, want nil", got)
	}
}

func TestBuffer_BlockingPop(t *testing.T) {
	buf := New[int](10)
	got := make(chan int, 1)

	go func() {
		if val, ok := buf.Pop(); ok {
			got <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Push(42)

	select {
	case val := <-got:
		if val != 42 {
			t.Errorf("popped %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked Pop")
	}
}

func TestBuffer_Close(t *testing.T) {
	buf := New[int](10)
	buf.Push(1)
	buf.Push(2)
	buf.Close()

	if buf.Push(3) {
		t.Error("Push should return false after Close")
	}

	for _, want := range []int{1, 2} {
		val, ok := buf.Pop()
		if !ok || val != want {
			t.Errorf("Pop() = %d, %v; want %d, true", val, ok, want)
		}
	}
	if _, ok := buf.Pop(); ok {
		t.Error("Pop should return false when closed and empty")
	}
}

func TestBuffer_CloseUnblocksPop(t *testing.T) {
	buf := New[int](10)
	done := make(chan bool, 1)

	go func() {
		_, ok := buf.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestBuffer_ConcurrentProducerConsumerKeepsOrder(t *testing.T) {
	buf := New[int](2)
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			buf.Push(i)
		}
	}()

	received := make([]int, 0, numItems)
	for len(received) < numItems {
		val, ok := buf.Pop()
		if !ok {
			t.Fatal("buffer closed unexpectedly")
		}
		received = append(received, val)
	}
	wg.Wait()

	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d, single producer order must be preserved", i, val)
		}
	}
}

func TestBuffer_Stats(t *testing.T) {
	buf := New[int](10)

	buf.Push(1)
	buf.Push(2)
	buf.Push(3)
	buf.TryPop()
	buf.TryPop()

	stats := buf.Stats()
	if stats.Count != 1 || stats.TotalPushed != 3 || stats.TotalPopped != 2 {
		t.Errorf("stats = %+v, want count 1 pushed 3 popped 2", stats)
	}
}

func TestNew_MinCapacity(t *testing.T) {
	if c := New[int](0).Cap(); c != 1 {
		t.Errorf("Cap() = %d, want 1 for initial capacity 0", c)
	}
	if c := New[int](-5).Cap(); c != 1 {
		t.Errorf("Cap() = %d, want 1 for negative initial capacity", c)
	}
}
