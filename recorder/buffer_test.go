package recorder

import (
	"sync"
	"testing"
)

func TestBuffer_PushPop(t *testing.T) {
	b := NewBuffer[int](4)

	for i := 0; i < 3; i++ {
		if !b.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if b.Len() != 3 {
		t.Errorf("expected 3 items, got %d", b.Len())
	}

	for i := 0; i < 3; i++ {
		v, ok := b.Pop()
		if !ok {
			t.Fatalf("Pop %d failed", i)
		}
		if v != i {
			t.Errorf("expected %d, got %d", i, v)
		}
	}
}

func TestBuffer_GrowsPastCapacity(t *testing.T) {
	b := NewBuffer[int](2)

	const n = 100
	for i := 0; i < n; i++ {
		if !b.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if b.Len() != n {
		t.Fatalf("expected %d items, got %d", n, b.Len())
	}

	// FIFO order survives the grows.
	for i := 0; i < n; i++ {
		v, ok := b.TryPop()
		if !ok || v != i {
			t.Fatalf("item %d: got %d ok=%v", i, v, ok)
		}
	}
}

func TestBuffer_TryPopEmpty(t *testing.T) {
	b := NewBuffer[string](4)

	if _, ok := b.TryPop(); ok {
		t.Error("TryPop on empty buffer should report false")
	}
}

func TestBuffer_CloseUnblocksPop(t *testing.T) {
	b := NewBuffer[int](4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := b.Pop(); ok {
			t.Error("Pop should report false after close")
		}
	}()

	b.Close()
	<-done
}

func TestBuffer_DrainAfterClose(t *testing.T) {
	b := NewBuffer[int](4)

	b.Push(1)
	b.Push(2)
	b.Close()

	if b.Push(3) {
		t.Error("Push after close should return false")
	}

	v, ok := b.Pop()
	if !ok || v != 1 {
		t.Errorf("expected buffered item 1, got %d ok=%v", v, ok)
	}
	v, ok = b.Pop()
	if !ok || v != 2 {
		t.Errorf("expected buffered item 2, got %d ok=%v", v, ok)
	}
	if _, ok := b.Pop(); ok {
		t.Error("expected drained buffer to report false")
	}
}

func TestBuffer_ConcurrentProducers(t *testing.T) {
	b := NewBuffer[int](8)

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Push(i)
			}
		}()
	}
	wg.Wait()

	if b.Len() != producers*perProducer {
		t.Errorf("expected %d items, got %d", producers*perProducer, b.Len())
	}
}
