package lease

import (
	"context"
	"sync"
	"testing"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	const workers = 16
	const iterations = 500

	var counter int
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				release, err := r.Acquire(context.Background(), "user:42")
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				counter++
				release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Fatalf("expected %d increments, got %d", workers*iterations, counter)
	}
}

func TestTryAcquireConflicts(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	release, ok := r.TryAcquire("space:a")
	if !ok {
		t.Fatal("first try-acquire should succeed")
	}
	if _, ok := r.TryAcquire("space:a"); ok {
		t.Fatal("second try-acquire on held key should fail")
	}
	if other, ok := r.TryAcquire("space:b"); !ok {
		t.Fatal("different key should be independent")
	} else {
		other()
	}
	release()
	if again, ok := r.TryAcquire("space:a"); !ok {
		t.Fatal("released key should be acquirable again")
	} else {
		again()
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	release, err := r.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Acquire(ctx, "k"); err == nil {
		t.Fatal("expected error acquiring held lease with cancelled context")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	release, _ := r.TryAcquire("k")
	release()
	release()

	if again, ok := r.TryAcquire("k"); !ok {
		t.Fatal("double release must not corrupt the lease")
	} else {
		again()
	}
}
