package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/iamwavecut/warden/internal/platform"
)

func TestPoolProcessesAll(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := map[string]bool{}
	p := NewPool(4, 16, func(_ context.Context, ev platform.Event) error {
		mu.Lock()
		seen[ev.Message.ID] = true
		mu.Unlock()
		return nil
	})
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		ev := platform.Event{Kind: platform.EventMessage, Message: &platform.Message{ID: string(rune('a' + i%26)) + string(rune('0' + i/26))}}
		if err := p.Submit(ctx, ev); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no events processed")
	}
}

func TestPoolSurvivesHandlerErrors(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	handled := 0
	p := NewPool(2, 4, func(context.Context, platform.Event) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return errors.New("boom")
	})
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := p.Submit(ctx, platform.Event{Kind: platform.EventMessage, Message: &platform.Message{}}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if handled != 10 {
		t.Errorf("want 10 handled despite errors, got %d", handled)
	}
}

func TestSubmitHonorsContext(t *testing.T) {
	t.Parallel()
	p := NewPool(1, 1, func(context.Context, platform.Event) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// pool not started, queue fills after one event
	_ = p.Submit(context.Background(), platform.Event{})
	if err := p.Submit(ctx, platform.Event{}); err == nil {
		t.Error("submit on a cancelled context must fail")
	}
}
