// Package event fans gateway events out over a bounded worker pool. Events
// are handled in acceptance order per worker; cross-worker ordering is not
// guaranteed, the engines serialize per subject themselves.
package event

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/warden/internal/observability"
	"github.com/iamwavecut/warden/internal/platform"
)

// Handler processes one gateway event. Errors are logged, never fatal to the
// pool.
type Handler func(ctx context.Context, ev platform.Event) error

type Pool struct {
	handler Handler
	workers int
	queue   chan platform.Event

	runMutex sync.Mutex
	started  bool
	group    *errgroup.Group

	logger *log.Entry
}

func NewPool(workers, depth int, handler Handler) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		handler: handler,
		workers: workers,
		queue:   make(chan platform.Event, depth),
		logger:  log.WithField("context", "pool"),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()
	if p.started {
		return nil
	}
	p.started = true

	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev, ok := <-p.queue:
					if !ok {
						return nil
					}
					p.handle(ctx, ev)
				}
			}
		})
	}
	return nil
}

// Submit enqueues an event, blocking when the queue is full until a worker
// frees a slot or the context ends.
func (p *Pool) Submit(ctx context.Context, ev platform.Event) error {
	select {
	case p.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the queue and waits for in-flight handlers.
func (p *Pool) Stop() error {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()
	if !p.started {
		return nil
	}
	close(p.queue)
	err := p.group.Wait()
	p.started = false
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) handle(ctx context.Context, ev platform.Event) {
	done := observability.StartEventProcessing(string(ev.Kind))
	defer done()
	if err := p.handler(ctx, ev); err != nil {
		p.logger.WithError(err).WithField("kind", ev.Kind).Error("event handler failed")
		return
	}
	observability.Logger.Debug("event handled", zap.String("kind", string(ev.Kind)))
}
