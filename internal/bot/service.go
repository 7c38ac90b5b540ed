package bot

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/event"
	"github.com/iamwavecut/warden/internal/platform"
)

type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// service pumps the gateway streams into the worker pool. The pool owns
// concurrency; this loop owns the channel lifecycle.
type service struct {
	pool   *event.Pool
	events <-chan platform.Event
	errs   <-chan error

	runMutex sync.Mutex
	started  bool
	stop     chan struct{}
	wg       sync.WaitGroup

	logger *log.Entry
}

func NewService(pool *event.Pool, events <-chan platform.Event, errs <-chan error) Service {
	return &service{
		pool:   pool,
		events: events,
		errs:   errs,
		logger: log.WithField("context", "bot"),
	}
}

func (s *service) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.started = true
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case err, ok := <-s.errs:
				if !ok {
					return
				}
				s.logger.WithError(err).Error("gateway stream failed")
				return
			case ev, ok := <-s.events:
				if !ok {
					return
				}
				if err := s.pool.Submit(ctx, ev); err != nil {
					s.logger.WithError(err).Error("cant submit event")
					return
				}
			}
		}
	}()
	return nil
}

func (s *service) Stop() error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if !s.started {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	s.started = false
	return s.pool.Stop()
}
