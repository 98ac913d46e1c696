package player

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Service is a long-running component that blocks in Start until ctx is done.
type Service interface {
	Start(ctx context.Context) error
}

// Sync keeps the store fresh: the position ticker, the poller and the push
// feed run together and stop together.
type Sync struct {
	Store  *Store
	Poller *Poller
	Feed   *PushFeed
}

func (s *Sync) Start(ctx context.Context) error {
	return RunServices(ctx, s.Store, s.Poller, s.Feed)
}

// RunServices starts every service and returns when all have stopped. The
// first error cancels the others.
func RunServices(ctx context.Context, services ...Service) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, svc := range services {
		g.Go(func() error {
			return svc.Start(gCtx)
		})
	}
	return g.Wait()
}
