package player

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"playdeck/internal/api"
	"playdeck/internal/core"
)

// PlaybackFetcher reads the remote playback. A nil patch with a nil error
// means there is no active playback.
type PlaybackFetcher interface {
	CurrentPlayback(ctx context.Context) (*core.Patch, error)
}

// Poller feeds the store from the remote at a fixed interval. Polls are
// strictly sequential: a new one starts only after the previous returned.
type Poller struct {
	fetcher  PlaybackFetcher
	store    *Store
	interval time.Duration
	logger   *zap.Logger
	wakeup   chan struct{}
}

func NewPoller(fetcher PlaybackFetcher, store *Store, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = core.DefaultPollInterval
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		interval: interval,
		logger:   logger,
		wakeup:   make(chan struct{}, 1), // coalesces nudges
	}
}

// Nudge requests an early poll. Calls made while one is already queued are dropped.
func (p *Poller) Nudge() {
	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

// Start polls until ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("Starting playback poller", zap.Duration("interval", p.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Playback poller stopped")
			return nil
		case <-p.wakeup:
			timer.Stop()
		case <-timer.C:
		}

		p.PollOnce(ctx)
		timer.Reset(p.interval)
	}
}

// PollOnce fetches the playback once and applies it, stamped with the time the
// request was dispatched.
func (p *Poller) PollOnce(ctx context.Context) {
	ts := time.Now()
	patch, err := p.fetcher.CurrentPlayback(ctx)
	if err != nil {
		if errors.Is(err, api.ErrCancelled) || ctx.Err() != nil {
			p.logger.Debug("Playback poll cancelled")
			return
		}
		p.logger.Warn("Failed to poll playback", zap.Error(err))
		return
	}

	p.store.ApplyAuthoritative(patch, SourcePoll, ts)
}
