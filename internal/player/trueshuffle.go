package player

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"playdeck/internal/api"
	"playdeck/internal/core"
	"playdeck/internal/shuffle"
)

// TrueShuffleStatus describes the running true-shuffle session.
type TrueShuffleStatus struct {
	ID         string           `json:"id"`
	ContextURI string           `json:"context_uri"`
	Strategy   shuffle.Strategy `json:"strategy"`
	Tracks     int              `json:"tracks"`
	Played     int              `json:"played"`
	Queued     int              `json:"queued"`
	StartedAt  time.Time        `json:"started_at"`
}

type trueShuffleSession struct {
	status TrueShuffleStatus
	queued atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *trueShuffleSession) snapshot() TrueShuffleStatus {
	st := s.status
	st.Queued = int(s.queued.Load())
	return st
}

// EnableTrueShuffle materializes a random order of the current context: it
// fetches every track, shuffles them by policy, turns the remote's own shuffle
// off, plays the first batch and queues the rest in the background at a paced
// rate. A previous session is stopped first.
func (c *Controller) EnableTrueShuffle(ctx context.Context) (TrueShuffleStatus, error) {
	if c.ctx.Err() != nil {
		return TrueShuffleStatus{}, ErrClosed
	}

	state := c.store.GetState()
	contextURI := state.ContextURI
	if s := c.currentSession(); s != nil {
		// a shuffled order plays as a bare URI list; reshuffle the original context
		contextURI = s.status.ContextURI
	}
	if contextURI == "" {
		return TrueShuffleStatus{}, ErrNoActiveContext
	}
	if state.DisallowedActions.Has(core.ActionTogglingShuffle) {
		return TrueShuffleStatus{}, fmt.Errorf("%w: %s", ErrActionDisallowed, core.ActionTogglingShuffle)
	}

	tracks, err := c.tracks.ContextTracks(ctx, contextURI)
	if err != nil {
		return TrueShuffleStatus{}, fmt.Errorf("failed to fetch context tracks: %w", err)
	}
	if len(tracks) == 0 {
		return TrueShuffleStatus{}, fmt.Errorf("%w: context %s has no playable tracks", ErrNoActiveContext, contextURI)
	}

	order, strategy := c.policy.Shuffle(tracks, nil)
	uris := lo.Map(order, func(t core.TrackRef, _ int) string { return t.URI })

	c.stopSession()

	c.store.ApplyOptimistic(core.Patch{ShuffleEnabled: core.Ptr(false)})
	if err := c.remote.SetShuffle(ctx, false); err != nil {
		return TrueShuffleStatus{}, fmt.Errorf("failed to disable remote shuffle: %w", err)
	}

	batch := c.cfg.PlayBatchSize
	if batch <= 0 {
		batch = core.DefaultPlayBatchSize
	}
	first, rest := uris, []string(nil)
	if len(uris) > batch {
		first, rest = uris[:batch], uris[batch:]
	}

	c.store.ApplyOptimistic(core.Patch{IsPlaying: core.Ptr(true), PositionMs: core.Ptr(0)})
	if err := c.remote.Play(ctx, core.PlayOptions{URIs: first}); err != nil {
		return TrueShuffleStatus{}, fmt.Errorf("failed to start shuffled playback: %w", err)
	}

	sctx, cancel := context.WithCancel(c.ctx)
	session := &trueShuffleSession{
		status: TrueShuffleStatus{
			ID:         uuid.NewString(),
			ContextURI: contextURI,
			Strategy:   strategy,
			Tracks:     len(uris),
			Played:     len(first),
			StartedAt:  time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		cancel()
		return TrueShuffleStatus{}, ErrClosed
	}
	c.session = session
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("True shuffle started",
		zap.String("sessionID", session.status.ID),
		zap.String("contextURI", contextURI),
		zap.String("strategy", string(strategy)),
		zap.Int("tracks", len(uris)),
		zap.Int("toQueue", len(rest)))

	go func() {
		defer c.wg.Done()
		defer close(session.done)
		c.enqueue(sctx, session, rest)
	}()

	if c.nudger != nil {
		c.nudger.Nudge()
	}
	return session.snapshot(), nil
}

// DisableTrueShuffle stops the session and replays its original context from
// the start. The exact track position inside the shuffled order is lost.
func (c *Controller) DisableTrueShuffle(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}

	session.cancel()
	select {
	case <-session.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	contextURI := session.status.ContextURI
	c.store.ApplyOptimistic(core.Patch{
		ContextURI: core.Ptr(contextURI),
		IsPlaying:  core.Ptr(true),
		PositionMs: core.Ptr(0),
	})
	if err := c.remote.Play(ctx, core.PlayOptions{ContextURI: contextURI}); err != nil {
		return fmt.Errorf("failed to replay original context: %w", err)
	}

	c.logger.Info("True shuffle stopped",
		zap.String("sessionID", session.status.ID),
		zap.String("contextURI", contextURI))

	if c.nudger != nil {
		c.nudger.Nudge()
	}
	return nil
}

// TrueShuffle reports the running session, if any.
func (c *Controller) TrueShuffle() (TrueShuffleStatus, bool) {
	s := c.currentSession()
	if s == nil {
		return TrueShuffleStatus{}, false
	}
	return s.snapshot(), true
}

func (c *Controller) currentSession() *trueShuffleSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) stopSession() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		session.cancel()
		<-session.done
	}
}

// enqueue appends uris to the remote queue one by one, paced to stay clear of rate limits.
func (c *Controller) enqueue(ctx context.Context, session *trueShuffleSession, uris []string) {
	limit := rate.Inf
	if c.cfg.EnqueuePacing > 0 {
		limit = rate.Every(c.cfg.EnqueuePacing)
	}
	limiter := rate.NewLimiter(limit, 1)

	logger := c.logger.With(zap.String("sessionID", session.status.ID))

	for _, uri := range uris {
		if err := limiter.Wait(ctx); err != nil {
			logger.Debug("True shuffle enqueue cancelled", zap.Int64("queued", session.queued.Load()))
			return
		}

		if err := c.remote.AddToQueue(ctx, uri); err != nil {
			if errors.Is(err, api.ErrCancelled) || ctx.Err() != nil {
				logger.Debug("True shuffle enqueue cancelled", zap.Int64("queued", session.queued.Load()))
				return
			}
			logger.Warn("Failed to queue track, stopping true shuffle enqueue",
				zap.String("uri", uri),
				zap.Error(err))
			return
		}
		session.queued.Add(1)
	}

	if len(uris) > 0 {
		logger.Info("True shuffle queue filled", zap.Int("queued", len(uris)))
	}
}
