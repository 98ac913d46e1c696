// Package player keeps the single playback state fresh from push events and
// polling, and issues playback commands with optimistic local updates.
package player

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"playdeck/internal/core"
)

// Source names the producer of a state change.
type Source string

const (
	SourcePush       Source = "push"
	SourcePoll       Source = "poll"
	SourceOptimistic Source = "optimistic"
	SourceRollback   Source = "rollback"
	SourceTick       Source = "tick"
)

// Subscriber receives every state change. It runs synchronously and must not
// mutate the store.
type Subscriber func(newState, oldState core.PlaybackState)

// StoreObserver receives store measurements.
type StoreObserver interface {
	ObserveStateUpdate(source Source)
	ObserveStaleFields(source Source, n int)
	ObserveSubscriberPanic()
}

type nopStoreObserver struct{}

func (nopStoreObserver) ObserveStateUpdate(Source)      {}
func (nopStoreObserver) ObserveStaleFields(Source, int) {}
func (nopStoreObserver) ObserveSubscriberPanic()        {}

// OptimisticToken identifies one ApplyOptimistic call for a later rollback.
type OptimisticToken uint64

type pendingField struct {
	token OptimisticToken
	at    time.Time
}

// Store is the single source of truth for what is playing.
//
// Authoritative updates always overwrite pending optimistic values. Between
// authoritative updates each field keeps the timestamp of its last write and
// older updates for that field are dropped. An optimistic value that sees no
// authoritative update within the optimistic window is promoted: it keeps its
// value and its apply time becomes the field's timestamp.
type Store struct {
	logger       *zap.Logger
	observer     StoreObserver
	tickInterval time.Duration
	window       time.Duration

	// dispatchMu serializes mutations and the notifications they trigger
	dispatchMu sync.Mutex
	stamps     [core.FieldCount]time.Time
	pending    [core.FieldCount]pendingField
	lastAuth   core.PlaybackState
	tokens     OptimisticToken
	// position ticker baseline; zero time while paused
	tickBase time.Time
	basePos  int

	stateMu sync.RWMutex
	state   core.PlaybackState
	// apply times of pending fields as of the last commit
	pendingView [core.FieldCount]time.Time

	subsMu  sync.Mutex
	subs    []subscription
	nextSub uint64
}

type subscription struct {
	id uint64
	fn Subscriber
}

func NewStore(cfg core.PlayerConfig, logger *zap.Logger) *Store {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = core.DefaultTickInterval
	}
	window := cfg.OptimisticWindow
	if window <= 0 {
		window = 2 * core.DefaultPollInterval
	}

	return &Store{
		logger:       logger,
		observer:     nopStoreObserver{},
		tickInterval: tick,
		window:       window,
	}
}

// SetObserver installs a metrics observer. Call before Start.
func (s *Store) SetObserver(o StoreObserver) {
	if o == nil {
		o = nopStoreObserver{}
	}
	s.observer = o
}

// GetState returns a snapshot of the current state.
func (s *Store) GetState() core.PlaybackState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers fn for every future change and returns its unsubscribe func.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
			s.subsMu.Unlock()
		})
	}
}

// ApplyAuthoritative merges a remote report taken at ts. A nil patch means the
// remote has no active playback and moves the store to Idle.
func (s *Store) ApplyAuthoritative(patch *core.Patch, source Source, ts time.Time) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	now := time.Now()
	s.promoteExpired(now)

	old := s.current()
	next := old.Clone()

	if patch == nil {
		if ts.Before(s.stamps[core.FieldTrack]) {
			s.observer.ObserveStaleFields(source, 1)
			s.logger.Debug("Dropping stale idle report", zap.String("source", string(source)))
			return
		}
		next = old.Idle()
		for _, f := range idleFields {
			s.stamps[f] = ts
			s.pending[f] = pendingField{}
		}
		s.lastAuth = s.lastAuth.Idle()
		if !ts.Before(old.LastAuthoritativeUpdateAt) {
			next.LastAuthoritativeUpdateAt = ts
		}
		if !old.IsIdle() {
			s.logger.Info("Playback went idle", zap.String("source", string(source)))
		}
		s.commit(next, old, source, now, idleFields)
		return
	}

	var fresh []core.Field
	stale := 0
	for _, f := range patch.Fields() {
		if ts.Before(s.stamps[f]) {
			stale++
			continue
		}
		fresh = append(fresh, f)
		s.stamps[f] = ts
		s.pending[f] = pendingField{}
	}
	if stale > 0 {
		s.observer.ObserveStaleFields(source, stale)
		s.logger.Debug("Dropped stale fields",
			zap.String("source", string(source)),
			zap.Int("count", stale))
	}
	if len(fresh) == 0 {
		return
	}

	applied := patch.Only(fresh...)
	applied.ApplyTo(&next)
	applied.ApplyTo(&s.lastAuth)
	if !ts.Before(old.LastAuthoritativeUpdateAt) {
		next.LastAuthoritativeUpdateAt = ts
		s.lastAuth.LastAuthoritativeUpdateAt = ts
	}

	s.commit(next, old, source, now, fresh)
}

// ApplyOptimistic applies a local guess immediately. The returned token can be
// passed to RevertOptimistic while the guess is still pending.
func (s *Store) ApplyOptimistic(patch core.Patch) OptimisticToken {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	now := time.Now()
	s.promoteExpired(now)

	s.tokens++
	token := s.tokens
	for _, f := range patch.Fields() {
		s.pending[f] = pendingField{token: token, at: now}
	}

	old := s.current()
	next := old.Clone()
	patch.ApplyTo(&next)
	s.commit(next, old, SourceOptimistic, now, patch.Fields())
	return token
}

// RevertOptimistic restores the last authoritative values of the fields still
// pending from the call that returned token. Fields already confirmed,
// promoted or overwritten by a newer guess are left alone.
func (s *Store) RevertOptimistic(token OptimisticToken) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	now := time.Now()
	s.promoteExpired(now)

	var fields []core.Field
	for f := core.Field(0); f < core.FieldCount; f++ {
		if s.pending[f].token == token && !s.pending[f].at.IsZero() {
			fields = append(fields, f)
			s.pending[f] = pendingField{}
		}
	}
	if len(fields) == 0 {
		return false
	}

	old := s.current()
	next := old.Clone()
	core.PatchFrom(s.lastAuth, fields...).ApplyTo(&next)
	s.logger.Debug("Reverted optimistic fields", zap.Int("count", len(fields)))
	s.commit(next, old, SourceRollback, now, fields)
	return true
}

// Pending lists the fields whose value is an unconfirmed optimistic guess.
// It is safe to call from a subscriber.
func (s *Store) Pending() []core.Field {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	now := time.Now()
	var out []core.Field
	for f, at := range s.pendingView {
		if !at.IsZero() && now.Sub(at) <= s.window {
			out = append(out, core.Field(f))
		}
	}
	return out
}

// Start runs the local position ticker until ctx is done.
func (s *Store) Start(ctx context.Context) error {
	s.logger.Debug("Starting position ticker", zap.Duration("interval", s.tickInterval))

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Position ticker stopped")
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick advances the position by elapsed wall time while playing, clamped to the duration.
func (s *Store) tick() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	now := time.Now()
	s.promoteExpired(now)

	old := s.current()
	if !old.IsPlaying || old.IsIdle() || s.tickBase.IsZero() {
		return
	}

	pos := core.ClampPosition(s.basePos+int(now.Sub(s.tickBase).Milliseconds()), old.Track.DurationMs)
	if pos == old.PositionMs {
		return
	}

	next := old.Clone()
	next.PositionMs = pos
	s.setState(next)
	s.notify(next, old, SourceTick)
}

// commit publishes next and re-bases the ticker when position, play state or track were written.
func (s *Store) commit(next, old core.PlaybackState, source Source, now time.Time, fields []core.Field) {
	s.setState(next)

	switch {
	case !next.IsPlaying || next.IsIdle():
		s.tickBase = time.Time{}
	case s.tickBase.IsZero() || slices.ContainsFunc(fields, movesPosition):
		s.tickBase = now
		s.basePos = next.PositionMs
	}

	s.notify(next, old, source)
}

func movesPosition(f core.Field) bool {
	return f == core.FieldPosition || f == core.FieldIsPlaying || f == core.FieldTrack
}

// promoteExpired trusts optimistic values that outlived the window.
func (s *Store) promoteExpired(now time.Time) {
	for f := core.Field(0); f < core.FieldCount; f++ {
		p := s.pending[f]
		if p.at.IsZero() || now.Sub(p.at) <= s.window {
			continue
		}
		if p.at.After(s.stamps[f]) {
			s.stamps[f] = p.at
		}
		s.pending[f] = pendingField{}
		s.logger.Debug("Optimistic value promoted without confirmation",
			zap.Stringer("field", f))
	}
}

func (s *Store) current() core.PlaybackState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Store) setState(next core.PlaybackState) {
	s.stateMu.Lock()
	s.state = next
	for f, p := range s.pending {
		s.pendingView[f] = p.at
	}
	s.stateMu.Unlock()
}

func (s *Store) notify(next, old core.PlaybackState, source Source) {
	s.observer.ObserveStateUpdate(source)

	s.subsMu.Lock()
	subs := slices.Clone(s.subs)
	s.subsMu.Unlock()

	for _, sub := range subs {
		s.invoke(sub.fn, next.Clone(), old.Clone(), source)
	}
}

func (s *Store) invoke(fn Subscriber, next, old core.PlaybackState, source Source) {
	defer func() {
		if r := recover(); r != nil {
			s.observer.ObserveSubscriberPanic()
			s.logger.Error("Subscriber panicked",
				zap.String("source", string(source)),
				zap.Any("panic", r))
		}
	}()
	fn(next, old)
}

var idleFields = []core.Field{
	core.FieldTrack, core.FieldIsPlaying, core.FieldPosition, core.FieldContext, core.FieldDisallowed,
}
