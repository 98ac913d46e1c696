package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"playdeck/internal/api"
	"playdeck/internal/core"
	"playdeck/internal/shuffle"
)

var (
	// ErrActionDisallowed means the remote currently forbids the command.
	ErrActionDisallowed = errors.New("action disallowed by remote player")
	// ErrNoActiveContext means the command needs something playing.
	ErrNoActiveContext = errors.New("no active playback context")
	// ErrInvalidArgument means a command argument is out of range.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed means the controller has been shut down.
	ErrClosed = errors.New("controller closed")
)

// Command outcomes reported to the ControllerObserver.
const (
	OutcomeDispatched = "dispatched"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
	OutcomeRejected   = "rejected"
)

// Remote issues playback commands against the remote player.
type Remote interface {
	Play(ctx context.Context, opts core.PlayOptions) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SetVolume(ctx context.Context, percent int) error
	SetShuffle(ctx context.Context, enabled bool) error
	SetRepeat(ctx context.Context, mode core.RepeatMode) error
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	AddToQueue(ctx context.Context, uri string) error
}

// ContextSource lists every track of a playable context.
type ContextSource interface {
	ContextTracks(ctx context.Context, contextURI string) ([]core.TrackRef, error)
}

// Nudger asks the poller for an early refresh.
type Nudger interface {
	Nudge()
}

// ControllerObserver receives controller measurements.
type ControllerObserver interface {
	ObserveCommand(kind core.CommandKind, outcome string)
}

type nopControllerObserver struct{}

func (nopControllerObserver) ObserveCommand(core.CommandKind, string) {}

// Controller applies each command optimistically to the store, then dispatches
// it in the background. Dispatch failures are logged and left for the next
// authoritative update to correct, unless rollback is enabled.
type Controller struct {
	store    *Store
	remote   Remote
	tracks   ContextSource
	policy   shuffle.Policy
	cfg      core.PlayerConfig
	logger   *zap.Logger
	observer ControllerObserver
	nudger   Nudger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// order keeps optimistic writes in supersede sequence order
	order sync.Mutex

	mu      sync.Mutex
	seq     map[core.CommandKind]uint64
	session *trueShuffleSession
}

func NewController(
	store *Store,
	remote Remote,
	tracks ContextSource,
	policy shuffle.Policy,
	cfg core.PlayerConfig,
	logger *zap.Logger,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:    store,
		remote:   remote,
		tracks:   tracks,
		policy:   policy,
		cfg:      cfg,
		logger:   logger,
		observer: nopControllerObserver{},
		ctx:      ctx,
		cancel:   cancel,
		seq:      make(map[core.CommandKind]uint64),
	}
}

// SetObserver installs a metrics observer. Call before issuing commands.
func (c *Controller) SetObserver(o ControllerObserver) {
	if o == nil {
		o = nopControllerObserver{}
	}
	c.observer = o
}

// SetNudger installs the poller to refresh after successful commands.
func (c *Controller) SetNudger(n Nudger) {
	c.nudger = n
}

// Close cancels in-flight dispatches, stops any true-shuffle session and waits
// for background work to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.session != nil {
		c.session.cancel()
		c.session = nil
	}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Controller) Play(ctx context.Context) error {
	return c.execute(ctx, core.CommandIntent{Kind: core.CommandPlay}, func(ctx context.Context) error {
		return c.remote.Play(ctx, core.PlayOptions{})
	})
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.execute(ctx, core.CommandIntent{Kind: core.CommandPause}, c.remote.Pause)
}

// Seek moves to positionMs, clamped to the current track's duration.
func (c *Controller) Seek(ctx context.Context, positionMs int) error {
	if positionMs < 0 {
		return fmt.Errorf("%w: position %d", ErrInvalidArgument, positionMs)
	}
	current := c.store.GetState()
	if current.IsIdle() {
		return ErrNoActiveContext
	}
	intent := core.CommandIntent{Kind: core.CommandSeek, PositionMs: positionMs}
	target := core.ClampPosition(positionMs, current.Track.DurationMs)
	return c.execute(ctx, intent, func(ctx context.Context) error {
		return c.remote.Seek(ctx, target)
	})
}

func (c *Controller) Next(ctx context.Context) error {
	return c.execute(ctx, core.CommandIntent{Kind: core.CommandNext}, c.remote.Next)
}

func (c *Controller) Previous(ctx context.Context) error {
	return c.execute(ctx, core.CommandIntent{Kind: core.CommandPrevious}, c.remote.Previous)
}

func (c *Controller) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: volume %d", ErrInvalidArgument, percent)
	}
	intent := core.CommandIntent{Kind: core.CommandSetVolume, VolumePercent: percent}
	return c.execute(ctx, intent, func(ctx context.Context) error {
		return c.remote.SetVolume(ctx, percent)
	})
}

// ToggleShuffle sets the remote's native shuffle flag.
func (c *Controller) ToggleShuffle(ctx context.Context, enabled bool) error {
	intent := core.CommandIntent{Kind: core.CommandToggleShuffle, Shuffle: enabled}
	return c.execute(ctx, intent, func(ctx context.Context) error {
		return c.remote.SetShuffle(ctx, enabled)
	})
}

func (c *Controller) SetRepeat(ctx context.Context, mode core.RepeatMode) error {
	if mode < core.RepeatOff || mode > core.RepeatContext {
		return fmt.Errorf("%w: repeat mode %d", ErrInvalidArgument, mode)
	}
	intent := core.CommandIntent{Kind: core.CommandSetRepeat, Repeat: mode}
	return c.execute(ctx, intent, func(ctx context.Context) error {
		return c.remote.SetRepeat(ctx, mode)
	})
}

// TransferPlayback moves playback to deviceID, keeping the current play state.
func (c *Controller) TransferPlayback(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	play := c.store.GetState().IsPlaying
	intent := core.CommandIntent{Kind: core.CommandTransfer, DeviceID: deviceID}
	return c.execute(ctx, intent, func(ctx context.Context) error {
		return c.remote.TransferPlayback(ctx, deviceID, play)
	})
}

// execute applies the intent's optimistic delta and dispatches in the background.
// It returns once the dispatch has started. Only the latest command of a kind
// acts on its result; earlier ones run to completion and are ignored.
func (c *Controller) execute(ctx context.Context, intent core.CommandIntent, dispatch func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.ctx.Err() != nil {
		return ErrClosed
	}

	c.order.Lock()
	defer c.order.Unlock()

	current := c.store.GetState()
	if action, ok := intent.Action(); ok && current.DisallowedActions.Has(action) {
		c.observer.ObserveCommand(intent.Kind, OutcomeRejected)
		c.logger.Debug("Command disallowed by remote",
			zap.String("command", string(intent.Kind)),
			zap.String("action", string(action)))
		return fmt.Errorf("%w: %s", ErrActionDisallowed, action)
	}

	token := c.store.ApplyOptimistic(intent.Delta(current))

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		c.store.RevertOptimistic(token)
		return ErrClosed
	}
	c.seq[intent.Kind]++
	seq := c.seq[intent.Kind]
	c.wg.Add(1)
	c.mu.Unlock()

	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.ctx, cancel)

	go func() {
		defer c.wg.Done()
		defer stop()
		defer cancel()

		err := dispatch(dctx)
		c.finish(intent, seq, token, err)
	}()

	return nil
}

func (c *Controller) finish(intent core.CommandIntent, seq uint64, token OptimisticToken, err error) {
	c.mu.Lock()
	latest := c.seq[intent.Kind] == seq
	c.mu.Unlock()

	logger := c.logger.With(zap.String("command", string(intent.Kind)))

	if !latest {
		c.observer.ObserveCommand(intent.Kind, OutcomeSuperseded)
		logger.Debug("Ignoring result of superseded command", zap.Error(err))
		return
	}

	if err == nil {
		c.observer.ObserveCommand(intent.Kind, OutcomeDispatched)
		logger.Debug("Command dispatched")
		if c.nudger != nil {
			c.nudger.Nudge()
		}
		return
	}

	if errors.Is(err, api.ErrCancelled) || errors.Is(err, context.Canceled) {
		logger.Debug("Command cancelled")
		return
	}

	c.observer.ObserveCommand(intent.Kind, OutcomeFailed)
	if c.cfg.RollbackOnFailure && c.store.RevertOptimistic(token) {
		logger.Warn("Command failed, optimistic update rolled back", zap.Error(err))
		return
	}
	logger.Warn("Command failed, waiting for next poll to correct state", zap.Error(err))
}
