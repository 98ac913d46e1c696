package player

import (
	"context"
	"fmt"
	"sync"

	"playdeck/internal/core"
)

type remoteCall struct {
	Method string
	Arg    any
}

// fakeRemote records every call. A non-nil gate blocks the named method until
// the gate is closed; errs makes the named method fail.
type fakeRemote struct {
	mu    sync.Mutex
	calls []remoteCall
	errs  map[string]error
	gates map[string]chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeRemote) setErr(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeRemote) gate(method string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[method] = ch
	return ch
}

func (f *fakeRemote) record(ctx context.Context, method string, arg any) error {
	f.mu.Lock()
	f.calls = append(f.calls, remoteCall{Method: method, Arg: arg})
	gate := f.gates[method]
	err := f.errs[method]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeRemote) callsTo(method string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remoteCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) Play(ctx context.Context, opts core.PlayOptions) error {
	return f.record(ctx, "Play", opts)
}

func (f *fakeRemote) Pause(ctx context.Context) error {
	return f.record(ctx, "Pause", nil)
}

func (f *fakeRemote) Seek(ctx context.Context, positionMs int) error {
	return f.record(ctx, "Seek", positionMs)
}

func (f *fakeRemote) Next(ctx context.Context) error {
	return f.record(ctx, "Next", nil)
}

func (f *fakeRemote) Previous(ctx context.Context) error {
	return f.record(ctx, "Previous", nil)
}

func (f *fakeRemote) SetVolume(ctx context.Context, percent int) error {
	return f.record(ctx, "SetVolume", percent)
}

func (f *fakeRemote) SetShuffle(ctx context.Context, enabled bool) error {
	return f.record(ctx, "SetShuffle", enabled)
}

func (f *fakeRemote) SetRepeat(ctx context.Context, mode core.RepeatMode) error {
	return f.record(ctx, "SetRepeat", mode)
}

func (f *fakeRemote) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	return f.record(ctx, "TransferPlayback", deviceID)
}

func (f *fakeRemote) AddToQueue(ctx context.Context, uri string) error {
	return f.record(ctx, "AddToQueue", uri)
}

type fakeContextSource struct {
	tracks map[string][]core.TrackRef
}

func (f *fakeContextSource) ContextTracks(_ context.Context, contextURI string) ([]core.TrackRef, error) {
	tracks, ok := f.tracks[contextURI]
	if !ok {
		return nil, fmt.Errorf("unknown context %s", contextURI)
	}
	return tracks, nil
}

type countingNudger struct {
	mu sync.Mutex
	n  int
}

func (c *countingNudger) Nudge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingNudger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *recordingObserver) ObserveCommand(kind core.CommandKind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[string(kind)+"/"+outcome]++
}

func (r *recordingObserver) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[key]
}

func makeTrackRefs(n int) []core.TrackRef {
	out := make([]core.TrackRef, n)
	for i := range out {
		out[i] = core.TrackRef{
			URI:       fmt.Sprintf("spotify:track:%03d", i),
			ID:        fmt.Sprintf("%03d", i),
			ArtistIDs: []string{fmt.Sprintf("artist%d", i%7)},
		}
	}
	return out
}
