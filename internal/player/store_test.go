package player

import (
	"context"
	"slices"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"go.uber.org/zap"

	"playdeck/internal/core"
)

func newTestStore() *Store {
	return NewStore(core.PlayerConfig{
		TickInterval:     time.Second,
		OptimisticWindow: 2 * time.Second,
	}, zap.NewNop())
}

func playingPatch(trackID string, durationMs, positionMs int, playing bool) *core.Patch {
	return &core.Patch{
		Track: &core.TrackMetadata{
			ID:         trackID,
			URI:        "spotify:track:" + trackID,
			Name:       "Track " + trackID,
			Artists:    []core.Artist{{ID: "a1", Name: "Artist"}},
			DurationMs: durationMs,
		},
		IsPlaying:     core.Ptr(playing),
		PositionMs:    core.Ptr(positionMs),
		VolumePercent: core.Ptr(50),
		ContextURI:    core.Ptr("spotify:playlist:p1"),
	}
}

func TestStore_AuthoritativeOverwritesOptimistic(t *testing.T) {
	s := newTestStore()
	t0 := time.Now()
	s.ApplyAuthoritative(playingPatch("t1", 200000, 1000, false), SourcePoll, t0)

	s.ApplyOptimistic(core.Patch{IsPlaying: core.Ptr(true)})
	if !s.GetState().IsPlaying {
		t.Fatal("optimistic update should apply immediately")
	}

	s.ApplyAuthoritative(&core.Patch{IsPlaying: core.Ptr(false)}, SourcePush, t0.Add(time.Second))

	if s.GetState().IsPlaying {
		t.Error("IsPlaying = true, want false after authoritative update")
	}
	if len(s.Pending()) != 0 {
		t.Errorf("Pending() = %v, want none", s.Pending())
	}
}

func TestStore_NewerAuthoritativeWinsPerField(t *testing.T) {
	s := newTestStore()
	t0 := time.Now()

	s.ApplyAuthoritative(playingPatch("t1", 200000, 1000, true), SourcePoll, t0)
	s.ApplyAuthoritative(&core.Patch{IsPlaying: core.Ptr(false)}, SourcePush, t0.Add(2*time.Second))

	// a poll dispatched before the push but answered after it
	late := &core.Patch{IsPlaying: core.Ptr(true), VolumePercent: core.Ptr(70)}
	s.ApplyAuthoritative(late, SourcePoll, t0.Add(time.Second))

	state := s.GetState()
	if state.IsPlaying {
		t.Error("stale poll overwrote newer push value")
	}
	if state.VolumePercent != 70 {
		t.Errorf("VolumePercent = %d, want 70 (field not touched by the push)", state.VolumePercent)
	}
	if !state.LastAuthoritativeUpdateAt.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("LastAuthoritativeUpdateAt = %v, want the newest update", state.LastAuthoritativeUpdateAt)
	}
}

func TestStore_IdleTransition(t *testing.T) {
	s := newTestStore()
	t0 := time.Now()
	s.ApplyAuthoritative(playingPatch("t1", 200000, 5000, true), SourcePoll, t0)

	s.ApplyAuthoritative(nil, SourcePoll, t0.Add(time.Second))

	state := s.GetState()
	if !state.IsIdle() || state.TrackID != "" {
		t.Errorf("TrackID = %q, want idle", state.TrackID)
	}
	if state.IsPlaying {
		t.Error("idle state must not be playing")
	}
	if state.Track.Name != "" || state.ContextURI != "" || state.PositionMs != 0 {
		t.Errorf("stale track data left behind: %+v", state)
	}
	if state.VolumePercent != 50 {
		t.Errorf("VolumePercent = %d, want device volume kept", state.VolumePercent)
	}
}

func TestStore_StaleIdleIgnored(t *testing.T) {
	s := newTestStore()
	t0 := time.Now()
	s.ApplyAuthoritative(playingPatch("t2", 200000, 0, true), SourcePush, t0)

	s.ApplyAuthoritative(nil, SourcePoll, t0.Add(-time.Second))

	if s.GetState().TrackID != "t2" {
		t.Error("an older idle report must not clear newer track data")
	}
}

func TestStore_PositionClampedToDuration(t *testing.T) {
	s := newTestStore()
	s.ApplyAuthoritative(&core.Patch{
		Track:      &core.TrackMetadata{ID: "t1", DurationMs: 1000},
		PositionMs: core.Ptr(5000),
	}, SourcePoll, time.Now())

	if got := s.GetState().PositionMs; got != 1000 {
		t.Errorf("PositionMs = %d, want 1000", got)
	}
}

func TestStore_TickerClampsAtDuration(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestStore()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go s.Start(ctx)

		s.ApplyAuthoritative(playingPatch("t1", 180000, 180000-500, true), SourcePoll, time.Now())

		time.Sleep(1500 * time.Millisecond)
		synctest.Wait()

		if got := s.GetState().PositionMs; got != 180000 {
			t.Errorf("PositionMs = %d, want exactly 180000", got)
		}

		time.Sleep(3 * time.Second)
		synctest.Wait()
		if got := s.GetState().PositionMs; got != 180000 {
			t.Errorf("PositionMs = %d, must never exceed duration", got)
		}
	})
}

func TestStore_TickerAdvancesAndResetsBaseline(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestStore()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go s.Start(ctx)

		s.ApplyAuthoritative(playingPatch("t1", 300000, 10000, true), SourcePoll, time.Now())

		time.Sleep(3500 * time.Millisecond)
		synctest.Wait()
		if got := s.GetState().PositionMs; got != 13000 {
			t.Errorf("PositionMs = %d, want 13000 after 3 ticks", got)
		}

		s.ApplyAuthoritative(&core.Patch{PositionMs: core.Ptr(60000)}, SourcePush, time.Now())

		time.Sleep(time.Second)
		synctest.Wait()
		// baseline reset at 3.5s, tick at 4s adds 500ms
		if got := s.GetState().PositionMs; got != 60500 {
			t.Errorf("PositionMs = %d, want 60500 after authoritative reset", got)
		}
	})
}

func TestStore_PausedPositionFrozen(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestStore()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go s.Start(ctx)

		s.ApplyAuthoritative(playingPatch("t1", 300000, 42000, false), SourcePoll, time.Now())

		time.Sleep(5 * time.Second)
		synctest.Wait()

		if got := s.GetState().PositionMs; got != 42000 {
			t.Errorf("PositionMs = %d, want frozen at 42000", got)
		}
	})
}

func TestStore_OptimisticPromotedAfterWindow(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestStore()
		t0 := time.Now()
		s.ApplyAuthoritative(playingPatch("t1", 300000, 0, true), SourcePoll, t0)

		time.Sleep(time.Second)
		applied := time.Now()
		s.ApplyOptimistic(core.Patch{VolumePercent: core.Ptr(30)})
		if !slices.Equal(s.Pending(), []core.Field{core.FieldVolume}) {
			t.Fatalf("Pending() = %v, want [volume]", s.Pending())
		}

		time.Sleep(3 * time.Second)
		if len(s.Pending()) != 0 {
			t.Errorf("Pending() = %v, want none after window", s.Pending())
		}

		// a report taken before the optimistic change no longer beats it
		s.ApplyAuthoritative(&core.Patch{VolumePercent: core.Ptr(80)}, SourcePoll, applied.Add(-500*time.Millisecond))
		if got := s.GetState().VolumePercent; got != 30 {
			t.Errorf("VolumePercent = %d, want promoted 30", got)
		}

		s.ApplyAuthoritative(&core.Patch{VolumePercent: core.Ptr(80)}, SourcePoll, time.Now())
		if got := s.GetState().VolumePercent; got != 80 {
			t.Errorf("VolumePercent = %d, want 80 from newer report", got)
		}
	})
}

func TestStore_RevertOptimistic(t *testing.T) {
	s := newTestStore()
	s.ApplyAuthoritative(playingPatch("t1", 300000, 0, true), SourcePoll, time.Now())

	token := s.ApplyOptimistic(core.Patch{VolumePercent: core.Ptr(20)})
	if !s.RevertOptimistic(token) {
		t.Fatal("RevertOptimistic() = false, want true")
	}
	if got := s.GetState().VolumePercent; got != 50 {
		t.Errorf("VolumePercent = %d, want last authoritative 50", got)
	}
	if s.RevertOptimistic(token) {
		t.Error("second revert should be a no-op")
	}
}

func TestStore_RevertKeepsNewerGuess(t *testing.T) {
	s := newTestStore()
	s.ApplyAuthoritative(playingPatch("t1", 300000, 0, true), SourcePoll, time.Now())

	first := s.ApplyOptimistic(core.Patch{VolumePercent: core.Ptr(20)})
	s.ApplyOptimistic(core.Patch{VolumePercent: core.Ptr(30)})

	if s.RevertOptimistic(first) {
		t.Error("revert must not touch a field owned by a newer guess")
	}
	if got := s.GetState().VolumePercent; got != 30 {
		t.Errorf("VolumePercent = %d, want 30", got)
	}
}

func TestStore_SubscribersNotifiedInOrder(t *testing.T) {
	s := newTestStore()

	var mu sync.Mutex
	var calls []string
	record := func(name string) Subscriber {
		return func(newState, oldState core.PlaybackState) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
		}
	}

	s.Subscribe(record("first"))
	unsubscribe := s.Subscribe(record("second"))
	s.Subscribe(record("third"))

	s.ApplyOptimistic(core.Patch{VolumePercent: core.Ptr(10)})
	unsubscribe()
	s.ApplyOptimistic(core.Patch{VolumePercent: core.Ptr(20)})

	want := []string{"first", "second", "third", "first", "third"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestStore_SubscriberSeesOldAndNew(t *testing.T) {
	s := newTestStore()
	s.ApplyAuthoritative(playingPatch("t1", 300000, 0, true), SourcePoll, time.Now())

	var gotOld, gotNew core.PlaybackState
	s.Subscribe(func(newState, oldState core.PlaybackState) {
		gotNew, gotOld = newState, oldState
	})

	s.ApplyOptimistic(core.Patch{IsPlaying: core.Ptr(false)})

	if !gotOld.IsPlaying || gotNew.IsPlaying {
		t.Errorf("subscriber got old=%v new=%v, want old playing and new paused", gotOld.IsPlaying, gotNew.IsPlaying)
	}
}

func TestStore_PanickingSubscriberIsolated(t *testing.T) {
	s := newTestStore()

	called := false
	s.Subscribe(func(core.PlaybackState, core.PlaybackState) {
		panic("boom")
	})
	s.Subscribe(func(core.PlaybackState, core.PlaybackState) {
		called = true
	})

	s.ApplyOptimistic(core.Patch{VolumePercent: core.Ptr(10)})

	if !called {
		t.Error("subscriber after a panicking one was not called")
	}
	if got := s.GetState().VolumePercent; got != 10 {
		t.Errorf("VolumePercent = %d, want 10", got)
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := newTestStore()
	s.ApplyAuthoritative(playingPatch("t1", 300000, 0, true), SourcePoll, time.Now())

	snap := s.GetState()
	snap.Track.Artists[0].Name = "mutated"

	if s.GetState().Track.Artists[0].Name != "Artist" {
		t.Error("mutating a snapshot changed the store")
	}
}
