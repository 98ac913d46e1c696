package spotify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"playdeck/internal/core"
)

// sdkState is the Web Playback SDK player_state_changed payload.
type sdkState struct {
	Paused     bool  `json:"paused"`
	Position   int   `json:"position"`
	Duration   int   `json:"duration"`
	Shuffle    bool  `json:"shuffle"`
	RepeatMode int   `json:"repeat_mode"`
	Timestamp  int64 `json:"timestamp"`
	Context    struct {
		URI string `json:"uri"`
	} `json:"context"`
	TrackWindow struct {
		CurrentTrack *sdkTrack `json:"current_track"`
	} `json:"track_window"`
	Disallows map[string]bool `json:"disallows"`
}

type sdkTrack struct {
	ID         string `json:"id"`
	URI        string `json:"uri"`
	Name       string `json:"name"`
	DurationMs int    `json:"duration_ms"`
	Artists    []struct {
		URI  string `json:"uri"`
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
}

// sdkRepeatModes maps the SDK's numeric repeat_mode.
var sdkRepeatModes = map[int]core.RepeatMode{
	0: core.RepeatOff,
	1: core.RepeatContext,
	2: core.RepeatTrack,
}

// ParsePlayerEvent decodes a pushed player state. A JSON null, or a state
// without a current track, returns a nil patch: playback went idle.
func ParsePlayerEvent(raw []byte) (*core.Patch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var state sdkState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode player event: %w", err)
	}

	current := state.TrackWindow.CurrentTrack
	if current == nil {
		return nil, nil
	}

	track := core.TrackMetadata{
		ID:         current.ID,
		URI:        current.URI,
		Name:       current.Name,
		Album:      current.Album.Name,
		DurationMs: current.DurationMs,
		Artists:    make([]core.Artist, 0, len(current.Artists)),
	}
	if track.ID == "" {
		track.ID = idFromURI(current.URI)
	}
	if track.DurationMs == 0 {
		track.DurationMs = state.Duration
	}
	if len(current.Album.Images) > 0 {
		track.ArtworkURL = current.Album.Images[0].URL
	}
	for _, a := range current.Artists {
		track.Artists = append(track.Artists, core.Artist{ID: idFromURI(a.URI), Name: a.Name})
	}

	patch := &core.Patch{
		Track:             &track,
		IsPlaying:         core.Ptr(!state.Paused),
		PositionMs:        core.Ptr(state.Position),
		ShuffleEnabled:    core.Ptr(state.Shuffle),
		ContextURI:        core.Ptr(state.Context.URI),
		DisallowedActions: disallowedActions(state.Disallows),
		HasDisallowed:     true,
	}
	if mode, ok := sdkRepeatModes[state.RepeatMode]; ok {
		patch.RepeatMode = &mode
	}
	return patch, nil
}
