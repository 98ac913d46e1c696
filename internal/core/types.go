package core

import (
	"context"
	"sort"
	"time"
)

type RepeatMode int

const (
	// RepeatOff plays the context once
	RepeatOff RepeatMode = iota
	// RepeatTrack loops the current track
	RepeatTrack
	// RepeatContext loops the whole context
	RepeatContext
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatTrack:
		return "track"
	case RepeatContext:
		return "context"
	default:
		return "unknown"
	}
}

// ParseRepeatMode maps the Web API repeat_state strings to a RepeatMode.
func ParseRepeatMode(s string) (RepeatMode, bool) {
	switch s {
	case "off":
		return RepeatOff, true
	case "track":
		return RepeatTrack, true
	case "context":
		return RepeatContext, true
	default:
		return RepeatOff, false
	}
}

// ActionKind names a remote playback action that can be disallowed.
type ActionKind string

const (
	ActionInterruptingPlayback  ActionKind = "interrupting_playback"
	ActionPausing               ActionKind = "pausing"
	ActionResuming              ActionKind = "resuming"
	ActionSeeking               ActionKind = "seeking"
	ActionSkippingNext          ActionKind = "skipping_next"
	ActionSkippingPrev          ActionKind = "skipping_prev"
	ActionTogglingRepeatContext ActionKind = "toggling_repeat_context"
	ActionTogglingRepeatTrack   ActionKind = "toggling_repeat_track"
	ActionTogglingShuffle       ActionKind = "toggling_shuffle"
	ActionTransferringPlayback  ActionKind = "transferring_playback"
)

type ActionSet map[ActionKind]struct{}

func NewActionSet(kinds ...ActionKind) ActionSet {
	s := make(ActionSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

func (s ActionSet) Has(kind ActionKind) bool {
	_, ok := s[kind]
	return ok
}

// Sorted returns the set members in a stable order for logging and JSON.
func (s ActionSet) Sorted() []ActionKind {
	out := make([]ActionKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s ActionSet) clone() ActionSet {
	if s == nil {
		return nil
	}
	out := make(ActionSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TrackMetadata struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Album      string   `json:"album"`
	ArtworkURL string   `json:"artwork_url,omitempty"`
	DurationMs int      `json:"duration_ms"`
}

// Ref reduces the metadata to the shuffle input shape.
func (t TrackMetadata) Ref() TrackRef {
	ids := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		ids = append(ids, a.ID)
	}
	return TrackRef{URI: t.URI, ID: t.ID, Name: t.Name, ArtistIDs: ids, DurationMs: t.DurationMs}
}

// PlaybackState is the single source of truth for what is playing.
// An empty TrackID is the Idle state.
type PlaybackState struct {
	TrackID                   string        `json:"track_id,omitempty"`
	Track                     TrackMetadata `json:"track"`
	IsPlaying                 bool          `json:"is_playing"`
	PositionMs                int           `json:"position_ms"`
	VolumePercent             int           `json:"volume_percent"`
	ShuffleEnabled            bool          `json:"shuffle_enabled"`
	RepeatMode                RepeatMode    `json:"repeat_mode"`
	DeviceID                  string        `json:"device_id,omitempty"`
	ContextURI                string        `json:"context_uri,omitempty"`
	LastAuthoritativeUpdateAt time.Time     `json:"last_authoritative_update_at"`
	DisallowedActions         ActionSet     `json:"-"`
}

func (s PlaybackState) IsIdle() bool {
	return s.TrackID == ""
}

// Clone returns a copy that shares no mutable memory with s.
func (s PlaybackState) Clone() PlaybackState {
	out := s
	out.Track.Artists = append([]Artist(nil), s.Track.Artists...)
	out.DisallowedActions = s.DisallowedActions.clone()
	return out
}

// Idle returns the explicit no-playback state, keeping device-level settings.
func (s PlaybackState) Idle() PlaybackState {
	return PlaybackState{
		VolumePercent:             s.VolumePercent,
		ShuffleEnabled:            s.ShuffleEnabled,
		RepeatMode:                s.RepeatMode,
		DeviceID:                  s.DeviceID,
		LastAuthoritativeUpdateAt: s.LastAuthoritativeUpdateAt,
	}
}

// TrackRef is the immutable shuffle element. URI is its identity.
type TrackRef struct {
	URI        string
	ID         string
	Name       string
	ArtistIDs  []string
	DurationMs int
}

// PrimaryArtistID returns the first artist id, or "" for tracks without artists.
func (t TrackRef) PrimaryArtistID() string {
	if len(t.ArtistIDs) == 0 {
		return ""
	}
	return t.ArtistIDs[0]
}

type Playlist struct {
	ID          string `json:"id"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TrackCount  int    `json:"track_count"`
	Owner       string `json:"owner"`
	OwnerID     string `json:"owner_id"`
}

type Album struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	ArtworkURL string   `json:"artwork_url,omitempty"`
}

type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Active        bool   `json:"active"`
	VolumePercent int    `json:"volume_percent"`
}

type SearchQuery struct {
	Query  string
	Types  []string
	Limit  int
	Offset int
}

type SearchResult struct {
	Tracks    []TrackMetadata `json:"tracks"`
	Albums    []Album         `json:"albums"`
	Artists   []Artist        `json:"artists"`
	Playlists []Playlist      `json:"playlists"`
}

type PlaylistPage struct {
	Items  []Playlist `json:"items"`
	Total  int        `json:"total"`
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
}

// TokenProvider supplies bearer tokens. An error or empty token means the
// caller cannot proceed.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// PlayOptions describes a start/resume request. All members are optional;
// an empty value resumes the current context.
type PlayOptions struct {
	ContextURI string
	URIs       []string
	PositionMs *int
	DeviceID   string
}

// Queue is the upcoming-tracks view of the active device.
type Queue struct {
	Current *TrackMetadata  `json:"current,omitempty"`
	Items   []TrackMetadata `json:"items"`
}
