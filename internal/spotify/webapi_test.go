package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"playdeck/internal/api"
	"playdeck/internal/core"
)

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]http.HandlerFunc
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   string(body),
	})
	handler, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	handler(w, r)
}

func (f *fakeAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeAPI) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func jsonBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}
}

func newTestClient(t *testing.T, routes map[string]http.HandlerFunc) (*Client, *fakeAPI) {
	t.Helper()
	fake := &fakeAPI{routes: routes}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	pipeline := api.NewPipeline(staticTokens("tok"), api.Options{
		BaseURL:    server.URL + "/v1",
		MaxRetries: 0,
	}, zap.NewNop())
	client := NewClient(pipeline, core.CacheConfig{TTL: time.Minute, MaxEntries: 10}, zap.NewNop())
	return client, fake
}

const playerJSON = `{
  "device": {"id": "dev1", "is_active": true, "name": "Desk", "type": "Computer", "volume_percent": 64},
  "shuffle_state": true,
  "repeat_state": "context",
  "timestamp": 1700000000000,
  "context": {"type": "playlist", "uri": "spotify:playlist:p1"},
  "progress_ms": 42000,
  "is_playing": true,
  "item": {
    "id": "t1",
    "uri": "spotify:track:t1",
    "name": "Song",
    "duration_ms": 180000,
    "artists": [{"id": "a1", "name": "Artist One"}],
    "album": {"name": "Record", "images": [{"url": "https://img/1.jpg", "height": 640, "width": 640}]}
  },
  "actions": {"disallows": {"skipping_prev": true, "resuming": false}}
}`

func TestClient_CurrentPlayback(t *testing.T) {
	client, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/me/player": jsonBody(playerJSON),
	})

	patch, err := client.CurrentPlayback(context.Background())
	if err != nil {
		t.Fatalf("CurrentPlayback() error = %v", err)
	}
	if patch == nil {
		t.Fatal("CurrentPlayback() = nil, want a patch")
	}

	var state core.PlaybackState
	patch.ApplyTo(&state)

	if state.TrackID != "t1" || state.Track.Album != "Record" || state.Track.ArtworkURL != "https://img/1.jpg" {
		t.Errorf("track = %+v", state.Track)
	}
	if !state.IsPlaying || state.PositionMs != 42000 {
		t.Errorf("IsPlaying = %v, PositionMs = %d", state.IsPlaying, state.PositionMs)
	}
	if state.VolumePercent != 64 || state.DeviceID != "dev1" {
		t.Errorf("VolumePercent = %d, DeviceID = %q", state.VolumePercent, state.DeviceID)
	}
	if !state.ShuffleEnabled || state.RepeatMode != core.RepeatContext {
		t.Errorf("ShuffleEnabled = %v, RepeatMode = %v", state.ShuffleEnabled, state.RepeatMode)
	}
	if state.ContextURI != "spotify:playlist:p1" {
		t.Errorf("ContextURI = %q", state.ContextURI)
	}
	if !state.DisallowedActions.Has(core.ActionSkippingPrev) || state.DisallowedActions.Has(core.ActionResuming) {
		t.Errorf("DisallowedActions = %v", state.DisallowedActions.Sorted())
	}
}

func TestClient_CurrentPlaybackNoContent(t *testing.T) {
	client, _ := newTestClient(t, nil)

	patch, err := client.CurrentPlayback(context.Background())
	if err != nil {
		t.Fatalf("CurrentPlayback() error = %v", err)
	}
	if patch != nil {
		t.Errorf("CurrentPlayback() = %+v, want nil for 204", patch)
	}
}

func TestClient_CurrentPlaybackWithoutItem(t *testing.T) {
	client, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/me/player": jsonBody(`{"is_playing": false, "device": {"id": "dev1"}, "item": null}`),
	})

	patch, err := client.CurrentPlayback(context.Background())
	if err != nil || patch != nil {
		t.Errorf("CurrentPlayback() = %v, %v, want idle", patch, err)
	}
}

func TestClient_CommandRequests(t *testing.T) {
	client, fake := newTestClient(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		run    func() error
		method string
		path   string
		query  string
		body   string
	}{
		{
			name:   "resume",
			run:    func() error { return client.Play(ctx, core.PlayOptions{}) },
			method: http.MethodPut, path: "/v1/me/player/play",
		},
		{
			name: "play uris on device",
			run: func() error {
				return client.Play(ctx, core.PlayOptions{URIs: []string{"spotify:track:1"}, DeviceID: "d1", PositionMs: core.Ptr(0)})
			},
			method: http.MethodPut, path: "/v1/me/player/play", query: "device_id=d1",
			body: `{"uris":["spotify:track:1"],"position_ms":0}`,
		},
		{
			name:   "play context",
			run:    func() error { return client.Play(ctx, core.PlayOptions{ContextURI: "spotify:album:x"}) },
			method: http.MethodPut, path: "/v1/me/player/play",
			body: `{"context_uri":"spotify:album:x"}`,
		},
		{
			name:   "pause",
			run:    func() error { return client.Pause(ctx) },
			method: http.MethodPut, path: "/v1/me/player/pause",
		},
		{
			name:   "seek",
			run:    func() error { return client.Seek(ctx, 15000) },
			method: http.MethodPut, path: "/v1/me/player/seek", query: "position_ms=15000",
		},
		{
			name:   "next",
			run:    func() error { return client.Next(ctx) },
			method: http.MethodPost, path: "/v1/me/player/next",
		},
		{
			name:   "previous",
			run:    func() error { return client.Previous(ctx) },
			method: http.MethodPost, path: "/v1/me/player/previous",
		},
		{
			name:   "volume",
			run:    func() error { return client.SetVolume(ctx, 35) },
			method: http.MethodPut, path: "/v1/me/player/volume", query: "volume_percent=35",
		},
		{
			name:   "shuffle",
			run:    func() error { return client.SetShuffle(ctx, false) },
			method: http.MethodPut, path: "/v1/me/player/shuffle", query: "state=false",
		},
		{
			name:   "repeat",
			run:    func() error { return client.SetRepeat(ctx, core.RepeatTrack) },
			method: http.MethodPut, path: "/v1/me/player/repeat", query: "state=track",
		},
		{
			name:   "transfer",
			run:    func() error { return client.TransferPlayback(ctx, "d2", true) },
			method: http.MethodPut, path: "/v1/me/player",
			body: `{"device_ids":["d2"],"play":true}`,
		},
		{
			name:   "queue",
			run:    func() error { return client.AddToQueue(ctx, "spotify:track:9") },
			method: http.MethodPost, path: "/v1/me/player/queue", query: "uri=spotify%3Atrack%3A9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); err != nil {
				t.Fatalf("error = %v", err)
			}
			got := fake.last()
			if got.Method != tt.method || got.Path != tt.path {
				t.Errorf("request = %s %s, want %s %s", got.Method, got.Path, tt.method, tt.path)
			}
			if got.Query != tt.query {
				t.Errorf("query = %q, want %q", got.Query, tt.query)
			}
			if got.Body != tt.body {
				t.Errorf("body = %q, want %q", got.Body, tt.body)
			}
		})
	}
}

func TestClient_InvalidRepeat(t *testing.T) {
	client, fake := newTestClient(t, nil)

	if err := client.SetRepeat(context.Background(), core.RepeatMode(7)); err == nil {
		t.Error("SetRepeat(7) should fail")
	}
	if n := fake.count(http.MethodPut, "/v1/me/player/repeat"); n != 0 {
		t.Errorf("repeat requests = %d, want 0", n)
	}
}

func TestClient_CommandErrorKeepsKind(t *testing.T) {
	client, _ := newTestClient(t, map[string]http.HandlerFunc{
		"PUT /v1/me/player/pause": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"status":403,"message":"Player command failed: Restriction violated"}}`)
		},
	})

	err := client.Pause(context.Background())
	if !errors.Is(err, api.ErrClientError) {
		t.Errorf("Pause() error = %v, want ErrClientError", err)
	}
	if api.StatusOf(err) != http.StatusForbidden {
		t.Errorf("StatusOf() = %d, want 403", api.StatusOf(err))
	}
}

func TestClient_SearchCachesNormalizedQuery(t *testing.T) {
	client, fake := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/search": jsonBody(`{
		  "tracks": {"items": [{"id": "t1", "uri": "spotify:track:t1", "name": "Halo", "duration_ms": 261000,
		    "artists": [{"id": "b1", "name": "Beyonce"}], "album": {"name": "I Am"}}], "total": 1},
		  "albums": {"items": [{"id": "al1", "uri": "spotify:album:al1", "name": "I Am", "artists": [{"name": "Beyonce"}]}]}
		}`),
	})
	ctx := context.Background()

	first, err := client.Search(ctx, core.SearchQuery{Query: "Halo Beyonce", Types: []string{"track", "album"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(first.Tracks) != 1 || first.Tracks[0].Artists[0].Name != "Beyonce" || len(first.Albums) != 1 {
		t.Errorf("Search() = %+v", first)
	}

	req := fake.last()
	if req.Query != "limit=20&offset=0&q=Halo+Beyonce&type=track%2Calbum" {
		t.Errorf("query = %q", req.Query)
	}

	second, err := client.Search(ctx, core.SearchQuery{Query: "  halo   BEYONCE ", Types: []string{"album", "track"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if n := fake.count(http.MethodGet, "/v1/search"); n != 1 {
		t.Errorf("search requests = %d, want 1 (second served from cache)", n)
	}
	if len(second.Tracks) != 1 {
		t.Errorf("cached result = %+v", second)
	}

	client.ClearCaches()
	if _, err := client.Search(ctx, core.SearchQuery{Query: "halo beyonce", Types: []string{"track", "album"}}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if n := fake.count(http.MethodGet, "/v1/search"); n != 2 {
		t.Errorf("search requests = %d, want 2 after ClearCaches", n)
	}
}

func TestClient_SearchEmptyQuery(t *testing.T) {
	client, fake := newTestClient(t, nil)

	result, err := client.Search(context.Background(), core.SearchQuery{Query: "   "})
	if err != nil || len(result.Tracks) != 0 {
		t.Errorf("Search() = %+v, %v", result, err)
	}
	if n := fake.count(http.MethodGet, "/v1/search"); n != 0 {
		t.Errorf("search requests = %d, want 0", n)
	}
}

func TestClient_SearchErrorNotCached(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/search": func(w http.ResponseWriter, _ *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			jsonBody(`{"tracks": {"items": []}}`)(w, nil)
		},
	})
	ctx := context.Background()
	q := core.SearchQuery{Query: "x"}

	if _, err := client.Search(ctx, q); !errors.Is(err, api.ErrClientError) {
		t.Fatalf("Search() error = %v, want ErrClientError", err)
	}
	if _, err := client.Search(ctx, q); err != nil {
		t.Errorf("Search() retry error = %v, failures must not be cached", err)
	}
}

func TestClient_UserPlaylists(t *testing.T) {
	client, fake := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/me/playlists": jsonBody(`{
		  "href": "x", "limit": 2, "offset": 0, "total": 7, "next": "y",
		  "items": [
		    {"id": "p1", "uri": "spotify:playlist:p1", "name": "Mix", "description": "daily",
		     "owner": {"id": "u1", "display_name": "Ana"}, "tracks": {"total": 30}},
		    {"id": "p2", "uri": "spotify:playlist:p2", "name": "Chill", "owner": {"id": "u2"}, "tracks": {"total": 5}}
		  ]
		}`),
	})
	ctx := context.Background()

	page, err := client.UserPlaylists(ctx, 2, 0)
	if err != nil {
		t.Fatalf("UserPlaylists() error = %v", err)
	}
	if page.Total != 7 || len(page.Items) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if p := page.Items[0]; p.Owner != "Ana" || p.TrackCount != 30 || p.Description != "daily" {
		t.Errorf("first playlist = %+v", p)
	}

	if _, err := client.UserPlaylists(ctx, 2, 0); err != nil {
		t.Fatal(err)
	}
	if n := fake.count(http.MethodGet, "/v1/me/playlists"); n != 1 {
		t.Errorf("listing requests = %d, want 1", n)
	}
}

func TestClient_DevicesAndQueue(t *testing.T) {
	client, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/me/player/devices": jsonBody(`{"devices": [
		  {"id": "d1", "is_active": true, "name": "Desk", "type": "Computer", "volume_percent": 40},
		  {"id": "d2", "is_active": false, "name": "Phone", "type": "Smartphone", "volume_percent": 100}
		]}`),
		"GET /v1/me/player/queue": jsonBody(`{
		  "currently_playing": {"id": "t1", "uri": "spotify:track:t1", "name": "Now"},
		  "queue": [{"id": "t2", "uri": "spotify:track:t2", "name": "Next"}]
		}`),
	})
	ctx := context.Background()

	devices, err := client.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 2 || !devices[0].Active || devices[1].VolumePercent != 100 {
		t.Errorf("Devices() = %+v", devices)
	}

	queue, err := client.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if queue.Current == nil || queue.Current.ID != "t1" {
		t.Errorf("Current = %+v", queue.Current)
	}
	if len(queue.Items) != 1 || queue.Items[0].Name != "Next" {
		t.Errorf("Items = %+v", queue.Items)
	}
}

func TestClient_ContextTracksPaginatesPlaylist(t *testing.T) {
	const total = 230
	client, fake := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/playlists/p1/tracks": func(w http.ResponseWriter, r *http.Request) {
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			end := min(offset+PlaylistPageSize, total)

			items := ""
			for i := offset; i < end; i++ {
				if items != "" {
					items += ","
				}
				switch {
				case i == 5:
					items += `{"is_local": true, "track": {"type": "track", "id": "", "uri": "spotify:local:x", "name": "local"}}`
				default:
					items += fmt.Sprintf(`{"track": {"type": "track", "id": "t%d", "uri": "spotify:track:t%d", "name": "n", "artists": [{"id": "a%d"}]}}`, i, i, i%3)
				}
			}
			next := ""
			if end < total {
				next = "more"
			}
			jsonBody(fmt.Sprintf(`{"limit": 100, "offset": %d, "total": %d, "next": %q, "items": [%s]}`, offset, total, next, items))(w, r)
		},
	})

	refs, err := client.ContextTracks(context.Background(), "spotify:playlist:p1")
	if err != nil {
		t.Fatalf("ContextTracks() error = %v", err)
	}
	if len(refs) != total-1 {
		t.Errorf("refs = %d, want %d", len(refs), total-1)
	}
	if n := fake.count(http.MethodGet, "/v1/playlists/p1/tracks"); n != 3 {
		t.Errorf("page requests = %d, want 3", n)
	}
	if refs[0].URI != "spotify:track:t0" || refs[0].PrimaryArtistID() != "a0" {
		t.Errorf("first ref = %+v", refs[0])
	}
}

func TestClient_ContextTracksAlbum(t *testing.T) {
	client, _ := newTestClient(t, map[string]http.HandlerFunc{
		"GET /v1/albums/al1/tracks": jsonBody(`{"limit": 50, "offset": 0, "total": 2, "next": null, "items": [
		  {"id": "t1", "uri": "spotify:track:t1", "name": "One", "duration_ms": 1000, "artists": [{"id": "a1"}]},
		  {"id": "t2", "uri": "spotify:track:t2", "name": "Two", "duration_ms": 2000, "artists": [{"id": "a1"}]}
		]}`),
	})

	refs, err := client.ContextTracks(context.Background(), "spotify:album:al1")
	if err != nil {
		t.Fatalf("ContextTracks() error = %v", err)
	}
	if len(refs) != 2 || refs[1].DurationMs != 2000 {
		t.Errorf("refs = %+v", refs)
	}
}

func TestClient_ContextTracksUnsupported(t *testing.T) {
	client, _ := newTestClient(t, nil)

	for _, uri := range []string{"spotify:artist:a1", "not-a-uri", "spotify:playlist:"} {
		if _, err := client.ContextTracks(context.Background(), uri); !errors.Is(err, ErrUnsupportedContext) {
			t.Errorf("ContextTracks(%q) error = %v, want ErrUnsupportedContext", uri, err)
		}
	}
}

func TestParseContextURI(t *testing.T) {
	tests := []struct {
		uri      string
		wantKind string
		wantID   string
	}{
		{"spotify:playlist:37i9dQZF1DXcBWIGoYBM5M", "playlist", "37i9dQZF1DXcBWIGoYBM5M"},
		{"spotify:album:4aawyAB9vmqN3uQ7FjRGTy", "album", "4aawyAB9vmqN3uQ7FjRGTy"},
		{"spotify:user:someone:playlist:abc", "playlist", "abc"},
	}

	for _, tt := range tests {
		kind, id, err := parseContextURI(tt.uri)
		if err != nil || kind != tt.wantKind || id != tt.wantID {
			t.Errorf("parseContextURI(%q) = %q, %q, %v", tt.uri, kind, id, err)
		}
	}
}
