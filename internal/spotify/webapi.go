// Package spotify adapts the Spotify Web API to the playback core. Every call
// goes through the request pipeline; search and listing results are cached.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"playdeck/internal/api"
	"playdeck/internal/cache"
	"playdeck/internal/core"
)

const (
	// PlaylistPageSize is the largest page the playlist items endpoint serves
	PlaylistPageSize = 100
	// AlbumPageSize is the largest page the album tracks endpoint serves
	AlbumPageSize = 50
	// DefaultSearchLimit is used when a search does not ask for a page size
	DefaultSearchLimit = 20
	// MaxSearchLimit is the upstream maximum for search and listing pages
	MaxSearchLimit = 50
	// DefaultSearchType is searched when a query names no types
	DefaultSearchType = "track"
)

// ErrUnsupportedContext is returned for context URIs that cannot be expanded
// into a track list (artists, shows, collections).
var ErrUnsupportedContext = errors.New("unsupported context type")

type Client struct {
	pipeline  *api.Pipeline
	searches  *cache.Cache[core.SearchResult]
	playlists *cache.Cache[core.PlaylistPage]
	logger    *zap.Logger
}

func NewClient(pipeline *api.Pipeline, cacheConfig core.CacheConfig, logger *zap.Logger) *Client {
	return &Client{
		pipeline:  pipeline,
		searches:  cache.New[core.SearchResult]("search", cacheConfig.MaxEntries, cacheConfig.TTL),
		playlists: cache.New[core.PlaylistPage]("playlists", cacheConfig.MaxEntries, cacheConfig.TTL),
		logger:    logger,
	}
}

// SetCacheObserver reports hits, misses and evictions of both result caches.
func (c *Client) SetCacheObserver(o cache.Observer) {
	c.searches.SetObserver(o)
	c.playlists.SetObserver(o)
}

// ClearCaches drops every cached search and listing result.
func (c *Client) ClearCaches() {
	c.searches.Clear()
	c.playlists.Clear()
}

// CurrentPlayback polls the player. A nil patch with a nil error means there
// is no active playback.
func (c *Client) CurrentPlayback(ctx context.Context) (*core.Patch, error) {
	resp, err := c.pipeline.Execute(ctx, api.Request{
		Method:   http.MethodGet,
		Endpoint: "/me/player",
		Channel:  api.ChannelStatePoll,
	})
	if err != nil {
		return nil, fmt.Errorf("get playback state: %w", err)
	}
	if resp.Empty() {
		return nil, nil
	}

	var state playerResponse
	if err := resp.Decode(&state); err != nil {
		return nil, fmt.Errorf("get playback state: %w", err)
	}
	return playbackPatch(&state), nil
}

type playRequest struct {
	ContextURI string   `json:"context_uri,omitempty"`
	URIs       []string `json:"uris,omitempty"`
	PositionMs *int     `json:"position_ms,omitempty"`
}

// Play starts or resumes playback. Empty options resume the current context.
func (c *Client) Play(ctx context.Context, opts core.PlayOptions) error {
	req := api.Request{
		Method:   http.MethodPut,
		Endpoint: "/me/player/play",
		Query:    deviceQuery(opts.DeviceID),
	}
	if opts.ContextURI != "" || len(opts.URIs) > 0 || opts.PositionMs != nil {
		req.Body = playRequest{
			ContextURI: opts.ContextURI,
			URIs:       opts.URIs,
			PositionMs: opts.PositionMs,
		}
	}
	return c.command(ctx, "play", req)
}

func (c *Client) Pause(ctx context.Context) error {
	return c.command(ctx, "pause", api.Request{Method: http.MethodPut, Endpoint: "/me/player/pause"})
}

func (c *Client) Seek(ctx context.Context, positionMs int) error {
	return c.command(ctx, "seek", api.Request{
		Method:   http.MethodPut,
		Endpoint: "/me/player/seek",
		Query:    url.Values{"position_ms": {strconv.Itoa(positionMs)}},
	})
}

func (c *Client) Next(ctx context.Context) error {
	return c.command(ctx, "skip to next", api.Request{Method: http.MethodPost, Endpoint: "/me/player/next"})
}

func (c *Client) Previous(ctx context.Context) error {
	return c.command(ctx, "skip to previous", api.Request{Method: http.MethodPost, Endpoint: "/me/player/previous"})
}

func (c *Client) SetVolume(ctx context.Context, percent int) error {
	return c.command(ctx, "set volume", api.Request{
		Method:   http.MethodPut,
		Endpoint: "/me/player/volume",
		Query:    url.Values{"volume_percent": {strconv.Itoa(percent)}},
	})
}

func (c *Client) SetShuffle(ctx context.Context, enabled bool) error {
	return c.command(ctx, "set shuffle", api.Request{
		Method:   http.MethodPut,
		Endpoint: "/me/player/shuffle",
		Query:    url.Values{"state": {strconv.FormatBool(enabled)}},
	})
}

// SetRepeat sends one of the Web API repeat states: "track", "context" or "off".
func (c *Client) SetRepeat(ctx context.Context, mode core.RepeatMode) error {
	state := mode.String()
	if _, ok := core.ParseRepeatMode(state); !ok {
		return fmt.Errorf("invalid repeat mode %d", mode)
	}
	return c.command(ctx, "set repeat", api.Request{
		Method:   http.MethodPut,
		Endpoint: "/me/player/repeat",
		Query:    url.Values{"state": {state}},
	})
}

type transferRequest struct {
	DeviceIDs []string `json:"device_ids"`
	Play      bool     `json:"play"`
}

// TransferPlayback moves playback to deviceID, optionally starting it there.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	return c.command(ctx, "transfer playback", api.Request{
		Method:   http.MethodPut,
		Endpoint: "/me/player",
		Body:     transferRequest{DeviceIDs: []string{deviceID}, Play: play},
	})
}

// AddToQueue appends a track or episode URI to the active device's queue.
func (c *Client) AddToQueue(ctx context.Context, uri string) error {
	return c.command(ctx, "add to queue", api.Request{
		Method:   http.MethodPost,
		Endpoint: "/me/player/queue",
		Query:    url.Values{"uri": {uri}},
	})
}

func (c *Client) Devices(ctx context.Context) ([]core.Device, error) {
	var body struct {
		Devices []spotify.PlayerDevice `json:"devices"`
	}
	if err := c.get(ctx, "/me/player/devices", nil, api.ChannelNone, &body); err != nil {
		return nil, fmt.Errorf("get devices: %w", err)
	}

	devices := make([]core.Device, 0, len(body.Devices))
	for i := range body.Devices {
		devices = append(devices, convertDevice(&body.Devices[i]))
	}
	return devices, nil
}

func (c *Client) Queue(ctx context.Context) (core.Queue, error) {
	var body spotify.Queue
	if err := c.get(ctx, "/me/player/queue", nil, api.ChannelNone, &body); err != nil {
		return core.Queue{}, fmt.Errorf("get queue: %w", err)
	}

	queue := core.Queue{Items: make([]core.TrackMetadata, 0, len(body.Items))}
	if body.CurrentlyPlaying.ID != "" {
		current := convertFullTrack(&body.CurrentlyPlaying)
		queue.Current = &current
	}
	for i := range body.Items {
		queue.Items = append(queue.Items, convertFullTrack(&body.Items[i]))
	}
	return queue, nil
}

// Search runs a catalog search on the search channel, so a newer search
// cancels one still in flight. Results are served from cache when fresh.
func (c *Client) Search(ctx context.Context, q core.SearchQuery) (core.SearchResult, error) {
	if strings.TrimSpace(q.Query) == "" {
		return core.SearchResult{}, nil
	}
	if len(q.Types) == 0 {
		q.Types = []string{DefaultSearchType}
	}
	q.Limit = pageLimit(q.Limit)

	key := cache.SearchKey(q)
	if cached, ok := c.searches.Get(key); ok {
		return cached, nil
	}

	query := url.Values{
		"q":      {strings.TrimSpace(q.Query)},
		"type":   {strings.Join(q.Types, ",")},
		"limit":  {strconv.Itoa(q.Limit)},
		"offset": {strconv.Itoa(max(q.Offset, 0))},
	}
	var body spotify.SearchResult
	if err := c.get(ctx, "/search", query, api.ChannelSearch, &body); err != nil {
		return core.SearchResult{}, fmt.Errorf("search %q: %w", q.Query, err)
	}

	result := convertSearch(&body)
	c.searches.Put(key, result)
	return result, nil
}

// UserPlaylists lists the current user's playlists, one page at a time.
func (c *Client) UserPlaylists(ctx context.Context, limit, offset int) (core.PlaylistPage, error) {
	limit = pageLimit(limit)
	offset = max(offset, 0)

	key := cache.ListingKey("playlists", "me", limit, offset)
	if cached, ok := c.playlists.Get(key); ok {
		return cached, nil
	}

	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	var body spotify.SimplePlaylistPage
	if err := c.get(ctx, "/me/playlists", query, api.ChannelNone, &body); err != nil {
		return core.PlaylistPage{}, fmt.Errorf("list playlists: %w", err)
	}

	page := core.PlaylistPage{
		Items:  make([]core.Playlist, 0, len(body.Playlists)),
		Total:  int(body.Total),
		Offset: int(body.Offset),
		Limit:  int(body.Limit),
	}
	for i := range body.Playlists {
		page.Items = append(page.Items, convertPlaylist(&body.Playlists[i]))
	}
	c.playlists.Put(key, page)
	return page, nil
}

// ContextTracks expands a playlist or album URI into its playable tracks,
// following pagination to the end. Local files and episodes are skipped.
func (c *Client) ContextTracks(ctx context.Context, contextURI string) ([]core.TrackRef, error) {
	kind, id, err := parseContextURI(contextURI)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "playlist":
		return c.playlistTracks(ctx, id)
	case "album":
		return c.albumTracks(ctx, id)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContext, contextURI)
	}
}

func (c *Client) playlistTracks(ctx context.Context, playlistID string) ([]core.TrackRef, error) {
	var refs []core.TrackRef
	for offset := 0; ; offset += PlaylistPageSize {
		var page spotify.PlaylistItemPage
		query := url.Values{
			"limit":  {strconv.Itoa(PlaylistPageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		if err := c.get(ctx, "/playlists/"+url.PathEscape(playlistID)+"/tracks", query, api.ChannelNone, &page); err != nil {
			return nil, fmt.Errorf("get playlist %s tracks: %w", playlistID, err)
		}

		for i := range page.Items {
			item := &page.Items[i]
			if item.IsLocal || item.Track.Track == nil || item.Track.Track.URI == "" {
				continue
			}
			refs = append(refs, convertFullTrack(item.Track.Track).Ref())
		}

		if page.Next == "" || len(page.Items) < PlaylistPageSize {
			break
		}
	}

	c.logger.Debug("Fetched playlist tracks",
		zap.String("playlistID", playlistID),
		zap.Int("tracks", len(refs)))
	return refs, nil
}

func (c *Client) albumTracks(ctx context.Context, albumID string) ([]core.TrackRef, error) {
	var refs []core.TrackRef
	for offset := 0; ; offset += AlbumPageSize {
		var page spotify.SimpleTrackPage
		query := url.Values{
			"limit":  {strconv.Itoa(AlbumPageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		if err := c.get(ctx, "/albums/"+url.PathEscape(albumID)+"/tracks", query, api.ChannelNone, &page); err != nil {
			return nil, fmt.Errorf("get album %s tracks: %w", albumID, err)
		}

		for i := range page.Tracks {
			if page.Tracks[i].URI == "" {
				continue
			}
			refs = append(refs, convertSimpleTrack(&page.Tracks[i]).Ref())
		}

		if page.Next == "" || len(page.Tracks) < AlbumPageSize {
			break
		}
	}
	return refs, nil
}

// parseContextURI splits spotify:kind:id, also accepting the legacy
// spotify:user:owner:playlist:id form.
func parseContextURI(uri string) (kind, id string, err error) {
	parts := strings.Split(uri, ":")
	if len(parts) < 3 || parts[0] != "spotify" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedContext, uri)
	}
	kind, id = parts[len(parts)-2], parts[len(parts)-1]
	if id == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedContext, uri)
	}
	return kind, id, nil
}

func (c *Client) command(ctx context.Context, name string, req api.Request) error {
	if _, err := c.pipeline.Execute(ctx, req); err != nil {
		return fmt.Errorf("failed to %s: %w", name, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, ch api.Channel, v any) error {
	resp, err := c.pipeline.Execute(ctx, api.Request{
		Method:   http.MethodGet,
		Endpoint: endpoint,
		Query:    query,
		Channel:  ch,
	})
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device_id": {deviceID}}
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return min(limit, MaxSearchLimit)
}
