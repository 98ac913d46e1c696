package spotify

import (
	"strings"

	"github.com/zmb3/spotify/v2"

	"playdeck/internal/core"
)

// playerResponse is the GET /me/player body. The library's PlayerState has
// no disallowed-actions member, so it is extended here.
type playerResponse struct {
	spotify.PlayerState
	Actions struct {
		Disallows map[string]bool `json:"disallows"`
	} `json:"actions"`
}

// playbackPatch turns a full player report into a patch covering every field.
// A report without a current item is treated as Idle.
func playbackPatch(resp *playerResponse) *core.Patch {
	if resp.Item == nil {
		return nil
	}

	track := convertFullTrack(resp.Item)
	patch := &core.Patch{
		Track:             &track,
		IsPlaying:         core.Ptr(resp.Playing),
		PositionMs:        core.Ptr(int(resp.Progress)),
		ShuffleEnabled:    core.Ptr(resp.ShuffleState),
		VolumePercent:     core.Ptr(int(resp.Device.Volume)),
		DeviceID:          core.Ptr(string(resp.Device.ID)),
		ContextURI:        core.Ptr(string(resp.PlaybackContext.URI)),
		DisallowedActions: disallowedActions(resp.Actions.Disallows),
		HasDisallowed:     true,
	}
	if mode, ok := core.ParseRepeatMode(resp.RepeatState); ok {
		patch.RepeatMode = &mode
	}
	return patch
}

func disallowedActions(disallows map[string]bool) core.ActionSet {
	set := make(core.ActionSet)
	for action, disallowed := range disallows {
		if disallowed {
			set[core.ActionKind(action)] = struct{}{}
		}
	}
	return set
}

func convertFullTrack(track *spotify.FullTrack) core.TrackMetadata {
	return core.TrackMetadata{
		ID:         string(track.ID),
		URI:        string(track.URI),
		Name:       track.Name,
		Artists:    convertArtists(track.Artists),
		Album:      track.Album.Name,
		ArtworkURL: artworkURL(track.Album.Images),
		DurationMs: int(track.Duration),
	}
}

// convertSimpleTrack is used for album listings, where tracks omit their album.
func convertSimpleTrack(track *spotify.SimpleTrack) core.TrackMetadata {
	return core.TrackMetadata{
		ID:         string(track.ID),
		URI:        string(track.URI),
		Name:       track.Name,
		Artists:    convertArtists(track.Artists),
		DurationMs: int(track.Duration),
	}
}

func convertArtists(artists []spotify.SimpleArtist) []core.Artist {
	out := make([]core.Artist, 0, len(artists))
	for _, a := range artists {
		out = append(out, core.Artist{ID: string(a.ID), Name: a.Name})
	}
	return out
}

func artworkURL(images []spotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func convertAlbum(album *spotify.SimpleAlbum) core.Album {
	artists := make([]string, 0, len(album.Artists))
	for _, a := range album.Artists {
		artists = append(artists, a.Name)
	}
	return core.Album{
		ID:         string(album.ID),
		URI:        string(album.URI),
		Name:       album.Name,
		Artists:    artists,
		ArtworkURL: artworkURL(album.Images),
	}
}

func convertPlaylist(playlist *spotify.SimplePlaylist) core.Playlist {
	return core.Playlist{
		ID:          string(playlist.ID),
		URI:         string(playlist.URI),
		Name:        playlist.Name,
		Description: playlist.Description,
		TrackCount:  int(playlist.Tracks.Total),
		Owner:       playlist.Owner.DisplayName,
		OwnerID:     playlist.Owner.ID,
	}
}

func convertDevice(device *spotify.PlayerDevice) core.Device {
	return core.Device{
		ID:            string(device.ID),
		Name:          device.Name,
		Type:          device.Type,
		Active:        device.Active,
		VolumePercent: int(device.Volume),
	}
}

func convertSearch(result *spotify.SearchResult) core.SearchResult {
	var out core.SearchResult
	if result.Tracks != nil {
		for i := range result.Tracks.Tracks {
			out.Tracks = append(out.Tracks, convertFullTrack(&result.Tracks.Tracks[i]))
		}
	}
	if result.Albums != nil {
		for i := range result.Albums.Albums {
			out.Albums = append(out.Albums, convertAlbum(&result.Albums.Albums[i]))
		}
	}
	if result.Artists != nil {
		for i := range result.Artists.Artists {
			a := &result.Artists.Artists[i]
			out.Artists = append(out.Artists, core.Artist{ID: string(a.ID), Name: a.Name})
		}
	}
	if result.Playlists != nil {
		for i := range result.Playlists.Playlists {
			out.Playlists = append(out.Playlists, convertPlaylist(&result.Playlists.Playlists[i]))
		}
	}
	return out
}

// idFromURI returns the last segment of a spotify:kind:id URI.
func idFromURI(uri string) string {
	if i := strings.LastIndexByte(uri, ':'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
