package core

// Field identifies one independently arbitrated part of PlaybackState.
type Field int

const (
	FieldTrack Field = iota
	FieldIsPlaying
	FieldPosition
	FieldVolume
	FieldShuffle
	FieldRepeat
	FieldDevice
	FieldContext
	FieldDisallowed
	// FieldCount is the number of fields, not a field.
	FieldCount
)

var fieldNames = [FieldCount]string{
	"track", "is_playing", "position", "volume", "shuffle", "repeat", "device", "context", "disallowed",
}

func (f Field) String() string {
	if f < 0 || f >= FieldCount {
		return "unknown"
	}
	return fieldNames[f]
}

// Patch is a partial PlaybackState. Nil members are left untouched.
type Patch struct {
	Track             *TrackMetadata
	IsPlaying         *bool
	PositionMs        *int
	VolumePercent     *int
	ShuffleEnabled    *bool
	RepeatMode        *RepeatMode
	DeviceID          *string
	ContextURI        *string
	DisallowedActions ActionSet
	HasDisallowed     bool
}

// Fields lists the members the patch sets.
func (p Patch) Fields() []Field {
	var out []Field
	if p.Track != nil {
		out = append(out, FieldTrack)
	}
	if p.IsPlaying != nil {
		out = append(out, FieldIsPlaying)
	}
	if p.PositionMs != nil {
		out = append(out, FieldPosition)
	}
	if p.VolumePercent != nil {
		out = append(out, FieldVolume)
	}
	if p.ShuffleEnabled != nil {
		out = append(out, FieldShuffle)
	}
	if p.RepeatMode != nil {
		out = append(out, FieldRepeat)
	}
	if p.DeviceID != nil {
		out = append(out, FieldDevice)
	}
	if p.ContextURI != nil {
		out = append(out, FieldContext)
	}
	if p.HasDisallowed {
		out = append(out, FieldDisallowed)
	}
	return out
}

func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Only returns a copy of p restricted to the given fields.
func (p Patch) Only(fields ...Field) Patch {
	var out Patch
	for _, f := range fields {
		switch f {
		case FieldTrack:
			out.Track = p.Track
		case FieldIsPlaying:
			out.IsPlaying = p.IsPlaying
		case FieldPosition:
			out.PositionMs = p.PositionMs
		case FieldVolume:
			out.VolumePercent = p.VolumePercent
		case FieldShuffle:
			out.ShuffleEnabled = p.ShuffleEnabled
		case FieldRepeat:
			out.RepeatMode = p.RepeatMode
		case FieldDevice:
			out.DeviceID = p.DeviceID
		case FieldContext:
			out.ContextURI = p.ContextURI
		case FieldDisallowed:
			out.DisallowedActions = p.DisallowedActions
			out.HasDisallowed = p.HasDisallowed
		}
	}
	return out
}

// PatchFrom captures the given fields of s as a patch.
func PatchFrom(s PlaybackState, fields ...Field) Patch {
	full := Patch{
		IsPlaying:         Ptr(s.IsPlaying),
		PositionMs:        Ptr(s.PositionMs),
		VolumePercent:     Ptr(s.VolumePercent),
		ShuffleEnabled:    Ptr(s.ShuffleEnabled),
		RepeatMode:        Ptr(s.RepeatMode),
		DeviceID:          Ptr(s.DeviceID),
		ContextURI:        Ptr(s.ContextURI),
		DisallowedActions: s.DisallowedActions.clone(),
		HasDisallowed:     true,
	}
	track := s.Track
	track.Artists = append([]Artist(nil), s.Track.Artists...)
	full.Track = &track
	return full.Only(fields...)
}

// ApplyTo writes the patch onto s and clamps the position into the track duration.
func (p Patch) ApplyTo(s *PlaybackState) {
	if p.Track != nil {
		s.Track = *p.Track
		s.Track.Artists = append([]Artist(nil), p.Track.Artists...)
		s.TrackID = p.Track.ID
	}
	if p.IsPlaying != nil {
		s.IsPlaying = *p.IsPlaying
	}
	if p.PositionMs != nil {
		s.PositionMs = *p.PositionMs
	}
	if p.VolumePercent != nil {
		s.VolumePercent = clamp(*p.VolumePercent, 0, 100)
	}
	if p.ShuffleEnabled != nil {
		s.ShuffleEnabled = *p.ShuffleEnabled
	}
	if p.RepeatMode != nil {
		s.RepeatMode = *p.RepeatMode
	}
	if p.DeviceID != nil {
		s.DeviceID = *p.DeviceID
	}
	if p.ContextURI != nil {
		s.ContextURI = *p.ContextURI
	}
	if p.HasDisallowed {
		s.DisallowedActions = p.DisallowedActions.clone()
	}
	s.PositionMs = ClampPosition(s.PositionMs, s.Track.DurationMs)
}

// ClampPosition keeps a position within [0, duration]. A zero duration means unknown.
func ClampPosition(pos, duration int) int {
	if pos < 0 {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}
