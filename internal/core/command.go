package core

type CommandKind string

const (
	CommandPlay          CommandKind = "play"
	CommandPause         CommandKind = "pause"
	CommandSeek          CommandKind = "seek"
	CommandNext          CommandKind = "next"
	CommandPrevious      CommandKind = "previous"
	CommandSetVolume     CommandKind = "set_volume"
	CommandToggleShuffle CommandKind = "toggle_shuffle"
	CommandSetRepeat     CommandKind = "set_repeat"
	CommandTransfer      CommandKind = "transfer"
)

// CommandIntent is a transient description of one user command. It is used to
// compute the optimistic delta and the expected resulting state, never stored.
type CommandIntent struct {
	Kind          CommandKind
	PositionMs    int
	VolumePercent int
	Shuffle       bool
	Repeat        RepeatMode
	DeviceID      string
}

// Delta computes the optimistic patch for the intent against the current state.
func (i CommandIntent) Delta(current PlaybackState) Patch {
	switch i.Kind {
	case CommandPlay:
		return Patch{IsPlaying: Ptr(true)}
	case CommandPause:
		return Patch{IsPlaying: Ptr(false), PositionMs: Ptr(current.PositionMs)}
	case CommandSeek:
		return Patch{PositionMs: Ptr(ClampPosition(i.PositionMs, current.Track.DurationMs))}
	case CommandNext, CommandPrevious:
		// the next track is unknown until the remote reports it
		return Patch{PositionMs: Ptr(0)}
	case CommandSetVolume:
		return Patch{VolumePercent: Ptr(clamp(i.VolumePercent, 0, 100))}
	case CommandToggleShuffle:
		return Patch{ShuffleEnabled: Ptr(i.Shuffle)}
	case CommandSetRepeat:
		return Patch{RepeatMode: Ptr(i.Repeat)}
	case CommandTransfer:
		return Patch{DeviceID: Ptr(i.DeviceID)}
	default:
		return Patch{}
	}
}

// Action returns the remote action kind gating this command, if any.
func (i CommandIntent) Action() (ActionKind, bool) {
	switch i.Kind {
	case CommandPlay:
		return ActionResuming, true
	case CommandPause:
		return ActionPausing, true
	case CommandSeek:
		return ActionSeeking, true
	case CommandNext:
		return ActionSkippingNext, true
	case CommandPrevious:
		return ActionSkippingPrev, true
	case CommandToggleShuffle:
		return ActionTogglingShuffle, true
	case CommandSetRepeat:
		if i.Repeat == RepeatTrack {
			return ActionTogglingRepeatTrack, true
		}
		return ActionTogglingRepeatContext, true
	case CommandTransfer:
		return ActionTransferringPlayback, true
	default:
		return "", false
	}
}
