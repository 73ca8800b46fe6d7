package sync

import (
	"encoding/json"
)

// Command kinds. Unrecognized kinds are ignored on receipt.
const (
	CmdPlay          = "play"
	CmdPause         = "pause"
	CmdSeek          = "seek"
	CmdNext          = "next"
	CmdPrevious      = "previous"
	CmdSelect        = "select"
	CmdShuffleToggle = "shuffle_toggle"
)

// CommandMsg is the wire form of a playback intent, carried in
// player:command_queued (and echoed in player:command_executed). Sequence is
// strictly increasing per originating client; it exists for dedupe and
// staleness detection within one sender's stream, never for global ordering.
type CommandMsg struct {
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sender    string          `json:"sender"`
	Timestamp int64           `json:"timestamp"` // unix millis at enqueue
	Sequence  int64           `json:"sequence"`
	CommandID string          `json:"commandId"`
}

// PlayPayload targets a track index and an offset in seconds.
type PlayPayload struct {
	Index int     `json:"index"`
	Time  float64 `json:"time"`
}

// PausePayload optionally pins the pause position. A nil Time means "pause
// where you are"; an explicit zero is a real seek to the start.
type PausePayload struct {
	Time *float64 `json:"time,omitempty"`
}

type SeekPayload struct {
	Time float64 `json:"time"`
}

// StepPayload is the payload of next/previous. NextIndex, when present, is
// the destination the host computed (shuffle or not) — peers must use it
// verbatim and never re-randomize.
type StepPayload struct {
	NextIndex *int `json:"nextIndex,omitempty"`
}

type SelectPayload struct {
	Index int `json:"index"`
}

type ShufflePayload struct {
	Enabled bool `json:"enabled"`
}

// Non-command room event payloads.

// NowPlayingMsg is broadcast by the host on track changes (room:now_playing).
type NowPlayingMsg struct {
	Index     int   `json:"index"`
	StartedAt int64 `json:"startedAt,omitempty"`
}

// VerifyMsg carries the host's expected state during an enforcement window
// (room:verify_now). Receivers correct silently; they never re-broadcast.
type VerifyMsg struct {
	ExpectedIndex   int     `json:"expectedIndex"`
	ExpectedElapsed float64 `json:"expectedElapsed"`
	ExpectedPlaying bool    `json:"expectedPlaying"`
}

// StateResponseMsg answers player:request_state, addressed to one requester.
type StateResponseMsg struct {
	Target    string  `json:"target"`
	Index     int     `json:"index"`
	Time      float64 `json:"time"`
	IsPlaying bool    `json:"isPlaying"`
}

type PingMsg struct {
	Timestamp int64 `json:"timestamp"`
}

type PongMsg struct {
	Timestamp    int64  `json:"timestamp"`
	RespondingTo string `json:"respondingTo,omitempty"`
}

// TrackRef identifies an added track in playlist:add broadcasts. Only the
// shared name travels; each receiver resolves it against its own music
// directory, so local paths never cross the wire.
type TrackRef struct {
	Name string `json:"name"`
}

type PlaylistAddMsg struct {
	Items []TrackRef `json:"items"`
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // payload structs are always marshalable
	}
	return b
}
