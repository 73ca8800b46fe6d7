package sync

// Status of local playback.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// NoTrack is the index sentinel for an empty playlist.
const NoTrack = -1

// PlaybackState is each peer's replicated copy of the room's playback
// state. There is no central source of truth; copies converge through
// commands and host verification. Invariants: Index is NoTrack or within
// [0, playlist length); Position is clamped to [0, duration].
type PlaybackState struct {
	Index    int     `json:"index"`
	Position float64 `json:"position"` // seconds
	Status   Status  `json:"status"`
	Shuffle  bool    `json:"shuffle"`
}

// SyncState is the reconciliation controller's condition.
type SyncState string

const (
	// SyncSynced: no reason to distrust local state.
	SyncSynced SyncState = "synced"
	// SyncSuspect: a drift signal arrived (disconnect, backgrounding,
	// explicit user distrust); playback is unchanged until resolved.
	SyncSuspect SyncState = "suspect"
	// SyncWaiting: a state request is out to the host.
	SyncWaiting SyncState = "waiting"
)
