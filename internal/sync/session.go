// Package sync is the synchronization and command-ordering engine: the
// command queue that serializes playback intents, the host enforcement loop
// that re-asserts ground truth after state changes, and the reconciliation
// controller that recovers correct state after disconnects.
package sync

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	gosync "sync"
	"time"

	"github.com/auxroom/auxroom/internal/config"
	"github.com/auxroom/auxroom/internal/player"
	"github.com/auxroom/auxroom/internal/playlist"
	"github.com/auxroom/auxroom/internal/proto"
	"github.com/auxroom/auxroom/internal/room"
	"github.com/auxroom/auxroom/internal/state"
)

// writeTimeout bounds durable-store writes fired from the sync core.
const writeTimeout = 5 * time.Second

// Bus is the room channel as the sync core sees it: fire-and-forget
// publish, remote envelopes in arrival order, and a Done signal when the
// channel dies.
type Bus interface {
	Publish(event string, payload any) error
	Events() <-chan proto.Envelope
	Done() <-chan struct{}
}

// Records is the durable-store surface the core touches: host-written
// now-playing/listener records and the read-side resync fallback.
type Records interface {
	WriteNowPlaying(ctx context.Context, code string, rec room.NowPlayingRecord) error
	ReadNowPlaying(ctx context.Context, code string) (*room.NowPlayingRecord, error)
	WriteListeners(ctx context.Context, code string, listeners map[string]int) error
}

// pendingSeek holds an offset through the track-switch suspension point:
// the driver has to finish loading metadata before the seek can land.
type pendingSeek struct {
	trackID  string
	index    int
	position float64
	wantPlay bool
}

// Session is one peer's sync engine for one room. All handlers serialize
// behind mu; timers and I/O run on their own goroutines and re-enter
// through the same lock.
type Session struct {
	cfg      config.Sync
	code     string
	clientID string
	name     string
	isHost   bool

	bus     Bus
	records Records
	drv     player.Driver
	list    *playlist.Playlist
	parts   *state.Table // may be nil in tests

	mu       gosync.Mutex
	st       PlaybackState
	seq      int64
	loadedID string // track id last handed to the driver

	pending  []CommandMsg
	draining bool
	lastSeq  map[string]int64 // per-sender dedupe

	awaiting    *pendingSeek
	pendingPlay *PlayPayload

	window *enforceWindow

	syncState    SyncState
	resyncGen    int64
	fellBack     bool
	lastVerifyAt time.Time
	lastHeard    time.Time

	rng *rand.Rand
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// Options for NewSession.
type Options struct {
	Code     string
	ClientID string
	Name     string
	IsHost   bool
	Config   config.Sync

	Bus          Bus
	Records      Records
	Driver       player.Driver
	Playlist     *playlist.Playlist
	Participants *state.Table
}

func NewSession(opt Options) *Session {
	s := &Session{
		cfg:       opt.Config,
		code:      opt.Code,
		clientID:  opt.ClientID,
		name:      opt.Name,
		isHost:    opt.IsHost,
		bus:       opt.Bus,
		records:   opt.Records,
		drv:       opt.Driver,
		list:      opt.Playlist,
		parts:     opt.Participants,
		st:        PlaybackState{Index: NoTrack, Status: StatusStopped},
		lastSeq:   make(map[string]int64),
		syncState: SyncSynced,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		lastHeard: time.Now(),
	}
	return s
}

// Start launches the event, driver, keepalive, and channel-watch loops.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go s.eventLoop()
	go s.driverLoop()
	go s.keepAliveLoop()

	go func() {
		select {
		case <-s.bus.Done():
			if s.ctx.Err() == nil {
				s.MarkSuspect("channel closed")
			}
		case <-s.ctx.Done():
		}
	}()
}

// Close stops all loops. The transport channel is closed by the caller.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	s.stopWindowLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

// AnnounceEnd broadcasts room:ended. Callers must hold host authority.
func (s *Session) AnnounceEnd() {
	s.publish(proto.EventRoomEnded, struct{}{})
}

// IsHost reports whether this peer holds host authority for the room.
func (s *Session) IsHost() bool { return s.isHost }

// ClientID returns the session-scoped client id.
func (s *Session) ClientID() string { return s.clientID }

// Snapshot returns the current replicated playback state with a live
// position reading.
func (s *Session) Snapshot() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	if st.Status == StatusPlaying && s.awaiting == nil {
		st.Position = s.drv.Position()
	}
	return st
}

// SyncCondition reports the reconciliation state machine's condition.
func (s *Session) SyncCondition() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncState
}

// ── Playlist propagation ─────────────────────────────────────────────────────

// AddLocalTracks appends tracks discovered locally (bulk load remainder or
// watcher events) and broadcasts playlist:add so every peer appends the
// same items in the same order.
func (s *Session) AddLocalTracks(tracks []playlist.Track) {
	added := s.list.Append(tracks...)
	if len(added) == 0 {
		return
	}
	items := make([]TrackRef, 0, len(added))
	for _, t := range added {
		items = append(items, TrackRef{Name: t.Name})
	}
	s.publish(proto.EventPlaylistAdd, PlaylistAddMsg{Items: items})

	s.mu.Lock()
	s.retryPendingLocked()
	s.mu.Unlock()
}

// ShareAll broadcasts the entire playlist. The channel has no replay, so
// the host re-announces when a new participant appears; receivers dedupe
// by track id.
func (s *Session) ShareAll() {
	tracks := s.list.Snapshot()
	if len(tracks) == 0 {
		return
	}
	items := make([]TrackRef, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, TrackRef{Name: t.Name})
	}
	s.publish(proto.EventPlaylistAdd, PlaylistAddMsg{Items: items})
}

func (s *Session) onPlaylistAdd(env proto.Envelope) {
	var msg PlaylistAddMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}
	tracks := make([]playlist.Track, 0, len(msg.Items))
	for _, it := range msg.Items {
		tracks = append(tracks, s.list.Resolve(it.Name))
	}
	s.list.Append(tracks...)

	s.mu.Lock()
	s.retryPendingLocked()
	s.mu.Unlock()
}

// ── Event dispatch ───────────────────────────────────────────────────────────

func (s *Session) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case env, ok := <-s.bus.Events():
			if !ok {
				return
			}
			s.dispatch(env)
		}
	}
}

// dispatch routes one remote envelope. Every branch tolerates malformed
// payloads by ignoring them — a failed peer interaction must never stop the
// local loop.
func (s *Session) dispatch(env proto.Envelope) {
	s.mu.Lock()
	s.lastHeard = s.now()
	s.mu.Unlock()

	switch env.Event {
	case proto.EventCommandQueued:
		s.onRemoteCommand(env)
	case proto.EventCommandExecuted:
		s.onCommandExecuted(env)
	case proto.EventPlaylistAdd:
		s.onPlaylistAdd(env)
	case proto.EventVerifyNow:
		s.onVerify(env)
	case proto.EventNowPlaying:
		s.onNowPlaying(env)
	case proto.EventRequestState:
		s.onRequestState(env)
	case proto.EventStateResponse:
		s.onStateResponse(env)
	case proto.EventRoomEnded:
		log.Printf("SYNC: room %s ended by host", s.code)
	case proto.EventPing:
		s.onPing(env)
	case proto.EventPong:
		// lastHeard already refreshed; nothing else to do
	default:
		// unknown event kinds are silently ignored
	}
}

// onCommandExecuted is diagnostic: it tells the host where each participant
// currently is, which feeds the listener snapshot.
func (s *Session) onCommandExecuted(env proto.Envelope) {
	if s.parts == nil {
		return
	}
	var msg CommandMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}
	idx := NoTrack
	switch msg.Command {
	case CmdPlay:
		var p PlayPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			idx = p.Index
		}
	case CmdSelect:
		var p SelectPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			idx = p.Index
		}
	case CmdNext, CmdPrevious:
		var p StepPayload
		if json.Unmarshal(msg.Payload, &p) == nil && p.NextIndex != nil {
			idx = *p.NextIndex
		}
	}
	if idx >= 0 {
		s.parts.SetTrackIndex(env.Sender, idx)
	}
}

func (s *Session) onNowPlaying(env proto.Envelope) {
	var msg NowPlayingMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}
	if s.parts != nil {
		s.parts.SetTrackIndex(env.Sender, msg.Index)
	}
}

// ── Driver events ────────────────────────────────────────────────────────────

func (s *Session) driverLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-s.drv.Events():
			if !ok {
				return
			}
			s.onDriverEvent(evt)
		}
	}
}

func (s *Session) onDriverEvent(evt player.Event) {
	switch evt.Kind {
	case player.EventLoaded:
		s.onLoaded(evt)
	case player.EventProgress:
		s.mu.Lock()
		s.st.Position = evt.Position
		s.mu.Unlock()
	case player.EventEnded:
		s.mu.Lock()
		s.st.Status = StatusPaused
		s.st.Position = evt.Position
		s.mu.Unlock()
		// Only the host advances on track end; everyone else steps when
		// its command arrives. Otherwise every peer would issue its own
		// next and the room would skip ahead once per listener.
		if s.isHost {
			s.Enqueue(CmdNext, StepPayload{})
		}
	case player.EventError:
		log.Printf("SYNC: driver error on %s: %v", evt.Track.Name, evt.Err)
	}
}

// onLoaded resumes a play/select that was suspended on track loading: the
// held offset is clamped to the now-known duration and applied.
func (s *Session) onLoaded(evt player.Event) {
	s.mu.Lock()
	aw := s.awaiting
	if aw == nil || aw.trackID != evt.Track.ID {
		s.mu.Unlock()
		return
	}
	s.awaiting = nil

	pos := aw.position
	if evt.Duration > 0 && pos > evt.Duration {
		pos = evt.Duration
	}
	s.drv.Seek(pos)
	s.st.Position = pos

	if !aw.wantPlay {
		s.mu.Unlock()
		return
	}
	if err := s.drv.Play(); err != nil {
		s.st.Status = StatusPaused
		s.pendingPlay = &PlayPayload{Index: aw.index, Time: pos}
		s.mu.Unlock()
		log.Printf("SYNC: playback blocked after load (%v), holding play pending", err)
		return
	}
	s.st.Status = StatusPlaying
	s.mu.Unlock()
}

// ── Pending play recovery ────────────────────────────────────────────────────

// ResumePending is the user-gesture entry point for recovering from a
// playback block. When a verification window was recently active the peer
// re-requests authoritative state first, then retries the held play.
func (s *Session) ResumePending() {
	s.mu.Lock()
	pending := s.pendingPlay
	s.pendingPlay = nil
	recentVerify := s.now().Sub(s.lastVerifyAt) < s.windowDuration()
	s.mu.Unlock()

	if pending == nil {
		return
	}
	if recentVerify {
		s.MarkSuspect("resume gesture during active sync window")
	}

	s.mu.Lock()
	s.executePlayLocked(*pending)
	s.mu.Unlock()
}

// retryPendingLocked re-attempts a play that was parked because its target
// index was beyond the local playlist. Superseded whenever a newer
// authoritative command replaces pendingPlay.
func (s *Session) retryPendingLocked() {
	if s.pendingPlay == nil {
		return
	}
	if s.pendingPlay.Index >= s.list.Len() {
		return
	}
	p := *s.pendingPlay
	s.pendingPlay = nil
	s.executePlayLocked(p)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (s *Session) publish(event string, payload any) {
	if err := s.bus.Publish(event, payload); err != nil {
		log.Printf("SYNC: publish %s failed: %v", event, err)
	}
}

func (s *Session) staleThreshold() time.Duration {
	return time.Duration(s.cfg.StaleThresholdMs) * time.Millisecond
}

func (s *Session) windowDuration() time.Duration {
	return time.Duration(s.cfg.EnforceWindowMs) * time.Millisecond
}

func (s *Session) tolerance() float64 {
	return float64(s.cfg.PositionToleranceMs) / 1000.0
}
