package sync

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/auxroom/auxroom/internal/proto"
	"github.com/auxroom/auxroom/internal/room"
)

// Enqueue submits a local playback intent: stamp it with this sender's next
// sequence number and a command id, broadcast it, then run it through the
// local queue. Peers apply commands in arrival order; the sequence exists
// only so each receiver can drop duplicates and stale strays per sender.
func (s *Session) Enqueue(command string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(command, payload)
}

func (s *Session) enqueueLocked(command string, payload any) {
	// The host resolves next/previous to a concrete destination before
	// broadcasting, so shuffle stays deterministic across the room.
	if s.isHost && (command == CmdNext || command == CmdPrevious) {
		step, _ := payload.(StepPayload)
		if step.NextIndex == nil {
			if idx, ok := s.stepTargetLocked(command); ok {
				step.NextIndex = &idx
				payload = step
			} else {
				return // empty playlist, nothing to step to
			}
		}
	}

	s.seq++
	msg := CommandMsg{
		Command:   command,
		Payload:   mustJSON(payload),
		Sender:    s.clientID,
		Timestamp: proto.NowMillis(),
		Sequence:  s.seq,
		CommandID: uuid.NewString(),
	}
	s.publish(proto.EventCommandQueued, msg)
	s.pending = append(s.pending, msg)
	s.drainLocked()
}

// onRemoteCommand admits a peer's command into the local queue. Two checks
// gate admission: a staleness cutoff on the enqueue timestamp, and a
// per-sender sequence floor for dedupe. Both drop silently beyond a log
// line; there is no nack on the channel.
func (s *Session) onRemoteCommand(env proto.Envelope) {
	var msg CommandMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.Printf("SYNC: dropping malformed command from %s: %v", env.Sender, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	age := proto.NowMillis() - msg.Timestamp
	if age > int64(s.cfg.StaleThresholdMs) {
		log.Printf("SYNC: dropping stale %s from %s (age %dms)", msg.Command, msg.Sender, age)
		return
	}
	if msg.Sequence <= s.lastSeq[msg.Sender] {
		log.Printf("SYNC: dropping duplicate %s from %s (seq %d)", msg.Command, msg.Sender, msg.Sequence)
		return
	}
	s.lastSeq[msg.Sender] = msg.Sequence

	s.pending = append(s.pending, msg)
	s.drainLocked()
}

// drainLocked applies queued commands in FIFO arrival order. apply may
// enqueue follow-up commands (host resolving a guest's shuffle step), so
// the loop re-checks pending and a reentrancy guard keeps a single drain
// active.
func (s *Session) drainLocked() {
	if s.draining {
		return
	}
	s.draining = true
	defer func() { s.draining = false }()

	for len(s.pending) > 0 {
		msg := s.pending[0]
		s.pending = s.pending[1:]
		s.applyLocked(msg)
	}
}

func (s *Session) applyLocked(msg CommandMsg) {
	applied := true
	switch msg.Command {
	case CmdPlay:
		var p PlayPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.executePlayLocked(p)

	case CmdPause:
		var p PausePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.drv.Pause()
		s.st.Status = StatusPaused
		if p.Time != nil {
			s.drv.Seek(*p.Time)
			s.st.Position = *p.Time
		} else {
			s.st.Position = s.drv.Position()
		}
		s.pendingPlay = nil

	case CmdSeek:
		var p SeekPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if s.awaiting != nil {
			// Track is still loading; fold the new offset into the held
			// seek instead of racing the driver.
			s.awaiting.position = p.Time
		} else {
			s.drv.Seek(p.Time)
			s.st.Position = p.Time
		}

	case CmdNext, CmdPrevious:
		var p StepPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		applied = s.applyStepLocked(msg.Command, p)

	case CmdSelect:
		var p SelectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.executePlayLocked(PlayPayload{Index: p.Index})

	case CmdShuffleToggle:
		var p ShufflePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.st.Shuffle = p.Enabled

	default:
		log.Printf("SYNC: ignoring unknown command %q from %s", msg.Command, msg.Sender)
		return
	}

	if !applied {
		return
	}

	// Echo execution so peers can track where each participant is. This is
	// diagnostic, never authoritative.
	s.publish(proto.EventCommandExecuted, msg)

	if s.isHost {
		s.hostAfterApplyLocked(msg)
	}
}

// applyStepLocked handles next/previous. An explicit NextIndex from the
// originator is used verbatim. Without one, the sequential case is computed
// identically everywhere; the shuffle case is resolved only by the host,
// which turns it into an explicit play so every peer lands on the same
// track.
func (s *Session) applyStepLocked(command string, p StepPayload) bool {
	if p.NextIndex != nil {
		s.executePlayLocked(PlayPayload{Index: *p.NextIndex})
		return true
	}
	if s.st.Shuffle {
		if !s.isHost {
			// Wait for the host's authoritative follow-up.
			return false
		}
		idx, ok := s.stepTargetLocked(command)
		if !ok {
			return false
		}
		s.enqueueLocked(CmdPlay, PlayPayload{Index: idx})
		return false // follow-up play carries the state change
	}
	idx, ok := s.stepTargetLocked(command)
	if !ok {
		return false
	}
	s.executePlayLocked(PlayPayload{Index: idx})
	return true
}

// stepTargetLocked computes the destination of next/previous against the
// local playlist: random distinct under shuffle, wraparound otherwise.
func (s *Session) stepTargetLocked(command string) (int, bool) {
	n := s.list.Len()
	if n == 0 {
		return 0, false
	}
	cur := s.st.Index
	if cur < 0 {
		cur = 0
	}
	if s.st.Shuffle {
		if n == 1 {
			return 0, true
		}
		for {
			idx := s.rng.Intn(n)
			if idx != cur {
				return idx, true
			}
		}
	}
	if command == CmdPrevious {
		return (cur - 1 + n) % n, true
	}
	return (cur + 1) % n, true
}

// executePlayLocked starts (or resumes) playback at an index and offset.
// Switching tracks suspends on the driver's loaded event; the offset rides
// through as a pending seek. An index the local playlist doesn't have yet
// parks the play until playlist:add catches up.
func (s *Session) executePlayLocked(p PlayPayload) {
	if p.Index < 0 {
		return
	}
	track, ok := s.list.Get(p.Index)
	if !ok {
		log.Printf("SYNC: play index %d beyond local playlist (%d), holding", p.Index, s.list.Len())
		s.pendingPlay = &p
		return
	}
	if !track.Local() {
		log.Printf("SYNC: no local copy of %q yet, holding play", track.Name)
		s.pendingPlay = &p
		return
	}
	s.pendingPlay = nil

	if track.ID != s.loadedID {
		s.loadedID = track.ID
		s.awaiting = &pendingSeek{
			trackID:  track.ID,
			index:    p.Index,
			position: p.Time,
			wantPlay: true,
		}
		s.st.Index = p.Index
		s.st.Position = p.Time
		s.st.Status = StatusPlaying
		s.drv.Load(track)
		return
	}

	// Same track: seek and go.
	s.awaiting = nil
	s.drv.Seek(p.Time)
	s.st.Index = p.Index
	s.st.Position = p.Time
	if err := s.drv.Play(); err != nil {
		s.st.Status = StatusPaused
		s.pendingPlay = &p
		log.Printf("SYNC: playback blocked (%v), holding play for track %d", err, p.Index)
		return
	}
	s.st.Status = StatusPlaying
}

// senderNameLocked resolves a client id to its display name for the
// durable record. Unknown senders keep the raw id.
func (s *Session) senderNameLocked(clientID string) string {
	if clientID == s.clientID {
		return s.name
	}
	if s.parts != nil {
		if p, ok := s.parts.Get(clientID); ok && p.Name != "" {
			return p.Name
		}
	}
	return clientID
}

// hostAfterApplyLocked runs the host's authority duties after a state
// change: open an enforcement window, refresh the durable now-playing
// record, and announce the track on the channel.
func (s *Session) hostAfterApplyLocked(msg CommandMsg) {
	switch msg.Command {
	case CmdPlay, CmdPause, CmdSeek, CmdNext, CmdPrevious, CmdSelect:
	default:
		return
	}

	s.startWindowLocked()

	if s.st.Index == NoTrack {
		return
	}
	track, ok := s.list.Get(s.st.Index)
	if !ok {
		return
	}
	rec := room.NowPlayingRecord{
		Index:     s.st.Index,
		TrackID:   track.ID,
		TrackName: track.Name,
		StartedBy: s.senderNameLocked(msg.Sender),
	}
	if s.st.Status == StatusPlaying {
		rec.StartedAt = proto.NowMillis() - int64(s.st.Position*1000)
	}
	s.publish(proto.EventNowPlaying, NowPlayingMsg{Index: rec.Index, StartedAt: rec.StartedAt})

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		defer cancel()
		if err := s.records.WriteNowPlaying(ctx, s.code, rec); err != nil {
			log.Printf("SYNC: now-playing write failed: %v", err)
		}
	}()
}
