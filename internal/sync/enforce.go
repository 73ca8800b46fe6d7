package sync

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/auxroom/auxroom/internal/proto"
)

// enforceWindow is one bounded burst of host verification. Restarting on a
// new state change cancels the previous window's ticker goroutine.
type enforceWindow struct {
	deadline time.Time
	cancel   chan struct{}
}

// startWindowLocked opens (or restarts) the enforcement window: for the
// next EnforceWindowMs the host re-broadcasts its expected state every
// EnforceIntervalMs. Bursty by construction; the channel goes quiet again
// once the window closes.
func (s *Session) startWindowLocked() {
	s.stopWindowLocked()

	w := &enforceWindow{
		deadline: s.now().Add(s.windowDuration()),
		cancel:   make(chan struct{}),
	}
	s.window = w
	s.lastVerifyAt = s.now()

	s.wg.Add(1)
	go s.runWindow(w)
}

func (s *Session) stopWindowLocked() {
	if s.window != nil {
		close(s.window.cancel)
		s.window = nil
	}
}

func (s *Session) runWindow(w *enforceWindow) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.EnforceIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.cancel:
			return
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(w.deadline) {
				s.mu.Lock()
				if s.window == w {
					s.window = nil
				}
				s.mu.Unlock()
				s.writeListenerSnapshot()
				return
			}
			s.broadcastVerify()
		}
	}
}

func (s *Session) broadcastVerify() {
	s.mu.Lock()
	msg := VerifyMsg{
		ExpectedIndex:   s.st.Index,
		ExpectedElapsed: s.st.Position,
		ExpectedPlaying: s.st.Status == StatusPlaying,
	}
	if msg.ExpectedPlaying {
		// During a track switch the driver clock still reads the old
		// track (or zero); the held offset is the truth.
		if s.awaiting != nil {
			msg.ExpectedElapsed = s.awaiting.position
		} else {
			msg.ExpectedElapsed = s.drv.Position()
		}
	}
	s.lastVerifyAt = s.now()
	s.mu.Unlock()

	s.publish(proto.EventVerifyNow, msg)
}

// onVerify corrects local state toward the host's expectation. Corrections
// are silent: never re-broadcast, never queued as commands, so a window
// can't echo into a feedback loop. Position drift inside the tolerance is
// left alone.
func (s *Session) onVerify(env proto.Envelope) {
	if s.isHost {
		return
	}
	var msg VerifyMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastVerifyAt = s.now()

	if msg.ExpectedIndex != s.st.Index {
		log.Printf("SYNC: verify correcting track %d -> %d", s.st.Index, msg.ExpectedIndex)
		s.correctLocked(msg.ExpectedIndex, msg.ExpectedElapsed, msg.ExpectedPlaying)
		return
	}

	if s.awaiting != nil {
		// Still loading the right track; just refresh the held offset.
		s.awaiting.position = msg.ExpectedElapsed
		s.awaiting.wantPlay = msg.ExpectedPlaying
		return
	}

	localPlaying := s.st.Status == StatusPlaying
	pos := s.st.Position
	if localPlaying {
		pos = s.drv.Position()
	}

	drift := pos - msg.ExpectedElapsed
	if drift < 0 {
		drift = -drift
	}
	if drift > s.tolerance() {
		log.Printf("SYNC: verify correcting position %.2fs -> %.2fs", pos, msg.ExpectedElapsed)
		s.drv.Seek(msg.ExpectedElapsed)
		s.st.Position = msg.ExpectedElapsed
	}

	if localPlaying != msg.ExpectedPlaying {
		if msg.ExpectedPlaying {
			if err := s.drv.Play(); err != nil {
				s.st.Status = StatusPaused
				s.pendingPlay = &PlayPayload{Index: s.st.Index, Time: msg.ExpectedElapsed}
			} else {
				s.st.Status = StatusPlaying
			}
		} else {
			s.drv.Pause()
			s.st.Status = StatusPaused
		}
	}
}

// correctLocked force-adopts an authoritative (index, position, playing)
// triple without emitting any commands. Used by verify corrections and by
// resync adoption.
func (s *Session) correctLocked(index int, pos float64, playing bool) {
	track, ok := s.list.Get(index)
	if !ok {
		s.pendingPlay = &PlayPayload{Index: index, Time: pos}
		return
	}
	s.pendingPlay = nil

	if track.ID != s.loadedID {
		s.loadedID = track.ID
		s.awaiting = &pendingSeek{
			trackID:  track.ID,
			index:    index,
			position: pos,
			wantPlay: playing,
		}
		s.st.Index = index
		s.st.Position = pos
		if playing {
			s.st.Status = StatusPlaying
		} else {
			s.st.Status = StatusPaused
		}
		s.drv.Load(track)
		return
	}

	s.awaiting = nil
	s.drv.Seek(pos)
	s.st.Index = index
	s.st.Position = pos
	if !playing {
		s.drv.Pause()
		s.st.Status = StatusPaused
		return
	}
	if err := s.drv.Play(); err != nil {
		s.st.Status = StatusPaused
		s.pendingPlay = &PlayPayload{Index: index, Time: pos}
		return
	}
	s.st.Status = StatusPlaying
}

// writeListenerSnapshot persists who is on which track when a window
// closes. Host only, best effort.
func (s *Session) writeListenerSnapshot() {
	if !s.isHost || s.parts == nil {
		return
	}
	listeners := make(map[string]int)
	for id, p := range s.parts.Snapshot() {
		listeners[id] = p.TrackIndex
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := s.records.WriteListeners(ctx, s.code, listeners); err != nil {
		log.Printf("SYNC: listener snapshot write failed: %v", err)
	}
}
