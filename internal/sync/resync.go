package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/auxroom/auxroom/internal/proto"
	"github.com/auxroom/auxroom/internal/store"
)

// MarkSuspect flags local state as possibly drifted and starts the bounded
// recovery sequence: ask the host for authoritative state, retry with
// backoff, and fall back to the durable record when nobody answers.
// Playback keeps running untouched while suspect. No-op on the host, which
// is its own authority, and while a recovery is already in flight.
func (s *Session) MarkSuspect(reason string) {
	if s.isHost || s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.syncState != SyncSynced {
		s.mu.Unlock()
		return
	}
	log.Printf("SYNC: state suspect (%s), requesting authoritative state", reason)
	s.syncState = SyncSuspect
	s.fellBack = false
	s.resyncGen++
	gen := s.resyncGen
	s.mu.Unlock()

	s.wg.Add(1)
	go s.resyncLoop(gen)
}

// ForceResync is explicit user distrust: skip the request/retry dance and
// adopt the durable record directly.
func (s *Session) ForceResync() {
	if s.isHost {
		return
	}
	s.mu.Lock()
	log.Printf("SYNC: forced resync, adopting durable record")
	s.syncState = SyncSuspect
	s.fellBack = false
	s.resyncGen++
	gen := s.resyncGen
	s.mu.Unlock()

	s.fallback(gen)
}

func (s *Session) resyncLoop(gen int64) {
	defer s.wg.Done()
	backoff := time.Duration(s.cfg.StateRetryBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= s.cfg.StateRetries; attempt++ {
		s.mu.Lock()
		if s.resyncGen != gen || s.syncState == SyncSynced {
			s.mu.Unlock()
			return
		}
		s.syncState = SyncWaiting
		s.mu.Unlock()

		s.publish(proto.EventRequestState, PingMsg{Timestamp: proto.NowMillis()})

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}

		s.mu.Lock()
		done := s.resyncGen != gen || s.syncState == SyncSynced
		s.mu.Unlock()
		if done {
			return
		}
		log.Printf("SYNC: state request attempt %d/%d unanswered", attempt, s.cfg.StateRetries)
	}

	s.fallback(gen)
}

// onRequestState answers a resync request with the host's live state,
// addressed to the requester. Guests stay quiet; an answer from a drifted
// peer would just spread the drift.
func (s *Session) onRequestState(env proto.Envelope) {
	if !s.isHost {
		return
	}
	s.mu.Lock()
	msg := StateResponseMsg{
		Target:    env.Sender,
		Index:     s.st.Index,
		Time:      s.st.Position,
		IsPlaying: s.st.Status == StatusPlaying,
	}
	if msg.IsPlaying {
		if s.awaiting != nil {
			msg.Time = s.awaiting.position
		} else {
			msg.Time = s.drv.Position()
		}
	}
	s.mu.Unlock()

	s.publish(proto.EventStateResponse, msg)
}

// onStateResponse adopts the host's answer if it is addressed to us and a
// recovery is actually pending. Adoption is a silent correction.
func (s *Session) onStateResponse(env proto.Envelope) {
	var msg StateResponseMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}
	if msg.Target != s.clientID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncState == SyncSynced {
		return
	}
	log.Printf("SYNC: adopting authoritative state (track %d @ %.2fs)", msg.Index, msg.Time)
	s.correctLocked(msg.Index, msg.Time, msg.IsPlaying)
	s.syncState = SyncSynced
	s.resyncGen++ // cancels any in-flight retry loop
}

// fallback reads the durable now-playing record and adopts it. Runs at most
// once per suspect episode; a record that cannot be read leaves the session
// suspect rather than guessing.
func (s *Session) fallback(gen int64) {
	s.mu.Lock()
	if s.resyncGen != gen || s.syncState == SyncSynced || s.fellBack {
		s.mu.Unlock()
		return
	}
	s.fellBack = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	rec, err := s.records.ReadNowPlaying(ctx, s.code)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resyncGen != gen || s.syncState == SyncSynced {
		return
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("SYNC: no durable record for %s, staying suspect", s.code)
		} else {
			log.Printf("SYNC: durable fallback failed: %v", err)
		}
		s.syncState = SyncSuspect
		return
	}

	pos := 0.0
	playing := rec.StartedAt > 0
	if playing {
		pos = float64(proto.NowMillis()-rec.StartedAt) / 1000.0
		if pos < 0 {
			pos = 0
		}
	}
	log.Printf("SYNC: adopting durable record (track %d @ %.2fs)", rec.Index, pos)
	s.correctLocked(rec.Index, pos, playing)
	s.syncState = SyncSynced
}

// ── Keepalive ────────────────────────────────────────────────────────────────

// keepAliveLoop pings the room channel on a long interval. Pings keep the
// mesh warm; a guest that hears nothing at all for two intervals treats its
// state as suspect.
func (s *Session) keepAliveLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.KeepAliveSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publish(proto.EventPing, PingMsg{Timestamp: proto.NowMillis()})

			s.mu.Lock()
			silent := s.now().Sub(s.lastHeard) > 2*interval
			s.mu.Unlock()
			if silent && !s.isHost {
				s.MarkSuspect("room channel silent")
			}
		}
	}
}

func (s *Session) onPing(env proto.Envelope) {
	s.publish(proto.EventPong, PongMsg{
		Timestamp:    proto.NowMillis(),
		RespondingTo: env.Sender,
	})
}
