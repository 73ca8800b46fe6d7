// Package room manages room lifecycle and the durable records the host
// writes to the shared store: room metadata, the now-playing record, the
// append-only history log, and the last listener snapshot.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/auxroom/auxroom/internal/store"
)

var (
	ErrInvalidCode  = errors.New("room: invalid room code")
	ErrRoomNotFound = errors.New("room: not found")
	ErrRoomEnded    = errors.New("room: ended")
	ErrCodeSpace    = errors.New("room: could not find a free room code")
)

// createRetries bounds the uniqueness check when generating a code.
const createRetries = 5

// Meta is the room metadata record at rooms/{code}/meta/meta.json.
type Meta struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	HostName  string `json:"host_name"`
	CreatedAt int64  `json:"created_at"` // unix millis
}

// NowPlayingRecord is written to rooms/{code}/meta/now.json on every track
// change and appended to history.json. StartedAt is zero when paused.
type NowPlayingRecord struct {
	Index     int    `json:"index"`
	TrackID   string `json:"track_id"`
	TrackName string `json:"track_name"`
	StartedAt int64  `json:"started_at,omitempty"` // unix millis
	StartedBy string `json:"started_by"`
}

// Tombstone marks an ended room at ended/{code}.json.
type Tombstone struct {
	Code    string `json:"code"`
	EndedAt int64  `json:"ended_at"`
}

func metaPath(code string) string      { return "rooms/" + code + "/meta/meta.json" }
func nowPath(code string) string       { return "rooms/" + code + "/meta/now.json" }
func historyPath(code string) string   { return "rooms/" + code + "/meta/history.json" }
func listenersPath(code string) string { return "rooms/" + code + "/meta/listeners.json" }
func tombstonePath(code string) string { return "ended/" + code + ".json" }

// Store wraps the blob store with room-scoped operations. After the first
// failed meta write it stops writing durable records for the rest of the
// session; live sync over the channel is unaffected.
type Store struct {
	blobs store.Blob

	mu           sync.Mutex
	metaDisabled bool
}

func NewStore(blobs store.Blob) *Store {
	return &Store{blobs: blobs}
}

// Create allocates a fresh room code, checking the store for collisions
// with live rooms and tombstones, and writes the metadata record.
func (s *Store) Create(ctx context.Context, title, hostName string) (*Meta, error) {
	for i := 0; i < createRetries; i++ {
		code := GenerateCode()

		if _, err := s.blobs.Get(ctx, metaPath(code)); !errors.Is(err, store.ErrNotFound) {
			if err != nil {
				return nil, fmt.Errorf("check room %s: %w", code, err)
			}
			continue // live room with this code
		}
		if _, err := s.blobs.Get(ctx, tombstonePath(code)); !errors.Is(err, store.ErrNotFound) {
			if err != nil {
				return nil, fmt.Errorf("check tombstone %s: %w", code, err)
			}
			continue // code is burned
		}

		meta := &Meta{
			Code:      code,
			Title:     title,
			HostName:  hostName,
			CreatedAt: time.Now().UnixMilli(),
		}
		if err := s.putJSON(ctx, metaPath(code), meta); err != nil {
			return nil, fmt.Errorf("write room meta: %w", err)
		}
		return meta, nil
	}
	return nil, ErrCodeSpace
}

// Join validates the code locally, then checks the store. A malformed code
// never reaches the store. Returns ErrRoomEnded for tombstoned rooms and
// ErrRoomNotFound when no metadata exists; no partial join state is created.
func (s *Store) Join(ctx context.Context, code string) (*Meta, error) {
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}

	if _, err := s.blobs.Get(ctx, tombstonePath(code)); err == nil {
		return nil, ErrRoomEnded
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check tombstone: %w", err)
	}

	data, err := s.blobs.Get(ctx, metaPath(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read room meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode room meta: %w", err)
	}
	return &meta, nil
}

// End writes the tombstone and best-effort purges all room-scoped blobs.
// The lifecycle is one-way; the tombstone blocks the code from reuse.
func (s *Store) End(ctx context.Context, code string) error {
	if !ValidCode(code) {
		return ErrInvalidCode
	}

	ts := &Tombstone{Code: code, EndedAt: time.Now().UnixMilli()}
	if err := s.putJSON(ctx, tombstonePath(code), ts); err != nil {
		return fmt.Errorf("write tombstone: %w", err)
	}

	paths, err := s.blobs.List(ctx, "rooms/"+code+"/")
	if err != nil {
		log.Printf("ROOM: purge list failed for %s: %v", code, err)
		return nil
	}
	for _, p := range paths {
		if err := s.blobs.Delete(ctx, p); err != nil {
			log.Printf("ROOM: purge %s failed: %v", p, err)
		}
	}
	return nil
}

// WriteNowPlaying overwrites now.json and appends the record to the history
// log. Called by the host on every track change.
func (s *Store) WriteNowPlaying(ctx context.Context, code string, rec NowPlayingRecord) error {
	if s.disabled() {
		return nil
	}
	if err := s.putJSON(ctx, nowPath(code), rec); err != nil {
		s.disableMeta(err)
		return err
	}
	if err := s.appendHistory(ctx, code, rec); err != nil {
		s.disableMeta(err)
		return err
	}
	return nil
}

// ReadNowPlaying reads the durable now-playing record. This is the resync
// fallback path; it reflects the last recorded event, not live peer state.
func (s *Store) ReadNowPlaying(ctx context.Context, code string) (*NowPlayingRecord, error) {
	data, err := s.blobs.Get(ctx, nowPath(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read now playing: %w", err)
	}
	var rec NowPlayingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode now playing: %w", err)
	}
	return &rec, nil
}

// History returns the append-only playback history for a room.
func (s *Store) History(ctx context.Context, code string) ([]NowPlayingRecord, error) {
	data, err := s.blobs.Get(ctx, historyPath(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var recs []NowPlayingRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return recs, nil
}

// WriteListeners stores the host's last observed per-participant track
// index snapshot. Observability record only, never a control input.
func (s *Store) WriteListeners(ctx context.Context, code string, listeners map[string]int) error {
	if s.disabled() {
		return nil
	}
	if err := s.putJSON(ctx, listenersPath(code), listeners); err != nil {
		s.disableMeta(err)
		return err
	}
	return nil
}

func (s *Store) appendHistory(ctx context.Context, code string, rec NowPlayingRecord) error {
	recs, err := s.History(ctx, code)
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	return s.putJSON(ctx, historyPath(code), recs)
}

func (s *Store) putJSON(ctx context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, path, b)
}

func (s *Store) disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaDisabled
}

// disableMeta latches meta writes off after the first failure. A broken
// store path is not worth retrying every few seconds; the records are an
// audit trail, not required for convergence.
func (s *Store) disableMeta(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.metaDisabled {
		s.metaDisabled = true
		log.Printf("ROOM: meta write failed, disabling durable records for this session: %v", err)
	}
}
