// Package playlist holds the shared, ordered track list. The list is bulk
// loaded once from the music directory and append-only afterwards; added
// items arrive via playlist:add broadcasts and are applied in broadcast
// order so every peer sees identical indices.
package playlist

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Track is one playable item. Its id is derived from the shared track name,
// never from a local path, so every peer computes the same id for the same
// song regardless of where its music directory lives. Path is this peer's
// local copy; it is empty when the track was announced by a peer and no
// local file matches yet.
type Track struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Local reports whether this peer holds a playable copy of the track.
func (t Track) Local() bool { return t.Path != "" }

// TrackID derives a stable track id from the shared track name.
func TrackID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// Playlist is the ordered track sequence. Appends dedupe by track id so a
// replayed playlist:add broadcast cannot double-insert.
type Playlist struct {
	dir string

	mu     sync.RWMutex
	tracks []Track
	index  map[string]int
}

// New returns an empty playlist. dir is this peer's music directory, used
// to resolve announced track names to local files.
func New(dir string) *Playlist {
	return &Playlist{dir: dir, index: make(map[string]int)}
}

// Resolve builds the local view of an announced track name: the shared id
// plus a path if this peer's music directory holds a matching file.
func (p *Playlist) Resolve(name string) Track {
	t := Track{ID: TrackID(name), Name: name}
	if p.dir != "" {
		path := filepath.Join(p.dir, name)
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			t.Path = path
		}
	}
	return t
}

// Append adds tracks in the given order, skipping ids already present. A
// duplicate that carries a path the existing entry lacks backfills it, so
// a track announced before the local file appeared becomes playable.
// Returns the tracks that were added or became local.
func (p *Playlist) Append(tracks ...Track) []Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	var changed []Track
	for _, t := range tracks {
		if t.ID == "" {
			t.ID = TrackID(t.Name)
		}
		if i, dup := p.index[t.ID]; dup {
			if p.tracks[i].Path == "" && t.Path != "" {
				p.tracks[i].Path = t.Path
				changed = append(changed, p.tracks[i])
			}
			continue
		}
		p.index[t.ID] = len(p.tracks)
		p.tracks = append(p.tracks, t)
		changed = append(changed, t)
	}
	return changed
}

func (p *Playlist) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tracks)
}

// Get returns the track at index i, or false when i is out of range.
func (p *Playlist) Get(i int) (Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.tracks) {
		return Track{}, false
	}
	return p.tracks[i], true
}

// ByID returns the track with the given id and its index.
func (p *Playlist) ByID(id string) (Track, int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i, ok := p.index[id]; ok {
		return p.tracks[i], i, true
	}
	return Track{}, -1, false
}

func (p *Playlist) Snapshot() []Track {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Track, len(p.tracks))
	copy(cp, p.tracks)
	return cp
}

var audioExts = map[string]struct{}{
	".mp3": {},
}

// IsAudioFile reports whether the path looks like a playable track.
func IsAudioFile(path string) bool {
	_, ok := audioExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadDir scans dir for audio files, name-sorted, and returns them as
// tracks. This is the initial bulk load; later additions come in over the
// channel, never from re-scanning.
func LoadDir(dir string) ([]Track, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var tracks []Track
	for _, e := range entries {
		if e.IsDir() || !IsAudioFile(e.Name()) {
			continue
		}
		tracks = append(tracks, Track{
			ID:   TrackID(e.Name()),
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Name < tracks[j].Name })
	return tracks, nil
}
