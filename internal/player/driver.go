// Package player is a thin abstraction over the local audio resource. The
// sync core drives it with load/play/pause/seek and reacts to its events;
// it never blocks on it.
package player

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/auxroom/auxroom/internal/playlist"
)

// ErrPlaybackBlocked is returned by Play when the driver is gesture-gated
// and no user gesture has unlocked it yet. Recoverable: the caller records
// the intended playback as pending and retries on the next gesture.
var ErrPlaybackBlocked = errors.New("player: playback blocked until user gesture")

// ErrNoTrack is returned by Play before any track has been loaded.
var ErrNoTrack = errors.New("player: no track loaded")

// Event kinds emitted by a Driver.
const (
	EventLoaded   = "loaded"   // metadata ready, Duration set
	EventProgress = "progress" // periodic position update while playing
	EventEnded    = "ended"    // track ran out
	EventError    = "error"    // load or decode failure
)

type Event struct {
	Kind     string
	Track    playlist.Track
	Duration float64 // seconds, set on loaded
	Position float64 // seconds, set on progress/ended
	Err      error
}

// Driver is the playback driver contract. Load is asynchronous; completion
// is signaled by a loaded event carrying the resolved duration. Play may
// fail with ErrPlaybackBlocked and must leave the driver recoverable.
type Driver interface {
	Load(t playlist.Track)
	Play() error
	Pause()
	Seek(pos float64)
	Position() float64
	Duration() float64
	Events() <-chan Event
	Close()
}

// progressEvery is the cadence of progress events while playing.
const progressEvery = 500 * time.Millisecond

// FileDriver plays MP3 files from the local music directory. Playback is a
// monotonic position clock; actual audio bytes are pulled by an attached
// sink via StreamTo. When gated, Play refuses until Unlock is called by a
// user gesture.
type FileDriver struct {
	mu sync.Mutex

	track    playlist.Track
	haveTck  bool
	duration float64
	bitrate  int

	playing   bool
	basePos   float64
	startedAt time.Time

	gated    bool
	unlocked bool

	loadGen int64 // invalidates in-flight probes
	playGen int64 // invalidates progress loops and audio streams

	events chan Event
	closed bool
}

// NewFileDriver creates a driver. gated controls whether the first Play
// needs an explicit Unlock.
func NewFileDriver(gated bool) *FileDriver {
	return &FileDriver{
		gated:    gated,
		unlocked: !gated,
		events:   make(chan Event, 32),
	}
}

func (d *FileDriver) Events() <-chan Event { return d.events }

// Unlock marks the user-gesture requirement satisfied.
func (d *FileDriver) Unlock() {
	d.mu.Lock()
	d.unlocked = true
	d.mu.Unlock()
}

// Blocked reports whether Play would currently be refused by the gate.
func (d *FileDriver) Blocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gated && !d.unlocked
}

// Load begins loading media for the track. The position clock stops and
// resets; a loaded event with the probed duration follows, or an error
// event when the file is unreadable.
func (d *FileDriver) Load(t playlist.Track) {
	d.mu.Lock()
	d.track = t
	d.haveTck = true
	d.duration = 0
	d.bitrate = 0
	d.playing = false
	d.basePos = 0
	d.loadGen++
	d.playGen++
	gen := d.loadGen
	d.mu.Unlock()

	go func() {
		info, err := Probe(t.Path)

		d.mu.Lock()
		if d.closed || gen != d.loadGen {
			d.mu.Unlock()
			return
		}
		if err != nil {
			d.mu.Unlock()
			log.Printf("PLAYER: probe %s failed: %v", t.Name, err)
			d.emit(Event{Kind: EventError, Track: t, Err: err})
			return
		}
		d.duration = info.Duration
		d.bitrate = info.Bitrate
		d.mu.Unlock()

		d.emit(Event{Kind: EventLoaded, Track: t, Duration: info.Duration})
	}()
}

func (d *FileDriver) Play() error {
	d.mu.Lock()
	if !d.haveTck {
		d.mu.Unlock()
		return ErrNoTrack
	}
	if d.gated && !d.unlocked {
		d.mu.Unlock()
		return ErrPlaybackBlocked
	}
	if d.playing {
		d.mu.Unlock()
		return nil
	}
	d.playing = true
	d.startedAt = time.Now()
	d.playGen++
	gen := d.playGen
	track := d.track
	d.mu.Unlock()

	go d.progressLoop(gen, track)
	return nil
}

func (d *FileDriver) Pause() {
	d.mu.Lock()
	if d.playing {
		d.basePos = d.positionLocked()
		d.playing = false
		d.playGen++
	}
	d.mu.Unlock()
}

func (d *FileDriver) Seek(pos float64) {
	d.mu.Lock()
	if pos < 0 {
		pos = 0
	}
	if d.duration > 0 && pos > d.duration {
		pos = d.duration
	}
	d.basePos = pos
	if d.playing {
		d.startedAt = time.Now()
		d.playGen++
		gen := d.playGen
		track := d.track
		d.mu.Unlock()
		go d.progressLoop(gen, track)
		return
	}
	d.mu.Unlock()
}

func (d *FileDriver) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positionLocked()
}

func (d *FileDriver) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

func (d *FileDriver) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.playing = false
	d.playGen++
	d.mu.Unlock()
	close(d.events)
}

func (d *FileDriver) positionLocked() float64 {
	pos := d.basePos
	if d.playing {
		pos += time.Since(d.startedAt).Seconds()
	}
	if d.duration > 0 && pos > d.duration {
		pos = d.duration
	}
	return pos
}

func (d *FileDriver) progressLoop(gen int64, track playlist.Track) {
	ticker := time.NewTicker(progressEvery)
	defer ticker.Stop()

	for range ticker.C {
		d.mu.Lock()
		if d.closed || gen != d.playGen || !d.playing {
			d.mu.Unlock()
			return
		}
		pos := d.positionLocked()
		dur := d.duration
		if dur > 0 && pos >= dur {
			d.playing = false
			d.basePos = dur
			d.playGen++
			d.mu.Unlock()
			d.emit(Event{Kind: EventEnded, Track: track, Position: dur})
			return
		}
		d.mu.Unlock()
		d.emit(Event{Kind: EventProgress, Track: track, Position: pos})
	}
}

// emit never blocks; a slow consumer loses progress ticks, not correctness.
// The send stays under the mutex so Close cannot shut the channel between
// the closed check and the send.
func (d *FileDriver) emit(evt Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.events <- evt:
	default:
	}
}
