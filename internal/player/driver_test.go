package player

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/auxroom/auxroom/internal/playlist"
)

// writeMP3 writes a synthetic MPEG-1 Layer III file: one valid frame sync
// header (128 kbps, 44.1 kHz) followed by padding to the requested size.
func writeMP3(t *testing.T, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xFB, 0x90, 0x00})
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeMP3WithID3 prefixes the frame data with an ID3v2 tag of tagSize
// bytes (synchsafe-encoded header).
func writeMP3WithID3(t *testing.T, name string, tagSize, audioSize int) string {
	t.Helper()
	data := make([]byte, 10+tagSize+audioSize)
	copy(data, "ID3")
	data[3], data[4] = 4, 0
	data[6] = byte((tagSize >> 21) & 0x7F)
	data[7] = byte((tagSize >> 14) & 0x7F)
	data[8] = byte((tagSize >> 7) & 0x7F)
	data[9] = byte(tagSize & 0x7F)
	copy(data[10+tagSize:], []byte{0xFF, 0xFB, 0x90, 0x00})
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbe(t *testing.T) {
	// 16000 bytes at 128 kbps is exactly one second of audio.
	path := writeMP3(t, "one-second.mp3", 16000)

	info, err := Probe(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Bitrate != 128000 {
		t.Errorf("bitrate = %d, want 128000", info.Bitrate)
	}
	if info.Duration < 0.99 || info.Duration > 1.01 {
		t.Errorf("duration = %.3f, want ~1.0s", info.Duration)
	}
}

func TestProbeSkipsID3Tag(t *testing.T) {
	path := writeMP3WithID3(t, "tagged.mp3", 4096, 32000)

	info, err := Probe(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Bitrate != 128000 {
		t.Errorf("bitrate = %d, want 128000", info.Bitrate)
	}
	// Duration must be computed from the audio portion, not the tag.
	if info.Duration < 1.9 || info.Duration > 2.1 {
		t.Errorf("duration = %.3f, want ~2.0s", info.Duration)
	}
}

func TestProbeGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.mp3")
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Probe(path); err == nil {
		t.Fatal("expected error for file with no frame sync")
	}
}

func waitEvent(t *testing.T, d *FileDriver, kind string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-d.Events():
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func loadTrack(t *testing.T, d *FileDriver, path string) playlist.Track {
	t.Helper()
	name := filepath.Base(path)
	tr := playlist.Track{ID: playlist.TrackID(name), Name: name, Path: path}
	d.Load(tr)
	evt := waitEvent(t, d, EventLoaded)
	if evt.Track.ID != tr.ID {
		t.Fatalf("loaded %s, want %s", evt.Track.ID, tr.ID)
	}
	return tr
}

func TestDriverClock(t *testing.T) {
	path := writeMP3(t, "clip.mp3", 160000) // 10s at 128 kbps
	d := NewFileDriver(false)
	defer d.Close()
	loadTrack(t, d, path)

	if err := d.Play(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	p1 := d.Position()
	if p1 <= 0 {
		t.Fatal("clock did not advance")
	}

	d.Pause()
	frozen := d.Position()
	time.Sleep(100 * time.Millisecond)
	if got := d.Position(); got != frozen {
		t.Errorf("position moved while paused: %.3f -> %.3f", frozen, got)
	}

	d.Seek(5)
	if err := d.Play(); err != nil {
		t.Fatal(err)
	}
	if got := d.Position(); got < 5 || got > 5.1 {
		t.Errorf("position after seek = %.3f, want ~5", got)
	}
	d.Pause()

	// Seek clamps to duration.
	d.Seek(500)
	if got := d.Position(); got > d.Duration() {
		t.Errorf("seek past end: %.3f > %.3f", got, d.Duration())
	}
}

func TestDriverPlayWithoutTrack(t *testing.T) {
	d := NewFileDriver(false)
	defer d.Close()
	if err := d.Play(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("err = %v, want ErrNoTrack", err)
	}
}

func TestDriverGate(t *testing.T) {
	path := writeMP3(t, "gated.mp3", 160000)
	d := NewFileDriver(true)
	defer d.Close()
	loadTrack(t, d, path)

	if !d.Blocked() {
		t.Fatal("fresh gated driver not blocked")
	}
	if err := d.Play(); !errors.Is(err, ErrPlaybackBlocked) {
		t.Fatalf("err = %v, want ErrPlaybackBlocked", err)
	}

	d.Unlock()
	if d.Blocked() {
		t.Fatal("still blocked after unlock")
	}
	if err := d.Play(); err != nil {
		t.Fatalf("play after unlock: %v", err)
	}
}

func TestDriverEmitsEnded(t *testing.T) {
	path := writeMP3(t, "short.mp3", 16000) // 1s
	d := NewFileDriver(false)
	defer d.Close()
	loadTrack(t, d, path)

	d.Seek(0.9)
	if err := d.Play(); err != nil {
		t.Fatal(err)
	}
	evt := waitEvent(t, d, EventEnded)
	if evt.Position != d.Duration() {
		t.Errorf("ended at %.3f, duration %.3f", evt.Position, d.Duration())
	}
	if d.Position() != d.Duration() {
		t.Errorf("clock did not pin to duration")
	}
}

func TestDriverLoadInvalidatesOldProbe(t *testing.T) {
	a := writeMP3(t, "a.mp3", 16000)
	b := writeMP3(t, "b.mp3", 160000)
	d := NewFileDriver(false)
	defer d.Close()

	// Back-to-back loads: only the second track's loaded event may drive
	// the duration.
	d.Load(playlist.Track{ID: "a", Name: "a.mp3", Path: a})
	d.Load(playlist.Track{ID: "b", Name: "b.mp3", Path: b})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-d.Events():
			if evt.Kind != EventLoaded {
				continue
			}
			if evt.Track.ID != "b" {
				t.Fatalf("loaded event for superseded track %s", evt.Track.ID)
			}
			if d.Duration() < 9 {
				t.Errorf("duration = %.2f, want ~10s", d.Duration())
			}
			return
		case <-deadline:
			t.Fatal("no loaded event")
		}
	}
}

func TestDriverCloseDuringProbe(t *testing.T) {
	// Close racing the probe goroutine's loaded/error emit must never
	// panic on the events channel.
	for i := 0; i < 200; i++ {
		path := writeMP3(t, "race.mp3", 16000)
		d := NewFileDriver(false)
		name := filepath.Base(path)
		d.Load(playlist.Track{ID: playlist.TrackID(name), Name: name, Path: path})
		d.Close()
	}
}
