package playlist

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports audio files dropped into the music directory while a
// session is live. Each batch of added tracks is delivered on Added so the
// session can append locally and broadcast playlist:add.
type Watcher struct {
	fsw   *fsnotify.Watcher
	added chan []Track
}

// Watch starts watching dir for new audio files until ctx is cancelled.
func Watch(ctx context.Context, dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:   fsw,
		added: make(chan []Track, 8),
	}
	go w.run(ctx)
	return w, nil
}

// Added delivers batches of newly created tracks. Closed when the watcher
// stops.
func (w *Watcher) Added() <-chan []Track {
	return w.added
}

func (w *Watcher) run(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.added)

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !evt.Has(fsnotify.Create) || !IsAudioFile(evt.Name) {
				continue
			}
			name := filepath.Base(evt.Name)
			t := Track{
				ID:   TrackID(name),
				Name: name,
				Path: evt.Name,
			}
			select {
			case w.added <- []Track{t}:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("PLAYLIST: watcher error: %v", err)
		}
	}
}
