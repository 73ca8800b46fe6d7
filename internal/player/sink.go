package player

import (
	"context"
	"io"
	"os"
)

// StreamTo writes the current track's audio bytes to w, starting at the
// byte offset matching the current playback position, until the track ends,
// playback is paused or re-seeked, or ctx is cancelled. The consumer's own
// buffering provides rate control via backpressure.
func (d *FileDriver) StreamTo(ctx context.Context, w io.Writer) error {
	d.mu.Lock()
	if !d.haveTck || d.bitrate == 0 {
		d.mu.Unlock()
		return ErrNoTrack
	}
	path := d.track.Path
	pos := d.positionLocked()
	bitrate := d.bitrate
	gen := d.playGen
	d.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if byteOffset := int64(pos * float64(bitrate) / 8.0); byteOffset > 0 {
		if _, err := f.Seek(byteOffset, io.SeekStart); err != nil {
			return err
		}
	}

	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		d.mu.Lock()
		stale := d.closed || gen != d.playGen
		d.mu.Unlock()
		if stale {
			return nil
		}

		n, err := f.Read(buf)
		if n > 0 {
			data := buf[:n]
			for len(data) > 0 {
				nw, werr := w.Write(data)
				if werr != nil {
					return werr
				}
				data = data[nw:]
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
