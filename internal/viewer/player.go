package viewer

import (
	"net/http"

	"github.com/auxroom/auxroom/internal/player"
	syncpkg "github.com/auxroom/auxroom/internal/sync"
)

// registerPlayer adds the playback control endpoints. Every action becomes
// a queued command; the local driver only moves when the command comes back
// through the queue like everyone else's.
func registerPlayer(mux *http.ServeMux, d Deps) {

	// POST /api/player/control — play/pause/seek/next/previous/select/shuffle
	mux.HandleFunc("/api/player/control", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		var req struct {
			Action   string   `json:"action"`
			Index    int      `json:"index"`
			Position *float64 `json:"position"`
			Enabled  bool     `json:"enabled"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		pos := func() float64 {
			if req.Position != nil {
				return *req.Position
			}
			return 0
		}

		switch req.Action {
		case "play":
			d.Session.Enqueue(syncpkg.CmdPlay, syncpkg.PlayPayload{Index: req.Index, Time: pos()})
		case "pause":
			// An omitted position pauses in place; an explicit zero pins
			// everyone to the start.
			d.Session.Enqueue(syncpkg.CmdPause, syncpkg.PausePayload{Time: req.Position})
		case "seek":
			if req.Position == nil {
				http.Error(w, "seek needs a position", http.StatusBadRequest)
				return
			}
			d.Session.Enqueue(syncpkg.CmdSeek, syncpkg.SeekPayload{Time: *req.Position})
		case "next":
			d.Session.Enqueue(syncpkg.CmdNext, syncpkg.StepPayload{})
		case "previous":
			d.Session.Enqueue(syncpkg.CmdPrevious, syncpkg.StepPayload{})
		case "select":
			if _, ok := d.Playlist.Get(req.Index); !ok {
				http.Error(w, "index out of range", http.StatusBadRequest)
				return
			}
			d.Session.Enqueue(syncpkg.CmdSelect, syncpkg.SelectPayload{Index: req.Index})
		case "shuffle":
			d.Session.Enqueue(syncpkg.CmdShuffleToggle, syncpkg.ShufflePayload{Enabled: req.Enabled})
		default:
			http.Error(w, "unknown action: "+req.Action, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"status": "queued"})
	})

	// GET /api/player/state — replicated state plus local driver condition
	mux.HandleFunc("/api/player/state", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		st := d.Session.Snapshot()
		resp := struct {
			syncpkg.PlaybackState
			Sync     syncpkg.SyncState `json:"sync"`
			Blocked  bool              `json:"blocked"`
			Duration float64           `json:"duration"`
		}{
			PlaybackState: st,
			Sync:          d.Session.SyncCondition(),
			Blocked:       d.Driver.Blocked(),
			Duration:      d.Driver.Duration(),
		}
		writeJSON(w, resp)
	})

	// GET /api/player/stream — raw audio of the current track from the
	// current position, for a local monitor that has no file access.
	mux.HandleFunc("/api/player/stream", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Cache-Control", "no-store")
		if err := d.Driver.StreamTo(r.Context(), w); err != nil {
			if err == player.ErrNoTrack {
				http.Error(w, "nothing loaded", http.StatusConflict)
			}
			return
		}
	})

	// POST /api/player/resync — explicit user distrust of local state
	mux.HandleFunc("/api/player/resync", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		d.Session.ForceResync()
		writeJSON(w, map[string]string{"status": "resyncing"})
	})

	// POST /api/player/resume — the user gesture that unlocks playback
	mux.HandleFunc("/api/player/resume", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		d.Driver.Unlock()
		d.Session.ResumePending()
		writeJSON(w, map[string]string{"status": "resumed"})
	})
}
