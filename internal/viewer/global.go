package viewer

import (
	"net/http"
	"sync"
	"time"
)

// GlobalState is the peer's externally visible "now playing" card: what this
// peer is playing regardless of which local UI is driving it. Posted updates
// are partial and merge into the previous state; the merged result is what
// GET returns and what goes to the bridge.
type GlobalState struct {
	TrackID     string  `json:"track_id,omitempty"`
	TrackTitle  string  `json:"track_title,omitempty"`
	TrackArtist string  `json:"track_artist,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Status      string  `json:"status"` // playing|paused|stopped
	PositionMs  float64 `json:"position_ms"`
	UpdatedAt   int64   `json:"last_updated_at"`
	UpdatedBy   string  `json:"updated_by"`
}

var validStatus = map[string]bool{
	"playing": true,
	"paused":  true,
	"stopped": true,
}

func registerGlobalPlayer(mux *http.ServeMux, d Deps) {
	var mu sync.Mutex
	var last *GlobalState

	// liveState builds the card from the sync session when nothing has
	// been posted yet.
	liveState := func() GlobalState {
		st := d.Session.Snapshot()
		gs := GlobalState{
			Status:     string(st.Status),
			PositionMs: st.Position * 1000,
			UpdatedAt:  time.Now().UnixMilli(),
			UpdatedBy:  d.SelfName,
		}
		if t, ok := d.Playlist.Get(st.Index); ok {
			gs.TrackID = t.ID
			gs.TrackTitle = t.Name
			gs.DurationMs = int64(d.Driver.Duration() * 1000)
		}
		return gs
	}

	mux.HandleFunc("/api/global-player/state", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		mu.Lock()
		cur := last
		mu.Unlock()
		if cur != nil {
			writeJSON(w, cur)
			return
		}
		writeJSON(w, liveState())
	})

	// POST /api/global-player/update — partial update. Omitted fields keep
	// their previous values; the merged state is forwarded to the bridge.
	mux.HandleFunc("/api/global-player/update", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		var upd struct {
			TrackID     *string  `json:"track_id"`
			TrackTitle  *string  `json:"track_title"`
			TrackArtist *string  `json:"track_artist"`
			DurationMs  *int64   `json:"duration_ms"`
			Status      *string  `json:"status"`
			PositionMs  *float64 `json:"position_ms"`
			UpdatedBy   *string  `json:"updated_by"`
		}
		if decodeJSON(w, r, &upd) != nil {
			return
		}
		if upd.Status != nil && !validStatus[*upd.Status] {
			http.Error(w, "status must be playing, paused or stopped", http.StatusBadRequest)
			return
		}
		if upd.DurationMs != nil && *upd.DurationMs < 0 {
			http.Error(w, "duration_ms must not be negative", http.StatusBadRequest)
			return
		}
		if upd.PositionMs != nil && *upd.PositionMs < 0 {
			http.Error(w, "position_ms must not be negative", http.StatusBadRequest)
			return
		}

		mu.Lock()
		cur := liveState()
		if last != nil {
			cur = *last
		}
		if upd.TrackID != nil {
			cur.TrackID = *upd.TrackID
		}
		if upd.TrackTitle != nil {
			cur.TrackTitle = *upd.TrackTitle
		}
		if upd.TrackArtist != nil {
			cur.TrackArtist = *upd.TrackArtist
		}
		if upd.DurationMs != nil {
			cur.DurationMs = *upd.DurationMs
		}
		if upd.Status != nil {
			cur.Status = *upd.Status
		}
		if upd.PositionMs != nil {
			cur.PositionMs = *upd.PositionMs
		}
		if upd.UpdatedBy != nil && *upd.UpdatedBy != "" {
			cur.UpdatedBy = *upd.UpdatedBy
		} else if cur.UpdatedBy == "" {
			cur.UpdatedBy = d.SelfName
		}
		cur.UpdatedAt = time.Now().UnixMilli()
		last = &cur
		mu.Unlock()

		d.Bridge.Publish(cur)
		writeJSON(w, cur)
	})
}
