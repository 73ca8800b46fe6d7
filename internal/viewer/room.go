package viewer

import (
	"fmt"
	"net/http"
)

func registerRoom(mux *http.ServeMux, d Deps) {

	// GET /api/room — room metadata and live participants
	mux.HandleFunc("/api/room", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		type participantVM struct {
			ClientID   string `json:"client_id"`
			Name       string `json:"name"`
			Host       bool   `json:"host"`
			TrackIndex int    `json:"track_index"`
		}
		var parts []participantVM
		for id, p := range d.Table.Snapshot() {
			parts = append(parts, participantVM{
				ClientID:   id,
				Name:       p.Name,
				Host:       p.Host,
				TrackIndex: p.TrackIndex,
			})
		}
		writeJSON(w, map[string]any{
			"room":         d.Meta,
			"self":         d.SelfName,
			"host":         d.IsHost,
			"participants": parts,
		})
	})

	// GET /api/room/history — durable playback history
	mux.HandleFunc("/api/room/history", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		hist, err := d.Rooms.History(r.Context(), d.Meta.Code)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, hist)
	})

	// POST /api/room/end — host tears the room down for everyone
	mux.HandleFunc("/api/room/end", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		if !d.IsHost {
			http.Error(w, "only the host can end the room", http.StatusForbidden)
			return
		}
		if err := d.Rooms.End(r.Context(), d.Meta.Code); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		d.Session.AnnounceEnd()
		writeJSON(w, map[string]string{"status": "ended"})
	})
}
