package viewer

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

func registerPlaylist(mux *http.ServeMux, d Deps, signer *urlSigner) {

	// GET /api/playlist — the shared track order, with a fresh signed
	// playback URL per track. The URLs expire; clients re-fetch the
	// playlist rather than caching them.
	mux.HandleFunc("/api/playlist", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		type trackVM struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		tracks := d.Playlist.Snapshot()
		out := make([]trackVM, 0, len(tracks))
		for _, t := range tracks {
			exp, sig := signer.Sign(t.ID)
			out = append(out, trackVM{
				ID:   t.ID,
				Name: t.Name,
				URL:  fmt.Sprintf("/audio/%s?exp=%d&sig=%s", t.ID, exp, sig),
			})
		}
		writeJSON(w, out)
	})

	// GET /audio/{id} — serve track bytes behind the signature check.
	// Range requests work so a client can pick up mid-track.
	mux.HandleFunc("/audio/", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/audio/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		exp, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
		if err != nil || !signer.Verify(id, exp, r.URL.Query().Get("sig")) {
			http.Error(w, "link expired", http.StatusForbidden)
			return
		}
		track, _, ok := d.Playlist.ByID(id)
		if !ok || !track.Local() {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeFile(w, r, track.Path)
	})
}
