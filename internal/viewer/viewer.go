// Package viewer is the local HTTP control surface: a loopback API the UI
// (or curl) drives the peer with. It holds no playback state of its own —
// every mutation goes through the sync session so it is replicated like any
// other command.
package viewer

import (
	"errors"
	"log"
	"net/http"

	"github.com/auxroom/auxroom/internal/bridge"
	"github.com/auxroom/auxroom/internal/player"
	"github.com/auxroom/auxroom/internal/playlist"
	"github.com/auxroom/auxroom/internal/room"
	"github.com/auxroom/auxroom/internal/state"
	syncpkg "github.com/auxroom/auxroom/internal/sync"
)

type Deps struct {
	Meta     *room.Meta
	SelfName string
	IsHost   bool

	Session  *syncpkg.Session
	Driver   *player.FileDriver
	Playlist *playlist.Playlist
	Table    *state.Table
	Rooms    *room.Store
	Bridge   *bridge.Forwarder // nil when no bridge is configured
	Logs     *LogBuffer        // nil disables the log endpoints
}

// Start serves the control API on addr (loopback expected) and returns the
// server for shutdown.
func Start(addr string, d Deps) *http.Server {
	mux := http.NewServeMux()

	signer := newURLSigner()
	registerPlayer(mux, d)
	registerRoom(mux, d)
	registerPlaylist(mux, d, signer)
	registerGlobalPlayer(mux, d)
	registerLogs(mux, d.Logs)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("VIEWER: control api on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("VIEWER: http server: %v", err)
		}
	}()
	return srv
}
