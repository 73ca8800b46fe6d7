// Package app wires a peer together: durable store, p2p node, room
// channel, sync session, file watcher, and the local control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/auxroom/auxroom/internal/bridge"
	"github.com/auxroom/auxroom/internal/config"
	"github.com/auxroom/auxroom/internal/p2p"
	"github.com/auxroom/auxroom/internal/player"
	"github.com/auxroom/auxroom/internal/playlist"
	"github.com/auxroom/auxroom/internal/room"
	"github.com/auxroom/auxroom/internal/store"
	syncpkg "github.com/auxroom/auxroom/internal/sync"
	"github.com/auxroom/auxroom/internal/transport"
	"github.com/auxroom/auxroom/internal/util"
	"github.com/auxroom/auxroom/internal/viewer"
)

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config

	// Host creates a new room with Title; otherwise Code names the room
	// to join.
	Host  bool
	Title string
	Code  string
}

// Run starts a peer and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	logBuf := viewer.NewLogBuffer(800)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	dataDir := util.ResolvePath(opt.PeerDir, cfg.Paths.DataDir)
	musicDir := util.ResolvePath(opt.PeerDir, cfg.Paths.MusicDir)
	for _, dir := range []string{dataDir, musicDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	blobs, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer blobs.Close()
	rooms := room.NewStore(blobs)

	meta, err := resolveRoom(ctx, rooms, cfg, opt)
	if err != nil {
		return err
	}

	node, err := p2p.New(ctx, cfg.P2P.ListenPort,
		util.ResolvePath(opt.PeerDir, cfg.Identity.KeyFile),
		cfg.P2P.MdnsTag, cfg.P2P.Bootstrap)
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer node.Close()

	// Client id is session-scoped on purpose: rejoining is a new
	// participant, never a resumed one.
	clientID := uuid.NewString()

	ch, err := transport.Join(ctx, node, meta.Code, clientID, cfg.Profile.Name, opt.Host,
		transport.Options{
			HeartbeatEvery: time.Duration(cfg.Presence.HeartbeatSec) * time.Second,
			PresenceTTL:    time.Duration(cfg.Presence.TTLSec) * time.Second,
		})
	if err != nil {
		return fmt.Errorf("join room channel: %w", err)
	}
	defer ch.Leave()

	list := playlist.New(musicDir)
	initial, err := playlist.LoadDir(musicDir)
	if err != nil {
		return fmt.Errorf("scan music dir: %w", err)
	}
	list.Append(initial...)

	// Playback on a guest starts from remote commands, so it stays gated
	// until the user explicitly resumes. The host's own commands arrive
	// through its local control API, which is the gesture.
	drv := player.NewFileDriver(!opt.Host)
	defer drv.Close()

	sess := syncpkg.NewSession(syncpkg.Options{
		Code:         meta.Code,
		ClientID:     clientID,
		Name:         cfg.Profile.Name,
		IsHost:       opt.Host,
		Config:       cfg.Sync,
		Bus:          ch,
		Records:      rooms,
		Driver:       drv,
		Playlist:     list,
		Participants: ch.Table(),
	})
	sess.Start(ctx)
	defer sess.Close()

	if opt.Host {
		// Announce the library now and again whenever someone joins;
		// the channel has no replay for late arrivals.
		sess.ShareAll()
		go reshareOnJoin(ctx, sess, ch)
	}

	watcher, err := playlist.Watch(ctx, musicDir)
	if err != nil {
		return fmt.Errorf("watch music dir: %w", err)
	}
	go func() {
		for batch := range watcher.Added() {
			log.Printf("APP: %d new track(s) in %s", len(batch), musicDir)
			sess.AddLocalTracks(batch)
		}
	}()

	fwd := bridge.New(ctx, cfg.Viewer.BridgeURL)

	srv := viewer.Start(cfg.Viewer.HTTPAddr, viewer.Deps{
		Meta:     meta,
		SelfName: cfg.Profile.Name,
		IsHost:   opt.Host,
		Session:  sess,
		Driver:   drv,
		Playlist: list,
		Table:    ch.Table(),
		Rooms:    rooms,
		Bridge:   fwd,
		Logs:     logBuf,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logRoomBanner(meta, opt.Host, cfg.Viewer.HTTPAddr, node)

	<-ctx.Done()
	log.Printf("APP: shutting down")
	return nil
}

// resolveRoom creates or joins the room record in the local store. A guest
// joining a code its store has never seen proceeds on the channel alone:
// discovery lives in the mesh, the store only remembers what this peer
// hosted or recorded. Tombstones still refuse the join outright.
func resolveRoom(ctx context.Context, rooms *room.Store, cfg config.Config, opt Options) (*room.Meta, error) {
	if opt.Host {
		meta, err := rooms.Create(ctx, opt.Title, cfg.Profile.Name)
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
		return meta, nil
	}

	meta, err := rooms.Join(ctx, opt.Code)
	switch {
	case err == nil:
		return meta, nil
	case errors.Is(err, room.ErrRoomNotFound):
		return &room.Meta{Code: opt.Code}, nil
	default:
		return nil, fmt.Errorf("join room: %w", err)
	}
}

func reshareOnJoin(ctx context.Context, sess *syncpkg.Session, ch *transport.Channel) {
	events := ch.Table().Subscribe()
	defer ch.Table().Unsubscribe(events)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type == "join" {
				sess.ShareAll()
			}
		}
	}
}

func logRoomBanner(meta *room.Meta, isHost bool, httpAddr string, node *p2p.Node) {
	role := "guest"
	if isHost {
		role = "host"
	}
	log.Println("────────────────────────────────────────")
	log.Printf("  room code : %s", meta.Code)
	if meta.Title != "" {
		log.Printf("  title     : %s", meta.Title)
	}
	log.Printf("  role      : %s", role)
	log.Printf("  peer id   : %s", node.ID())
	log.Printf("  control   : http://%s", httpAddr)
	log.Println("────────────────────────────────────────")
}
