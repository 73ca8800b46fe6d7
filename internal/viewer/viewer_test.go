package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/auxroom/auxroom/internal/config"
	"github.com/auxroom/auxroom/internal/player"
	"github.com/auxroom/auxroom/internal/playlist"
	"github.com/auxroom/auxroom/internal/proto"
	"github.com/auxroom/auxroom/internal/room"
	"github.com/auxroom/auxroom/internal/state"
	"github.com/auxroom/auxroom/internal/store"
	syncpkg "github.com/auxroom/auxroom/internal/sync"
)

// nullBus satisfies the session's bus with no peers behind it.
type nullBus struct {
	events chan proto.Envelope
	done   chan struct{}
}

func newNullBus() *nullBus {
	return &nullBus{events: make(chan proto.Envelope), done: make(chan struct{})}
}

func (b *nullBus) Publish(event string, payload any) error { return nil }
func (b *nullBus) Events() <-chan proto.Envelope           { return b.events }
func (b *nullBus) Done() <-chan struct{}                   { return b.done }

func testMux(t *testing.T) (*http.ServeMux, Deps) {
	t.Helper()

	dir := t.TempDir()
	list := playlist.New(dir)
	path := filepath.Join(dir, "alpha.mp3")
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	list.Append(playlist.Track{ID: playlist.TrackID("alpha.mp3"), Name: "alpha.mp3", Path: path})

	drv := player.NewFileDriver(false)
	t.Cleanup(drv.Close)

	rooms := room.NewStore(store.NewMemory())
	meta, err := rooms.Create(context.Background(), "test room", "ada")
	if err != nil {
		t.Fatal(err)
	}

	table := state.NewTable()
	table.Upsert("c1", "ada", true)

	sess := syncpkg.NewSession(syncpkg.Options{
		Code:         meta.Code,
		ClientID:     "c1",
		Name:         "ada",
		IsHost:       true,
		Config:       config.Default().Sync,
		Bus:          newNullBus(),
		Records:      rooms,
		Driver:       drv,
		Playlist:     list,
		Participants: table,
	})
	ctx, cancel := context.WithCancel(context.Background())
	sess.Start(ctx)
	t.Cleanup(func() {
		sess.Close()
		cancel()
	})

	d := Deps{
		Meta:     meta,
		SelfName: "ada",
		IsHost:   true,
		Session:  sess,
		Driver:   drv,
		Playlist: list,
		Table:    table,
		Rooms:    rooms,
	}

	mux := http.NewServeMux()
	signer := newURLSigner()
	registerPlayer(mux, d)
	registerRoom(mux, d)
	registerPlaylist(mux, d, signer)
	registerGlobalPlayer(mux, d)
	return mux, d
}

func localRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	r.RemoteAddr = "127.0.0.1:54321"
	return r
}

func TestControlRejectsUnknownAction(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/player/control", `{"action":"rewind"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSeekRequiresPosition(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/player/control", `{"action":"seek"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestControlRejectsRemoteCaller(t *testing.T) {
	mux, _ := testMux(t)
	req := httptest.NewRequest(http.MethodPost, "/api/player/control",
		strings.NewReader(`{"action":"pause"}`))
	req.RemoteAddr = "203.0.113.9:4444"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestSelectOutOfRange(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/player/control",
		`{"action":"select","index":9}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPlayerState(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/api/player/state", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Index  int    `json:"index"`
		Status string `json:"status"`
		Sync   string `json:"sync"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Index != -1 || resp.Status != "stopped" || resp.Sync != "synced" {
		t.Errorf("state = %+v", resp)
	}
}

func TestRoomInfo(t *testing.T) {
	mux, d := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/api/room", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Room struct {
			Code string `json:"code"`
		} `json:"room"`
		Host         bool `json:"host"`
		Participants []struct {
			Name string `json:"name"`
		} `json:"participants"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Room.Code != d.Meta.Code || !resp.Host || len(resp.Participants) != 1 {
		t.Errorf("room info = %s", rec.Body.String())
	}
}

func TestPlaylistServesSignedAudio(t *testing.T) {
	mux, _ := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/api/playlist", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("playlist status = %d", rec.Code)
	}
	var tracks []struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tracks); err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 1 || !strings.Contains(tracks[0].URL, "sig=") {
		t.Fatalf("tracks = %+v", tracks)
	}

	// The signed URL serves the bytes.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, tracks[0].URL, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("audio status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "not really audio" {
		t.Errorf("audio body = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("content type = %s", ct)
	}

	// A tampered signature does not.
	bad := strings.Replace(tracks[0].URL, "sig=", "sig=00", 1)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, bad, ""))
	if rec.Code != http.StatusForbidden {
		t.Errorf("tampered sig status = %d, want 403", rec.Code)
	}

	// No signature at all does not.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/audio/"+tracks[0].ID, ""))
	if rec.Code != http.StatusForbidden {
		t.Errorf("unsigned status = %d, want 403", rec.Code)
	}
}

func TestGlobalPlayerValidation(t *testing.T) {
	mux, _ := testMux(t)

	for _, body := range []string{
		`{"status":"vibing"}`,
		`{"duration_ms":-1}`,
		`{"position_ms":-0.5}`,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/global-player/update", body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("update %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestGlobalPlayerPartialMerge(t *testing.T) {
	mux, _ := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/global-player/update",
		`{"status":"playing","track_title":"alpha.mp3","track_artist":"ada","duration_ms":180000}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("first update rejected: %d %s", rec.Code, rec.Body.String())
	}

	// A partial pause keeps the track fields from the first update.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/global-player/update",
		`{"status":"paused","position_ms":42000}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("partial update rejected: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/api/global-player/state", ""))
	var gs GlobalState
	if err := json.Unmarshal(rec.Body.Bytes(), &gs); err != nil {
		t.Fatal(err)
	}
	if gs.Status != "paused" || gs.PositionMs != 42000 {
		t.Errorf("merged status/position = %q/%v", gs.Status, gs.PositionMs)
	}
	if gs.TrackTitle != "alpha.mp3" || gs.TrackArtist != "ada" || gs.DurationMs != 180000 {
		t.Errorf("track fields lost in merge: %+v", gs)
	}
	if gs.UpdatedBy != "ada" {
		t.Errorf("updated_by = %q, want default self name", gs.UpdatedBy)
	}
}

func TestRoomEndHostOnly(t *testing.T) {
	mux, d := testMux(t)

	// Flip to guest: end must be refused.
	guestDeps := d
	guestDeps.IsHost = false
	guestMux := http.NewServeMux()
	registerRoom(guestMux, guestDeps)

	rec := httptest.NewRecorder()
	guestMux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/room/end", ""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("guest end status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodPost, "/api/room/end", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("host end status = %d", rec.Code)
	}
	if _, err := d.Rooms.Join(context.Background(), d.Meta.Code); err != room.ErrRoomEnded {
		t.Errorf("Join after end = %v, want ErrRoomEnded", err)
	}
}

func TestSignerExpiry(t *testing.T) {
	s := newURLSigner()
	base := time.Now()
	s.now = func() time.Time { return base }

	exp, sig := s.Sign("track-1")
	if !s.Verify("track-1", exp, sig) {
		t.Fatal("fresh signature rejected")
	}
	if s.Verify("track-2", exp, sig) {
		t.Fatal("signature valid for the wrong track")
	}

	s.now = func() time.Time { return base.Add(audioURLTTL + 2*time.Second) }
	if s.Verify("track-1", exp, sig) {
		t.Fatal("expired signature accepted")
	}
}
