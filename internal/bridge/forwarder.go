// Package bridge forwards global player updates to an external websocket
// endpoint, typically a desktop overlay or a bot that mirrors what the
// room is playing. Forwarding is best effort: the room never waits on it.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout    = 5 * time.Second
	writeDeadline  = 5 * time.Second
	reconnectDelay = 3 * time.Second
	queueDepth     = 32
)

// Forwarder maintains one outbound websocket connection and pushes JSON
// updates over it. A dead endpoint is retried on a fixed delay; updates
// that arrive while disconnected beyond the queue depth are dropped oldest
// first.
type Forwarder struct {
	url string

	mu     sync.Mutex
	queue  chan json.RawMessage
	closed bool
}

// New starts a forwarder for url. An empty url returns nil; callers treat a
// nil forwarder as disabled.
func New(ctx context.Context, url string) *Forwarder {
	if url == "" {
		return nil
	}
	f := &Forwarder{
		url:   url,
		queue: make(chan json.RawMessage, queueDepth),
	}
	go f.run(ctx)
	return f
}

// Publish queues one update. Never blocks; on a full queue the oldest
// update is discarded since only the newest player state matters.
func (f *Forwarder) Publish(v any) {
	if f == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("BRIDGE: marshal failed: %v", err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for {
		select {
		case f.queue <- b:
			return
		default:
			select {
			case <-f.queue:
			default:
			}
		}
	}
}

func (f *Forwarder) run(ctx context.Context) {
	defer func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
	}()

	for {
		conn, err := f.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("BRIDGE: connect %s failed: %v", f.url, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}
		log.Printf("BRIDGE: connected to %s", f.url)

		if err := f.pump(ctx, conn); err != nil {
			log.Printf("BRIDGE: connection lost: %v", err)
		}
		conn.Close()
		if ctx.Err() != nil {
			return
		}
	}
}

func (f *Forwarder) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, f.url, nil)
	return conn, err
}

func (f *Forwarder) pump(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case msg := <-f.queue:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		}
	}
}
