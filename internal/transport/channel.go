// Package transport implements the room channel: an at-most-once,
// best-effort-ordered publish/subscribe stream of envelopes scoped to one
// room, plus the presence registry fed by join/heartbeat/leave messages.
// It makes no delivery or ordering promises across partitions; the sync
// core is built to tolerate that.
package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/auxroom/auxroom/internal/p2p"
	"github.com/auxroom/auxroom/internal/proto"
	"github.com/auxroom/auxroom/internal/state"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// Options tune presence timing.
type Options struct {
	HeartbeatEvery time.Duration
	PresenceTTL    time.Duration
}

// Channel is a live subscription to a room topic. Envelopes published by
// this client are filtered out on receive; presence traffic feeds the
// participant table and never reaches Events.
type Channel struct {
	code     string
	selfID   string
	selfName string
	isHost   bool

	topic *pubsub.Topic
	sub   *pubsub.Subscription
	parts *state.Table

	events chan proto.Envelope
	done   chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	doneOnce  sync.Once
}

// Join subscribes to the room topic and announces this participant.
func Join(ctx context.Context, node *p2p.Node, code, clientID, name string, isHost bool, opt Options) (*Channel, error) {
	topic, sub, err := node.JoinTopic(proto.RoomTopic(code))
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		code:     code,
		selfID:   clientID,
		selfName: name,
		isHost:   isHost,
		topic:    topic,
		sub:      sub,
		parts:    state.NewTable(),
		events:   make(chan proto.Envelope, 128),
		done:     make(chan struct{}),
		ctx:      cctx,
		cancel:   cancel,
	}

	// Self is always present in the table.
	ch.parts.Upsert(clientID, name, isHost)

	ch.announce(proto.PresenceJoin)
	go ch.readLoop()
	go ch.heartbeatLoop(opt)

	log.Printf("TRANSPORT: joined room channel %s as %s", code, clientID[:8])
	return ch, nil
}

// Events delivers remote envelopes in arrival order.
func (c *Channel) Events() <-chan proto.Envelope { return c.events }

// Done closes when the subscription dies — the resync controller treats it
// as a drift signal.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Participants returns the live presence snapshot.
func (c *Channel) Participants() map[string]state.Participant { return c.parts.Snapshot() }

// Table exposes the participant table for the sync core (listener
// snapshots, host lookups).
func (c *Channel) Table() *state.Table { return c.parts }

// Publish marshals payload and sends it to all subscribers. Errors are
// returned, not retried; staleness discard plus host verification cover
// lost messages.
func (c *Channel) Publish(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := proto.Envelope{
		Event:   event,
		Sender:  c.selfID,
		TS:      proto.NowMillis(),
		Payload: raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.topic.Publish(c.ctx, b)
}

// Leave announces departure and tears the channel down.
func (c *Channel) Leave() {
	c.closeOnce.Do(func() {
		c.announce(proto.PresenceLeave)
		c.cancel()
		c.sub.Cancel()
		_ = c.topic.Close()
		log.Printf("TRANSPORT: left room channel %s", c.code)
	})
}

func (c *Channel) announce(typ string) {
	msg := proto.PresenceMsg{
		Type:     typ,
		ClientID: c.selfID,
		Name:     c.selfName,
		Host:     c.isHost,
		TS:       proto.NowMillis(),
	}
	if err := c.Publish(proto.EventPresence, msg); err != nil {
		log.Printf("TRANSPORT: presence %s publish failed: %v", typ, err)
	}
}

func (c *Channel) readLoop() {
	defer c.doneOnce.Do(func() { close(c.done) })

	for {
		msg, err := c.sub.Next(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				log.Printf("TRANSPORT: subscription closed: %v", err)
			}
			return
		}

		var env proto.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("TRANSPORT: dropping malformed envelope: %v", err)
			continue
		}
		if env.Sender == c.selfID {
			continue // own echo
		}

		if env.Event == proto.EventPresence {
			c.handlePresence(env)
			continue
		}

		select {
		case c.events <- env:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) handlePresence(env proto.Envelope) {
	var msg proto.PresenceMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}
	switch msg.Type {
	case proto.PresenceJoin:
		c.parts.Upsert(msg.ClientID, msg.Name, msg.Host)
		// Answer with a heartbeat so the newcomer learns about us without
		// waiting a full interval.
		c.announce(proto.PresenceHeartbeat)
	case proto.PresenceHeartbeat:
		if _, known := c.parts.Get(msg.ClientID); !known {
			c.parts.Upsert(msg.ClientID, msg.Name, msg.Host)
			return
		}
		c.parts.Touch(msg.ClientID)
	case proto.PresenceLeave:
		c.parts.Remove(msg.ClientID)
	}
}

func (c *Channel) heartbeatLoop(opt Options) {
	hb := opt.HeartbeatEvery
	if hb <= 0 {
		hb = 5 * time.Second
	}
	ttl := opt.PresenceTTL
	if ttl <= 0 {
		ttl = 4 * hb
	}

	ticker := time.NewTicker(hb)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.announce(proto.PresenceHeartbeat)
			c.parts.Touch(c.selfID) // never prune self
			c.parts.PruneStale(time.Now().Add(-ttl))
		}
	}
}
