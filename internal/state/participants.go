package state

import (
	"sync"
	"time"
)

// Participant is the ephemeral identity of a peer in the room: a
// session-scoped client id (the map key), a display name, and whether it
// holds host authority. TrackIndex is the last index the host observed for
// this participant, recorded in listener snapshots.
type Participant struct {
	Name       string
	Host       bool
	TrackIndex int
	LastSeen   time.Time
}

type Event struct {
	Type        string       `json:"type"` // join|update|leave
	ClientID    string       `json:"client_id,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
}

// Table tracks live participants keyed by client id. Entries appear via
// presence join/heartbeat messages and disappear on leave or TTL expiry;
// there is no persistent record.
type Table struct {
	mu        sync.Mutex
	parts     map[string]Participant
	listeners []chan Event
}

func NewTable() *Table {
	return &Table{
		parts:     make(map[string]Participant),
		listeners: make([]chan Event, 0),
	}
}

func (t *Table) Upsert(id, name string, host bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, known := t.parts[id]
	p.Name = name
	p.Host = host
	p.LastSeen = time.Now()
	if !known {
		p.TrackIndex = -1
	}
	t.parts[id] = p
	typ := "update"
	if !known {
		typ = "join"
	}
	t.notify(Event{Type: typ, ClientID: id, Participant: &p})
}

func (t *Table) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[id]
	if !ok {
		return
	}
	p.LastSeen = time.Now()
	t.parts[id] = p
}

// SetTrackIndex records the last observed track index for a participant.
func (t *Table) SetTrackIndex(id string, index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[id]
	if !ok {
		return
	}
	p.TrackIndex = index
	t.parts[id] = p
}

func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.parts[id]; !ok {
		return
	}
	delete(t.parts, id)
	t.notify(Event{Type: "leave", ClientID: id})
}

func (t *Table) Get(id string) (Participant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[id]
	return p, ok
}

func (t *Table) Snapshot() map[string]Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string]Participant, len(t.parts))
	for k, v := range t.parts {
		cp[k] = v
	}
	return cp
}

// PruneStale removes participants whose last heartbeat is older than cutoff.
func (t *Table) PruneStale(cutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.parts {
		if p.LastSeen.Before(cutoff) {
			delete(t.parts, id)
			t.notify(Event{Type: "leave", ClientID: id})
		}
	}
}

func (t *Table) Subscribe() chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Event, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *Table) Unsubscribe(ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(evt Event) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
