// Package proto holds the wire-level constants and envelope types shared by
// the transport, sync, and room packages. Single source of truth for every
// event name that crosses the room channel.
package proto

import (
	"encoding/json"
	"time"
)

const (
	// MdnsTag identifies auxroom peers during LAN discovery.
	MdnsTag = "auxroom-mdns"

	// RoomTopicPrefix + room code + RoomTopicSuffix form the gossipsub
	// topic name for a room channel.
	RoomTopicPrefix = "auxroom.room."
	RoomTopicSuffix = ".v1"
)

// RoomTopic returns the gossipsub topic name for a room code.
func RoomTopic(code string) string {
	return RoomTopicPrefix + code + RoomTopicSuffix
}

// Event names carried on the room channel.
const (
	EventPlaylistAdd     = "playlist:add"
	EventCommandQueued   = "player:command_queued"
	EventCommandExecuted = "player:command_executed"
	EventNowPlaying      = "room:now_playing"
	EventVerifyNow       = "room:verify_now"
	EventRequestState    = "player:request_state"
	EventStateResponse   = "player:state_response"
	EventRoomEnded       = "room:ended"
	EventPing            = "ping"
	EventPong            = "pong"
	EventPresence        = "presence"
)

// Envelope is the JSON wire format for every room channel message.
// Sender is the originating client id; receivers drop their own echoes.
type Envelope struct {
	Event   string          `json:"event"`
	Sender  string          `json:"sender"`
	TS      int64           `json:"ts"` // unix millis at send time
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Presence message types.
const (
	PresenceJoin      = "join"
	PresenceHeartbeat = "heartbeat"
	PresenceLeave     = "leave"
)

// PresenceMsg announces a participant on the room channel. The transport
// layer publishes these and feeds received ones into the participant table;
// they never reach the sync core.
type PresenceMsg struct {
	Type     string `json:"type"` // join|heartbeat|leave
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Host     bool   `json:"host,omitempty"`
	TS       int64  `json:"ts"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
