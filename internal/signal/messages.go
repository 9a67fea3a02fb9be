// Package signal implements the WebSocket relay that lets two call peers
// exchange WebRTC session descriptions and ICE candidates. The server never
// inspects negotiation payloads; it only enforces room membership.
package signal

import "encoding/json"

// Envelope is the single wire frame for all signaling traffic.
type Envelope struct {
	Event   string          `json:"event"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	// Client-to-server.
	EventJoinRoom = "join-room"

	// Server-to-client.
	EventJoinedRoom = "joined-room"
	EventPeerJoined = "peer-joined"
	EventPeerLeft   = "peer-left"
	EventRoomFull   = "room-full"

	// Relayed verbatim between peers.
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
)

// Role identifies which side of the call a participant drives. The first
// occupant of a room is the caller and initiates the WebRTC offer.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

type joinedPayload struct {
	Role      Role `json:"role"`
	PeerCount int  `json:"peer_count"`
}

func relayable(event string) bool {
	switch event {
	case EventOffer, EventAnswer, EventICECandidate:
		return true
	}
	return false
}
