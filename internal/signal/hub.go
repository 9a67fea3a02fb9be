package signal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

var ErrRoomFull = errors.New("room already has two participants")

// Conn is the hub's view of one connected participant. *Client satisfies it;
// tests substitute an in-memory implementation.
type Conn interface {
	Deliver(env Envelope)
}

type member struct {
	conn Conn
	role Role
}

type room struct {
	members []member
}

// Hub tracks signaling rooms. A room is keyed by session token, holds at most
// two participants, and disappears when its last participant leaves. Rooms
// are created implicitly on first join.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		log:   log,
	}
}

// Join adds c to the room, assigning the caller role to the first occupant.
// The joiner receives joined-room with its role; an existing occupant
// receives peer-joined. A third joiner receives room-full and ErrRoomFull,
// leaving the established call untouched.
func (h *Hub) Join(roomID string, c Conn) (Role, error) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{}
		h.rooms[roomID] = r
	}
	if len(r.members) >= 2 {
		h.mu.Unlock()
		c.Deliver(Envelope{Event: EventRoomFull, RoomID: roomID})
		return "", ErrRoomFull
	}

	role := RoleCaller
	if len(r.members) == 1 {
		role = RoleCallee
	}
	r.members = append(r.members, member{conn: c, role: role})
	peers := peersOf(r, c)
	count := len(r.members)
	h.mu.Unlock()

	c.Deliver(Envelope{
		Event:   EventJoinedRoom,
		RoomID:  roomID,
		Payload: mustJSON(joinedPayload{Role: role, PeerCount: count}),
	})
	for _, p := range peers {
		p.Deliver(Envelope{Event: EventPeerJoined, RoomID: roomID})
	}

	h.log.Info("peer joined room",
		slog.String("room_id", roomID),
		slog.String("role", string(role)),
		slog.Int("occupancy", count))
	return role, nil
}

// Leave removes c from the room. The remaining peer, if any, is told so it
// can tear down its peer connection and wait for a rejoin. An emptied room is
// deleted, so the next joiner starts a fresh call as caller.
func (h *Hub) Leave(roomID string, c Conn) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	kept := r.members[:0]
	removed := false
	for _, m := range r.members {
		if m.conn == c {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	r.members = kept
	if len(r.members) == 0 {
		delete(h.rooms, roomID)
	}
	peers := peersOf(r, c)
	h.mu.Unlock()

	if !removed {
		return
	}
	for _, p := range peers {
		p.Deliver(Envelope{Event: EventPeerLeft, RoomID: roomID})
	}
	h.log.Info("peer left room", slog.String("room_id", roomID))
}

// Relay forwards a negotiation frame to every room member except the sender.
// Unknown rooms and non-members drop the frame silently.
func (h *Hub) Relay(roomID string, from Conn, env Envelope) {
	if !relayable(env.Event) {
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok || !isMember(r, from) {
		h.mu.Unlock()
		return
	}
	peers := peersOf(r, from)
	h.mu.Unlock()

	env.RoomID = roomID
	for _, p := range peers {
		p.Deliver(env)
	}
}

// Occupancy reports the current member count of a room.
func (h *Hub) Occupancy(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return 0
	}
	return len(r.members)
}

func peersOf(r *room, except Conn) []Conn {
	var out []Conn
	for _, m := range r.members {
		if m.conn != except {
			out = append(out, m.conn)
		}
	}
	return out
}

func isMember(r *room, c Conn) bool {
	for _, m := range r.members {
		if m.conn == c {
			return true
		}
	}
	return false
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
