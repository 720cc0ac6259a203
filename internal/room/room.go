package room

import (
	"sync"

	"github.com/roomrelay/roomrelay/internal/protocol"
)

// Sender is the outbound half of one participant's connection.
//
// TrySend must enqueue and return immediately; it reports false when the
// event was dropped (queue full or connection closed). Implementations must
// never block, so it is safe to call while a room lock is held.
type Sender interface {
	TrySend(msg protocol.ServerMessage) bool
}

// Member is a participant's public identity within a room.
type Member struct {
	ID   string
	Name string
}

type participant struct {
	id     string
	name   string
	sender Sender
}

// room holds one room's participant set. The mutex is the room's unit of
// synchronization: every membership read or mutation happens under it, and
// nothing slow ever does.
type room struct {
	id string

	mu sync.Mutex
	// closed is set when the registry removes the room. A join that raced the
	// removal observes it and re-resolves the room through the registry.
	closed  bool
	members map[string]*participant
}

func newRoom(id string) *room {
	return &room{id: id, members: make(map[string]*participant)}
}

// join atomically checks capacity, captures the pre-insert snapshot, inserts
// the participant, and enqueues the snapshot to the joiner. The returned
// peer senders are for the caller's user-connected broadcast, taken in the
// same critical section so the recipient set matches the snapshot.
//
// ok is false when the room has been removed from the registry; the caller
// must re-resolve and retry.
func (r *room) join(capacity int, userID, userName string, s Sender) (peers []Sender, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, nil
	}
	if _, exists := r.members[userID]; exists {
		return nil, true, ErrDuplicateUser
	}
	if len(r.members) >= capacity {
		return nil, true, ErrRoomFull
	}

	snapshot := make([]protocol.User, 0, len(r.members))
	peers = make([]Sender, 0, len(r.members))
	for _, p := range r.members {
		snapshot = append(snapshot, protocol.User{ID: p.id, Name: p.name})
		peers = append(peers, p.sender)
	}

	r.members[userID] = &participant{id: userID, name: userName, sender: s}

	// Enqueue the snapshot before releasing the lock so no later join's
	// user-connected can be ordered ahead of it on the joiner's queue.
	s.TrySend(protocol.RoomUsers(snapshot))

	return peers, true, nil
}

// leave removes userID if present. It reports whether a live participant was
// removed, the remaining peer senders for the departure broadcast, and
// whether the room is now empty.
func (r *room) leave(userID string) (removed bool, peers []Sender, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[userID]; !exists {
		return false, nil, len(r.members) == 0
	}
	delete(r.members, userID)

	peers = make([]Sender, 0, len(r.members))
	for _, p := range r.members {
		peers = append(peers, p.sender)
	}
	return true, peers, len(r.members) == 0
}

// find returns the sender for userID, if present.
func (r *room) find(userID string) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.members[userID]
	if !exists {
		return nil, false
	}
	return p.sender, true
}

// others returns the senders of every member except exceptID.
func (r *room) others(exceptID string) []Sender {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]Sender, 0, len(r.members))
	for _, p := range r.members {
		if p.id == exceptID {
			continue
		}
		peers = append(peers, p.sender)
	}
	return peers
}

func (r *room) memberList() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, Member{ID: p.id, Name: p.name})
	}
	return out
}
