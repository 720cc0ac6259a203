// Package room implements the relay's in-memory room registry: named rooms
// with capacity-bounded membership, point-to-point signal routing, and
// presence/reaction fan-out.
//
// All state is process-local and ephemeral. A room exists in the registry
// exactly while it has at least one participant.
package room

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/protocol"
)

var (
	// ErrRoomFull rejects a join against a room at capacity. No state changes.
	ErrRoomFull = errors.New("room full")

	// ErrDuplicateUser rejects a join whose userId is already live in the
	// room. userIds are client-generated and trusted to be unique; a collision
	// is a client bug and must not displace the existing participant's session.
	ErrDuplicateUser = errors.New("user already in room")
)

// Registry is the process-wide mapping from room identifier to room state.
//
// The registry's own mutex guards only the map: room membership operations
// take the per-room lock, so traffic in different rooms never contends.
type Registry struct {
	capacity int
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*room
}

func NewRegistry(capacity int, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		capacity: capacity,
		log:      logger,
		metrics:  m,
		rooms:    make(map[string]*room),
	}
}

// Capacity returns the per-room participant limit.
func (reg *Registry) Capacity() int {
	return reg.capacity
}

// Join admits a participant into roomID, creating the room if needed.
//
// The capacity check, the snapshot the joiner receives, and the insert are
// one atomic step per room: two concurrent joins can never both win the last
// slot, and the snapshot never includes the joiner. On success the room's
// prior members each receive one user-connected event.
func (reg *Registry) Join(roomID, userID, userName string, s Sender) error {
	for {
		rm, created := reg.getOrCreate(roomID)
		if created {
			reg.metrics.RoomsCreatedTotal.Inc()
			reg.metrics.RoomsActive.Inc()
			reg.log.Debug("room created", "room", roomID)
		}

		peers, ok, err := rm.join(reg.capacity, userID, userName, s)
		if !ok {
			// Lost a race with the room's removal; resolve a fresh room.
			continue
		}
		if err != nil {
			reason := metrics.ReasonRoomFull
			if errors.Is(err, ErrDuplicateUser) {
				reason = metrics.ReasonDuplicateUser
			}
			reg.metrics.JoinRejectedTotal.WithLabelValues(reason).Inc()
			return err
		}

		reg.metrics.JoinsTotal.Inc()
		reg.log.Debug("participant joined", "room", roomID, "user", userID)

		ev := protocol.UserConnected(userID, userName)
		for _, peer := range peers {
			peer.TrySend(ev)
		}
		reg.metrics.PresenceEventsTotal.WithLabelValues("user_connected").Add(float64(len(peers)))
		return nil
	}
}

// Leave removes the participant from roomID and, when it removed a live
// participant, broadcasts user-disconnected to the remaining members. The
// room is dropped from the registry the moment it empties.
//
// Leave is a no-op when the room or participant is already gone, so the
// disconnect reaper and an explicit leave can race without producing a
// duplicate broadcast.
func (reg *Registry) Leave(roomID, userID string) bool {
	rm, exists := reg.lookup(roomID)
	if !exists {
		return false
	}

	removed, peers, empty := rm.leave(userID)
	if !removed {
		return false
	}

	reg.log.Debug("participant left", "room", roomID, "user", userID)

	if empty {
		reg.remove(rm)
	}

	ev := protocol.UserDisconnected(userID)
	for _, peer := range peers {
		peer.TrySend(ev)
	}
	reg.metrics.PresenceEventsTotal.WithLabelValues("user_disconnected").Add(float64(len(peers)))
	return true
}

// Route forwards an opaque negotiation payload to exactly recipientID within
// roomID. A missing room or recipient means the payload is stale; it is
// dropped silently and never surfaced to the sender.
func (reg *Registry) Route(roomID, senderID, recipientID string, signal json.RawMessage) {
	rm, exists := reg.lookup(roomID)
	if !exists {
		reg.metrics.SignalsDroppedTotal.WithLabelValues(metrics.ReasonUnknownRoom).Inc()
		return
	}

	recipient, found := rm.find(recipientID)
	if !found {
		reg.metrics.SignalsDroppedTotal.WithLabelValues(metrics.ReasonStaleRecipient).Inc()
		reg.log.Debug("signal dropped", "room", roomID, "from", senderID, "to", recipientID)
		return
	}

	if recipient.TrySend(protocol.UserSignal(senderID, signal)) {
		reg.metrics.SignalsForwardedTotal.Inc()
	} else {
		reg.metrics.SignalsDroppedTotal.WithLabelValues(metrics.ReasonQueueFull).Inc()
	}
}

// Relay fans a reaction out to every member of roomID except the sender.
func (reg *Registry) Relay(roomID, senderID, emoji string) {
	rm, exists := reg.lookup(roomID)
	if !exists {
		return
	}

	ev := protocol.ReceiveEmoji(senderID, emoji)
	for _, peer := range rm.others(senderID) {
		peer.TrySend(ev)
	}
	reg.metrics.ReactionsRelayedTotal.Inc()
}

// RoomCount returns the number of rooms currently registered.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Members returns the current member list of roomID (nil if absent).
func (reg *Registry) Members(roomID string) []Member {
	rm, exists := reg.lookup(roomID)
	if !exists {
		return nil
	}
	return rm.memberList()
}

func (reg *Registry) getOrCreate(roomID string) (*room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, exists := reg.rooms[roomID]
	if exists {
		return rm, false
	}
	rm = newRoom(roomID)
	reg.rooms[roomID] = rm
	return rm, true
}

func (reg *Registry) lookup(roomID string) (*room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, exists := reg.rooms[roomID]
	return rm, exists
}

// remove drops rm from the registry once it is confirmed empty. The room is
// marked closed under both locks so a join holding a stale pointer retries
// instead of inserting into an orphaned room.
func (reg *Registry) remove(rm *room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm.mu.Lock()
	stillEmpty := len(rm.members) == 0 && !rm.closed
	if stillEmpty {
		rm.closed = true
	}
	rm.mu.Unlock()

	if !stillEmpty {
		return
	}
	delete(reg.rooms, rm.id)
	reg.metrics.RoomsDestroyedTotal.Inc()
	reg.metrics.RoomsActive.Dec()
	reg.log.Debug("room destroyed", "room", rm.id)
}
