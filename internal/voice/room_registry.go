package voice

import (
	"errors"
	"sort"
	"sync"
)

// MaxRoomSize is the hard participant cap per room.
const MaxRoomSize = 10

var (
	// ErrRoomFull is returned by Join when the room already holds MaxRoomSize peers.
	ErrRoomFull = errors.New("room full")

	// ErrPeerAlreadyJoined is returned by Join when the peer id is already a
	// member of the room.
	ErrPeerAlreadyJoined = errors.New("peer already joined")
)

// Member is a room entry: the peer identity together with the connection
// currently carrying it and the display name announced at join time.
type Member struct {
	Peer        PeerID
	Conn        ConnID
	DisplayName string
}

// RoomRegistry tracks which peers are in which room. Rooms are created lazily
// on first successful join and removed when the last member leaves; an absent
// room and an empty room are indistinguishable.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[MeetingID]map[PeerID]Member
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[MeetingID]map[PeerID]Member)}
}

// Join inserts the peer into the room, creating the room if needed, and
// returns the members present before insertion. The capacity check and the
// insertion are a single atomic step: concurrent joins can never push a room
// past MaxRoomSize.
func (r *RoomRegistry) Join(meeting MeetingID, m Member) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[meeting]
	if room == nil {
		room = make(map[PeerID]Member)
		r.rooms[meeting] = room
	} else {
		if _, dup := room[m.Peer]; dup {
			return nil, ErrPeerAlreadyJoined
		}
		if len(room) >= MaxRoomSize {
			return nil, ErrRoomFull
		}
	}
	existing := sortedMembers(room)
	room[m.Peer] = m
	return existing, nil
}

// Leave removes the peer from the room and reports whether it was actually a
// member. The remaining members are returned so callers can notify them.
// Leaving a room one is not in, or a room that does not exist, is a no-op.
func (r *RoomRegistry) Leave(meeting MeetingID, peer PeerID) (remaining []Member, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[meeting]
	if room == nil {
		return nil, false
	}
	if _, ok := room[peer]; !ok {
		return nil, false
	}
	delete(room, peer)
	if len(room) == 0 {
		delete(r.rooms, meeting)
		return nil, true
	}
	return sortedMembers(room), true
}

// MembersOf returns a snapshot of the room's members, sorted by peer id.
func (r *RoomRegistry) MembersOf(meeting MeetingID) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedMembers(r.rooms[meeting])
}

// RoomsOf returns every meeting the peer currently appears in. Under normal
// operation a peer is in at most one room; disconnect cleanup still sweeps
// all of them so stray state cannot outlive its connection.
func (r *RoomRegistry) RoomsOf(peer PeerID) []MeetingID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MeetingID
	for meeting, room := range r.rooms {
		if _, ok := room[peer]; ok {
			out = append(out, meeting)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoomCount returns the number of live rooms.
func (r *RoomRegistry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func sortedMembers(room map[PeerID]Member) []Member {
	if len(room) == 0 {
		return nil
	}
	out := make([]Member, 0, len(room))
	for _, m := range room {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}
