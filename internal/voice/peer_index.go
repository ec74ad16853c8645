package voice

import (
	"errors"
	"sync"
)

// ErrAlreadyBound is returned by Bind when the connection already carries a
// peer identity. A connection binds at most once; a second join on the same
// socket is a client logic error, not a rebind.
var ErrAlreadyBound = errors.New("connection already bound to a peer")

// ConnPeerIndex maps live connections to the peer identity they announced at
// join time. It is the authority for "who is this socket": disconnect cleanup
// and relay attribution both run through it.
type ConnPeerIndex struct {
	mu    sync.Mutex
	peers map[ConnID]PeerID
}

func NewConnPeerIndex() *ConnPeerIndex {
	return &ConnPeerIndex{peers: make(map[ConnID]PeerID)}
}

// Bind records the connection's peer identity. It fails if the connection is
// already bound, leaving the existing binding untouched.
func (x *ConnPeerIndex) Bind(conn ConnID, peer PeerID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.peers[conn]; ok {
		return ErrAlreadyBound
	}
	x.peers[conn] = peer
	return nil
}

// Unbind removes the connection's binding and returns the peer it carried.
// Unbinding an unbound connection is a no-op.
func (x *ConnPeerIndex) Unbind(conn ConnID) (PeerID, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	peer, ok := x.peers[conn]
	if ok {
		delete(x.peers, conn)
	}
	return peer, ok
}

// PeerOf returns the peer bound to the connection, if any.
func (x *ConnPeerIndex) PeerOf(conn ConnID) (PeerID, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	peer, ok := x.peers[conn]
	return peer, ok
}

// Len returns the number of bound connections.
func (x *ConnPeerIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.peers)
}
