package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/meeting"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/metrics"
)

// ErrServerFull is returned by Register when the connection cap is reached.
var ErrServerFull = errors.New("connection limit reached")

// Sender is the transport half of a connection as the hub sees it. Send must
// not block; a slow consumer is the transport's problem, not the hub's.
type Sender interface {
	Send(msg Message)
	Close()
}

// Hub is the room coordinator. It owns the room registry and the
// connection-to-peer index, validates joins against the meeting service, and
// fans signaling and room events out to connections.
//
// Each connection feeds the hub from its own read loop, so events from one
// connection arrive in order; cross-connection ordering is settled by the
// registry and index locks.
type Hub struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	validator meeting.Validator
	rooms     *RoomRegistry
	index     *ConnPeerIndex

	maxConns int

	mu    sync.Mutex
	conns map[ConnID]Sender
}

// HubConfig configures a Hub. Validator is required; MaxConns <= 0 means
// unlimited.
type HubConfig struct {
	Log       *slog.Logger
	Metrics   *metrics.Metrics
	Validator meeting.Validator
	MaxConns  int
}

func NewHub(cfg HubConfig) *Hub {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		metrics:   cfg.Metrics,
		validator: cfg.Validator,
		rooms:     NewRoomRegistry(),
		index:     NewConnPeerIndex(),
		maxConns:  cfg.MaxConns,
		conns:     make(map[ConnID]Sender),
	}
}

// Register adds a freshly accepted connection. The count check and the insert
// are atomic so a burst of accepts cannot exceed the cap.
func (h *Hub) Register(conn ConnID, s Sender) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxConns > 0 && len(h.conns) >= h.maxConns {
		h.metrics.Inc(metrics.ConnectionsRejected)
		return ErrServerFull
	}
	h.conns[conn] = s
	return nil
}

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	return h.rooms.RoomCount()
}

// AtCapacity reports whether Register would currently refuse a connection.
func (h *Hub) AtCapacity() bool {
	if h.maxConns <= 0 {
		return false
	}
	return h.ConnCount() >= h.maxConns
}

func (h *Hub) sender(conn ConnID) (Sender, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.conns[conn]
	return s, ok
}

func (h *Hub) sendTo(conn ConnID, msg Message) bool {
	s, ok := h.sender(conn)
	if !ok {
		return false
	}
	s.Send(msg)
	return true
}

func (h *Hub) sendError(conn ConnID, text string) {
	h.sendTo(conn, NewMessage(EventVoiceError, VoiceError{Message: text}))
}

// broadcast delivers msg to every member except the excluded connection.
// Delivery is best effort: members whose connection vanished mid-fanout are
// skipped.
func (h *Hub) broadcast(members []Member, exclude ConnID, msg Message) {
	for _, m := range members {
		if m.Conn == exclude {
			continue
		}
		h.sendTo(m.Conn, msg)
	}
}

// HandleJoin processes a join-voice-room request from conn. The meeting
// lookup runs before any state is touched, so a slow or failing meeting
// service never holds hub locks.
func (h *Hub) HandleJoin(ctx context.Context, conn ConnID, req JoinRequest) {
	log := h.log.With("conn", conn, "meeting", req.MeetingID, "peer", req.PeerID)

	if req.MeetingID == "" || req.PeerID == "" {
		log.Warn("join rejected: missing meetingId or peerId")
		h.metrics.Inc(metrics.JoinInternalError)
		h.sendError(conn, MsgInternalError)
		return
	}

	active, err := h.validator.IsActive(ctx, req.MeetingID)
	if err != nil {
		log.Error("meeting lookup failed", "err", err)
		h.metrics.Inc(metrics.JoinInternalError)
		h.sendError(conn, MsgInternalError)
		return
	}
	if !active {
		log.Info("join rejected: meeting not active")
		h.metrics.Inc(metrics.JoinRejectedInactive)
		h.sendError(conn, MsgMeetingNotFound)
		return
	}

	// Bind first: a connection already carrying a peer must not join again.
	if err := h.index.Bind(conn, PeerID(req.PeerID)); err != nil {
		log.Warn("join rejected: connection already bound")
		h.metrics.Inc(metrics.JoinRejectedDuplicate)
		h.sendError(conn, MsgInternalError)
		return
	}

	member := Member{Peer: PeerID(req.PeerID), Conn: conn, DisplayName: req.UserID}
	existing, err := h.rooms.Join(MeetingID(req.MeetingID), member)
	if err != nil {
		h.index.Unbind(conn)
		switch {
		case errors.Is(err, ErrRoomFull):
			log.Info("join rejected: room full")
			h.metrics.Inc(metrics.JoinRejectedFull)
			h.sendError(conn, MsgMeetingFull)
		default:
			log.Warn("join rejected", "err", err)
			h.metrics.Inc(metrics.JoinInternalError)
			h.sendError(conn, MsgInternalError)
		}
		return
	}

	h.metrics.Inc(metrics.VoiceJoins)
	log.Info("peer joined voice room", "existing_peers", len(existing))

	peers := make([]string, 0, len(existing))
	participants := make([]Participant, 0, len(existing))
	for _, m := range existing {
		peers = append(peers, string(m.Peer))
		participants = append(participants, Participant{
			SocketID:    string(m.Conn),
			PeerID:      string(m.Peer),
			DisplayName: m.DisplayName,
		})
	}
	h.sendTo(conn, NewMessage(EventVoiceJoined, VoiceJoined{Peers: peers, MeetingID: req.MeetingID}))
	h.sendTo(conn, NewMessage(EventRoomParticipants, RoomParticipants{Participants: participants}))

	h.broadcast(existing, conn, NewMessage(EventPeerJoined, PeerJoined{PeerID: req.PeerID}))
	h.broadcast(existing, conn, NewMessage(EventParticipantJoined, Participant{
		SocketID:    string(conn),
		PeerID:      req.PeerID,
		DisplayName: req.UserID,
	}))
}

// HandleLeave processes an explicit leave-voice-room. The leave is resolved
// through the sender's own binding, so a connection can only ever remove
// itself no matter what peer id the payload claims. Leaving a room the peer
// is not in is a no-op, which also makes leave followed by disconnect emit a
// single peer-disconnected.
func (h *Hub) HandleLeave(conn ConnID, req LeaveRequest) {
	bound, ok := h.index.PeerOf(conn)
	if !ok || bound != PeerID(req.PeerID) {
		h.log.Warn("leave ignored: peer not bound to this connection", "conn", conn, "meeting", req.MeetingID, "peer", req.PeerID)
		return
	}
	remaining, removed := h.rooms.Leave(MeetingID(req.MeetingID), bound)
	if !removed {
		return
	}
	h.index.Unbind(conn)
	h.metrics.Inc(metrics.VoiceLeaves)
	h.log.Info("peer left voice room", "conn", conn, "meeting", req.MeetingID, "peer", req.PeerID)
	h.broadcast(remaining, conn, NewMessage(EventPeerDisconnected, PeerDisconnected{PeerID: req.PeerID}))
}

// HandleEndMeeting tells every member of the room to disconnect. Room state
// is not cleared here; each client's own disconnect tears its membership down.
func (h *Hub) HandleEndMeeting(conn ConnID, req EndMeetingRequest) {
	members := h.rooms.MembersOf(MeetingID(req.MeetingID))
	if len(members) == 0 {
		return
	}
	h.metrics.Inc(metrics.MeetingsEnded)
	h.log.Info("meeting ended", "conn", conn, "meeting", req.MeetingID, "members", len(members))
	msg := NewMessage(EventForceDisconnect, nil)
	for _, m := range members {
		h.sendTo(m.Conn, msg)
	}
}

// HandleSignal forwards a WebRTC signaling frame to its target connection,
// replacing the target address with the sender's. The signaling body is
// passed through untouched. A missing target is dropped silently; the target
// may simply have disconnected moments ago.
func (h *Hub) HandleSignal(conn ConnID, event Event, data json.RawMessage) {
	var env SignalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.log.Warn("malformed signaling payload", "conn", conn, "event", event, "err", err)
		return
	}
	if env.TargetSocketID == "" {
		h.log.Warn("signaling payload has no target", "conn", conn, "event", event)
		return
	}
	target := ConnID(env.TargetSocketID)
	env.TargetSocketID = ""
	env.SenderSocketID = string(conn)
	if !h.sendTo(target, NewMessage(event, env)) {
		h.metrics.Inc(metrics.SignalsDroppedNoTarget)
		h.log.Debug("signal dropped: unknown target", "conn", conn, "event", event, "target", target)
		return
	}
	h.metrics.Inc(metrics.SignalsRelayed)
}

// HandleMediaState rebroadcasts the sender's media state to the rest of its
// room.
func (h *Hub) HandleMediaState(conn ConnID, req MediaStateChange) {
	members := h.rooms.MembersOf(MeetingID(req.RoomID))
	h.broadcast(members, conn, NewMessage(EventMediaStateChanged, MediaStateChanged{
		SocketID:       string(conn),
		IsAudioEnabled: req.IsAudioEnabled,
		IsVideoEnabled: req.IsVideoEnabled,
	}))
}

// HandleDisconnect tears down everything the connection owned. It is safe to
// call more than once and safe to call for connections that never joined a
// room. The room sweep covers every room the peer appears in, so state cannot
// leak even if it somehow diverged from the one-room invariant.
func (h *Hub) HandleDisconnect(conn ConnID) {
	h.mu.Lock()
	_, registered := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	peer, bound := h.index.Unbind(conn)
	if !bound {
		return
	}
	if registered {
		h.metrics.Inc(metrics.DisconnectCleanups)
	}
	for _, meetingID := range h.rooms.RoomsOf(peer) {
		remaining, removed := h.rooms.Leave(meetingID, peer)
		if !removed {
			continue
		}
		h.log.Info("peer disconnected from voice room", "conn", conn, "meeting", meetingID, "peer", peer)
		h.broadcast(remaining, conn, NewMessage(EventPeerDisconnected, PeerDisconnected{PeerID: string(peer)}))
	}
}

// Dispatch routes a parsed client message to its handler. Unknown events are
// logged and ignored so old servers tolerate newer clients.
func (h *Hub) Dispatch(ctx context.Context, conn ConnID, msg Message) {
	switch msg.Event {
	case EventJoinVoiceRoom:
		var req JoinRequest
		if !h.decode(conn, msg, &req) {
			return
		}
		h.HandleJoin(ctx, conn, req)
	case EventLeaveVoiceRoom:
		var req LeaveRequest
		if !h.decode(conn, msg, &req) {
			return
		}
		h.HandleLeave(conn, req)
	case EventEndMeeting:
		var req EndMeetingRequest
		if !h.decode(conn, msg, &req) {
			return
		}
		h.HandleEndMeeting(conn, req)
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCCandidate:
		h.HandleSignal(conn, msg.Event, msg.Data)
	case EventMediaStateChange:
		var req MediaStateChange
		if !h.decode(conn, msg, &req) {
			return
		}
		h.HandleMediaState(conn, req)
	default:
		h.log.Warn("unknown event", "conn", conn, "event", msg.Event)
	}
}

func (h *Hub) decode(conn ConnID, msg Message, out any) bool {
	if err := json.Unmarshal(msg.Data, out); err != nil {
		h.log.Warn("malformed payload", "conn", conn, "event", msg.Event, "err", err)
		h.sendError(conn, MsgInternalError)
		return false
	}
	return true
}

// CloseAll closes every registered connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	senders := make([]Sender, 0, len(h.conns))
	for _, s := range h.conns {
		senders = append(senders, s)
	}
	h.mu.Unlock()
	for _, s := range senders {
		s.Close()
	}
}
