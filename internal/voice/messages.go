package voice

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried on the wire. Inbound events come from clients; outbound
// events are emitted by the relay. The names and payload field names are a
// compatibility contract with deployed clients and must not change.
type Event string

const (
	// Inbound.
	EventAuth             Event = "auth"
	EventJoinVoiceRoom    Event = "join-voice-room"
	EventLeaveVoiceRoom   Event = "leave-voice-room"
	EventEndMeeting       Event = "end-meeting"
	EventWebRTCOffer      Event = "webrtc-offer"
	EventWebRTCAnswer     Event = "webrtc-answer"
	EventWebRTCCandidate  Event = "ice-candidate"
	EventMediaStateChange Event = "media-state-change"

	// Outbound.
	EventConnected         Event = "connected"
	EventVoiceJoined       Event = "voice-joined"
	EventRoomParticipants  Event = "room-participants"
	EventPeerJoined        Event = "peer-joined"
	EventParticipantJoined Event = "participant-joined"
	EventPeerDisconnected  Event = "peer-disconnected"
	EventForceDisconnect   Event = "force-disconnect"
	EventMediaStateChanged Event = "media-state-changed"
	EventVoiceError        Event = "voice-error"
)

// Client-facing error messages. These strings are part of the wire contract.
const (
	MsgMeetingNotFound = "Meeting not found or inactive"
	MsgMeetingFull     = "Meeting full (maximum 10 users)"
	MsgInternalError   = "Internal server error"
)

// Message is the wire envelope. Data holds the event-specific payload and is
// left raw on the inbound path so relayed signaling bodies pass through
// untouched.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseMessage decodes an envelope and rejects frames without an event name.
func ParseMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	if m.Event == "" {
		return Message{}, errors.New("message has no event")
	}
	return m, nil
}

// NewMessage builds an outbound envelope, marshalling the payload. Payload
// types here are all known to marshal; an error would indicate a programming
// bug, so it panics rather than returning one.
func NewMessage(event Event, payload any) Message {
	if payload == nil {
		return Message{Event: event}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("voice: marshal %s payload: %v", event, err))
	}
	return Message{Event: event, Data: data}
}

// AuthRequest carries credentials for in-band authentication, used when the
// client could not put them in the handshake query string.
type AuthRequest struct {
	Token  string `json:"token,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

// JoinRequest asks to join a meeting's voice room.
type JoinRequest struct {
	MeetingID string `json:"meetingId"`
	PeerID    string `json:"peerId"`
	UserID    string `json:"userId,omitempty"`
}

// LeaveRequest leaves a meeting's voice room.
type LeaveRequest struct {
	MeetingID string `json:"meetingId"`
	PeerID    string `json:"peerId"`
}

// EndMeetingRequest asks every member of the room to disconnect.
type EndMeetingRequest struct {
	MeetingID string `json:"meetingId"`
}

// SignalEnvelope is the shared shape of the three WebRTC signaling events.
// Exactly one of Offer, Answer or Candidate is set depending on the event;
// its contents are opaque to the relay and forwarded byte for byte. Inbound
// frames carry TargetSocketID; the relay strips it and stamps SenderSocketID
// on the way out.
type SignalEnvelope struct {
	TargetSocketID string          `json:"targetSocketId,omitempty"`
	SenderSocketID string          `json:"senderSocketId,omitempty"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// MediaStateChange announces the sender's local mute/camera state.
type MediaStateChange struct {
	RoomID         string `json:"roomId"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

// ConnectedPayload tells a freshly accepted client its own socket id, which
// peers will later use to address signaling at it.
type ConnectedPayload struct {
	SocketID string `json:"socketId"`
}

// VoiceJoined is the join acknowledgement: the peers already present and the
// meeting joined.
type VoiceJoined struct {
	Peers     []string `json:"peers"`
	MeetingID string   `json:"meetingId"`
}

// Participant is a room member as seen by other clients.
type Participant struct {
	SocketID    string `json:"socketId"`
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName,omitempty"`
}

// RoomParticipants is the richer join acknowledgement carrying socket ids and
// display names for the members already present.
type RoomParticipants struct {
	Participants []Participant `json:"participants"`
}

// PeerJoined announces a new member to the rest of the room.
type PeerJoined struct {
	PeerID string `json:"peerId"`
}

// PeerDisconnected announces a departed member to the rest of the room.
type PeerDisconnected struct {
	PeerID string `json:"peerId"`
}

// MediaStateChanged is the broadcast form of MediaStateChange, attributed to
// the sender's socket.
type MediaStateChanged struct {
	SocketID       string `json:"socketId"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

// VoiceError reports a failed operation to the client that attempted it.
type VoiceError struct {
	Message string `json:"message"`
}
