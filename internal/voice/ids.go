package voice

// ConnID identifies a live transport connection. It is assigned by the server
// and dies with the socket.
type ConnID string

// PeerID is the logical participant identity supplied by the client at join
// time. It is distinct from the connection carrying it; the two are related
// only through an explicit binding.
type PeerID string

// MeetingID keys a room. Meetings themselves are owned by the external
// meeting-management service.
type MeetingID string
