// Package voice implements the signaling side of group voice calls: a
// WebSocket endpoint where each participant of a meeting announces itself,
// learns who else is in the room, and exchanges WebRTC offers, answers and
// ICE candidates with them. Audio itself flows peer to peer; this package
// only coordinates.
package voice
