package metrics

import "sync"

// Counter names used across the relay. Kept as plain strings so new call
// sites don't need a registry change.
const (
	VoiceJoins             = "voice_joins"
	VoiceLeaves            = "voice_leaves"
	JoinRejectedInactive   = "join_rejected_meeting_inactive"
	JoinRejectedFull       = "join_rejected_room_full"
	JoinRejectedDuplicate  = "join_rejected_duplicate_binding"
	JoinInternalError      = "join_internal_error"
	SignalsRelayed         = "signals_relayed"
	SignalsDroppedNoTarget = "signals_dropped_no_target"
	DisconnectCleanups     = "disconnect_cleanups"
	MeetingsEnded          = "meetings_ended"
	AuthFailure            = "auth_failure"
	DropReasonRateLimited  = "rate_limited"
	ConnectionsRejected    = "connections_rejected"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to be scraped via the Prometheus text handler in this
// package; keeping the registry in-process keeps the coordinator logic
// directly testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
