// Package audit records what the enforcement core did to an actor's container.
package audit

import "sync"

const (
	ActionVeto     = "VETO"
	ActionRestore  = "RESTORE"
	ActionRelocate = "RELOCATE"
	ActionEject    = "EJECT"
	ActionStrip    = "STRIP"
	ActionDestroy  = "DESTROY"
	ActionTrigger  = "TRIGGER"
	ActionThrottle = "THROTTLE"
	ActionReload   = "RELOAD"
)

type Entry struct {
	Tick     uint64 `json:"tick"`
	Actor    string `json:"actor,omitempty"`
	Name     string `json:"name,omitempty"`
	Action   string `json:"action"`
	PolicyID string `json:"policy_id,omitempty"`
	Slot     int    `json:"slot"`
	Op       string `json:"op,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type Sink interface {
	Write(e Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Write(Entry) error { return nil }

// Multi writes to every sink, keeping the first error.
type Multi []Sink

func (m Multi) Write(e Entry) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Memory keeps entries in order; used by tests and the admin status view.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Write(e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Actions returns the action column, in order.
func (m *Memory) Actions() []string {
	var out []string
	for _, e := range m.Entries() {
		out = append(out, e.Action)
	}
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}
