package policy

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownPolicy = errors.New("unknown policy")

// Source is the read-only view the core consumes. Implementations may swap the underlying
// Set between calls (reload); callers must not hold on to a Set across ticks.
type Source interface {
	Current() *Set
}

// Set is an ordered, immutable policy collection.
type Set struct {
	order        []string
	byID         map[string]*SlotPolicy
	bySlot       map[int]*SlotPolicy
	enabledZones map[string]bool
}

// NewSet builds a Set. Policies are kept in the given order; a duplicate id or slot is an error.
func NewSet(policies []SlotPolicy, enabledZones []string) (*Set, error) {
	s := &Set{
		byID:         make(map[string]*SlotPolicy, len(policies)),
		bySlot:       make(map[int]*SlotPolicy, len(policies)),
		enabledZones: map[string]bool{},
	}
	for i := range policies {
		p := policies[i]
		if p.ID == "" {
			return nil, fmt.Errorf("policy[%d]: empty id", i)
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("policy %s: duplicate id", p.ID)
		}
		if other, dup := s.bySlot[p.Slot]; dup {
			return nil, fmt.Errorf("policy %s: slot %d already bound to %s", p.ID, p.Slot, other.ID)
		}
		s.order = append(s.order, p.ID)
		s.byID[p.ID] = &p
		s.bySlot[p.Slot] = &p
	}
	for _, z := range enabledZones {
		if z != "" {
			s.enabledZones[z] = true
		}
	}
	return s, nil
}

// Empty returns a Set with no policies and every zone enabled.
func Empty() *Set {
	s, _ := NewSet(nil, nil)
	return s
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

func (s *Set) Get(id string) (*SlotPolicy, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.byID[id]
	return p, ok
}

func (s *Set) BySlot(slot int) (*SlotPolicy, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.bySlot[slot]
	return p, ok
}

func (s *Set) IsGovernedSlot(slot int) bool {
	_, ok := s.BySlot(slot)
	return ok
}

// Slots returns the occupied slot indices in ascending order.
func (s *Set) Slots() []int {
	if s == nil {
		return nil
	}
	out := make([]int, 0, len(s.bySlot))
	for slot := range s.bySlot {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}

// All returns the policies in declaration order.
func (s *Set) All() []*SlotPolicy {
	if s == nil {
		return nil
	}
	out := make([]*SlotPolicy, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// ZoneEnabled reports whether enforcement is on in zone. An empty enabled set enables every zone.
func (s *Set) ZoneEnabled(zone string) bool {
	if s == nil || len(s.enabledZones) == 0 {
		return true
	}
	return s.enabledZones[zone]
}

func (s *Set) EnabledZones() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.enabledZones))
	for z := range s.enabledZones {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}

// Static is a Source that always returns the same Set.
type Static struct{ Set *Set }

func (s Static) Current() *Set { return s.Set }
