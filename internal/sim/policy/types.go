// Package policy holds the slot policies the enforcement core reads. A Set is built once per
// load and never mutated afterwards; reloads swap in a whole new Set.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// StorageSlots is the number of main-inventory slots a policy may pin (hotbar 0-8, storage 9-35).
const StorageSlots = 36

type Side int

const (
	SideLeft Side = iota + 1
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

type Executor string

const (
	ExecAsActor    Executor = "actor"
	ExecAsElevated Executor = "elevated"
)

// Cue is an optional sound played when an interaction fires.
type Cue struct {
	Sound  string
	Volume float64
	Pitch  float64
}

type InteractionSpec struct {
	Enabled  bool
	Commands []string
	Executor Executor
	Cooldown time.Duration
	Cue      *Cue
}

type Appearance struct {
	Material string
	Name     string
	Lore     []string
	ModelTag int
	Glow     bool
}

type Protection struct {
	PreventDrop      bool
	PreventMove      bool
	PreventDeath     bool
	PreventContainer bool
}

// Effect is what an attempted operation would do to a governed item.
type Effect int

const (
	EffectRemove   Effect = iota + 1 // dropped out of the container
	EffectRelocate                   // moved to another slot of the actor's own container
	EffectReplace                    // overwritten in place, or a foreign item placed in its slot
	EffectForeign                    // moved into a container the actor does not own
	EffectDeath                      // removed as death loot
	EffectPickup                     // a loose instance being picked up from the ground
)

func (e Effect) String() string {
	switch e {
	case EffectRemove:
		return "remove"
	case EffectRelocate:
		return "relocate"
	case EffectReplace:
		return "replace"
	case EffectForeign:
		return "foreign"
	case EffectDeath:
		return "death"
	case EffectPickup:
		return "pickup"
	default:
		return "unknown"
	}
}

type SlotPolicy struct {
	ID         string
	Slot       int
	Appearance Appearance
	Left       InteractionSpec
	Right      InteractionSpec
	Protection Protection
}

func (p *SlotPolicy) Interaction(side Side) InteractionSpec {
	if side == SideLeft {
		return p.Left
	}
	return p.Right
}

// Prevents maps an effect onto the protection flag that guards it.
func (p *SlotPolicy) Prevents(e Effect) bool {
	if p == nil {
		return false
	}
	switch e {
	case EffectRemove, EffectPickup:
		return p.Protection.PreventDrop
	case EffectRelocate, EffectReplace:
		return p.Protection.PreventMove
	case EffectForeign:
		return p.Protection.PreventContainer
	case EffectDeath:
		return p.Protection.PreventDeath
	default:
		return false
	}
}

// CooldownKey is the per-actor throttle key for one side of one policy.
func CooldownKey(policyID string, side Side) string {
	return policyID + "_" + side.String()
}

// Defaults returns a policy carrying the stock values for every field.
func Defaults(id string) SlotPolicy {
	return SlotPolicy{
		ID:   strings.TrimSpace(id),
		Slot: 8,
		Appearance: Appearance{
			Material: "NETHER_STAR",
			Name:     "&eFixed Item",
		},
		Left: InteractionSpec{
			Executor: ExecAsActor,
		},
		Right: InteractionSpec{
			Enabled:  true,
			Executor: ExecAsActor,
			Cooldown: 3 * time.Second,
			Cue:      &Cue{Sound: "UI_BUTTON_CLICK", Volume: 1, Pitch: 1},
		},
		Protection: Protection{
			PreventDrop:      true,
			PreventMove:      true,
			PreventDeath:     true,
			PreventContainer: true,
		},
	}
}
