// Package host describes the externally owned things the enforcement core borrows: actors,
// their containers, the world that receives ejected items, and the elevated command principal.
package host

import (
	"github.com/google/uuid"

	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/policy"
)

// Container is an indexable, mutable sequence of item-or-empty slots.
type Container interface {
	Size() int
	Item(slot int) *model.Item
	SetItem(slot int, it *model.Item)
}

// Actor is the owner of a container.
type Actor interface {
	ID() uuid.UUID
	Name() string
	Online() bool
	Zone() string
	Location() model.Location
	Inventory() Container
	HeldSlot() int

	SendMessage(msg string)
	PlaySound(cue policy.Cue)
	// PerformCommand runs a command as this actor.
	PerformCommand(cmd string) error
	HasPermission(perm string) bool
}

// World receives items ejected at a location.
type World interface {
	DropNaturally(loc model.Location, it *model.Item)
}

// Dispatcher runs commands as the elevated (console) principal.
type Dispatcher interface {
	Dispatch(cmd string) error
}

// Entity is a loose item lying in the world.
type Entity interface {
	Remove()
}

// Directory lists actors by id and name.
type Directory interface {
	Active() []Actor
	Lookup(name string) (Actor, bool)
}
