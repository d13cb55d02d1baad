package protect

import (
	"fmt"

	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/kernel/model"
)

type OpKind int

const (
	OpDrop OpKind = iota + 1
	OpClick
	OpDrag
	OpCreative
	OpSwapHands
	OpTransfer
	OpPickup
	OpDeath
	OpClose
	OpHeldChange
	OpModeChange
	OpTeleport
)

var opNames = map[OpKind]string{
	OpDrop:       "drop",
	OpClick:      "click",
	OpDrag:       "drag",
	OpCreative:   "creative",
	OpSwapHands:  "swap_hands",
	OpTransfer:   "transfer",
	OpPickup:     "pickup",
	OpDeath:      "death",
	OpClose:      "close",
	OpHeldChange: "held_change",
	OpModeChange: "mode_change",
	OpTeleport:   "teleport",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// ParseOpKind maps a wire name back to its kind.
func ParseOpKind(s string) (OpKind, bool) {
	for k, name := range opNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

type ClickKind int

const (
	ClickPlain ClickKind = iota
	ClickShift
	ClickNumberKey
)

// Op is one attempted container mutation, as reported by the host before it happens.
// Only the fields relevant to Kind are read.
type Op struct {
	Kind  OpKind
	Actor host.Actor

	// Item is the subject: the dropped stack, the main-hand stack for a hand swap,
	// the moving stack for a transfer, the loose stack for a pickup.
	Item *model.Item
	// Other is the off-hand stack for a hand swap.
	Other *model.Item

	// Click, drag and creative fields. Slot is the actor-container slot acted on; it is
	// ignored when Foreign is set (the slot belongs to another container).
	Click        ClickKind
	Slot         int
	Foreign      bool
	ViewForeign  bool
	Current      *model.Item
	Cursor       *model.Item
	HotbarButton int

	// Slots are the actor-container slots a drag spreads over; DragForeign marks a drag
	// that also touched another container.
	Slots       []int
	DragForeign bool

	Drops []*model.Item

	FromZone string
	ToZone   string

	Entity host.Entity
}
