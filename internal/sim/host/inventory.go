package host

import "slotkeeper.ai/internal/sim/kernel/model"

// Player inventory layout: 0-8 hotbar, 9-35 storage, 36-39 armor, 40 off-hand.
const (
	HotbarSlots    = 9
	StorageSlots   = 36
	OffHandSlot    = 40
	PlayerInvSlots = 41
)

// SlotWrite is one observed container mutation.
type SlotWrite struct {
	Slot int
	Item *model.Item
}

// Inventory is an in-memory Container. Writes store a copy so callers cannot alias slot state.
type Inventory struct {
	slots   []*model.Item
	onWrite func(SlotWrite)
}

func NewInventory(size int) *Inventory {
	if size <= 0 {
		size = PlayerInvSlots
	}
	return &Inventory{slots: make([]*model.Item, size)}
}

// OnWrite registers a hook observing every SetItem (used to mirror writes to a remote host).
func (inv *Inventory) OnWrite(fn func(SlotWrite)) { inv.onWrite = fn }

func (inv *Inventory) Size() int { return len(inv.slots) }

func (inv *Inventory) Item(slot int) *model.Item {
	if slot < 0 || slot >= len(inv.slots) {
		return nil
	}
	return inv.slots[slot]
}

func (inv *Inventory) SetItem(slot int, it *model.Item) {
	if slot < 0 || slot >= len(inv.slots) {
		return
	}
	if it.IsEmpty() {
		it = nil
	} else {
		it = it.Clone()
	}
	inv.slots[slot] = it
	if inv.onWrite != nil {
		inv.onWrite(SlotWrite{Slot: slot, Item: it.Clone()})
	}
}

// Load replaces all slots without firing the write hook (a snapshot from the host).
func (inv *Inventory) Load(items []*model.Item) {
	for i := range inv.slots {
		var it *model.Item
		if i < len(items) && !items[i].IsEmpty() {
			it = items[i].Clone()
		}
		inv.slots[i] = it
	}
}

// Snapshot returns a deep copy of every slot.
func (inv *Inventory) Snapshot() []*model.Item {
	out := make([]*model.Item, len(inv.slots))
	for i, it := range inv.slots {
		out[i] = it.Clone()
	}
	return out
}

// FirstEmpty returns the first empty storage slot not in skip, or -1.
func FirstEmpty(c Container, skip func(slot int) bool) int {
	n := c.Size()
	if n > StorageSlots {
		n = StorageSlots
	}
	for i := 0; i < n; i++ {
		if skip != nil && skip(i) {
			continue
		}
		if c.Item(i).IsEmpty() {
			return i
		}
	}
	return -1
}
