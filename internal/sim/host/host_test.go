package host

import (
	"testing"

	"github.com/google/uuid"

	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/policy"
)

func TestInventory_SetItemCopiesAndNotifies(t *testing.T) {
	inv := NewInventory(0)
	if inv.Size() != PlayerInvSlots {
		t.Fatalf("size=%d", inv.Size())
	}
	var seen []SlotWrite
	inv.OnWrite(func(w SlotWrite) { seen = append(seen, w) })

	it := model.NewItem("stone", 3)
	inv.SetItem(4, it)
	it.Count = 64
	if got := inv.Item(4).Count; got != 3 {
		t.Fatalf("aliased slot state: count=%d", got)
	}
	inv.SetItem(4, model.NewItem(model.AirMaterial, 1))
	if inv.Item(4) != nil {
		t.Fatalf("air should clear the slot")
	}
	if len(seen) != 2 || seen[0].Slot != 4 || seen[1].Item != nil {
		t.Fatalf("writes=%+v", seen)
	}
	inv.SetItem(99, it)
	if inv.Item(99) != nil || len(seen) != 2 {
		t.Fatalf("out of range write should be ignored")
	}
}

func TestFirstEmpty_SkipsAndBounds(t *testing.T) {
	inv := NewInventory(PlayerInvSlots)
	for i := 0; i < StorageSlots; i++ {
		if i == 8 || i == 20 {
			continue
		}
		inv.SetItem(i, model.NewItem("dirt", 1))
	}
	if got := FirstEmpty(inv, func(s int) bool { return s == 8 }); got != 20 {
		t.Fatalf("first empty=%d want 20", got)
	}
	inv.SetItem(20, model.NewItem("dirt", 1))
	// Off-hand is empty but outside the search range.
	if got := FirstEmpty(inv, func(s int) bool { return s == 8 }); got != -1 {
		t.Fatalf("first empty=%d want -1", got)
	}
}

func TestPlayer_EffectsAndSink(t *testing.T) {
	p := NewPlayer(uuid.New(), "alice")
	var sunk []Effect
	p.SetSink(func(e Effect) { sunk = append(sunk, e) })

	p.SendMessage("hi")
	p.PlaySound(policy.Cue{Sound: "UI_BUTTON_CLICK", Volume: 1, Pitch: 1})
	if err := p.PerformCommand("/spawn"); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if len(sunk) != 3 || sunk[2].Text != "spawn" || sunk[0].Actor != p.ID() {
		t.Fatalf("sunk=%+v", sunk)
	}
	if got := p.Messages(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("messages=%v", got)
	}
	if got := p.DrainEffects(); len(got) != 3 {
		t.Fatalf("drain=%d", len(got))
	}
	if len(p.Effects()) != 0 {
		t.Fatalf("effects not drained")
	}

	p.SetOnline(false)
	if err := p.PerformCommand("spawn"); err == nil {
		t.Fatalf("expected offline error")
	}
}

func TestPlayer_MoveToKeepsZoneWhenBlank(t *testing.T) {
	p := NewPlayer(uuid.New(), "bob")
	p.MoveTo(model.Location{Zone: "world_nether", X: 1})
	p.MoveTo(model.Location{X: 2})
	if p.Zone() != "world_nether" || p.Location().Zone != "world_nether" || p.Location().X != 2 {
		t.Fatalf("zone=%s loc=%+v", p.Zone(), p.Location())
	}
	p.SetHeldSlot(12)
	if p.HeldSlot() != 0 {
		t.Fatalf("held slot out of hotbar accepted")
	}
}
