package protect

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/identity"
	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/messages"
	"slotkeeper.ai/internal/sim/policy"
)

type deferral struct {
	delay uint64
	cause string
}

type fakeDeferrer struct{ calls []deferral }

func (f *fakeDeferrer) Defer(_ host.Actor, delay uint64, cause string) {
	f.calls = append(f.calls, deferral{delay, cause})
}

type fixture struct {
	ic    *Interceptor
	p     *host.Player
	def   *fakeDeferrer
	log   *audit.Memory
	msgs  *messages.Catalog
	comp  *model.Item
	stone *model.Item
}

func compassPolicy(prot policy.Protection) policy.SlotPolicy {
	p := policy.Defaults("compass")
	p.Appearance.Material = "COMPASS"
	p.Protection = prot
	return p
}

func allFlags() policy.Protection {
	return policy.Protection{PreventDrop: true, PreventMove: true, PreventDeath: true, PreventContainer: true}
}

func newFixture(t *testing.T, prot policy.Protection, zones ...string) *fixture {
	t.Helper()
	set, err := policy.NewSet([]policy.SlotPolicy{compassPolicy(prot)}, zones)
	require.NoError(t, err)
	f := &fixture{
		def:   &fakeDeferrer{},
		log:   &audit.Memory{},
		msgs:  messages.Default(),
		p:     host.NewPlayer(uuid.New(), "alice"),
		stone: model.NewItem("STONE", 16),
	}
	pol, _ := set.Get("compass")
	f.comp = identity.Materialize(pol, nil)
	f.p.Storage().SetItem(8, f.comp)
	f.ic = New(Config{
		Policies:        policy.Static{Set: set},
		Messages:        messages.NewSource(f.msgs),
		Deferrer:        f.def,
		Audit:           f.log,
		DestroyOnPickup: true,
	})
	return f
}

func TestDrop(t *testing.T) {
	f := newFixture(t, allFlags())
	d := f.ic.Intercept(Op{Kind: OpDrop, Actor: f.p, Item: f.comp})
	assert.True(t, d.Veto)
	assert.Equal(t, "compass", d.PolicyID)
	assert.Equal(t, MsgCannotDrop, d.Feedback)
	assert.Equal(t, []string{f.msgs.Prefixed(MsgCannotDrop)}, f.p.Messages())
	assert.Equal(t, []deferral{{1, "drop_veto"}}, f.def.calls)
	require.Len(t, f.log.Entries(), 1)
	assert.Equal(t, audit.ActionVeto, f.log.Entries()[0].Action)
	assert.Equal(t, 8, f.log.Entries()[0].Slot)

	// Ungoverned items drop freely.
	d = f.ic.Intercept(Op{Kind: OpDrop, Actor: f.p, Item: f.stone})
	assert.False(t, d.Veto)
}

// Each row flips one flag off and checks the operations guarded by it now pass while the
// same operations with the flag on are vetoed.
func TestVetoTable(t *testing.T) {
	type row struct {
		name string
		flag func(*policy.Protection)
		op   func(f *fixture) Op
	}
	rows := []row{
		{"drop/preventDrop", func(p *policy.Protection) { p.PreventDrop = false },
			func(f *fixture) Op { return Op{Kind: OpDrop, Actor: f.p, Item: f.comp} }},
		{"click pick up/preventMove", func(p *policy.Protection) { p.PreventMove = false },
			func(f *fixture) Op { return Op{Kind: OpClick, Actor: f.p, Slot: 8, Current: f.comp} }},
		{"click place stranger/preventMove", func(p *policy.Protection) { p.PreventMove = false },
			func(f *fixture) Op { return Op{Kind: OpClick, Actor: f.p, Slot: 8, Cursor: f.stone} }},
		{"number key/preventMove", func(p *policy.Protection) { p.PreventMove = false },
			func(f *fixture) Op {
				return Op{Kind: OpClick, Click: ClickNumberKey, Actor: f.p, Slot: 3, HotbarButton: 8}
			}},
		{"drag over slot/preventMove", func(p *policy.Protection) { p.PreventMove = false },
			func(f *fixture) Op { return Op{Kind: OpDrag, Actor: f.p, Cursor: f.stone, Slots: []int{7, 8}} }},
		{"creative overwrite/preventMove", func(p *policy.Protection) { p.PreventMove = false },
			func(f *fixture) Op { return Op{Kind: OpCreative, Actor: f.p, Slot: 8, Cursor: f.stone} }},
		{"swap hands/preventMove", func(p *policy.Protection) { p.PreventMove = false },
			func(f *fixture) Op { return Op{Kind: OpSwapHands, Actor: f.p, Item: f.comp} }},
		{"cursor into chest/preventContainer", func(p *policy.Protection) { p.PreventContainer = false; p.PreventMove = false },
			func(f *fixture) Op { return Op{Kind: OpClick, Actor: f.p, Foreign: true, Slot: 2, Cursor: f.comp} }},
		{"hopper/preventContainer", func(p *policy.Protection) { p.PreventContainer = false },
			func(f *fixture) Op { return Op{Kind: OpTransfer, Item: f.comp} }},
		{"pickup/preventDrop", func(p *policy.Protection) { p.PreventDrop = false },
			func(f *fixture) Op { return Op{Kind: OpPickup, Actor: f.p, Item: f.comp, Entity: &host.LooseItem{}} }},
	}
	for _, r := range rows {
		t.Run(r.name, func(t *testing.T) {
			on := newFixture(t, allFlags())
			assert.True(t, on.ic.Intercept(r.op(on)).Veto, "flag set: want veto")

			prot := allFlags()
			r.flag(&prot)
			off := newFixture(t, prot)
			assert.False(t, off.ic.Intercept(r.op(off)).Veto, "flag clear: want allow")
		})
	}
}

func TestClick_MessagesAndSilence(t *testing.T) {
	f := newFixture(t, allFlags())

	d := f.ic.Intercept(Op{Kind: OpClick, Actor: f.p, Slot: 8, Current: f.comp})
	assert.Equal(t, MsgCannotMove, d.Feedback)

	// Stranger on the cursor into the governed slot: silent.
	d = f.ic.Intercept(Op{Kind: OpClick, Actor: f.p, Slot: 8, Cursor: f.stone})
	assert.True(t, d.Veto)
	assert.Empty(t, d.Feedback)
	assert.Equal(t, policy.EffectReplace, d.Effect)

	// The slot's own item going back in is fine, and so is an empty click elsewhere.
	prot := allFlags()
	prot.PreventMove = false
	g := newFixture(t, prot)
	assert.False(t, g.ic.Intercept(Op{Kind: OpClick, Actor: g.p, Slot: 8, Cursor: g.comp}).Veto)
	assert.False(t, f.ic.Intercept(Op{Kind: OpClick, Actor: f.p, Slot: 3, Cursor: f.stone}).Veto)

	// Shift-click towards an open chest with only preventContainer set.
	prot = policy.Protection{PreventContainer: true}
	h := newFixture(t, prot)
	d = h.ic.Intercept(Op{Kind: OpClick, Click: ClickShift, ViewForeign: true, Actor: h.p, Slot: 8, Current: h.comp})
	assert.True(t, d.Veto)
	assert.Equal(t, policy.EffectForeign, d.Effect)
	assert.Equal(t, MsgCannotMove, d.Feedback)

	d = h.ic.Intercept(Op{Kind: OpClick, Actor: h.p, Foreign: true, Cursor: h.comp})
	assert.Equal(t, MsgCannotContainer, d.Feedback)
}

func TestAmbient_SilentAndDestroysLoose(t *testing.T) {
	f := newFixture(t, allFlags())
	loose := &host.LooseItem{Item: f.comp}
	d := f.ic.Intercept(Op{Kind: OpPickup, Actor: f.p, Item: f.comp, Entity: loose})
	assert.True(t, d.Veto)
	assert.True(t, d.DestroyLoose)
	assert.True(t, loose.Removed)
	assert.Empty(t, f.p.Messages())
	assert.Empty(t, f.def.calls)

	d = f.ic.Intercept(Op{Kind: OpTransfer, Item: f.comp})
	assert.True(t, d.Veto)
	assert.False(t, d.DestroyLoose)

	f.ic.destroyOnPickup = false
	loose = &host.LooseItem{Item: f.comp}
	d = f.ic.Intercept(Op{Kind: OpPickup, Actor: f.p, Item: f.comp, Entity: loose})
	assert.True(t, d.Veto)
	assert.False(t, loose.Removed)
}

func TestForgedMarkerIsUngoverned(t *testing.T) {
	f := newFixture(t, allFlags())
	forged := model.NewItem("DIAMOND", 1)
	identity.Mark(forged, "ghost")
	assert.False(t, f.ic.Intercept(Op{Kind: OpDrop, Actor: f.p, Item: forged}).Veto)
	assert.False(t, f.ic.Intercept(Op{Kind: OpTransfer, Item: forged}).Veto)
}

func TestDeath_SplitsLoot(t *testing.T) {
	f := newFixture(t, allFlags())
	d := f.ic.Intercept(Op{Kind: OpDeath, Actor: f.p, Drops: []*model.Item{f.stone, f.comp}})
	assert.False(t, d.Veto)
	assert.Equal(t, []*model.Item{f.comp}, d.Keep)
	assert.Equal(t, []*model.Item{f.stone}, d.Drops)
	assert.Equal(t, []deferral{{DeathKeepDelay, "death_keep"}}, f.def.calls)

	prot := allFlags()
	prot.PreventDeath = false
	g := newFixture(t, prot)
	d = g.ic.Intercept(Op{Kind: OpDeath, Actor: g.p, Drops: []*model.Item{g.comp}})
	assert.Empty(t, d.Keep)
	assert.Len(t, d.Drops, 1)
	assert.Empty(t, g.def.calls)
}

func TestSettleOpsDefer(t *testing.T) {
	f := newFixture(t, allFlags())
	cases := []struct {
		op   Op
		want uint64
	}{
		{Op{Kind: OpClose, Actor: f.p}, 1},
		{Op{Kind: OpHeldChange, Actor: f.p}, 1},
		{Op{Kind: OpModeChange, Actor: f.p}, 3},
		{Op{Kind: OpTeleport, Actor: f.p, FromZone: "world", ToZone: "world"}, 3},
		{Op{Kind: OpTeleport, Actor: f.p, FromZone: "world", ToZone: "world_nether"}, 0},
	}
	for _, tc := range cases {
		d := f.ic.Intercept(tc.op)
		assert.False(t, d.Veto, tc.op.Kind.String())
		assert.Equal(t, tc.want, d.Deferred, tc.op.Kind.String())
	}
	assert.Len(t, f.def.calls, 4)
}

func TestDisabledZoneSkipsGatedOps(t *testing.T) {
	f := newFixture(t, allFlags(), "lobby")
	f.p.MoveTo(model.Location{Zone: "arena"})
	assert.False(t, f.ic.Intercept(Op{Kind: OpClick, Actor: f.p, Slot: 8, Current: f.comp}).Veto)
	assert.Zero(t, f.ic.Intercept(Op{Kind: OpClose, Actor: f.p}).Deferred)
	// Drops are not zone-gated.
	assert.True(t, f.ic.Intercept(Op{Kind: OpDrop, Actor: f.p, Item: f.comp}).Veto)
}

func TestOpKindNames(t *testing.T) {
	for k := OpDrop; k <= OpTeleport; k++ {
		got, ok := ParseOpKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := ParseOpKind("explode")
	assert.False(t, ok)
}
