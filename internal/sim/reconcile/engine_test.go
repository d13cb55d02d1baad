package reconcile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/identity"
	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/placeholder"
	"slotkeeper.ai/internal/sim/policy"
	"slotkeeper.ai/internal/sim/scheduler"
)

type dir []host.Actor

func (d dir) Active() []host.Actor { return d }
func (d dir) Lookup(name string) (host.Actor, bool) {
	for _, a := range d {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

type fixture struct {
	eng   *Engine
	store *policy.Store
	sched *scheduler.Scheduler
	world *host.MemWorld
	log   *audit.Memory
	p     *host.Player
}

func testPolicies(t *testing.T, zones ...string) *policy.Set {
	t.Helper()
	compass := policy.Defaults("compass")
	compass.Appearance.Material = "COMPASS"
	compass.Appearance.Name = "Menu of {player}"
	warp := policy.Defaults("warp")
	warp.Slot = 7
	warp.Appearance.Material = "ENDER_EYE"
	set, err := policy.NewSet([]policy.SlotPolicy{compass, warp}, zones)
	require.NoError(t, err)
	return set
}

func newFixture(t *testing.T, set *policy.Set, purge bool) *fixture {
	t.Helper()
	f := &fixture{
		store: policy.NewStore(set),
		sched: scheduler.New(),
		world: host.NewMemWorld(),
		log:   &audit.Memory{},
		p:     host.NewPlayer(uuid.New(), "alice"),
	}
	f.eng = New(Config{
		Policies:     f.store,
		Scheduler:    f.sched,
		World:        f.world,
		Directory:    dir{f.p},
		Expander:     placeholder.Passthrough{},
		Audit:        f.log,
		PurgeOrphans: purge,
	})
	return f
}

func TestSweep_MaterializesAndIsIdempotent(t *testing.T) {
	f := newFixture(t, testPolicies(t), false)

	res := f.eng.Sweep(f.p)
	assert.Equal(t, 2, res.Restored)
	assert.True(t, identity.Matches(f.p.Inventory().Item(8), "compass"))
	assert.True(t, identity.Matches(f.p.Inventory().Item(7), "warp"))
	assert.Equal(t, "Menu of alice", f.p.Inventory().Item(8).Name)

	before := f.p.Storage().Snapshot()
	f.log.Reset()
	res = f.eng.ApplyAll(f.p)
	assert.False(t, res.Changed())
	if diff := cmp.Diff(before, f.p.Storage().Snapshot()); diff != "" {
		t.Fatalf("second sweep changed the container (-before +after):\n%s", diff)
	}
	assert.Empty(t, f.log.Entries())
}

func TestSweep_RelocatesForeignItem(t *testing.T) {
	f := newFixture(t, testPolicies(t), false)
	inv := f.p.Storage()
	inv.SetItem(0, model.NewItem("DIRT", 1))
	inv.SetItem(8, model.NewItem("DIAMOND_SWORD", 1))

	res := f.eng.Sweep(f.p)
	assert.Equal(t, 1, res.Relocated)
	assert.Equal(t, "DIAMOND_SWORD", inv.Item(1).Material)
	assert.True(t, identity.Matches(inv.Item(8), "compass"))
	assert.Empty(t, f.world.Drops())
}

func TestSweep_EjectsWhenFull(t *testing.T) {
	f := newFixture(t, testPolicies(t), false)
	inv := f.p.Storage()
	for i := 0; i < host.StorageSlots; i++ {
		inv.SetItem(i, model.NewItem("COBBLESTONE", 64))
	}
	f.p.MoveTo(model.Location{X: 10, Y: 70, Z: -4})

	res := f.eng.Sweep(f.p)
	assert.Equal(t, 2, res.Ejected)
	assert.Equal(t, 0, res.Relocated)
	drops := f.world.Drops()
	require.Len(t, drops, 2)
	assert.Equal(t, "COBBLESTONE", drops[0].Item.Material)
	assert.Equal(t, 10.0, drops[0].Location.X)
}

func TestSweep_FullContainerWithoutWorldKeepsForeignItem(t *testing.T) {
	set := testPolicies(t)
	log := &audit.Memory{}
	p := host.NewPlayer(uuid.New(), "alice")
	eng := New(Config{Policies: policy.Static{Set: set}, Audit: log})
	for i := 0; i < host.StorageSlots; i++ {
		p.Storage().SetItem(i, model.NewItem("DIAMOND", 64))
	}
	before := p.Storage().Snapshot()

	res := eng.Sweep(p)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Ejected)
	assert.False(t, res.Changed())
	if diff := cmp.Diff(before, p.Storage().Snapshot()); diff != "" {
		t.Fatalf("container changed (-before +after):\n%s", diff)
	}
	assert.Empty(t, log.Entries())
}

func TestSweep_OverwritesOtherPolicysItem(t *testing.T) {
	set := testPolicies(t)
	f := newFixture(t, set, false)
	warp, _ := set.Get("warp")
	f.p.Storage().SetItem(8, identity.Materialize(warp, nil))

	res := f.eng.Sweep(f.p)
	assert.Equal(t, 0, res.Relocated)
	assert.True(t, identity.Matches(f.p.Inventory().Item(8), "compass"))
}

func TestSweep_OrphanModes(t *testing.T) {
	orphan := model.NewItem("PAPER", 1)
	identity.Mark(orphan, "retired")

	ignore := newFixture(t, testPolicies(t), false)
	ignore.p.Storage().SetItem(20, orphan)
	ignore.p.Storage().SetItem(8, orphan)
	ignore.eng.Sweep(ignore.p)
	assert.True(t, identity.IsGoverned(ignore.p.Inventory().Item(20)), "orphan kept")
	assert.Equal(t, "PAPER", ignore.p.Inventory().Item(0).Material, "orphan in a governed slot is relocated, not destroyed")

	purge := newFixture(t, testPolicies(t), true)
	purge.p.Storage().SetItem(20, orphan)
	res := purge.eng.Sweep(purge.p)
	assert.Equal(t, 1, res.Stripped)
	assert.Nil(t, purge.p.Inventory().Item(20))
}

func TestSweep_ZoneGating(t *testing.T) {
	f := newFixture(t, testPolicies(t, "world"), false)
	f.eng.Sweep(f.p)
	require.True(t, identity.IsGoverned(f.p.Inventory().Item(8)))

	f.p.MoveTo(model.Location{Zone: "arena"})
	res := f.eng.Sweep(f.p)
	assert.Equal(t, 2, res.Stripped)
	assert.Nil(t, f.p.Inventory().Item(8))
	assert.Nil(t, f.p.Inventory().Item(7))

	f.p.MoveTo(model.Location{Zone: "world"})
	res = f.eng.ApplyAll(f.p)
	assert.Equal(t, 2, res.Restored)
}

func TestSweep_DisabledZoneKeepsOrphans(t *testing.T) {
	orphan := model.NewItem("PAPER", 1)
	identity.Mark(orphan, "removed_policy")

	ignore := newFixture(t, testPolicies(t, "world"), false)
	ignore.eng.Sweep(ignore.p)
	ignore.p.Storage().SetItem(20, orphan.Clone())
	ignore.p.MoveTo(model.Location{Zone: "arena"})
	res := ignore.eng.Sweep(ignore.p)
	assert.Equal(t, 2, res.Stripped)
	assert.Nil(t, ignore.p.Inventory().Item(8))
	got, ok := identity.IdentityOf(ignore.p.Inventory().Item(20))
	assert.True(t, ok)
	assert.Equal(t, "removed_policy", got)

	purge := newFixture(t, testPolicies(t, "world"), true)
	purge.p.Storage().SetItem(20, orphan.Clone())
	purge.p.MoveTo(model.Location{Zone: "arena"})
	res = purge.eng.Sweep(purge.p)
	assert.Equal(t, 1, res.Stripped)
	assert.Nil(t, purge.p.Inventory().Item(20))
}

func TestStripGoverned_LeavesOrphansUnlessPurging(t *testing.T) {
	orphan := model.NewItem("PAPER", 1)
	identity.Mark(orphan, "removed_policy")

	f := newFixture(t, testPolicies(t), false)
	f.eng.Sweep(f.p)
	f.p.Storage().SetItem(20, orphan.Clone())
	assert.Equal(t, 2, f.eng.StripGoverned(f.p))
	assert.True(t, identity.IsGoverned(f.p.Inventory().Item(20)))
	assert.Equal(t, 1, f.eng.StripAll(f.p), "the explicit strip removes orphans")

	purge := newFixture(t, testPolicies(t), true)
	purge.p.Storage().SetItem(20, orphan.Clone())
	assert.Equal(t, 1, purge.eng.StripGoverned(purge.p))
}

func TestSweep_OfflineIsNoop(t *testing.T) {
	f := newFixture(t, testPolicies(t), false)
	f.p.SetOnline(false)
	assert.False(t, f.eng.Sweep(f.p).Changed())
	assert.Nil(t, f.p.Inventory().Item(8))
}

func TestSweep_SkipsBadPolicy(t *testing.T) {
	bad := policy.Defaults("bad")
	bad.Slot = 3
	bad.Appearance.Material = model.AirMaterial
	good := policy.Defaults("good")
	set, err := policy.NewSet([]policy.SlotPolicy{bad, good}, nil)
	require.NoError(t, err)
	f := newFixture(t, set, false)

	res := f.eng.Sweep(f.p)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Restored)
	assert.True(t, identity.Matches(f.p.Inventory().Item(8), "good"))
}

func TestStripOneAndAll(t *testing.T) {
	f := newFixture(t, testPolicies(t), false)
	f.eng.Sweep(f.p)

	n, err := f.eng.StripOne(f.p, "warp")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, f.p.Inventory().Item(7))
	assert.NotNil(t, f.p.Inventory().Item(8))

	_, err = f.eng.StripOne(f.p, "nope")
	assert.True(t, errors.Is(err, policy.ErrUnknownPolicy))

	assert.Equal(t, 1, f.eng.StripAll(f.p))
	assert.Equal(t, 0, f.eng.StripAll(f.p))
}

func TestDeferAndPeriodic(t *testing.T) {
	f := newFixture(t, testPolicies(t), false)

	f.eng.Defer(f.p, DelayJoin, "join")
	f.sched.AdvanceN(DelayJoin - 1)
	assert.Nil(t, f.p.Inventory().Item(8))
	f.sched.Advance()
	assert.True(t, identity.Matches(f.p.Inventory().Item(8), "compass"))

	f.p.Storage().SetItem(8, nil)
	f.p.SetOnline(false)
	f.eng.Defer(f.p, 1, "close")
	f.sched.Advance()
	assert.Nil(t, f.p.Inventory().Item(8), "deferred sweep must no-op for a departed actor")

	f.p.SetOnline(true)
	f.eng.StartPeriodic(20)
	assert.Equal(t, 1, f.sched.PendingNamed(periodicTask))
	f.sched.AdvanceN(20)
	assert.True(t, identity.Matches(f.p.Inventory().Item(8), "compass"))
	f.eng.StartPeriodic(0)
	assert.Equal(t, 1, f.sched.PendingNamed(periodicTask))
}

// After any mix of vetoed and allowed mutations against the governed slot, the next sweep
// puts the policy's item back.
func TestInvariantRestoration(t *testing.T) {
	mutations := []func(inv *host.Inventory){
		func(inv *host.Inventory) { inv.SetItem(8, nil) },
		func(inv *host.Inventory) { inv.SetItem(8, model.NewItem("STONE", 3)) },
		func(inv *host.Inventory) {
			it := inv.Item(8).Clone()
			identity.Strip(it)
			inv.SetItem(8, it)
		},
		func(inv *host.Inventory) {
			it := model.NewItem("COMPASS", 1)
			identity.Mark(it, "ghost")
			inv.SetItem(8, it)
		},
	}
	for i, mutate := range mutations {
		f := newFixture(t, testPolicies(t), false)
		f.eng.Sweep(f.p)
		mutate(f.p.Storage())
		f.eng.Sweep(f.p)
		assert.True(t, identity.Matches(f.p.Inventory().Item(8), "compass"), "mutation %d", i)
	}
}
