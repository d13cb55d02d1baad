// Package reconcile restores the slot invariants the interceptor could not enforce
// synchronously. A sweep is idempotent: a second sweep with no intervening mutation
// writes nothing.
package reconcile

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/identity"
	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/placeholder"
	"slotkeeper.ai/internal/sim/policy"
	"slotkeeper.ai/internal/sim/scheduler"
)

// Point-trigger delays, in ticks.
const (
	DelayJoin       = 10
	DelayRespawn    = 5
	DelayZoneChange = 5
	DelayGive       = 1
)

const periodicTask = "reconcile:periodic"

// ErrNoWorld is returned for a policy whose slot holds a foreign item that can neither be
// relocated nor ejected. The slot is left untouched.
var ErrNoWorld = errors.New("container full and no world to eject into")

type Config struct {
	Policies     policy.Source
	Scheduler    *scheduler.Scheduler
	World        host.World
	Directory    host.Directory
	Expander     placeholder.Expander
	Audit        audit.Sink
	Logger       *zap.Logger
	PurgeOrphans bool
}

type Engine struct {
	policies     policy.Source
	sched        *scheduler.Scheduler
	world        host.World
	dir          host.Directory
	expander     placeholder.Expander
	audit        audit.Sink
	log          *zap.Logger
	purgeOrphans bool
}

func New(cfg Config) *Engine {
	e := &Engine{
		policies:     cfg.Policies,
		sched:        cfg.Scheduler,
		world:        cfg.World,
		dir:          cfg.Directory,
		expander:     cfg.Expander,
		audit:        cfg.Audit,
		log:          cfg.Logger,
		purgeOrphans: cfg.PurgeOrphans,
	}
	if e.policies == nil {
		e.policies = policy.Static{Set: policy.Empty()}
	}
	if e.sched == nil {
		e.sched = scheduler.New()
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// Result counts the writes one sweep made.
type Result struct {
	Restored  int
	Relocated int
	Ejected   int
	Stripped  int
	Skipped   int
}

// Changed reports whether the sweep wrote anything.
func (r Result) Changed() bool {
	return r.Restored+r.Relocated+r.Ejected+r.Stripped > 0
}

func (r *Result) add(o Result) {
	r.Restored += o.Restored
	r.Relocated += o.Relocated
	r.Ejected += o.Ejected
	r.Stripped += o.Stripped
	r.Skipped += o.Skipped
}

// Sweep re-asserts every policy against a's container. In a disabled zone it strips the
// governed items instead. Offline actors are left alone.
func (e *Engine) Sweep(a host.Actor) Result {
	if a == nil || !a.Online() {
		return Result{}
	}
	set := e.policies.Current()
	if !set.ZoneEnabled(a.Zone()) {
		return Result{Stripped: e.StripGoverned(a)}
	}

	var res Result
	if e.purgeOrphans {
		res.Stripped += e.purge(a, set)
	}
	inv := a.Inventory()
	resolve := placeholder.For(a, e.expander)
	for _, p := range set.All() {
		r, err := e.apply(a, inv, set, p, resolve)
		if err != nil {
			res.Skipped++
			e.log.Warn("skip policy",
				zap.String("policy", p.ID),
				zap.String("actor", a.Name()),
				zap.Error(err),
			)
			continue
		}
		res.add(r)
	}
	return res
}

// ApplyAll is the administrative name for a full sweep.
func (e *Engine) ApplyAll(a host.Actor) Result { return e.Sweep(a) }

func (e *Engine) apply(a host.Actor, inv host.Container, set *policy.Set, p *policy.SlotPolicy, resolve func(string) string) (Result, error) {
	var res Result
	if p.Slot < 0 || p.Slot >= inv.Size() {
		return res, fmt.Errorf("slot %d outside container of %d", p.Slot, inv.Size())
	}
	cur := inv.Item(p.Slot)
	if identity.Matches(cur, p.ID) {
		return res, nil
	}

	fresh := identity.Materialize(p, resolve)
	if fresh.IsEmpty() {
		return res, fmt.Errorf("appearance %q materializes to nothing", p.Appearance.Material)
	}

	// Another live policy's item is a stale duplicate; it is simply overwritten below.
	if _, governed := identity.Resolve(set, cur); !governed && !cur.IsEmpty() {
		if to := host.FirstEmpty(inv, set.IsGovernedSlot); to >= 0 {
			inv.SetItem(to, cur)
			res.Relocated++
			e.record(a, audit.ActionRelocate, p.ID, to, "displaced")
		} else {
			if e.world == nil {
				return res, ErrNoWorld
			}
			e.world.DropNaturally(a.Location(), cur)
			res.Ejected++
			e.record(a, audit.ActionEject, p.ID, p.Slot, "no empty slot")
		}
	}

	inv.SetItem(p.Slot, fresh)
	res.Restored++
	e.record(a, audit.ActionRestore, p.ID, p.Slot, "")
	return res, nil
}

// StripAll removes every marked item from a's container, including orphans.
func (e *Engine) StripAll(a host.Actor) int {
	return e.strip(a, func(*model.Item) bool { return true }, -1)
}

// StripGoverned removes the items whose policy is in the current set. Orphans stay unless
// orphans are purged.
func (e *Engine) StripGoverned(a host.Actor) int {
	if e.purgeOrphans {
		return e.StripAll(a)
	}
	set := e.policies.Current()
	return e.strip(a, func(it *model.Item) bool {
		_, ok := identity.Resolve(set, it)
		return ok
	}, -1)
}

// StripOne removes the first item carrying policy id.
func (e *Engine) StripOne(a host.Actor, id string) (int, error) {
	if _, ok := e.policies.Current().Get(id); !ok {
		return 0, fmt.Errorf("%w: %s", policy.ErrUnknownPolicy, id)
	}
	return e.strip(a, func(it *model.Item) bool { return identity.Matches(it, id) }, 1), nil
}

func (e *Engine) purge(a host.Actor, set *policy.Set) int {
	return e.strip(a, func(it *model.Item) bool { return identity.IsOrphan(set, it) }, -1)
}

func (e *Engine) strip(a host.Actor, match func(*model.Item) bool, limit int) int {
	if a == nil {
		return 0
	}
	inv := a.Inventory()
	n := 0
	for i := 0; i < inv.Size() && (limit < 0 || n < limit); i++ {
		it := inv.Item(i)
		id, ok := identity.IdentityOf(it)
		if !ok || !match(it) {
			continue
		}
		inv.SetItem(i, nil)
		n++
		e.record(a, audit.ActionStrip, id, i, "")
	}
	return n
}

// Defer sweeps a after delay ticks. The task re-checks liveness when it runs.
func (e *Engine) Defer(a host.Actor, delay uint64, cause string) {
	e.sched.SubmitNamed("reconcile:"+cause, delay, func() {
		if !a.Online() {
			return
		}
		e.Sweep(a)
	})
}

// SweepActive sweeps every online actor in the directory.
func (e *Engine) SweepActive() Result {
	var total Result
	if e.dir == nil {
		return total
	}
	for _, a := range e.dir.Active() {
		total.add(e.Sweep(a))
	}
	return total
}

// StartPeriodic repeats SweepActive every interval ticks. 0 disables it.
func (e *Engine) StartPeriodic(interval uint64) {
	if interval == 0 {
		return
	}
	e.sched.Repeat(periodicTask, interval, interval, func() {
		if r := e.SweepActive(); r.Changed() {
			e.log.Debug("periodic sweep",
				zap.Int("restored", r.Restored),
				zap.Int("relocated", r.Relocated),
				zap.Int("ejected", r.Ejected),
				zap.Int("stripped", r.Stripped),
			)
		}
	})
}

func (e *Engine) record(a host.Actor, action, policyID string, slot int, reason string) {
	err := e.audit.Write(audit.Entry{
		Tick:     e.sched.Tick(),
		Actor:    a.ID().String(),
		Name:     a.Name(),
		Action:   action,
		PolicyID: policyID,
		Slot:     slot,
		Reason:   reason,
	})
	if err != nil {
		e.log.Warn("audit write failed", zap.Error(err))
	}
	e.log.Debug("reconcile",
		zap.String("action", action),
		zap.String("actor", a.Name()),
		zap.String("policy", policyID),
		zap.Int("slot", slot),
	)
}
