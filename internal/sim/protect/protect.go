// Package protect vetoes container operations that would remove, relocate or destroy a
// governed item, or put a stranger into a governed slot.
//
// Every operation kind goes through the same two steps: classify the operation into
// endpoints (an item and what would happen to it), then decide against the policy that
// governs each endpoint. The per-kind differences live in one table.
package protect

import (
	"go.uber.org/zap"

	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/identity"
	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/messages"
	"slotkeeper.ai/internal/sim/policy"
)

const (
	MsgCannotDrop      = "protection.cannot-drop"
	MsgCannotMove      = "protection.cannot-move"
	MsgCannotContainer = "protection.cannot-container"
)

// Deferrer schedules a single-actor reconciliation delay ticks from now.
type Deferrer interface {
	Defer(a host.Actor, delay uint64, cause string)
}

// endpoint is one item touched by an operation. When into >= 0 the item is arriving in
// that slot of the actor's own container; otherwise it is a governed item leaving its place.
type endpoint struct {
	item   *model.Item
	effect policy.Effect
	into   int
	notify string
}

func moving(it *model.Item, e policy.Effect, notify string) endpoint {
	return endpoint{item: it, effect: e, into: -1, notify: notify}
}

func placing(it *model.Item, slot int, notify string) endpoint {
	return endpoint{item: it, effect: policy.EffectReplace, into: slot, notify: notify}
}

type rule struct {
	classify func(op Op) []endpoint
	// ambient pathways veto silently and clean up loose duplicates.
	ambient bool
	// zoneGated rules do nothing for an actor standing in a disabled zone.
	zoneGated bool
	// applies filters operations the rule ignores entirely.
	applies func(op Op) bool
	// vetoDelay schedules a reconciliation after a veto; settleDelay after an allowed op.
	vetoDelay   uint64
	settleDelay uint64
}

var rules = map[OpKind]rule{
	OpDrop:       {classify: classifyDrop, vetoDelay: 1},
	OpClick:      {classify: classifyClick, zoneGated: true},
	OpDrag:       {classify: classifyDrag},
	OpCreative:   {classify: classifyCreative, zoneGated: true, vetoDelay: 1},
	OpSwapHands:  {classify: classifySwap, zoneGated: true},
	OpTransfer:   {classify: classifyTransfer, ambient: true},
	OpPickup:     {classify: classifyPickup, ambient: true},
	OpDeath:      {zoneGated: true},
	OpClose:      {zoneGated: true, settleDelay: 1},
	OpHeldChange: {zoneGated: true, settleDelay: 1},
	OpModeChange: {zoneGated: true, settleDelay: 3},
	OpTeleport:   {zoneGated: true, settleDelay: 3, applies: sameZone},
}

// DeathKeepDelay is how long after a death the kept items are handed back.
const DeathKeepDelay = 1

// Decision is the outcome of one interception.
type Decision struct {
	Veto     bool
	PolicyID string
	Effect   policy.Effect
	// Feedback is the message key sent to the actor, if any.
	Feedback string
	// DestroyLoose is set when the loose instance behind an ambient veto was removed.
	DestroyLoose bool
	// Keep and Drops split a death's loot; Keep is withheld from the world.
	Keep  []*model.Item
	Drops []*model.Item
	// Deferred is the delay of the reconciliation scheduled by this decision, 0 if none.
	Deferred uint64
}

type Config struct {
	Policies        policy.Source
	Messages        *messages.Source
	Deferrer        Deferrer
	Audit           audit.Sink
	Logger          *zap.Logger
	Tick            func() uint64
	DestroyOnPickup bool
}

type Interceptor struct {
	policies        policy.Source
	msgs            *messages.Source
	deferrer        Deferrer
	audit           audit.Sink
	log             *zap.Logger
	tick            func() uint64
	destroyOnPickup bool
}

func New(cfg Config) *Interceptor {
	ic := &Interceptor{
		policies:        cfg.Policies,
		msgs:            cfg.Messages,
		deferrer:        cfg.Deferrer,
		audit:           cfg.Audit,
		log:             cfg.Logger,
		tick:            cfg.Tick,
		destroyOnPickup: cfg.DestroyOnPickup,
	}
	if ic.policies == nil {
		ic.policies = policy.Static{Set: policy.Empty()}
	}
	if ic.msgs == nil {
		ic.msgs = messages.NewSource(nil)
	}
	if ic.audit == nil {
		ic.audit = audit.Nop{}
	}
	if ic.log == nil {
		ic.log = zap.NewNop()
	}
	if ic.tick == nil {
		ic.tick = func() uint64 { return 0 }
	}
	return ic
}

// Intercept decides op. The caller cancels the host operation iff Decision.Veto is set.
func (ic *Interceptor) Intercept(op Op) Decision {
	r, ok := rules[op.Kind]
	if !ok {
		return Decision{}
	}
	if r.applies != nil && !r.applies(op) {
		return Decision{}
	}
	set := ic.policies.Current()
	if r.zoneGated && op.Actor != nil && !set.ZoneEnabled(op.Actor.Zone()) {
		return Decision{}
	}
	if op.Kind == OpDeath {
		return ic.death(set, op)
	}
	if r.classify == nil {
		return Decision{Deferred: ic.settle(op, r.settleDelay, op.Kind.String())}
	}

	d, slot := decide(set, r.classify(op))
	if !d.Veto {
		d.Deferred = ic.settle(op, r.settleDelay, op.Kind.String())
		return d
	}

	if r.ambient {
		d.Feedback = ""
		if op.Kind == OpPickup && ic.destroyOnPickup && op.Entity != nil {
			op.Entity.Remove()
			d.DestroyLoose = true
		}
	} else if d.Feedback != "" && op.Actor != nil {
		op.Actor.SendMessage(ic.msgs.Current().Prefixed(d.Feedback))
	}
	d.Deferred = ic.settle(op, r.vetoDelay, op.Kind.String()+"_veto")
	ic.record(op, d, slot)
	return d
}

func (ic *Interceptor) settle(op Op, delay uint64, cause string) uint64 {
	if delay == 0 || op.Actor == nil || ic.deferrer == nil {
		return 0
	}
	ic.deferrer.Defer(op.Actor, delay, cause)
	return delay
}

func (ic *Interceptor) record(op Op, d Decision, slot int) {
	e := audit.Entry{
		Tick:     ic.tick(),
		Action:   audit.ActionVeto,
		PolicyID: d.PolicyID,
		Slot:     slot,
		Op:       op.Kind.String(),
		Reason:   d.Effect.String(),
	}
	if op.Actor != nil {
		e.Actor = op.Actor.ID().String()
		e.Name = op.Actor.Name()
	}
	if d.DestroyLoose {
		e.Reason += ",destroyed"
	}
	if err := ic.audit.Write(e); err != nil {
		ic.log.Warn("audit write failed", zap.Error(err))
	}
	ic.log.Debug("vetoed",
		zap.String("op", e.Op),
		zap.String("actor", e.Name),
		zap.String("policy", d.PolicyID),
		zap.String("effect", e.Reason),
	)
}

// decide returns a veto for the first endpoint whose governing flag is set, together with
// the slot the veto protects.
func decide(set *policy.Set, eps []endpoint) (Decision, int) {
	for _, ep := range eps {
		p := governing(set, ep)
		if p == nil || !p.Prevents(ep.effect) {
			continue
		}
		return Decision{Veto: true, PolicyID: p.ID, Effect: ep.effect, Feedback: ep.notify}, p.Slot
	}
	return Decision{}, -1
}

// governing resolves the policy an endpoint answers to. Forged or orphaned markers resolve
// to nothing. An arriving item answers to the slot's policy unless it is that policy's own item.
func governing(set *policy.Set, ep endpoint) *policy.SlotPolicy {
	if ep.into < 0 {
		p, ok := identity.Resolve(set, ep.item)
		if !ok {
			return nil
		}
		return p
	}
	if ep.item.IsEmpty() {
		return nil
	}
	p, ok := set.BySlot(ep.into)
	if !ok || identity.Matches(ep.item, p.ID) {
		return nil
	}
	return p
}

func (ic *Interceptor) death(set *policy.Set, op Op) Decision {
	var d Decision
	for _, it := range op.Drops {
		if p, ok := identity.Resolve(set, it); ok && p.Prevents(policy.EffectDeath) {
			d.Keep = append(d.Keep, it)
			continue
		}
		d.Drops = append(d.Drops, it)
	}
	if len(d.Keep) > 0 {
		d.Deferred = ic.settle(op, DeathKeepDelay, "death_keep")
	}
	return d
}

func sameZone(op Op) bool { return op.FromZone == op.ToZone }

func classifyDrop(op Op) []endpoint {
	return []endpoint{moving(op.Item, policy.EffectRemove, MsgCannotDrop)}
}

func classifyClick(op Op) []endpoint {
	eps := []endpoint{
		moving(op.Current, policy.EffectRelocate, MsgCannotMove),
		moving(op.Cursor, policy.EffectRelocate, ""),
	}
	if !op.Foreign && op.Slot >= 0 {
		eps = append(eps, placing(op.Cursor, op.Slot, ""))
	}
	if op.Click == ClickShift && op.ViewForeign {
		eps = append(eps, moving(op.Current, policy.EffectForeign, MsgCannotMove))
	}
	if op.Click == ClickNumberKey && op.Actor != nil {
		hot := op.Actor.Inventory().Item(op.HotbarButton)
		eps = append(eps,
			moving(hot, policy.EffectRelocate, ""),
			placing(op.Current, op.HotbarButton, ""),
		)
		if op.Foreign {
			eps = append(eps, moving(hot, policy.EffectForeign, MsgCannotContainer))
		} else if op.Slot >= 0 {
			eps = append(eps, placing(hot, op.Slot, ""))
		}
	}
	if op.Foreign {
		eps = append(eps, moving(op.Cursor, policy.EffectForeign, MsgCannotContainer))
	}
	return eps
}

func classifyDrag(op Op) []endpoint {
	eps := []endpoint{moving(op.Cursor, policy.EffectRelocate, "")}
	if op.DragForeign {
		eps = append(eps, moving(op.Cursor, policy.EffectForeign, ""))
	}
	for _, s := range op.Slots {
		eps = append(eps, placing(op.Cursor, s, ""))
	}
	return eps
}

func classifyCreative(op Op) []endpoint {
	return []endpoint{
		placing(op.Cursor, op.Slot, ""),
		moving(op.Current, policy.EffectReplace, ""),
	}
}

func classifySwap(op Op) []endpoint {
	eps := []endpoint{
		moving(op.Item, policy.EffectRelocate, MsgCannotMove),
		moving(op.Other, policy.EffectRelocate, ""),
	}
	if op.Actor != nil {
		eps = append(eps, placing(op.Other, op.Actor.HeldSlot(), ""))
	}
	return eps
}

func classifyTransfer(op Op) []endpoint {
	return []endpoint{moving(op.Item, policy.EffectForeign, "")}
}

func classifyPickup(op Op) []endpoint {
	return []endpoint{moving(op.Item, policy.EffectPickup, "")}
}
