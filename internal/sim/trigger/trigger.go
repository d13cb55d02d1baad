// Package trigger runs the commands bound to a governed item when an actor clicks with it.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/cooldown"
	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/identity"
	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/messages"
	"slotkeeper.ai/internal/sim/placeholder"
	"slotkeeper.ai/internal/sim/policy"
)

const MsgCooldownWait = "cooldown.wait"

// Outcome reports what one interaction did. Handled means the host should consume the
// click (the side is enabled on a live policy), whether or not commands ran.
type Outcome struct {
	Handled   bool
	PolicyID  string
	Throttled bool
	Remaining time.Duration
	Executed  int
	Err       error
}

type Config struct {
	Policies  policy.Source
	Cooldowns *cooldown.Tracker
	Messages  *messages.Source
	Expander  placeholder.Expander
	Console   host.Dispatcher
	Audit     audit.Sink
	Logger    *zap.Logger
	Tick      func() uint64
}

type Pipeline struct {
	policies  policy.Source
	cooldowns *cooldown.Tracker
	msgs      *messages.Source
	expander  placeholder.Expander
	console   host.Dispatcher
	audit     audit.Sink
	log       *zap.Logger
	tick      func() uint64
}

func New(cfg Config) *Pipeline {
	p := &Pipeline{
		policies:  cfg.Policies,
		cooldowns: cfg.Cooldowns,
		msgs:      cfg.Messages,
		expander:  cfg.Expander,
		console:   cfg.Console,
		audit:     cfg.Audit,
		log:       cfg.Logger,
		tick:      cfg.Tick,
	}
	if p.policies == nil {
		p.policies = policy.Static{Set: policy.Empty()}
	}
	if p.cooldowns == nil {
		p.cooldowns = cooldown.New(nil)
	}
	if p.msgs == nil {
		p.msgs = messages.NewSource(nil)
	}
	if p.audit == nil {
		p.audit = audit.Nop{}
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.tick == nil {
		p.tick = func() uint64 { return 0 }
	}
	return p
}

// Interact handles a primary left or right click made while holding it.
func (p *Pipeline) Interact(a host.Actor, it *model.Item, side policy.Side) Outcome {
	set := p.policies.Current()
	if a == nil || !set.ZoneEnabled(a.Zone()) {
		return Outcome{}
	}
	pol, ok := identity.Resolve(set, it)
	if !ok {
		return Outcome{}
	}
	spec := pol.Interaction(side)
	if !spec.Enabled {
		return Outcome{}
	}
	out := Outcome{Handled: true, PolicyID: pol.ID}
	if len(spec.Commands) == 0 {
		return out
	}

	key := policy.CooldownKey(pol.ID, side)
	if p.cooldowns.IsOnCooldown(a.ID(), key) {
		out.Throttled = true
		out.Remaining = p.cooldowns.Remaining(a.ID(), key)
		secs := fmt.Sprintf("%.1f", out.Remaining.Seconds())
		a.SendMessage(p.msgs.Current().Prefixed(MsgCooldownWait, "time", secs))
		p.record(a, audit.ActionThrottle, pol, side.String()+" "+secs+"s")
		return out
	}
	if spec.Cooldown > 0 {
		p.cooldowns.Set(a.ID(), key, spec.Cooldown)
	}
	if spec.Cue != nil && spec.Cue.Sound != "" {
		a.PlaySound(*spec.Cue)
	}

	out.Executed, out.Err = p.run(a, spec)
	p.record(a, audit.ActionTrigger, pol, side.String())
	p.log.Debug("interaction",
		zap.String("actor", a.Name()),
		zap.String("policy", pol.ID),
		zap.Stringer("side", side),
		zap.Int("executed", out.Executed),
	)
	return out
}

// InteractEntity handles a click on an entity with the main-hand item, which always fires
// the right side.
func (p *Pipeline) InteractEntity(a host.Actor, mainHand *model.Item) Outcome {
	return p.Interact(a, mainHand, policy.SideRight)
}

// run dispatches every command in order; one failure does not stop the rest.
func (p *Pipeline) run(a host.Actor, spec policy.InteractionSpec) (int, error) {
	var errs []error
	ok := 0
	for _, tmpl := range spec.Commands {
		cmd := strings.TrimSpace(placeholder.Resolve(a, p.expander, tmpl))
		if cmd == "" {
			continue
		}
		var err error
		if spec.Executor == policy.ExecAsElevated {
			if p.console == nil {
				err = errors.New("no elevated dispatcher")
			} else {
				err = p.console.Dispatch(cmd)
			}
		} else {
			err = a.PerformCommand(cmd)
		}
		if err != nil {
			p.log.Warn("command failed",
				zap.String("actor", a.Name()),
				zap.String("command", cmd),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%q: %w", cmd, err))
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

func (p *Pipeline) record(a host.Actor, action string, pol *policy.SlotPolicy, reason string) {
	err := p.audit.Write(audit.Entry{
		Tick:     p.tick(),
		Actor:    a.ID().String(),
		Name:     a.Name(),
		Action:   action,
		PolicyID: pol.ID,
		Slot:     pol.Slot,
		Reason:   reason,
	})
	if err != nil {
		p.log.Warn("audit write failed", zap.Error(err))
	}
}
