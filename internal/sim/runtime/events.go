package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slotkeeper.ai/internal/protocol"
	"slotkeeper.ai/internal/sim/admin"
	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/policy"
	"slotkeeper.ai/internal/sim/protect"
	"slotkeeper.ai/internal/sim/reconcile"
	"slotkeeper.ai/internal/sim/trigger"
)

// rejection is an event that cannot be served; Code is a protocol error code.
type rejection struct {
	Code string
	Err  error
}

func (r *rejection) Error() string { return r.Code + ": " + r.Err.Error() }

func reject(code string, format string, args ...any) error {
	return &rejection{Code: code, Err: fmt.Errorf(format, args...)}
}

// Handle applies one host event and returns its reply. Effects produced while handling
// it are pushed before Handle returns.
func (r *Runtime) Handle(sessionID string, ev protocol.EventMsg) protocol.ReplyMsg {
	reply := protocol.ReplyMsg{
		Type:            protocol.TypeReply,
		ProtocolVersion: protocol.Version,
		ReplyTo:         ev.ID,
		Accepted:        true,
	}
	if _, ok := r.sessions[sessionID]; !ok {
		return fail(reply, reject(protocol.ErrUnauthorized, "unknown session %q", sessionID))
	}
	r.cur = sessionID
	defer func() {
		r.flush()
		r.cur = ""
	}()

	if err := r.dispatch(sessionID, ev, &reply); err != nil {
		reply = fail(reply, err)
		r.log.Debug("event rejected",
			zap.String("session", sessionID),
			zap.String("kind", ev.Kind),
			zap.String("id", ev.ID),
			zap.Error(err),
		)
	}
	reply.ServerTick = r.sched.Tick()
	return reply
}

func fail(reply protocol.ReplyMsg, err error) protocol.ReplyMsg {
	reply.Accepted = false
	var rj *rejection
	if errors.As(err, &rj) {
		reply.Code = rj.Code
		reply.Message = rj.Err.Error()
		return reply
	}
	reply.Code = protocol.ErrInternal
	reply.Message = err.Error()
	return reply
}

func (r *Runtime) dispatch(sessionID string, ev protocol.EventMsg, reply *protocol.ReplyMsg) error {
	switch ev.Kind {
	case protocol.KindJoin:
		p, err := r.upsert(sessionID, ev.Actor)
		if err != nil {
			return err
		}
		r.engine.Defer(p, reconcile.DelayJoin, "join")
		return nil

	case protocol.KindLeave:
		id, err := actorID(ev.Actor)
		if err != nil {
			return err
		}
		if r.sessionOf[id] != sessionID {
			return reject(protocol.ErrUnknownActor, "actor %s not attached here", id)
		}
		r.leave(id)
		return nil

	case protocol.KindRespawn:
		p, err := r.upsert(sessionID, ev.Actor)
		if err != nil {
			return err
		}
		r.engine.Defer(p, reconcile.DelayRespawn, "respawn")
		return nil

	case protocol.KindZoneChange:
		p, err := r.upsert(sessionID, ev.Actor)
		if err != nil {
			return err
		}
		r.engine.Defer(p, reconcile.DelayZoneChange, "zone_change")
		return nil

	case protocol.KindSync:
		_, err := r.upsert(sessionID, ev.Actor)
		return err

	case protocol.KindOp:
		return r.handleOp(sessionID, ev, reply)

	case protocol.KindInteract, protocol.KindInteractEntity:
		return r.handleInteract(sessionID, ev, reply)

	case protocol.KindCommand, protocol.KindComplete:
		return r.handleCommand(sessionID, ev, reply)

	default:
		return reject(protocol.ErrUnknownKind, "unknown event kind %q", ev.Kind)
	}
}

func actorID(st *protocol.ActorState) (uuid.UUID, error) {
	if st == nil {
		return uuid.Nil, reject(protocol.ErrBadRequest, "missing actor")
	}
	id, err := uuid.Parse(st.UUID)
	if err != nil {
		return uuid.Nil, reject(protocol.ErrBadRequest, "bad actor uuid %q", st.UUID)
	}
	return id, nil
}

// upsert mirrors the host's view of an actor. A nil Inventory keeps the mirrored container.
func (r *Runtime) upsert(sessionID string, st *protocol.ActorState) (*host.Player, error) {
	id, err := actorID(st)
	if err != nil {
		return nil, err
	}
	if owner, ok := r.sessionOf[id]; ok && owner != sessionID {
		return nil, reject(protocol.ErrUnknownActor, "actor %s is attached to another session", id)
	}
	p, ok := r.players[id]
	if !ok {
		if limit := r.cfg.MaxActorsPerConn; limit > 0 && r.actorsOf(sessionID) >= limit {
			return nil, reject(protocol.ErrBusy, "session already mirrors %d actors", limit)
		}
		p = host.NewPlayer(id, st.Name)
		p.SetSink(r.actorEffect)
		p.Storage().OnWrite(func(w host.SlotWrite) { r.slotWritten(id, w) })
		r.players[id] = p
		r.sessionOf[id] = sessionID
	}
	p.SetName(st.Name)
	p.SetPermissions(st.Permissions)
	p.MoveTo(model.Location{Zone: st.Zone, X: st.Pos[0], Y: st.Pos[1], Z: st.Pos[2]})
	p.SetHeldSlot(st.HeldSlot)
	if st.Mode != "" {
		p.SetMode(st.Mode)
	}
	p.SetOnline(true)
	if st.Inventory != nil {
		p.Storage().Load(st.Inventory)
	}
	if z := p.Zone(); z != "" {
		r.zoneSession[z] = sessionID
	}
	return p, nil
}

func (r *Runtime) actorsOf(sessionID string) int {
	n := 0
	for _, sid := range r.sessionOf {
		if sid == sessionID {
			n++
		}
	}
	return n
}

var clickKinds = map[string]protect.ClickKind{
	"":           protect.ClickPlain,
	"plain":      protect.ClickPlain,
	"shift":      protect.ClickShift,
	"number_key": protect.ClickNumberKey,
}

func (r *Runtime) handleOp(sessionID string, ev protocol.EventMsg, reply *protocol.ReplyMsg) error {
	if ev.Op == nil {
		return reject(protocol.ErrBadRequest, "op event without op payload")
	}
	kind, ok := protect.ParseOpKind(ev.Op.Kind)
	if !ok {
		return reject(protocol.ErrBadRequest, "unknown op kind %q", ev.Op.Kind)
	}
	click, ok := clickKinds[strings.ToLower(ev.Op.Click)]
	if !ok {
		return reject(protocol.ErrBadRequest, "unknown click kind %q", ev.Op.Click)
	}
	p, err := r.upsert(sessionID, ev.Actor)
	if err != nil {
		return err
	}

	pl := ev.Op
	op := protect.Op{
		Kind:         kind,
		Actor:        p,
		Item:         pl.Item,
		Other:        pl.Other,
		Click:        click,
		Slot:         pl.Slot,
		Foreign:      pl.Foreign,
		ViewForeign:  pl.ViewForeign,
		Current:      pl.Current,
		Cursor:       pl.Cursor,
		HotbarButton: pl.HotbarButton,
		Slots:        pl.Slots,
		DragForeign:  pl.DragForeign,
		Drops:        pl.Drops,
		FromZone:     pl.FromZone,
		ToZone:       pl.ToZone,
	}
	var loose *host.LooseItem
	if kind == protect.OpPickup {
		loose = &host.LooseItem{Item: pl.Item}
		op.Entity = loose
	}

	d := r.guard.Intercept(op)
	reply.Veto = d.Veto
	reply.PolicyID = d.PolicyID
	reply.DestroyEntity = d.DestroyLoose || (loose != nil && loose.Removed)
	if kind == protect.OpDeath {
		reply.Keep = d.Keep
		reply.Drops = d.Drops
	}
	return nil
}

func (r *Runtime) handleInteract(sessionID string, ev protocol.EventMsg, reply *protocol.ReplyMsg) error {
	p, err := r.upsert(sessionID, ev.Actor)
	if err != nil {
		return err
	}
	var it *model.Item
	if ev.Op != nil && ev.Op.Item != nil {
		it = ev.Op.Item
	} else {
		it = p.Inventory().Item(p.HeldSlot())
	}

	var out trigger.Outcome
	if ev.Kind == protocol.KindInteractEntity {
		out = r.triggers.InteractEntity(p, it)
	} else {
		side, ok := sides[strings.ToLower(ev.Side)]
		if !ok {
			return reject(protocol.ErrBadRequest, "unknown side %q", ev.Side)
		}
		out = r.triggers.Interact(p, it, side)
	}
	reply.Handled = out.Handled
	reply.Throttled = out.Throttled
	reply.PolicyID = out.PolicyID
	if out.Err != nil {
		reply.Message = out.Err.Error()
	}
	return nil
}

var sides = map[string]policy.Side{
	"left":  policy.SideLeft,
	"right": policy.SideRight,
}

func (r *Runtime) handleCommand(sessionID string, ev protocol.EventMsg, reply *protocol.ReplyMsg) error {
	var sender admin.Sender
	lines := &lineSender{}
	if ev.Actor != nil {
		p, err := r.upsert(sessionID, ev.Actor)
		if err != nil {
			return err
		}
		sender = p
	} else {
		sender = lines
	}

	if ev.Kind == protocol.KindComplete {
		reply.Completions = r.admin.Complete(sender, ev.Args)
		if reply.Completions == nil {
			reply.Completions = []string{}
		}
		return nil
	}

	err := r.admin.Execute(sender, ev.Args)
	reply.Lines = lines.lines
	switch {
	case err == nil:
		return nil
	case errors.Is(err, admin.ErrPermission):
		return reject(protocol.ErrNoPermission, "%v", err)
	case errors.Is(err, admin.ErrUsage):
		return reject(protocol.ErrBadRequest, "%v", err)
	case errors.Is(err, admin.ErrNotFound):
		return reject(protocol.ErrNotFound, "%v", err)
	default:
		return err
	}
}

// lineSender is the console behind a bridge: replies travel back in the REPLY.
type lineSender struct {
	lines []string
}

func (*lineSender) Name() string              { return "CONSOLE" }
func (*lineSender) HasPermission(string) bool { return true }
func (s *lineSender) SendMessage(msg string)  { s.lines = append(s.lines, msg) }
