package runtime

import (
	"sort"

	"github.com/google/uuid"

	"slotkeeper.ai/internal/protocol"
	"slotkeeper.ai/internal/sim/host"
)

// actorEffect forwards a mirrored actor's effect to its session. The player's own record
// is drained since the session is the only consumer.
func (r *Runtime) actorEffect(e host.Effect) {
	if p, ok := r.players[e.Actor]; ok {
		p.DrainEffects()
	}
	out := protocol.Effect{Kind: e.Kind, Actor: e.Actor.String(), Text: e.Text}
	if e.Cue != nil {
		out.Sound = e.Cue.Sound
		out.Volume = e.Cue.Volume
		out.Pitch = e.Cue.Pitch
	}
	r.queue(r.sessionOf[e.Actor], out)
}

func (r *Runtime) slotWritten(id uuid.UUID, w host.SlotWrite) {
	r.queue(r.sessionOf[id], protocol.Effect{
		Kind:  protocol.EffectSetSlot,
		Actor: id.String(),
		Slot:  w.Slot,
		Item:  w.Item,
	})
}

// routeDrop sends an ejected item to the session hosting its zone.
func (r *Runtime) routeDrop(d host.Drop) {
	sid, ok := r.zoneSession[d.Location.Zone]
	if !ok {
		sid = r.cur
	}
	r.queue(sid, protocol.Effect{
		Kind: protocol.EffectDrop,
		Item: d.Item,
		Zone: d.Location.Zone,
		Pos:  [3]float64{d.Location.X, d.Location.Y, d.Location.Z},
	})
}

// dispatchConsole forwards an elevated command to the session that caused it. Commands
// issued outside any event (scheduled work) go to every session.
func (r *Runtime) dispatchConsole(cmd string) error {
	e := protocol.Effect{Kind: protocol.EffectConsole, Text: cmd}
	if r.cur != "" {
		r.queue(r.cur, e)
		return nil
	}
	for id := range r.sessions {
		r.queue(id, e)
	}
	return nil
}

func (r *Runtime) queue(sessionID string, e protocol.Effect) {
	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	r.pending[sessionID] = append(r.pending[sessionID], e)
}

// flush pushes queued effects, one PUSH per session, sessions in id order.
func (r *Runtime) flush() {
	if len(r.pending) == 0 {
		return
	}
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tick := r.sched.Tick()
	for _, id := range ids {
		effects := r.pending[id]
		delete(r.pending, id)
		s, ok := r.sessions[id]
		if !ok || len(effects) == 0 || s.Push == nil {
			continue
		}
		s.Push(protocol.PushMsg{
			Type:            protocol.TypePush,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			Effects:         effects,
		})
	}
}
