package host

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/policy"
)

// Effect kinds produced by an in-memory Player.
const (
	EffectMessage = "MESSAGE"
	EffectSound   = "SOUND"
	EffectCommand = "COMMAND"
)

// Effect is an outward side effect the host must perform for an actor.
type Effect struct {
	Kind  string      `json:"kind"`
	Actor uuid.UUID   `json:"actor"`
	Text  string      `json:"text,omitempty"`
	Cue   *policy.Cue `json:"cue,omitempty"`
}

// Sink receives outward effects.
type Sink func(Effect)

// Player is an in-memory Actor. State mutations happen on the tick goroutine; the
// recorded effects are guarded so observers may read them concurrently.
type Player struct {
	id    uuid.UUID
	name  string
	inv   *Inventory
	perms map[string]bool

	online bool
	zone   string
	loc    model.Location
	held   int
	mode   string

	sink Sink

	mu      sync.Mutex
	effects []Effect
}

func NewPlayer(id uuid.UUID, name string) *Player {
	return &Player{
		id:     id,
		name:   name,
		inv:    NewInventory(PlayerInvSlots),
		perms:  map[string]bool{},
		online: true,
		zone:   "world",
		mode:   "SURVIVAL",
	}
}

func (p *Player) ID() uuid.UUID            { return p.id }
func (p *Player) Name() string             { return p.name }
func (p *Player) Online() bool             { return p.online }
func (p *Player) Zone() string             { return p.zone }
func (p *Player) Location() model.Location { return p.loc }
func (p *Player) Inventory() Container     { return p.inv }
func (p *Player) HeldSlot() int            { return p.held }
func (p *Player) Mode() string             { return p.mode }

// Storage exposes the concrete inventory for snapshot loading.
func (p *Player) Storage() *Inventory { return p.inv }

func (p *Player) SetOnline(v bool) { p.online = v }
func (p *Player) SetMode(m string) { p.mode = strings.ToUpper(m) }

func (p *Player) SetHeldSlot(slot int) {
	if slot >= 0 && slot < HotbarSlots {
		p.held = slot
	}
}

// MoveTo updates zone and position.
func (p *Player) MoveTo(loc model.Location) {
	if loc.Zone != "" {
		p.zone = loc.Zone
	}
	loc.Zone = p.zone
	p.loc = loc
}

func (p *Player) Grant(perm string)  { p.perms[perm] = true }
func (p *Player) Revoke(perm string) { delete(p.perms, perm) }

// SetPermissions replaces the whole permission set.
func (p *Player) SetPermissions(perms []string) {
	p.perms = make(map[string]bool, len(perms))
	for _, perm := range perms {
		p.perms[perm] = true
	}
}

func (p *Player) SetName(name string) {
	if name != "" {
		p.name = name
	}
}

func (p *Player) HasPermission(perm string) bool {
	return p.perms["*"] || p.perms[perm]
}

// SetSink routes effects to fn in addition to the local record.
func (p *Player) SetSink(fn Sink) { p.sink = fn }

func (p *Player) SendMessage(msg string) {
	p.emit(Effect{Kind: EffectMessage, Text: msg})
}

func (p *Player) PlaySound(cue policy.Cue) {
	c := cue
	p.emit(Effect{Kind: EffectSound, Cue: &c})
}

func (p *Player) PerformCommand(cmd string) error {
	if !p.online {
		return fmt.Errorf("actor %s offline", p.name)
	}
	p.emit(Effect{Kind: EffectCommand, Text: strings.TrimPrefix(cmd, "/")})
	return nil
}

func (p *Player) emit(e Effect) {
	e.Actor = p.id
	p.mu.Lock()
	p.effects = append(p.effects, e)
	p.mu.Unlock()
	if p.sink != nil {
		p.sink(e)
	}
}

// Effects returns the recorded effects.
func (p *Player) Effects() []Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Effect(nil), p.effects...)
}

// Messages returns the recorded chat lines.
func (p *Player) Messages() []string {
	var out []string
	for _, e := range p.Effects() {
		if e.Kind == EffectMessage {
			out = append(out, e.Text)
		}
	}
	return out
}

// DrainEffects returns and clears the recorded effects.
func (p *Player) DrainEffects() []Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.effects
	p.effects = nil
	return out
}
