// Package runtime hosts the enforcement core for one or more connected game servers. All
// container reads and writes, interceptor decisions and scheduled sweeps happen on the
// goroutine running Run (or on the caller's goroutine when Handle and Step are driven
// directly, as tests do).
package runtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slotkeeper.ai/internal/protocol"
	"slotkeeper.ai/internal/sim/admin"
	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/cooldown"
	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/messages"
	"slotkeeper.ai/internal/sim/placeholder"
	"slotkeeper.ai/internal/sim/policy"
	"slotkeeper.ai/internal/sim/protect"
	"slotkeeper.ai/internal/sim/reconcile"
	"slotkeeper.ai/internal/sim/scheduler"
	"slotkeeper.ai/internal/sim/trigger"
	"slotkeeper.ai/internal/sim/tuning"
)

const cooldownSweepTask = "cooldown:sweep"

// PolicyLoader produces a fresh policy set. Issues are per-entry problems that were skipped.
type PolicyLoader func() (*policy.Set, []policy.Issue, error)

type MessageLoader func() (*messages.Catalog, error)

type Config struct {
	Settings     tuning.Settings
	Logger       *zap.Logger
	Audit        audit.Sink
	Expander     placeholder.Expander
	Clock        cooldown.Clock
	LoadPolicies PolicyLoader
	LoadMessages MessageLoader

	// OnLoad sees every policy set that goes live, the initial one included.
	OnLoad func(*policy.Set)
}

// Session is one connected game server. Push receives the side effects produced for it.
type Session struct {
	ID   string
	Name string
	Push func(protocol.PushMsg)
}

type Runtime struct {
	cfg tuning.Settings
	log *zap.Logger

	loadPolicies PolicyLoader
	loadMessages MessageLoader
	onLoad       func(*policy.Set)

	policies  *policy.Store
	msgs      *messages.Source
	sched     *scheduler.Scheduler
	cooldowns *cooldown.Tracker
	drops     *host.MemWorld
	console   *host.Console
	audit     audit.Sink

	engine   *reconcile.Engine
	guard    *protect.Interceptor
	triggers *trigger.Pipeline
	admin    *admin.Surface

	players     map[uuid.UUID]*host.Player
	sessionOf   map[uuid.UUID]string
	zoneSession map[string]string
	sessions    map[string]*Session
	nextSession uint64
	cur         string
	pending     map[string][]protocol.Effect

	inbox      chan request
	connect    chan connectReq
	disconnect chan string
	reloadReq  chan chan error
	stop       chan struct{}
	stopOnce   sync.Once
	exited     chan struct{}
}

func New(cfg Config) (*Runtime, error) {
	s := cfg.Settings
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Nop{}
	}
	r := &Runtime{
		cfg:          s,
		log:          log,
		loadPolicies: cfg.LoadPolicies,
		loadMessages: cfg.LoadMessages,
		onLoad:       cfg.OnLoad,
		policies:     policy.NewStore(policy.Empty()),
		msgs:         messages.NewSource(nil),
		sched:        scheduler.New(),
		cooldowns:    cooldown.New(cfg.Clock),
		drops:        host.NewMemWorld(),
		audit:        sink,
		players:      map[uuid.UUID]*host.Player{},
		sessionOf:    map[uuid.UUID]string{},
		zoneSession:  map[string]string{},
		sessions:     map[string]*Session{},
		pending:      map[string][]protocol.Effect{},
		inbox:        make(chan request, 256),
		connect:      make(chan connectReq),
		disconnect:   make(chan string, 16),
		reloadReq:    make(chan chan error),
		stop:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
	if r.loadPolicies == nil {
		path := s.PoliciesPath
		r.loadPolicies = func() (*policy.Set, []policy.Issue, error) { return policy.Load(path) }
	}
	if r.loadMessages == nil {
		path := s.MessagesPath
		r.loadMessages = func() (*messages.Catalog, error) { return messages.Load(path) }
	}

	r.console = host.NewConsole(r.dispatchConsole)
	r.drops.OnDrop(r.routeDrop)
	tick := r.sched.Tick

	r.engine = reconcile.New(reconcile.Config{
		Policies:     r.policies,
		Scheduler:    r.sched,
		World:        r.drops,
		Directory:    r,
		Expander:     cfg.Expander,
		Audit:        sink,
		Logger:       log.Named("reconcile"),
		PurgeOrphans: s.PurgeOrphans(),
	})
	r.guard = protect.New(protect.Config{
		Policies:        r.policies,
		Messages:        r.msgs,
		Deferrer:        r.engine,
		Audit:           sink,
		Logger:          log.Named("protect"),
		Tick:            tick,
		DestroyOnPickup: s.DestroyOnPickup(),
	})
	r.triggers = trigger.New(trigger.Config{
		Policies:  r.policies,
		Cooldowns: r.cooldowns,
		Messages:  r.msgs,
		Expander:  cfg.Expander,
		Console:   r.console,
		Audit:     sink,
		Logger:    log.Named("trigger"),
		Tick:      tick,
	})
	r.admin = admin.New(admin.Config{
		Reload:     r.Reload,
		Directory:  r,
		Enforcer:   r.engine,
		Policies:   r.policies,
		Messages:   r.msgs,
		Permission: s.AdminPermission,
		Logger:     log.Named("admin"),
	})

	if err := r.load(); err != nil {
		return nil, err
	}
	r.startTasks()
	return r, nil
}

func (r *Runtime) Settings() tuning.Settings    { return r.cfg }
func (r *Runtime) Policies() *policy.Set        { return r.policies.Current() }
func (r *Runtime) Messages() *messages.Catalog  { return r.msgs.Current() }
func (r *Runtime) Tick() uint64                 { return r.sched.Tick() }
func (r *Runtime) Engine() *reconcile.Engine    { return r.engine }
func (r *Runtime) Cooldowns() *cooldown.Tracker { return r.cooldowns }
func (r *Runtime) Drops() []host.Drop           { return r.drops.Drops() }
func (r *Runtime) ConsoleLog() []string         { return r.console.Ran() }

func (r *Runtime) Player(id uuid.UUID) (*host.Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Active lists online actors ordered by name.
func (r *Runtime) Active() []host.Actor {
	ps := make([]*host.Player, 0, len(r.players))
	for _, p := range r.players {
		if p.Online() {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name() < ps[j].Name() })
	out := make([]host.Actor, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

// Lookup finds an online actor by name, ignoring case.
func (r *Runtime) Lookup(name string) (host.Actor, bool) {
	for _, p := range r.players {
		if p.Online() && strings.EqualFold(p.Name(), name) {
			return p, true
		}
	}
	return nil, false
}

func (r *Runtime) load() error {
	set, issues, err := r.loadPolicies()
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	for _, is := range issues {
		r.log.Warn("policy skipped", zap.String("policy", is.PolicyID), zap.Error(is.Err))
	}
	cat, err := r.loadMessages()
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	r.policies.Swap(set)
	r.msgs.Swap(cat)
	if r.onLoad != nil {
		r.onLoad(set)
	}
	r.log.Info("policies loaded",
		zap.Int("policies", set.Len()),
		zap.Strings("zones", set.EnabledZones()),
		zap.Int("skipped", len(issues)),
	)
	return nil
}

func (r *Runtime) startTasks() {
	r.engine.StartPeriodic(r.cfg.SecondsToTicks(r.cfg.CheckIntervalSeconds))
	if every := r.cfg.SecondsToTicks(r.cfg.CooldownSweepSeconds); every > 0 {
		r.sched.Repeat(cooldownSweepTask, every, every, func() {
			if n := r.cooldowns.Sweep(); n > 0 {
				r.log.Debug("cooldowns purged", zap.Int("entries", n))
			}
		})
	}
}

// Reload re-reads policies and messages. On success every pending task is cancelled, the
// repeating tasks restart, and every online actor loses its governed items and is re-equipped a
// tick later. Items of removed policies are orphans and follow orphan_mode.
// On failure the running configuration stays in place.
func (r *Runtime) Reload() error {
	if err := r.load(); err != nil {
		return err
	}
	cancelled := r.sched.CancelAll()
	r.startTasks()
	actors := r.Active()
	for _, a := range actors {
		r.engine.StripGoverned(a)
		r.engine.Defer(a, reconcile.DelayGive, "reload")
	}
	if err := r.audit.Write(audit.Entry{Tick: r.sched.Tick(), Action: audit.ActionReload, Slot: -1}); err != nil {
		r.log.Warn("audit write failed", zap.Error(err))
	}
	r.log.Info("reloaded", zap.Int("cancelled_tasks", cancelled), zap.Int("actors", len(actors)))
	r.flush()
	return nil
}

// Step advances the scheduler one tick and pushes the resulting effects.
func (r *Runtime) Step() int {
	n := r.sched.Advance()
	r.flush()
	return n
}

// Attach registers a session directly (no loop). Tests and embedded hosts use it.
func (r *Runtime) Attach(name string, push func(protocol.PushMsg)) (*Session, protocol.WelcomeMsg) {
	r.nextSession++
	s := &Session{ID: fmt.Sprintf("S%04d", r.nextSession), Name: name, Push: push}
	r.sessions[s.ID] = s
	r.log.Info("session attached", zap.String("session", s.ID), zap.String("server", name))
	return s, r.welcome(s)
}

func (r *Runtime) welcome(s *Session) protocol.WelcomeMsg {
	set := r.policies.Current()
	w := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.ID,
		TickRateHz:      r.cfg.TickRateHz,
		EnabledZones:    set.EnabledZones(),
		Policies:        []protocol.PolicyRef{},
	}
	for _, p := range set.All() {
		w.Policies = append(w.Policies, protocol.PolicyRef{ID: p.ID, Slot: p.Slot})
	}
	return w
}

// Detach drops a session and takes its actors offline.
func (r *Runtime) Detach(sessionID string) {
	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	delete(r.sessions, sessionID)
	delete(r.pending, sessionID)
	for id, sid := range r.sessionOf {
		if sid == sessionID {
			r.leave(id)
		}
	}
	for zone, sid := range r.zoneSession {
		if sid == sessionID {
			delete(r.zoneSession, zone)
		}
	}
	r.log.Info("session detached", zap.String("session", sessionID))
}

func (r *Runtime) leave(id uuid.UUID) {
	if p, ok := r.players[id]; ok {
		p.SetOnline(false)
	}
	r.cooldowns.Clear(id)
	delete(r.players, id)
	delete(r.sessionOf, id)
}
