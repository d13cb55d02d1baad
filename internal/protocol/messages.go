package protocol

import "slotkeeper.ai/internal/sim/kernel/model"

// HELLO (game server -> slotkeeper)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ServerName      string            `json:"server_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (slotkeeper -> game server)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	TickRateHz      int         `json:"tick_rate_hz"`
	EnabledZones    []string    `json:"enabled_zones,omitempty"`
	Policies        []PolicyRef `json:"policies"`
}

// PolicyRef tells the game server which slots are pinned, so it can skip round trips for
// operations that touch none of them.
type PolicyRef struct {
	ID   string `json:"id"`
	Slot int    `json:"slot"`
}

// Event kinds.
const (
	KindJoin           = "join"
	KindLeave          = "leave"
	KindRespawn        = "respawn"
	KindZoneChange     = "zone_change"
	KindOp             = "op"
	KindInteract       = "interact"
	KindInteractEntity = "interact_entity"
	KindCommand        = "command"
	KindComplete       = "complete"
	KindSync           = "sync"
)

// EVENT (game server -> slotkeeper). Actor carries the host's current view of the actor;
// a nil Inventory leaves the mirrored container untouched.
type EventMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ID              string      `json:"id"`
	Kind            string      `json:"kind"`
	Actor           *ActorState `json:"actor,omitempty"`
	Op              *OpPayload  `json:"op,omitempty"`
	Side            string      `json:"side,omitempty"`
	Args            []string    `json:"args,omitempty"`
}

type ActorState struct {
	UUID        string        `json:"uuid"`
	Name        string        `json:"name"`
	Zone        string        `json:"zone,omitempty"`
	Pos         [3]float64    `json:"pos"`
	HeldSlot    int           `json:"held_slot"`
	Mode        string        `json:"mode,omitempty"`
	Permissions []string      `json:"permissions,omitempty"`
	Inventory   []*model.Item `json:"inventory,omitempty"`
}

type OpPayload struct {
	Kind         string        `json:"kind"`
	Item         *model.Item   `json:"item,omitempty"`
	Other        *model.Item   `json:"other,omitempty"`
	Click        string        `json:"click,omitempty"`
	Slot         int           `json:"slot"`
	Foreign      bool          `json:"foreign,omitempty"`
	ViewForeign  bool          `json:"view_foreign,omitempty"`
	Current      *model.Item   `json:"current,omitempty"`
	Cursor       *model.Item   `json:"cursor,omitempty"`
	HotbarButton int           `json:"hotbar_button,omitempty"`
	Slots        []int         `json:"slots,omitempty"`
	DragForeign  bool          `json:"drag_foreign,omitempty"`
	Drops        []*model.Item `json:"drops,omitempty"`
	FromZone     string        `json:"from_zone,omitempty"`
	ToZone       string        `json:"to_zone,omitempty"`
	EntityID     string        `json:"entity_id,omitempty"`
}

// REPLY (slotkeeper -> game server), one per EVENT.
type ReplyMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	ReplyTo         string        `json:"reply_to"`
	Accepted        bool          `json:"accepted"`
	Code            string        `json:"code,omitempty"`
	Message         string        `json:"message,omitempty"`
	ServerTick      uint64        `json:"server_tick"`
	Veto            bool          `json:"veto,omitempty"`
	PolicyID        string        `json:"policy_id,omitempty"`
	DestroyEntity   bool          `json:"destroy_entity,omitempty"`
	Keep            []*model.Item `json:"keep,omitempty"`
	Drops           []*model.Item `json:"drops,omitempty"`
	Handled         bool          `json:"handled,omitempty"`
	Throttled       bool          `json:"throttled,omitempty"`
	Completions     []string      `json:"completions,omitempty"`
	Lines           []string      `json:"lines,omitempty"`
}

// Effect kinds carried by PUSH.
const (
	EffectSetSlot = "SET_SLOT"
	EffectMessage = "MESSAGE"
	EffectSound   = "SOUND"
	EffectCommand = "COMMAND"
	EffectConsole = "CONSOLE"
	EffectDrop    = "DROP"
)

type Effect struct {
	Kind   string      `json:"kind"`
	Actor  string      `json:"actor,omitempty"`
	Slot   int         `json:"slot,omitempty"`
	Item   *model.Item `json:"item,omitempty"`
	Text   string      `json:"text,omitempty"`
	Sound  string      `json:"sound,omitempty"`
	Volume float64     `json:"volume,omitempty"`
	Pitch  float64     `json:"pitch,omitempty"`
	Zone   string      `json:"zone,omitempty"`
	Pos    [3]float64  `json:"pos,omitempty"`
}

// PUSH (slotkeeper -> game server): side effects the host must apply, in order.
type PushMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	Effects         []Effect `json:"effects"`
}
