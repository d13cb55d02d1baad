package host

import (
	"strings"
	"sync"

	"slotkeeper.ai/internal/sim/kernel/model"
)

// Drop is an item ejected into the world.
type Drop struct {
	Location model.Location `json:"location"`
	Item     *model.Item    `json:"item"`
}

// MemWorld records ejected items.
type MemWorld struct {
	mu     sync.Mutex
	drops  []Drop
	onDrop func(Drop)
}

func NewMemWorld() *MemWorld { return &MemWorld{} }

func (w *MemWorld) OnDrop(fn func(Drop)) { w.onDrop = fn }

func (w *MemWorld) DropNaturally(loc model.Location, it *model.Item) {
	if it.IsEmpty() {
		return
	}
	d := Drop{Location: loc, Item: it.Clone()}
	w.mu.Lock()
	w.drops = append(w.drops, d)
	w.mu.Unlock()
	if w.onDrop != nil {
		w.onDrop(d)
	}
}

func (w *MemWorld) Drops() []Drop {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Drop(nil), w.drops...)
}

// Console is an elevated Dispatcher that records what it ran.
type Console struct {
	mu   sync.Mutex
	ran  []string
	hook func(string) error
}

func NewConsole(hook func(string) error) *Console { return &Console{hook: hook} }

func (c *Console) Dispatch(cmd string) error {
	cmd = strings.TrimPrefix(cmd, "/")
	c.mu.Lock()
	c.ran = append(c.ran, cmd)
	c.mu.Unlock()
	if c.hook != nil {
		return c.hook(cmd)
	}
	return nil
}

func (c *Console) Ran() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ran...)
}

// LooseItem is an in-memory Entity.
type LooseItem struct {
	Item    *model.Item
	Removed bool
}

func (l *LooseItem) Remove() { l.Removed = true }
