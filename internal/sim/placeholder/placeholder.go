// Package placeholder expands actor-specific text templates.
package placeholder

import (
	"strconv"
	"strings"

	"slotkeeper.ai/internal/sim/host"
)

// Expander resolves ecosystem placeholders the core does not know about.
type Expander interface {
	Expand(a host.Actor, text string) string
}

// Func adapts a function to Expander.
type Func func(a host.Actor, text string) string

func (f Func) Expand(a host.Actor, text string) string { return f(a, text) }

// Passthrough returns text unchanged.
type Passthrough struct{}

func (Passthrough) Expand(_ host.Actor, text string) string { return text }

// Table expands fixed %name% tokens, the form most host plugins publish.
type Table map[string]func(a host.Actor) string

func (t Table) Expand(a host.Actor, text string) string {
	if !strings.Contains(text, "%") {
		return text
	}
	for k, fn := range t {
		tok := "%" + k + "%"
		if strings.Contains(text, tok) {
			text = strings.ReplaceAll(text, tok, fn(a))
		}
	}
	return text
}

// Builtin substitutes {player} {uuid} {world} {x} {y} {z}.
func Builtin(a host.Actor, text string) string {
	if a == nil || !strings.Contains(text, "{") {
		return text
	}
	b := a.Location().Block()
	r := strings.NewReplacer(
		"{player}", a.Name(),
		"{uuid}", a.ID().String(),
		"{world}", a.Zone(),
		"{x}", strconv.Itoa(b.X),
		"{y}", strconv.Itoa(b.Y),
		"{z}", strconv.Itoa(b.Z),
	)
	return r.Replace(text)
}

// Resolve applies the built-ins and then ext. A nil ext is a pass-through.
func Resolve(a host.Actor, ext Expander, text string) string {
	text = Builtin(a, text)
	if ext == nil || a == nil {
		return text
	}
	return ext.Expand(a, text)
}

// For returns a single-argument resolver bound to a.
func For(a host.Actor, ext Expander) func(string) string {
	return func(s string) string { return Resolve(a, ext, s) }
}
