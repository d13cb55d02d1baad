// Package messages renders the feedback strings sent to actors. Only the interceptor, the
// trigger pipeline and the admin surface read it; no decision depends on a message.
package messages

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"slotkeeper.ai/internal/sim/text"
)

//go:embed default.yaml
var defaultCatalog []byte

const prefixKey = "prefix"

// Catalog is an immutable key -> colorized message table.
type Catalog struct {
	msgs map[string]string
}

// Default returns the built-in English catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("messages: embedded catalog: %v", err))
	}
	return c
}

// Load reads path over the built-in catalog. A missing file yields the defaults.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	over, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := Default()
	for k, v := range over.msgs {
		base.msgs[k] = v
	}
	return base, nil
}

// Parse decodes a YAML document whose string leaves become dotted keys.
func Parse(b []byte) (*Catalog, error) {
	var root map[string]any
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	c := &Catalog{msgs: map[string]string{}}
	flatten("", root, c.msgs)
	return c, nil
}

func flatten(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch x := v.(type) {
		case string:
			out[key] = text.Colorize(x)
		case map[string]any:
			flatten(key, x, out)
		}
	}
}

// Get renders key, replacing {name} with value for each name, value pair in kv.
// A missing key renders a visible marker instead of failing.
func (c *Catalog) Get(key string, kv ...string) string {
	msg, ok := c.msgs[key]
	if !ok {
		return "§cMessage not found: " + key
	}
	for i := 0; i+1 < len(kv); i += 2 {
		msg = strings.ReplaceAll(msg, "{"+kv[i]+"}", kv[i+1])
	}
	return msg
}

// Prefixed is Get with the catalog prefix prepended.
func (c *Catalog) Prefixed(key string, kv ...string) string {
	return c.msgs[prefixKey] + c.Get(key, kv...)
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.msgs[key]
	return ok
}

func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.msgs))
	for k := range c.msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Source hands out the current catalog; Swap replaces it on reload.
type Source struct {
	cur atomic.Pointer[Catalog]
}

func NewSource(c *Catalog) *Source {
	s := &Source{}
	if c == nil {
		c = Default()
	}
	s.cur.Store(c)
	return s
}

func (s *Source) Current() *Catalog { return s.cur.Load() }

func (s *Source) Swap(c *Catalog) { s.cur.Store(c) }
