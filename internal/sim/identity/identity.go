// Package identity stamps and reads the marker that makes an item governed.
//
// The marker is two entries in the item's persistent tags: a fixed flag ("1") and the id of
// the policy that produced the item. Anything else, including a flag with another value or a
// missing/empty policy id, reads as ungoverned.
package identity

import (
	"slotkeeper.ai/internal/sim/kernel/model"
	"slotkeeper.ai/internal/sim/policy"
)

const (
	KeyFixed  = "slotkeeper:fixed_item"
	KeyPolicy = "slotkeeper:item_id"

	fixedValue = "1"
)

var hiddenFlags = []string{"HIDE_ATTRIBUTES", "HIDE_UNBREAKABLE"}

// Resolver expands actor-specific text. A nil Resolver leaves text unchanged.
type Resolver func(string) string

// Materialize builds a fresh governed item for p.
func Materialize(p *policy.SlotPolicy, resolve Resolver) *model.Item {
	if resolve == nil {
		resolve = func(s string) string { return s }
	}
	it := model.NewItem(p.Appearance.Material, 1)
	it.Name = resolve(p.Appearance.Name)
	if len(p.Appearance.Lore) > 0 {
		it.Lore = make([]string, 0, len(p.Appearance.Lore))
		for _, line := range p.Appearance.Lore {
			it.Lore = append(it.Lore, resolve(line))
		}
	}
	if p.Appearance.ModelTag > 0 {
		it.ModelTag = p.Appearance.ModelTag
	}
	if p.Appearance.Glow {
		it.Glow = true
		it.Flags = append(it.Flags, "HIDE_ENCHANTS")
	}
	it.Flags = append(it.Flags, hiddenFlags...)
	Mark(it, p.ID)
	return it
}

// Mark stamps the marker onto it. Re-applying the same id is a no-op.
func Mark(it *model.Item, policyID string) {
	if it == nil {
		return
	}
	it.SetTag(KeyFixed, fixedValue)
	it.SetTag(KeyPolicy, policyID)
}

// Strip removes the marker, leaving an ordinary item.
func Strip(it *model.Item) {
	it.DeleteTag(KeyFixed)
	it.DeleteTag(KeyPolicy)
}

func IsGoverned(it *model.Item) bool {
	_, ok := IdentityOf(it)
	return ok
}

// IdentityOf returns the policy id carried by it.
func IdentityOf(it *model.Item) (string, bool) {
	if it.IsEmpty() {
		return "", false
	}
	if v, ok := it.Tag(KeyFixed); !ok || v != fixedValue {
		return "", false
	}
	id, ok := it.Tag(KeyPolicy)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Matches reports whether it is the governed item of policy id.
func Matches(it *model.Item, id string) bool {
	got, ok := IdentityOf(it)
	return ok && got == id
}

// Resolve returns the live policy for a governed item. Items whose marker names no policy in
// set (forged, or the policy was removed) resolve to nothing and are treated as ungoverned.
func Resolve(set *policy.Set, it *model.Item) (*policy.SlotPolicy, bool) {
	id, ok := IdentityOf(it)
	if !ok {
		return nil, false
	}
	return set.Get(id)
}

// IsOrphan reports a marked item whose policy is not in set.
func IsOrphan(set *policy.Set, it *model.Item) bool {
	id, ok := IdentityOf(it)
	if !ok {
		return false
	}
	_, known := set.Get(id)
	return !known
}
