package model

import "strings"

// AirMaterial is the material of an empty slot.
const AirMaterial = "AIR"

// Item is one stack held in a container slot or lying in the world.
// Tags is the item's persistent metadata; it travels with the item through the host's own
// serialization and is the only place identity markers live.
type Item struct {
	Material string            `json:"material"`
	Count    int               `json:"count"`
	Name     string            `json:"name,omitempty"`
	Lore     []string          `json:"lore,omitempty"`
	ModelTag int               `json:"model_tag,omitempty"`
	Glow     bool              `json:"glow,omitempty"`
	Flags    []string          `json:"flags,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

func NewItem(material string, count int) *Item {
	return &Item{Material: strings.ToUpper(strings.TrimSpace(material)), Count: count}
}

// IsEmpty reports whether the slot holding it should be treated as empty.
func (it *Item) IsEmpty() bool {
	return it == nil || it.Material == "" || it.Material == AirMaterial || it.Count <= 0
}

func (it *Item) Tag(key string) (string, bool) {
	if it == nil || it.Tags == nil {
		return "", false
	}
	v, ok := it.Tags[key]
	return v, ok
}

func (it *Item) SetTag(key, value string) {
	if it.Tags == nil {
		it.Tags = map[string]string{}
	}
	it.Tags[key] = value
}

func (it *Item) DeleteTag(key string) {
	if it == nil || it.Tags == nil {
		return
	}
	delete(it.Tags, key)
	if len(it.Tags) == 0 {
		it.Tags = nil
	}
}

func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	out := *it
	if it.Lore != nil {
		out.Lore = append([]string(nil), it.Lore...)
	}
	if it.Flags != nil {
		out.Flags = append([]string(nil), it.Flags...)
	}
	if it.Tags != nil {
		out.Tags = make(map[string]string, len(it.Tags))
		for k, v := range it.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}
