package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"slotkeeper.ai/internal/sim/text"
)

// Issue is a policy entry that was skipped during a load.
type Issue struct {
	PolicyID string
	Err      error
}

func (i Issue) Error() string { return fmt.Sprintf("policy %s: %v", i.PolicyID, i.Err) }

// Issues joins load issues into a single error (nil when there are none).
func Issues(issues []Issue) error {
	errs := make([]error, 0, len(issues))
	for _, is := range issues {
		errs = append(errs, is)
	}
	return errors.Join(errs...)
}

type interactionSpec struct {
	Enabled     *bool    `yaml:"enabled"`
	Commands    []string `yaml:"commands"`
	Executor    string   `yaml:"executor"`
	Cooldown    *float64 `yaml:"cooldown"`
	Sound       *string  `yaml:"sound"`
	SoundVolume *float64 `yaml:"sound_volume"`
	SoundPitch  *float64 `yaml:"sound_pitch"`
}

type protectionSpec struct {
	PreventDrop      *bool `yaml:"prevent_drop"`
	PreventMove      *bool `yaml:"prevent_move"`
	PreventDeath     *bool `yaml:"prevent_death"`
	PreventContainer *bool `yaml:"prevent_container"`
}

type entrySpec struct {
	Slot        *int             `yaml:"slot"`
	Material    string           `yaml:"material"`
	DisplayName *string          `yaml:"display_name"`
	Lore        []string         `yaml:"lore"`
	ModelTag    int              `yaml:"model_tag"`
	Glowing     bool             `yaml:"glowing"`
	LeftClick   *interactionSpec `yaml:"left_click"`
	RightClick  *interactionSpec `yaml:"right_click"`
	Protection  *protectionSpec  `yaml:"protection"`
}

// Load reads a policy document from path.
func Load(path string) (*Set, []Issue, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	set, issues, err := Parse(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, issues, nil
}

// Parse decodes a policy document. Only a document that is not valid YAML, or whose top level
// has the wrong shape, is an error; individual bad entries are skipped and reported as issues.
func Parse(b []byte) (*Set, []Issue, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, nil, err
	}
	if len(root.Content) == 0 {
		return Empty(), nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("top level must be a mapping")
	}

	var (
		zones    []string
		policies []SlotPolicy
		issues   []Issue
	)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i].Value, doc.Content[i+1]
		switch key {
		case "enabled_zones":
			if err := val.Decode(&zones); err != nil {
				return nil, nil, fmt.Errorf("enabled_zones: %w", err)
			}
		case "policies":
			if val.Kind != yaml.MappingNode {
				return nil, nil, fmt.Errorf("policies must be a mapping")
			}
			policies, issues = parseEntries(val)
		}
	}

	set, err := NewSet(policies, zones)
	if err != nil {
		return nil, nil, err
	}
	return set, issues, nil
}

func parseEntries(node *yaml.Node) ([]SlotPolicy, []Issue) {
	var (
		out    []SlotPolicy
		issues []Issue
		slots  = map[int]string{}
	)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := strings.TrimSpace(node.Content[i].Value)
		p, err := parseEntry(id, node.Content[i+1])
		if err == nil {
			if owner, taken := slots[p.Slot]; taken {
				err = fmt.Errorf("slot %d already bound to %s", p.Slot, owner)
			}
		}
		if err != nil {
			issues = append(issues, Issue{PolicyID: id, Err: err})
			continue
		}
		slots[p.Slot] = p.ID
		out = append(out, p)
	}
	return out, issues
}

func parseEntry(id string, node *yaml.Node) (SlotPolicy, error) {
	if id == "" {
		return SlotPolicy{}, fmt.Errorf("empty policy id")
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return SlotPolicy{}, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateEntry(raw); err != nil {
		return SlotPolicy{}, err
	}
	var spec entrySpec
	if err := node.Decode(&spec); err != nil {
		return SlotPolicy{}, err
	}

	p := Defaults(id)
	if spec.Slot != nil {
		p.Slot = *spec.Slot
	}
	if spec.Material != "" {
		p.Appearance.Material = normalizeMaterial(spec.Material)
	}
	if spec.DisplayName != nil {
		p.Appearance.Name = *spec.DisplayName
	}
	p.Appearance.Name = text.Colorize(p.Appearance.Name)
	for _, line := range spec.Lore {
		p.Appearance.Lore = append(p.Appearance.Lore, text.Colorize(line))
	}
	p.Appearance.ModelTag = spec.ModelTag
	p.Appearance.Glow = spec.Glowing

	if spec.LeftClick != nil {
		p.Left = applyInteraction(p.Left, *spec.LeftClick)
	}
	if spec.RightClick != nil {
		p.Right = applyInteraction(p.Right, *spec.RightClick)
	}
	if pr := spec.Protection; pr != nil {
		setBool(&p.Protection.PreventDrop, pr.PreventDrop)
		setBool(&p.Protection.PreventMove, pr.PreventMove)
		setBool(&p.Protection.PreventDeath, pr.PreventDeath)
		setBool(&p.Protection.PreventContainer, pr.PreventContainer)
	}
	return p, Validate(p)
}

func applyInteraction(base InteractionSpec, s interactionSpec) InteractionSpec {
	out := base
	setBool(&out.Enabled, s.Enabled)
	out.Commands = append([]string(nil), s.Commands...)
	if s.Executor != "" {
		out.Executor = Executor(s.Executor)
	}
	if s.Cooldown != nil {
		out.Cooldown = time.Duration(*s.Cooldown * float64(time.Second))
	}
	if s.Sound != nil {
		if *s.Sound == "" {
			out.Cue = nil
		} else {
			out.Cue = &Cue{Sound: strings.ToUpper(*s.Sound), Volume: 1, Pitch: 1}
		}
	}
	if out.Cue != nil {
		cue := *out.Cue
		if s.SoundVolume != nil {
			cue.Volume = *s.SoundVolume
		}
		if s.SoundPitch != nil {
			cue.Pitch = *s.SoundPitch
		}
		out.Cue = &cue
	}
	return out
}

// Validate checks the invariants of a single policy that the schema cannot express.
func Validate(p SlotPolicy) error {
	if p.ID == "" {
		return fmt.Errorf("empty policy id")
	}
	if p.Slot < 0 || p.Slot >= StorageSlots {
		return fmt.Errorf("slot %d out of range [0,%d)", p.Slot, StorageSlots)
	}
	if p.Appearance.Material == "" {
		return fmt.Errorf("material must not be empty")
	}
	for _, side := range []Side{SideLeft, SideRight} {
		spec := p.Interaction(side)
		if spec.Cooldown < 0 {
			return fmt.Errorf("%s cooldown must be >= 0", side)
		}
		if spec.Executor != ExecAsActor && spec.Executor != ExecAsElevated {
			return fmt.Errorf("%s executor %q", side, spec.Executor)
		}
	}
	return nil
}

func normalizeMaterial(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	return strings.TrimPrefix(m, "MINECRAFT:")
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
