package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const entrySchemaURL = "slotkeeper://policy-entry.schema.json"

const entrySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "slot": {"type": "integer", "minimum": 0, "maximum": 35},
    "material": {"type": "string", "pattern": "^([A-Za-z0-9_]+:)?[A-Za-z0-9_]+$"},
    "display_name": {"type": "string"},
    "lore": {"type": "array", "items": {"type": "string"}},
    "model_tag": {"type": "integer", "minimum": 0},
    "glowing": {"type": "boolean"},
    "left_click": {"$ref": "#/$defs/interaction"},
    "right_click": {"$ref": "#/$defs/interaction"},
    "protection": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "prevent_drop": {"type": "boolean"},
        "prevent_move": {"type": "boolean"},
        "prevent_death": {"type": "boolean"},
        "prevent_container": {"type": "boolean"}
      }
    }
  },
  "$defs": {
    "interaction": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "commands": {"type": "array", "items": {"type": "string"}},
        "executor": {"enum": ["actor", "elevated"]},
        "cooldown": {"type": "number", "minimum": 0},
        "sound": {"type": "string", "pattern": "^([A-Za-z0-9_.:]+)?$"},
        "sound_volume": {"type": "number", "minimum": 0},
        "sound_pitch": {"type": "number", "minimum": 0, "maximum": 2}
      }
    }
  }
}`

var (
	entrySchemaOnce sync.Once
	entrySchema     *jsonschema.Schema
	entrySchemaErr  error
)

func compiledEntrySchema() (*jsonschema.Schema, error) {
	entrySchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(entrySchemaURL, strings.NewReader(entrySchemaJSON)); err != nil {
			entrySchemaErr = err
			return
		}
		entrySchema, entrySchemaErr = c.Compile(entrySchemaURL)
	})
	return entrySchema, entrySchemaErr
}

// validateEntry checks one decoded YAML entry. The value is round-tripped through JSON so the
// validator sees the same number/map types it would for a JSON document.
func validateEntry(v any) error {
	s, err := compiledEntrySchema()
	if err != nil {
		return fmt.Errorf("compile policy schema: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
