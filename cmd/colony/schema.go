package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/colony/pkg/config"
)

// SchemaCmd generates a JSON Schema for the configuration file, used by
// editors and config builders.
type SchemaCmd struct {
	Compact bool `short:"C" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(_ *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "Colony Configuration Schema"
	schema.Description = "Configuration schema for the colony multi-agent runtime"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
