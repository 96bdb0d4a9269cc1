// CUE schema validation code
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var defaultSchema []byte

// ValidateWithCue validates a YAML configuration file against the #Config definition
// of a CUE schema file. An empty cueFile selects the embedded schema.
func ValidateWithCue(configFile, cueFile string) error {
	yamlBytes, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("cannot read YAML config: %w", err)
	}
	schemaBytes := defaultSchema
	if cueFile != "" {
		schemaBytes, err = os.ReadFile(cueFile)
		if err != nil {
			return fmt.Errorf("cannot read CUE schema: %w", err)
		}
	}
	return validateBytes(yamlBytes, schemaBytes)
}

func validateBytes(yamlBytes, schemaBytes []byte) error {
	var configData map[string]interface{}
	if err := yaml.Unmarshal(yamlBytes, &configData); err != nil {
		return fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	if configData == nil {
		configData = map[string]interface{}{}
	}
	// JSON is valid CUE, so the decoded YAML is compiled through it.
	jsonBytes, err := json.Marshal(configData)
	if err != nil {
		return fmt.Errorf("cannot encode YAML config: %w", err)
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileBytes(schemaBytes)
	if schemaVal.Err() != nil {
		return fmt.Errorf("cannot compile CUE schema: %w", schemaVal.Err())
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("CUE schema has no #Config definition")
	}
	configVal := ctx.CompileBytes(jsonBytes)
	if configVal.Err() != nil {
		return fmt.Errorf("cannot compile config: %w", configVal.Err())
	}

	final := def.Unify(configVal)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
