package workflow

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes a YAML or JSON definition document, rejecting
// unknown fields, and normalizes it.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	return def.Normalize(), nil
}

// MarshalDefinition renders a definition as YAML
func MarshalDefinition(def *Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, fmt.Errorf("failed to encode workflow definition: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode workflow definition: %w", err)
	}
	return buf.Bytes(), nil
}
