// Package config loads JSON configuration files into caller-provided structs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load decodes the JSON file at path into v, which must be a pointer.
// Fields absent from the file keep their current values, so v can be
// pre-filled with defaults. Unknown fields are rejected.
func Load(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}
