package profile

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultProfiles []byte

// File is the on-disk shape of a profile configuration. JSON documents
// decode through the same path since JSON is valid YAML.
type File struct {
	Profiles []MappingProfile `yaml:"profiles" json:"profiles"`
}

// Load decodes a YAML or JSON profile document and builds a registry.
func Load(r io.Reader) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	return NewRegistry(f.Profiles...)
}

// LoadFile reads profiles from path.
func LoadFile(path string) (*Registry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profiles file: %w", err)
	}
	defer fh.Close()

	reg, err := Load(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Default returns the registry built from the embedded profile set.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultProfiles))
}
