package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Models []ModelInfo `yaml:"models"`
}

// Load reads a catalog YAML file.
func Load(path string) ([]ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML. Duplicate field keys are rejected by the decoder.
func Parse(data []byte) ([]ModelInfo, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	// table_name uniqueness is left to the catalog author.
	for i, m := range f.Models {
		if m.TableName == "" {
			return nil, fmt.Errorf("model #%d (%q) has no table_name", i+1, m.Name)
		}
	}
	return f.Models, nil
}
