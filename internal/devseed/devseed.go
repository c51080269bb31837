// Package devseed loads YAML seed files for the in-memory Datastore fake.
//
// A seed file lists entities:
//
//	entities:
//	  - kind: heroes
//	    id: 5629499534213120
//	    properties:
//	      HeroID: 0
//	      Action: List
//	      Time: {timestampValue: "2018-07-27T20:13:20Z"}
//
// Scalar properties are encoded with their natural datatype. A mapping is
// taken as a ready-made property envelope.
package devseed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entity is one seeded record. Exactly one of ID or Name identifies it.
type Entity struct {
	Namespace  string         `yaml:"namespace"`
	Kind       string         `yaml:"kind"`
	ID         int64          `yaml:"id"`
	Name       string         `yaml:"name"`
	Deferred   bool           `yaml:"deferred"`
	Properties map[string]any `yaml:"properties"`
}

type seedFile struct {
	Entities []Entity `yaml:"entities"`
}

// LoadEntities reads and validates a seed file.
func LoadEntities(path string) ([]Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devseed: read %s: %w", path, err)
	}
	entities, err := ParseEntities(data)
	if err != nil {
		return nil, fmt.Errorf("devseed: %s: %w", path, err)
	}
	return entities, nil
}

// ParseEntities decodes seed YAML. Unknown fields are rejected.
func ParseEntities(data []byte) ([]Entity, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var seed seedFile
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	for i, e := range seed.Entities {
		if strings.TrimSpace(e.Kind) == "" {
			return nil, fmt.Errorf("entity %d: kind is required", i)
		}
		if (e.ID == 0) == (e.Name == "") {
			return nil, fmt.Errorf("entity %d (%s): exactly one of id or name is required", i, e.Kind)
		}
	}
	return seed.Entities, nil
}
