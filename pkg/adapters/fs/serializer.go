package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/placard/pkg/core"
)

// Serializer defines how to read and write a specific file format.
type Serializer interface {
	// Parse reads a record from r.
	Parse(r io.Reader) (core.Snapshot, error)
	// Serialize converts a snapshot to bytes.
	Serialize(snap core.Snapshot) ([]byte, error)
}

// DefaultSerializers returns the standard set of serializers.
func DefaultSerializers() map[string]Serializer {
	return map[string]Serializer{
		".json": NewJSONSerializer(false),
		".yaml": NewYAMLSerializer(false),
		".yml":  NewYAMLSerializer(false),
	}
}

// record is the on-disk layout: place fields at the top level so files stay
// easy to edit by hand.
type record struct {
	Version     uint64    `json:"version" yaml:"version"`
	CommittedAt time.Time `json:"committed_at,omitempty" yaml:"committed_at,omitempty"`
	Latitude    float64   `json:"latitude" yaml:"latitude"`
	Longitude   float64   `json:"longitude" yaml:"longitude"`
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	Subtitle    string    `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
}

func toRecord(s core.Snapshot) record {
	return record{
		Version:     s.Version,
		CommittedAt: s.CommittedAt,
		Latitude:    s.Place.Latitude,
		Longitude:   s.Place.Longitude,
		Title:       s.Place.Title,
		Subtitle:    s.Place.Subtitle,
	}
}

func (r record) snapshot() core.Snapshot {
	return core.Snapshot{
		Version:     r.Version,
		CommittedAt: r.CommittedAt,
		Place: core.Place{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Title:     r.Title,
			Subtitle:  r.Subtitle,
		},
	}
}

// --- JSON Serializer ---

// JSONSerializer handles reading and writing JSON files.
type JSONSerializer struct {
	// Strict rejects unknown fields.
	Strict bool
}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer(strict bool) *JSONSerializer {
	return &JSONSerializer{Strict: strict}
}

func (s *JSONSerializer) Parse(r io.Reader) (core.Snapshot, error) {
	decoder := json.NewDecoder(r)
	if s.Strict {
		decoder.DisallowUnknownFields()
	}
	var rec record
	if err := decoder.Decode(&rec); err != nil {
		return core.Snapshot{}, fmt.Errorf("invalid json: %w", err)
	}
	return rec.snapshot(), nil
}

func (s *JSONSerializer) Serialize(snap core.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(toRecord(snap), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// --- YAML Serializer ---

// YAMLSerializer handles reading and writing YAML files.
type YAMLSerializer struct {
	// Strict rejects unknown fields.
	Strict bool
}

// NewYAMLSerializer creates a new YAML serializer.
func NewYAMLSerializer(strict bool) *YAMLSerializer {
	return &YAMLSerializer{Strict: strict}
}

func (s *YAMLSerializer) Parse(r io.Reader) (core.Snapshot, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(s.Strict)
	var rec record
	if err := decoder.Decode(&rec); err != nil {
		if err == io.EOF {
			return core.Snapshot{}, fmt.Errorf("invalid yaml: empty document")
		}
		return core.Snapshot{}, fmt.Errorf("invalid yaml: %w", err)
	}
	return rec.snapshot(), nil
}

func (s *YAMLSerializer) Serialize(snap core.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(toRecord(snap)); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
