// Place is the central entity of the domain.
package core

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Field names one independently observable attribute of a Place.
type Field string

const (
	FieldLatitude  Field = "latitude"
	FieldLongitude Field = "longitude"
	FieldTitle     Field = "title"
	FieldSubtitle  Field = "subtitle"
)

// Fields lists every observable field in declaration order.
var Fields = []Field{FieldLatitude, FieldLongitude, FieldTitle, FieldSubtitle}

// Place is the single mutable record managed by a Controller.
// Empty Title and Subtitle mean "not set".
type Place struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Title     string  `json:"title,omitempty" yaml:"title,omitempty"`
	Subtitle  string  `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
}

// InitialPlace returns the values a freshly created or reset place starts with:
// a random coordinate and no title or subtitle. A nil r uses the global source.
func InitialPlace(r *rand.Rand) Place {
	lat, lon := rand.Float64(), rand.Float64()
	if r != nil {
		lat, lon = r.Float64(), r.Float64()
	}
	return Place{
		Latitude:  lat*180 - 90,
		Longitude: lon*360 - 180,
	}
}

// Value returns the value of the named field.
func (p Place) Value(f Field) any {
	switch f {
	case FieldLatitude:
		return p.Latitude
	case FieldLongitude:
		return p.Longitude
	case FieldTitle:
		return p.Title
	case FieldSubtitle:
		return p.Subtitle
	}
	return nil
}

func (p Place) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%.6f, %.6f)", p.Latitude, p.Longitude)
	if p.Title != "" {
		sb.WriteString(" ")
		sb.WriteString(p.Title)
	}
	if p.Subtitle != "" {
		sb.WriteString(" / ")
		sb.WriteString(p.Subtitle)
	}
	return sb.String()
}

// Snapshot is an immutable view of one point in the committed history of a place.
// The zero Version means nothing has been committed (or loaded) for the key.
type Snapshot struct {
	Key         string    `json:"key" yaml:"key"`
	Place       Place     `json:"place" yaml:"place"`
	Version     uint64    `json:"version" yaml:"version"`
	Deleted     bool      `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	CommittedAt time.Time `json:"committed_at" yaml:"committed_at"`
}

// Exists reports whether the snapshot holds a live record.
func (s Snapshot) Exists() bool {
	return s.Version > 0 && !s.Deleted
}

// EventType represents the type of change applied to a place.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventModify EventType = "MODIFY"
	EventDelete EventType = "DELETE"
)

// Event represents a committed change.
type Event struct {
	Type      EventType
	Key       string
	Version   uint64
	Fields    FieldSet
	Timestamp int64 // Unix timestamp
}

func (e Event) String() string {
	if e.Type == EventDelete || e.Fields.Len() == 0 {
		return fmt.Sprintf("%s %s@%d", e.Type, e.Key, e.Version)
	}
	return fmt.Sprintf("%s %s@%d %s", e.Type, e.Key, e.Version, e.Fields)
}

type contextKey string

// ChangeReasonKey is the context key for passing the change reason (commit message)
// of a transaction down to versioned stores.
const ChangeReasonKey contextKey = "change_reason"
