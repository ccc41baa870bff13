package core

import "strings"

// FieldSet is a set of field names. The zero value is the empty set.
type FieldSet uint8

func fieldBit(f Field) FieldSet {
	for i, known := range Fields {
		if known == f {
			return 1 << i
		}
	}
	return 0
}

// NewFieldSet builds a set from the given fields. Unknown names are ignored.
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s |= fieldBit(f)
	}
	return s
}

// AllFields returns the set containing every field.
func AllFields() FieldSet {
	return NewFieldSet(Fields...)
}

// Contains reports whether f is in the set.
func (s FieldSet) Contains(f Field) bool {
	bit := fieldBit(f)
	return bit != 0 && s&bit != 0
}

// ContainsAny reports whether any of the fields is in the set.
func (s FieldSet) ContainsAny(fields ...Field) bool {
	return s&NewFieldSet(fields...) != 0
}

// With returns a copy of the set that also contains f.
func (s FieldSet) With(f Field) FieldSet {
	return s | fieldBit(f)
}

// Len returns the number of fields in the set.
func (s FieldSet) Len() int {
	n := 0
	for i := range Fields {
		if s&(1<<i) != 0 {
			n++
		}
	}
	return n
}

// Fields returns the members in declaration order.
func (s FieldSet) Fields() []Field {
	out := make([]Field, 0, len(Fields))
	for i, f := range Fields {
		if s&(1<<i) != 0 {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	fields := s.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// ChangedFields returns the fields whose values differ between two places.
func ChangedFields(before, after Place) FieldSet {
	var s FieldSet
	if before.Latitude != after.Latitude {
		s = s.With(FieldLatitude)
	}
	if before.Longitude != after.Longitude {
		s = s.With(FieldLongitude)
	}
	if before.Title != after.Title {
		s = s.With(FieldTitle)
	}
	if before.Subtitle != after.Subtitle {
		s = s.With(FieldSubtitle)
	}
	return s
}
