// Package geocode names places by reverse-geocoding their coordinate and
// committing the result through a detached transaction.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrLookupFailed is returned when the reverse-geocoding service cannot resolve a
// coordinate. It is reported to the requester and never persisted.
var ErrLookupFailed = errors.New("lookup failed")

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinate lies on the globe.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// Placemark is the answer of a reverse-geocoding lookup.
type Placemark struct {
	Name     string
	Locality string
	Region   string
	Country  string
}

// Address formats the non-empty address lines of the placemark on one line.
func (p Placemark) Address() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Locality, p.Region, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Lookup resolves a coordinate to a placemark. Implementations must return
// promptly once ctx is cancelled.
type Lookup interface {
	ReverseGeocode(ctx context.Context, c Coordinate) (Placemark, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, c Coordinate) (Placemark, error)

func (f LookupFunc) ReverseGeocode(ctx context.Context, c Coordinate) (Placemark, error) {
	return f(ctx, c)
}

// GridLookup is an offline lookup that names a coordinate after the
// 10x10 degree grid cell containing it. It needs no network and always gives
// the same answer for the same cell.
type GridLookup struct {
	// Latency simulates a remote service.
	Latency time.Duration
}

// ReverseGeocode implements Lookup.
func (g GridLookup) ReverseGeocode(ctx context.Context, c Coordinate) (Placemark, error) {
	if !c.Valid() {
		return Placemark{}, fmt.Errorf("%w: coordinate %s is off the globe", ErrLookupFailed, c)
	}
	if g.Latency > 0 {
		timer := time.NewTimer(g.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Placemark{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Placemark{}, err
	}

	latBand := int(math.Floor(c.Latitude/10)) * 10
	lonBand := int(math.Floor(c.Longitude/10)) * 10
	if latBand == 90 {
		latBand = 80
	}
	if lonBand == 180 {
		lonBand = 170
	}

	return Placemark{
		Name:     fmt.Sprintf("Sector %s%02d %s%03d", hemi(latBand, "N", "S"), abs(latBand), hemi(lonBand, "E", "W"), abs(lonBand)),
		Locality: zone(c.Latitude),
		Region:   hemisphere(c),
		Country:  "Earth",
	}, nil
}

func hemi(band int, pos, neg string) string {
	if band < 0 {
		return neg
	}
	return pos
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func zone(lat float64) string {
	switch a := math.Abs(lat); {
	case a >= 66.5:
		return "Polar"
	case a >= 23.5:
		return "Temperate"
	default:
		return "Tropical"
	}
}

func hemisphere(c Coordinate) string {
	ns := "Northern"
	if c.Latitude < 0 {
		ns = "Southern"
	}
	ew := "Eastern"
	if c.Longitude < 0 {
		ew = "Western"
	}
	return ns + " " + ew + " Hemisphere"
}
