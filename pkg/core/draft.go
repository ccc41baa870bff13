package core

import (
	"math/rand/v2"
	"sync"
)

// Draft is the private staging copy of a place held by a transaction.
// Setters are local: nothing is visible to other readers until the owning
// transaction commits. Only the fields that were set are written, on top of
// the latest committed snapshot, so concurrent transactions touching disjoint
// fields do not lose each other's updates.
//
// Once its transaction starts committing the draft is sealed and setters are ignored.
type Draft struct {
	mu     sync.Mutex
	place  Place
	dirty  FieldSet
	create bool
	sealed bool
}

func newDraft(base Place, create bool) *Draft {
	d := &Draft{place: base, create: create}
	if create {
		d.dirty = AllFields()
	}
	return d
}

// Place returns the staged values.
func (d *Draft) Place() Place {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.place
}

// Dirty returns the fields set on this draft.
func (d *Draft) Dirty() FieldSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

func (d *Draft) set(f Field, apply func(p *Place)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return
	}
	apply(&d.place)
	d.dirty = d.dirty.With(f)
}

// SetLatitude stages a new latitude.
func (d *Draft) SetLatitude(v float64) {
	d.set(FieldLatitude, func(p *Place) { p.Latitude = v })
}

// SetLongitude stages a new longitude.
func (d *Draft) SetLongitude(v float64) {
	d.set(FieldLongitude, func(p *Place) { p.Longitude = v })
}

// SetCoordinate stages both coordinate fields.
func (d *Draft) SetCoordinate(lat, lon float64) {
	d.SetLatitude(lat)
	d.SetLongitude(lon)
}

// SetTitle stages a new title. An empty string clears it.
func (d *Draft) SetTitle(v string) {
	d.set(FieldTitle, func(p *Place) { p.Title = v })
}

// SetSubtitle stages a new subtitle. An empty string clears it.
func (d *Draft) SetSubtitle(v string) {
	d.set(FieldSubtitle, func(p *Place) { p.Subtitle = v })
}

// Reset stages the initial values of a place (see InitialPlace).
func (d *Draft) Reset(r *rand.Rand) {
	initial := InitialPlace(r)
	d.SetCoordinate(initial.Latitude, initial.Longitude)
	d.SetTitle("")
	d.SetSubtitle("")
}

// seal freezes the draft and reports whether it has anything to write.
func (d *Draft) seal() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = true
	return d.create || d.dirty != 0
}

// mutation returns the write applied by the store at commit time.
func (d *Draft) mutation() MutationFunc {
	d.mu.Lock()
	staged, dirty, create := d.place, d.dirty, d.create
	d.mu.Unlock()

	return func(current Snapshot) (Place, error) {
		if !current.Exists() && !create {
			return Place{}, ErrNotFound
		}
		next := current.Place
		if !current.Exists() {
			next = Place{}
		}
		for _, f := range dirty.Fields() {
			switch f {
			case FieldLatitude:
				next.Latitude = staged.Latitude
			case FieldLongitude:
				next.Longitude = staged.Longitude
			case FieldTitle:
				next.Title = staged.Title
			case FieldSubtitle:
				next.Subtitle = staged.Subtitle
			}
		}
		return next, nil
	}
}
