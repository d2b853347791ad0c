// Package timezone converts reading timestamps into one canonical civil zone.
package timezone

import (
	"errors"
	"fmt"
	"time"

	"energy-recon/internal/reading"
)

// DefaultZone is the reference civil zone for the deployment site.
const DefaultZone = "Africa/Johannesburg"

var (
	ErrUnresolved  = errors.New("timezone: source zone unresolved")
	ErrUnknownZone = errors.New("timezone: unknown zone name")
)

// Policy declares how a source's timestamps relate to civil time.
type Policy struct {
	// Zone is an IANA zone name the source's naive timestamps are civil
	// time in. Empty means the zone is not declared by name.
	Zone string

	// OffsetMinutes is a fixed UTC offset for sources that report a bare
	// offset instead of a zone name. Only honored when HasOffset is true,
	// so a genuine UTC+0 source is expressible.
	OffsetMinutes int
	HasOffset     bool

	// Explicit marks payloads whose timestamps already carry an offset;
	// parsed instants are trusted as-is and only converted.
	Explicit bool
}

// Resolved reports whether the policy can place naive timestamps.
func (p Policy) Resolved() bool {
	return p.Explicit || p.Zone != "" || p.HasOffset
}

// Location resolves the policy to a concrete location.
func (p Policy) Location() (*time.Location, error) {
	if p.Zone != "" {
		loc, err := time.LoadLocation(p.Zone)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownZone, p.Zone)
		}
		return loc, nil
	}
	if p.HasOffset {
		return time.FixedZone(fmt.Sprintf("UTC%+d", p.OffsetMinutes/60), p.OffsetMinutes*60), nil
	}
	return nil, ErrUnresolved
}

// Aligner converts readings into the canonical zone.
type Aligner struct {
	canonical *time.Location
}

// NewAligner constructs an aligner for the named canonical zone.
func NewAligner(zone string) (*Aligner, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, zone)
	}
	return &Aligner{canonical: loc}, nil
}

// Canonical returns the reference zone.
func (a *Aligner) Canonical() *time.Location { return a.canonical }

// Align converts one reading's timestamp into the canonical zone under the
// source policy. Aligning an already-aligned reading is a no-op.
//
// Naive timestamps are parsed upstream as civil time in UTC; for a source
// declaring a zone or fixed offset the civil fields are reinterpreted in
// that location before conversion. Sources with explicit offsets convert
// directly.
func (a *Aligner) Align(r reading.Reading, p Policy) (reading.Reading, error) {
	ts := r.Timestamp()
	if ts.Location() == a.canonical {
		return r, nil
	}
	if !p.Resolved() {
		return reading.Reading{}, ErrUnresolved
	}

	if p.Explicit {
		return r.WithTimestamp(ts.In(a.canonical))
	}

	loc, err := p.Location()
	if err != nil {
		return reading.Reading{}, err
	}
	civil := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), loc)
	return r.WithTimestamp(civil.In(a.canonical))
}

// AlignAll converts a batch of readings, failing on the first unresolved
// timestamp so callers never proceed with mixed zones.
func (a *Aligner) AlignAll(rs []reading.Reading, p Policy) ([]reading.Reading, error) {
	out := make([]reading.Reading, 0, len(rs))
	for _, r := range rs {
		aligned, err := a.Align(r, p)
		if err != nil {
			return nil, err
		}
		out = append(out, aligned)
	}
	return out, nil
}

// AlignPurchases converts ledger events into the canonical zone under the
// same policy rules as readings.
func (a *Aligner) AlignPurchases(events []reading.PurchaseEvent, p Policy) ([]reading.PurchaseEvent, error) {
	out := make([]reading.PurchaseEvent, 0, len(events))
	for _, ev := range events {
		ts := ev.Timestamp()
		if ts.Location() == a.canonical {
			out = append(out, ev)
			continue
		}
		if !p.Resolved() {
			return nil, ErrUnresolved
		}
		if p.Explicit {
			aligned, err := ev.WithTimestamp(ts.In(a.canonical))
			if err != nil {
				return nil, err
			}
			out = append(out, aligned)
			continue
		}
		loc, err := p.Location()
		if err != nil {
			return nil, err
		}
		civil := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), loc)
		aligned, err := ev.WithTimestamp(civil.In(a.canonical))
		if err != nil {
			return nil, err
		}
		out = append(out, aligned)
	}
	return out, nil
}
