package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/world"
)

// Set is a compiled filter set: a rule group.
type Set struct {
	ID            string
	Label         string
	Toggleable    bool
	DefaultHidden bool
	Sorting       int
	Style         string

	// EyeLevel is nil when the set doesn't say, which leaves the
	// decision to the daemon.
	EyeLevel *bool

	Filters []*Filter
}

// MarkerSetKey is the key of the marker set a group maintains for a
// target.
func MarkerSetKey(targetID, groupID string) string {
	return targetID + "_" + groupID + "_entities"
}

// CompileSet checks a raw set and all of its filters.  A set with
// any bad filter is bad as a whole; every problem is still reported.
func CompileSet(id string, raw *RawSet, env *Env, path string) (*Set, Diagnostics) {
	var ds Diagnostics

	if raw == nil {
		ds.add(path, "filter set is empty")
		return nil, ds
	}

	s := &Set{
		ID:            id,
		Toggleable:    true,
		DefaultHidden: true,
		Style:         marker.DefaultStyle,
		EyeLevel:      raw.EyeLevel,
	}

	if raw.Label == nil {
		ds.add(join(path, "label"), "label is missing")
	} else {
		s.Label = *raw.Label
	}
	if raw.Toggleable != nil {
		s.Toggleable = *raw.Toggleable
	}
	if raw.DefaultHidden != nil {
		s.DefaultHidden = *raw.DefaultHidden
	}
	if raw.Sorting != nil {
		s.Sorting = *raw.Sorting
	}
	if raw.MarkerStyle != nil {
		if blank(raw.MarkerStyle) {
			ds.add(join(path, "marker-style"), "marker style defined, but empty")
		} else {
			s.Style = strings.TrimSpace(*raw.MarkerStyle)
		}
	}

	switch {
	case raw.Filters == nil:
		ds.add(join(path, "filters"), "filters property is missing")
	case 0 == len(raw.Filters):
		ds.add(join(path, "filters"), "filters list is empty")
	default:
		for i, r := range raw.Filters {
			f := compile(r, env, fmt.Sprintf("%s[%d]", join(path, "filters"), i), &ds)
			if f != nil {
				s.Filters = append(s.Filters, f)
			}
		}
	}

	if 0 < len(ds) {
		return nil, ds
	}
	return s, nil
}

// Descriptor is the display metadata for the set's marker sets.
func (s *Set) Descriptor() marker.Descriptor {
	return marker.Descriptor{
		Label:         s.Label,
		Toggleable:    s.Toggleable,
		DefaultHidden: s.DefaultHidden,
		Sorting:       s.Sorting,
	}
}

// NewMarkerSet returns a fresh, empty marker set for the group.
func (s *Set) NewMarkerSet() *marker.Set {
	return marker.NewSet(s.Descriptor())
}

// Match returns the first filter that matches the entity, or nil.
//
// A filter whose evaluation fails counts as not matching; the first
// such error is returned alongside the result.
func (s *Set) Match(ctx context.Context, e *world.Entity) (*Filter, error) {
	var first error
	for _, f := range s.Filters {
		ok, err := f.Eval(ctx, e)
		if err != nil {
			if first == nil {
				first = fmt.Errorf("%s: %w", f.Path, err)
			}
			continue
		}
		if ok {
			return f, first
		}
	}
	return nil, first
}
