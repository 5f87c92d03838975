/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package filter compiles and evaluates entity filters and the
// filter sets (rule groups) that contain them.
//
// A filter is a conjunction of optional attribute tests plus a list
// of exclusions, which are filters themselves.  An entity matches a
// filter if it passes every present test and matches none of the
// exclusions.  A filter with no tests matches everything (that its
// exclusions allow).
//
// Compile checks a RawFilter completely and reports every problem as
// a Diagnostic.  A compiled Filter is immutable.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Comcast/entitymarkers/assets"
	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/match"
	"github.com/Comcast/entitymarkers/popup"
	"github.com/Comcast/entitymarkers/world"
)

// Env is what compilation needs from the outside world.
type Env struct {
	// Catalog resolves types, spawn reasons, and categories.
	// Defaults to world.DefaultCatalog.
	Catalog *world.Catalog

	// Assets checks icons.  Nil accepts every icon.
	Assets assets.Store

	// ScriptTimeout bounds each script evaluation.
	ScriptTimeout time.Duration
}

func (env *Env) catalog() *world.Catalog {
	if env == nil || env.Catalog == nil {
		return world.DefaultCatalog
	}
	return env.Catalog
}

func (env *Env) assets() assets.Store {
	if env == nil || env.Assets == nil {
		return assets.Any{}
	}
	return env.Assets
}

func (env *Env) scriptTimeout() time.Duration {
	if env == nil {
		return 0
	}
	return env.ScriptTimeout
}

type bound struct {
	min, max *float64
}

func (b bound) ok(x float64) bool {
	if b.min != nil && x < *b.min {
		return false
	}
	if b.max != nil && *b.max < x {
		return false
	}
	return true
}

// Filter is a compiled filter.
type Filter struct {
	// Path is where the filter came from.
	Path string

	catalog *world.Catalog

	typ         *world.EntityType
	name        *regexp.Regexp
	customName  *regexp.Regexp
	uuid        *uuid.UUID
	spawnReason *world.SpawnReason
	category    string
	x, y, z     bound
	tags        []string
	data        interface{}
	script      *Script

	icon        string
	anchor      marker.Anchor
	maxDistance *float64
	template    string
	format      popup.Format

	exclude []*Filter
}

// Icon returns the icon path relative to the icon directory.  Empty
// when the filter has no icon.
func (f *Filter) Icon() string {
	return f.icon
}

// Anchor is the icon offset, (0,0) unless given.
func (f *Filter) Anchor() marker.Anchor {
	return f.anchor
}

// MaxDistance returns the visibility limit, if any.
func (f *Filter) MaxDistance() (float64, bool) {
	if f.maxDistance == nil {
		return 0, false
	}
	return *f.maxDistance, true
}

// Template is the popup template: the default if none was given, and
// trimmed otherwise.
func (f *Filter) Template() string {
	return f.template
}

func (f *Filter) Format() popup.Format {
	return f.format
}

func blank(s *string) bool {
	return strings.TrimSpace(*s) == ""
}

// Compile checks the raw filter and its exclusions.  When there are
// any diagnostics, the returned Filter is nil.
func Compile(raw *RawFilter, env *Env, path string) (*Filter, Diagnostics) {
	var ds Diagnostics
	f := compile(raw, env, path, &ds)
	if 0 < len(ds) {
		return nil, ds
	}
	return f, nil
}

func compile(raw *RawFilter, env *Env, path string, ds *Diagnostics) *Filter {
	if raw == nil {
		ds.add(path, "filter is empty")
		return nil
	}

	cat := env.catalog()
	f := &Filter{
		Path:     path,
		catalog:  cat,
		template: popup.DefaultTemplate,
		format:   popup.Lines,
	}

	if raw.Type != nil {
		if t, have := cat.LookupType(*raw.Type); have {
			f.typ = &t
		} else {
			ds.add(join(path, "type"), fmt.Sprintf("invalid entity type: %q", *raw.Type))
		}
	}

	f.name = compileRegexp(raw.Name, join(path, "name"), "name", ds)
	f.customName = compileRegexp(raw.CustomName, join(path, "custom-name"), "custom name", ds)

	if raw.UUID != nil {
		if id, err := uuid.Parse(strings.TrimSpace(*raw.UUID)); err == nil {
			f.uuid = &id
		} else {
			ds.add(join(path, "uuid"), fmt.Sprintf("invalid UUID: %q", *raw.UUID))
		}
	}

	if raw.SpawnReason != nil {
		if r, have := cat.LookupSpawnReason(*raw.SpawnReason); have {
			f.spawnReason = &r
		} else {
			ds.add(join(path, "spawn-reason"), fmt.Sprintf("invalid spawn reason: %q", *raw.SpawnReason))
		}
	}

	if raw.InstanceOf != nil {
		if c, have := cat.LookupCategory(*raw.InstanceOf); have {
			f.category = c
		} else {
			ds.add(join(path, "instance-of"), fmt.Sprintf("invalid class: %q", *raw.InstanceOf))
		}
	}

	f.x = compileBound(raw.MinX, raw.MaxX, path, "x", ds)
	f.y = compileBound(raw.MinY, raw.MaxY, path, "y", ds)
	f.z = compileBound(raw.MinZ, raw.MaxZ, path, "z", ds)

	if raw.ScoreboardTags != nil {
		f.tags = append([]string{}, raw.ScoreboardTags...)
	}

	if raw.Data != nil {
		p, err := match.Canonicalize(raw.Data)
		if err == nil {
			err = match.CheckMap(p)
		}
		if err != nil {
			ds.add(join(path, "data"), "invalid data pattern: "+err.Error())
		} else {
			f.data = p
		}
	}

	if raw.Script != nil {
		if blank(raw.Script) {
			ds.add(join(path, "script"), "script defined, but empty")
		} else if s, err := CompileScript(*raw.Script, cat, env.scriptTimeout()); err != nil {
			ds.add(join(path, "script"), "script doesn't compile: "+err.Error())
		} else {
			f.script = s
		}
	}

	if raw.Icon != nil {
		if blank(raw.Icon) {
			ds.add(join(path, "icon"), "icon defined, but empty")
		} else if !env.assets().Exists(*raw.Icon) {
			ds.add(join(path, "icon"), fmt.Sprintf("icon file does not exist: %q", *raw.Icon))
		} else {
			f.icon = *raw.Icon
		}
	}

	if raw.Anchor != nil {
		if raw.Anchor.X == nil || raw.Anchor.Y == nil {
			ds.add(join(path, "anchor"), "invalid anchor: needs both x and y")
		} else {
			f.anchor = marker.Anchor{X: int(*raw.Anchor.X), Y: int(*raw.Anchor.Y)}
		}
		if raw.Icon == nil || blank(raw.Icon) {
			ds.add(join(path, "anchor"), "anchor is defined, but there is no icon")
		}
	}

	if raw.MaxDistance != nil {
		if *raw.MaxDistance < 0 {
			ds.add(join(path, "max-distance"), "max distance is negative")
		} else {
			d := *raw.MaxDistance
			f.maxDistance = &d
		}
	}

	if raw.PopupInfoTemplate != nil {
		if blank(raw.PopupInfoTemplate) {
			ds.add(join(path, "popup-info-template"), "popup info template defined, but empty")
		} else {
			f.template = strings.TrimSpace(*raw.PopupInfoTemplate)
		}
	}

	if raw.PopupFormat != nil {
		if pf, err := popup.ParseFormat(*raw.PopupFormat); err != nil {
			ds.add(join(path, "popup-format"), err.Error())
		} else {
			f.format = pf
		}
	}

	if raw.Exclude != nil {
		for i, x := range raw.Exclude {
			p := fmt.Sprintf("%s[%d]", join(path, "exclude"), i)
			if ex := compile(x, env, p, ds); ex != nil {
				f.exclude = append(f.exclude, ex)
			}
		}
		if !raw.selects() {
			ds.add(path, "filter has only an exclude filter, which is not allowed")
		}
	}

	return f
}

func compileRegexp(s *string, path, what string, ds *Diagnostics) *regexp.Regexp {
	if s == nil {
		return nil
	}
	if blank(s) {
		ds.add(path, what+" defined, but empty")
		return nil
	}
	r, err := regexp.Compile(*s)
	if err != nil {
		ds.add(path, fmt.Sprintf("invalid %s regular expression: %s", what, err))
		return nil
	}
	return r
}

func compileBound(lo, hi *float64, path, axis string, ds *Diagnostics) bound {
	if lo != nil && hi != nil && *hi < *lo {
		ds.add(join(path, "min-"+axis), fmt.Sprintf("min-%s is greater than max-%s", axis, axis))
	}
	return bound{min: lo, max: hi}
}

// Eval reports whether the entity matches the filter.  Only a script
// predicate can return an error.
func (f *Filter) Eval(ctx context.Context, e *world.Entity) (bool, error) {
	if f.typ != nil && e.Type != *f.typ {
		return false, nil
	}
	if f.name != nil && !f.name.MatchString(e.Name) {
		return false, nil
	}
	if f.customName != nil {
		name, have := e.ResolvedCustomName()
		if !have || !f.customName.MatchString(name) {
			return false, nil
		}
	}
	if f.uuid != nil && e.UUID != *f.uuid {
		return false, nil
	}
	if f.spawnReason != nil && e.SpawnReason != *f.spawnReason {
		return false, nil
	}
	if f.category != "" && !e.Is(f.catalog, f.category) {
		return false, nil
	}
	if !f.x.ok(e.Position.X) || !f.y.ok(e.Position.Y) || !f.z.ok(e.Position.Z) {
		return false, nil
	}
	if f.tags != nil && !e.HasTags(f.tags) {
		return false, nil
	}
	if f.data != nil {
		var fact interface{} = map[string]interface{}{}
		if e.Data != nil {
			var err error
			if fact, err = match.Canonicalize(e.Data); err != nil {
				return false, err
			}
		}
		ok, err := match.Matches(f.data, fact)
		if err != nil || !ok {
			return false, err
		}
	}
	if f.script != nil {
		ok, err := f.script.Eval(ctx, e)
		if err != nil || !ok {
			return false, err
		}
	}

	for _, x := range f.exclude {
		excluded, err := x.Eval(ctx, e)
		if err != nil {
			return false, err
		}
		if excluded {
			return false, nil
		}
	}

	return true, nil
}

// Matches is Eval without a context.  An evaluation error is no
// match.
func (f *Filter) Matches(e *world.Entity) bool {
	ok, err := f.Eval(context.Background(), e)
	return err == nil && ok
}
