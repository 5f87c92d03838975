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

// Package config reads target documents and the daemon's own
// configuration, and watches the target directory for changes.
//
// A target document is YAML (or JSON, which is YAML) with a
// "filter-sets" map from group id to filter set:
//
//	world: overworld
//	filter-sets:
//	  hostile:
//	    label: Hostile mobs
//	    filters:
//	      - instance-of: Monster
//	        exclude:
//	          - type: CREEPER
//
// A document can instead give a flat "filters" list, which becomes a
// single group named "default" labeled with the target id.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jsccast/yaml"

	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/match"
	"github.com/Comcast/entitymarkers/registry"
)

// DefaultGroup is the id of the group made from a flat filters list.
const DefaultGroup = "default"

var (
	EmptyDocument = errors.New("document is empty")
	NotAMap       = errors.New("document is not a map")
)

// RawTarget is a target document as written.
type RawTarget struct {
	// World defaults to the target id.
	World *string `json:"world,omitempty"`

	FilterSets map[string]*filter.RawSet `json:"filter-sets,omitempty"`

	// Filters is the flat form.
	Filters []*filter.RawFilter `json:"filters,omitempty"`
}

// DecodeTarget parses a target document.
//
// The YAML decoder gives us generic maps, which then go through JSON
// to reach the typed structs.
func DecodeTarget(bs []byte) (*RawTarget, error) {
	var x interface{}
	if err := yaml.Unmarshal(bs, &x); err != nil {
		return nil, err
	}
	if x == nil {
		return nil, EmptyDocument
	}
	x, err := match.Canonicalize(x)
	if err != nil {
		return nil, err
	}
	if _, is := x.(map[string]interface{}); !is {
		return nil, NotAMap
	}

	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var raw RawTarget
	if err = json.Unmarshal(js, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// CompileTarget checks every group of a target.
//
// Bad groups are dropped and the good ones kept.  The returned
// Target is nil if no group survived.
func CompileTarget(id string, raw *RawTarget, env *filter.Env) (*registry.Target, filter.Diagnostics) {
	var ds filter.Diagnostics
	problem := func(path, msg string) {
		ds = append(ds, filter.Diagnostic{Path: path, Message: msg})
	}

	if raw == nil {
		problem("", "document is empty")
		return nil, ds
	}

	sets := make(map[string]*filter.RawSet, len(raw.FilterSets)+1)
	for gid, s := range raw.FilterSets {
		sets[gid] = s
	}

	switch {
	case raw.Filters != nil:
		if _, have := sets[DefaultGroup]; have {
			problem("filters", fmt.Sprintf("conflicts with filter-sets.%s", DefaultGroup))
			break
		}
		label := id
		sets[DefaultGroup] = &filter.RawSet{
			Label:   &label,
			Filters: raw.Filters,
		}
	case raw.FilterSets == nil:
		problem("filter-sets", "filter-sets property is missing")
		return nil, ds
	}

	if 0 == len(sets) {
		problem("filter-sets", "no filter sets")
		return nil, ds
	}

	gids := make([]string, 0, len(sets))
	for gid := range sets {
		gids = append(gids, gid)
	}
	sort.Strings(gids)

	var groups []*filter.Set
	for _, gid := range gids {
		path := "filter-sets." + gid
		if gid == DefaultGroup && raw.Filters != nil {
			if _, have := raw.FilterSets[DefaultGroup]; !have {
				path = ""
			}
		}
		g, gds := filter.CompileSet(gid, sets[gid], env, path)
		ds = append(ds, gds...)
		if g != nil {
			groups = append(groups, g)
		}
	}

	if 0 == len(groups) {
		return nil, ds
	}

	var w string
	if raw.World != nil {
		w = *raw.World
	}
	return registry.NewTarget(id, w, groups...), ds
}
