/* Copyright 2018 Comcast Cable Communications Management, LLC
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

// Package testutil has fixtures shared by the tests of the packages
// that sit above filter.
package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jsccast/yaml"

	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/match"
	"github.com/Comcast/entitymarkers/world"
)

// JS renders its argument as JSON or as a string indicating an error.
func JS(x interface{}) string {
	bs, err := json.Marshal(&x)
	if err != nil {
		return fmt.Sprintf("%#v", x)
	}
	return string(bs)
}

// Dwimyaml, when given a string or bytes, parses that data as YAML
// (so JSON works too) into string-keyed maps.  When given anything
// else, just returns what's given.
//
// See https://en.wikipedia.org/wiki/DWIM.
func Dwimyaml(x interface{}) interface{} {
	switch vv := x.(type) {
	case []byte:
		return Dwimyaml(string(vv))
	case string:
		var v interface{}
		if err := yaml.Unmarshal([]byte(vv), &v); err != nil {
			panic(err)
		}
		v, err := match.Canonicalize(v)
		if err != nil {
			panic(err)
		}
		return v
	default:
		return x
	}
}

// Group compiles a filter set from YAML or JSON source.  The test
// fails on any diagnostic.
func Group(t testing.TB, id, src string, env *filter.Env) *filter.Set {
	t.Helper()
	js, err := json.Marshal(Dwimyaml(src))
	if err != nil {
		t.Fatal(err)
	}
	var raw filter.RawSet
	if err = json.Unmarshal(js, &raw); err != nil {
		t.Fatal(err)
	}
	g, ds := filter.CompileSet(id, &raw, env, id)
	if 0 < len(ds) {
		t.Fatalf("%s: %s", id, ds.Error())
	}
	return g
}

// Entity makes an overworld entity of the given type at height y.
func Entity(typ world.EntityType, y float64) *world.Entity {
	return &world.Entity{
		UUID:     uuid.New(),
		Type:     typ,
		Name:     string(typ),
		World:    "overworld",
		Position: world.Vec3{X: 0.5, Y: y, Z: -0.5},
		Height:   2,
	}
}

// Zombies makes n zombies at y = 70.
func Zombies(n int) []*world.Entity {
	acc := make([]*world.Entity, n)
	for i := range acc {
		acc[i] = &world.Entity{
			UUID:     uuid.New(),
			Type:     "ZOMBIE",
			Name:     "Zombie",
			Position: world.Vec3{Y: 70},
		}
	}
	return acc
}
