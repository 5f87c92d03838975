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

package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jsccast/yaml"
)

// ErrWorldNotFound is returned by a Source that doesn't know the
// requested world.
var ErrWorldNotFound = errors.New("world not found")

// Source enumerates the live entities of a world.
//
// The returned slice belongs to the caller, but the entities it
// points to must not be modified.
type Source interface {
	Entities(ctx context.Context, worldID string) ([]*Entity, error)
}

// Static is an in-memory Source.  Handy for tests and for hosts that
// push snapshots rather than being polled.
type Static struct {
	sync.RWMutex
	worlds map[string][]*Entity
}

func NewStatic() *Static {
	return &Static{
		worlds: make(map[string][]*Entity, 8),
	}
}

// Set replaces the snapshot for a world.
func (s *Static) Set(worldID string, es []*Entity) {
	s.Lock()
	s.worlds[worldID] = es
	s.Unlock()
}

// Remove forgets a world.
func (s *Static) Remove(worldID string) {
	s.Lock()
	delete(s.worlds, worldID)
	s.Unlock()
}

func (s *Static) Entities(ctx context.Context, worldID string) ([]*Entity, error) {
	s.RLock()
	defer s.RUnlock()
	es, have := s.worlds[worldID]
	if !have {
		return nil, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}
	acc := make([]*Entity, len(es))
	copy(acc, es)
	return acc, nil
}

// Dir is a Source that reads entity dumps from a directory.  The
// snapshot of world "w" lives in "w.json", "w.yaml", or "w.yml" and
// holds a list of entities.
//
// Every call rereads the file, so an external process can refresh
// the dumps between ticks.
type Dir struct {
	Path string
}

func (d *Dir) Entities(ctx context.Context, worldID string) ([]*Entity, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		filename := filepath.Join(d.Path, worldID+ext)
		bs, err := os.ReadFile(filename)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		es, err := ParseEntities(bs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		for _, e := range es {
			if e.World == "" {
				e.World = worldID
			}
		}
		return es, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
}

// ParseEntities reads a JSON or YAML list of entities.  Null
// elements are dropped.
func ParseEntities(bs []byte) ([]*Entity, error) {
	var es []*Entity
	if err := json.Unmarshal(bs, &es); err == nil {
		return compact(es), nil
	}

	// YAML goes through JSON so that uuid.UUID and friends
	// decode the same way in both syntaxes.
	var x interface{}
	if err := yaml.Unmarshal(bs, &x); err != nil {
		return nil, err
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(js, &es); err != nil {
		return nil, err
	}
	return compact(es), nil
}

func compact(es []*Entity) []*Entity {
	acc := es[:0]
	for _, e := range es {
		if e != nil {
			acc = append(acc, e)
		}
	}
	return acc
}
