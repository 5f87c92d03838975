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

// Package registry tracks which rule groups apply to which targets.
//
// The registry is rebuilt wholesale on every (re)load and swapped in
// atomically.  A reader takes a Snapshot and keeps using it; a reload
// never changes a Snapshot that someone already has.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Comcast/entitymarkers/filter"
)

// Target is a rendering surface with its rule groups.
type Target struct {
	ID string

	// World is the world whose entities the target shows.
	World string

	// Groups are ordered by ID.
	Groups []*filter.Set
}

// NewTarget makes a Target, sorting the groups.  An empty world
// defaults to the target id.
func NewTarget(id, world string, groups ...*filter.Set) *Target {
	if world == "" {
		world = id
	}
	gs := make([]*filter.Set, len(groups))
	copy(gs, groups)
	sort.SliceStable(gs, func(i, j int) bool {
		return gs[i].ID < gs[j].ID
	})
	return &Target{
		ID:     id,
		World:  world,
		Groups: gs,
	}
}

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	// Version increases with every Swap.
	Version uint64

	Loaded time.Time

	targets map[string]*Target
	ids     []string
}

// NewSnapshot builds a snapshot.  A later target with the same id
// replaces an earlier one.
func NewSnapshot(targets ...*Target) *Snapshot {
	s := &Snapshot{
		Loaded:  time.Now(),
		targets: make(map[string]*Target, len(targets)),
	}
	for _, t := range targets {
		s.targets[t.ID] = t
	}
	s.ids = make([]string, 0, len(s.targets))
	for id := range s.targets {
		s.ids = append(s.ids, id)
	}
	sort.Strings(s.ids)
	return s
}

func (s *Snapshot) Target(id string) (*Target, bool) {
	t, have := s.targets[id]
	return t, have
}

// IDs returns the target ids in sorted order.  Don't modify the
// result.
func (s *Snapshot) IDs() []string {
	return s.ids
}

// Targets returns the targets ordered by id.
func (s *Snapshot) Targets() []*Target {
	acc := make([]*Target, 0, len(s.ids))
	for _, id := range s.ids {
		acc = append(acc, s.targets[id])
	}
	return acc
}

func (s *Snapshot) Len() int {
	return len(s.targets)
}

// Registry holds the current Snapshot.
type Registry struct {
	sync.Mutex // writers

	current atomic.Pointer[Snapshot]
	version uint64
}

// New returns a Registry with an empty Snapshot.
func New() *Registry {
	r := &Registry{}
	r.current.Store(NewSnapshot())
	return r
}

// Snapshot returns the current Snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Swap installs a new Snapshot and returns the previous one.
func (r *Registry) Swap(s *Snapshot) *Snapshot {
	r.Lock()
	defer r.Unlock()
	r.version++
	s.Version = r.version
	return r.current.Swap(s)
}
