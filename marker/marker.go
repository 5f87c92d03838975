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

// Package marker holds the derived overlays: marker records, the
// marker sets that contain them, and the hooks that publish rebuilt
// sets.
package marker

import (
	"sort"
	"sync"

	"github.com/Comcast/entitymarkers/world"
)

const (
	// IDPrefix namespaces marker ids.  A marker's id is IDPrefix
	// followed by the entity's UUID, so the same entity gets the
	// same id on every tick.
	IDPrefix = "bmfe."

	// DefaultStyle is the style class given to every marker
	// unless its group says otherwise.
	DefaultStyle = "bmfe-entity"
)

// Anchor is an icon's pixel offset.
type Anchor struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Marker is one point of interest.
type Marker struct {
	ID       string     `json:"id"`
	Label    string     `json:"label"`
	Detail   string     `json:"detail"`
	Position world.Vec3 `json:"position"`

	// Icon is the icon's web path.  Empty means the front end's
	// default icon.
	Icon   string  `json:"icon,omitempty"`
	Anchor *Anchor `json:"anchor,omitempty"`

	MaxDistance *float64 `json:"maxDistance,omitempty"`

	Classes []string `json:"classes,omitempty"`
}

// Descriptor is a marker set's display metadata.
type Descriptor struct {
	Label         string `json:"label"`
	Toggleable    bool   `json:"toggleable"`
	DefaultHidden bool   `json:"defaultHidden"`
	Sorting       int    `json:"sorting"`
}

// Set is a named, labeled collection of markers.
//
// A Set is safe for concurrent use.  The reconciler is the only
// writer, but readers (HTTP, publishers) can look at any time.
type Set struct {
	sync.RWMutex

	desc    Descriptor
	markers map[string]*Marker
}

func NewSet(d Descriptor) *Set {
	return &Set{
		desc:    d,
		markers: make(map[string]*Marker, 32),
	}
}

func (s *Set) Descriptor() Descriptor {
	s.RLock()
	defer s.RUnlock()
	return s.desc
}

// Clear removes all markers.
func (s *Set) Clear() {
	s.Lock()
	s.markers = make(map[string]*Marker, len(s.markers))
	s.Unlock()
}

// Put adds or replaces the marker with the given id.
func (s *Set) Put(m *Marker) {
	s.Lock()
	s.markers[m.ID] = m
	s.Unlock()
}

// Replace clears the set and adds the given markers as one change,
// so that readers never see a half-built set.
func (s *Set) Replace(ms []*Marker) {
	acc := make(map[string]*Marker, len(ms))
	for _, m := range ms {
		acc[m.ID] = m
	}
	s.Lock()
	s.markers = acc
	s.Unlock()
}

func (s *Set) Get(id string) (*Marker, bool) {
	s.RLock()
	m, have := s.markers[id]
	s.RUnlock()
	return m, have
}

func (s *Set) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.markers)
}

// Snapshot is a point-in-time copy of a Set.
type Snapshot struct {
	Descriptor
	Markers []*Marker `json:"markers"`
}

// Snapshot gets a read lock and returns a copy of the set with
// markers ordered by id.
func (s *Set) Snapshot() *Snapshot {
	s.RLock()
	acc := &Snapshot{
		Descriptor: s.desc,
		Markers:    make([]*Marker, 0, len(s.markers)),
	}
	for _, m := range s.markers {
		acc.Markers = append(acc.Markers, m)
	}
	s.RUnlock()

	sort.Slice(acc.Markers, func(i, j int) bool {
		return acc.Markers[i].ID < acc.Markers[j].ID
	})
	return acc
}

// Sets holds one target's marker sets by key.
type Sets struct {
	sync.RWMutex

	Target string
	sets   map[string]*Set
}

func NewSets(target string) *Sets {
	return &Sets{
		Target: target,
		sets:   make(map[string]*Set, 8),
	}
}

// GetOrCreate returns the set with the given key, calling create to
// make it the first time.
func (ss *Sets) GetOrCreate(key string, create func() *Set) *Set {
	ss.RLock()
	s, have := ss.sets[key]
	ss.RUnlock()
	if have {
		return s
	}

	ss.Lock()
	defer ss.Unlock()
	if s, have = ss.sets[key]; have {
		return s
	}
	s = create()
	ss.sets[key] = s
	return s
}

func (ss *Sets) Get(key string) (*Set, bool) {
	ss.RLock()
	s, have := ss.sets[key]
	ss.RUnlock()
	return s, have
}

// Restore installs a set built from a snapshot, replacing any set
// with the same key.
func (ss *Sets) Restore(key string, snap *Snapshot) *Set {
	s := NewSet(snap.Descriptor)
	s.Replace(snap.Markers)
	ss.Lock()
	ss.sets[key] = s
	ss.Unlock()
	return s
}

// Remove forgets a set.
func (ss *Sets) Remove(key string) {
	ss.Lock()
	delete(ss.sets, key)
	ss.Unlock()
}

// Keys returns the set keys in sorted order.
func (ss *Sets) Keys() []string {
	ss.RLock()
	acc := make([]string, 0, len(ss.sets))
	for k := range ss.sets {
		acc = append(acc, k)
	}
	ss.RUnlock()
	sort.Strings(acc)
	return acc
}

// Snapshot copies every set.
func (ss *Sets) Snapshot() map[string]*Snapshot {
	ss.RLock()
	acc := make(map[string]*Snapshot, len(ss.sets))
	for k, s := range ss.sets {
		acc[k] = s.Snapshot()
	}
	ss.RUnlock()
	return acc
}
