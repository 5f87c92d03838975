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

// Package world models the live objects ("entities") of a world and
// the collaborator that enumerates them.
//
// Nothing in this package mutates an Entity after a Source returns
// it.  A snapshot returned by a Source is shared by all the filters
// evaluated during one tick.
package world

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// Vec3 is a position in world space.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Block returns the integer block coordinates containing the
// position.
func (v Vec3) Block() (x, y, z int) {
	return int(math.Floor(v.X)), int(math.Floor(v.Y)), int(math.Floor(v.Z))
}

// Entity is one live world object as seen at snapshot time.
type Entity struct {
	UUID        uuid.UUID   `json:"uuid" yaml:"uuid"`
	Type        EntityType  `json:"type" yaml:"type"`
	Name        string      `json:"name" yaml:"name"`
	SpawnReason SpawnReason `json:"spawnReason,omitempty" yaml:"spawnReason,omitempty"`
	World       string      `json:"world" yaml:"world"`
	Position    Vec3        `json:"position" yaml:"position"`

	// Height is the entity's bounding box height.  Zero when
	// unknown.
	Height float64 `json:"height,omitempty" yaml:"height,omitempty"`

	// CustomName is the name given with a name tag (or a
	// command).  Nil when the entity has none.
	CustomName *string `json:"customName,omitempty" yaml:"customName,omitempty"`

	// ItemDisplayName is the display name of the carried item
	// stack for a dropped item.  Nil when absent.
	ItemDisplayName *string `json:"itemDisplayName,omitempty" yaml:"itemDisplayName,omitempty"`

	Tags []string `json:"scoreboardTags,omitempty" yaml:"scoreboardTags,omitempty"`

	// Kinds optionally lists categories the host reports for this
	// entity beyond what the catalog derives from its type.
	Kinds []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`

	// Data is free-form host data (health, owner, age, ...).
	Data map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// IsPlayer reports whether the entity is player-controlled.
func (e *Entity) IsPlayer() bool {
	return e.Type == Player
}

// IsDroppedItem reports whether the entity is an item lying in the
// world.
func (e *Entity) IsDroppedItem() bool {
	return e.Type == Item || e.Type == DroppedItem
}

// ResolvedCustomName returns the name a player would see.  A dropped
// item prefers its item's display name and falls back to the entity's
// own custom name.
func (e *Entity) ResolvedCustomName() (string, bool) {
	if e.IsDroppedItem() && e.ItemDisplayName != nil {
		return *e.ItemDisplayName, true
	}
	if e.CustomName != nil {
		return *e.CustomName, true
	}
	return "", false
}

// HasTags reports whether the entity carries every given scoreboard
// tag.
func (e *Entity) HasTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(e.Tags))
	for _, t := range e.Tags {
		have[t] = true
	}
	for _, t := range required {
		if !have[t] {
			return false
		}
	}
	return true
}

// Is reports whether the entity belongs to the category, either as
// reported by the host or as derived from its type by the catalog.
func (e *Entity) Is(c *Catalog, category string) bool {
	for _, k := range e.Kinds {
		if i := strings.LastIndex(k, "."); 0 <= i {
			k = k[i+1:]
		}
		if strings.EqualFold(k, category) {
			return true
		}
	}
	return c.InCategory(e.Type, category)
}

// EyeLevel returns the position raised by half the entity's height.
func (e *Entity) EyeLevel() Vec3 {
	p := e.Position
	p.Y += e.Height / 2
	return p
}
