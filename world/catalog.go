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
	"sort"
	"strings"
)

// EntityType is the canonical (upper-case) name of a kind of entity,
// such as "ZOMBIE" or "ITEM".
type EntityType string

// SpawnReason is the canonical (upper-case) reason an entity came to
// be, such as "NATURAL" or "SPAWNER_EGG".
type SpawnReason string

const (
	Player      EntityType = "PLAYER"
	Item        EntityType = "ITEM"
	DroppedItem EntityType = "DROPPED_ITEM"
	Unknown     EntityType = "UNKNOWN"

	DefaultSpawnReason SpawnReason = "DEFAULT"
)

// Catalog knows which entity types, spawn reasons, and categories
// exist.
//
// A category is a named family of entity types ("Monster",
// "Tameable", "Minecart").  Categories form a DAG rooted at "Entity";
// an entity type belongs to its direct categories and all of their
// ancestors.
type Catalog struct {
	types   map[EntityType][]string
	reasons map[SpawnReason]bool
	parents map[string][]string

	// members is the closure of types over category ancestry.
	members map[string]map[EntityType]bool
}

// NewCatalog builds a catalog.  Category names are case-sensitive in
// the input and matched case-insensitively by LookupCategory.
func NewCatalog(types map[EntityType][]string, reasons []SpawnReason, parents map[string][]string) *Catalog {
	c := &Catalog{
		types:   make(map[EntityType][]string, len(types)),
		reasons: make(map[SpawnReason]bool, len(reasons)),
		parents: make(map[string][]string, len(parents)),
		members: make(map[string]map[EntityType]bool, len(parents)),
	}
	for t, cats := range types {
		c.types[t] = cats
	}
	for _, r := range reasons {
		c.reasons[r] = true
	}
	for cat, ps := range parents {
		c.parents[cat] = ps
	}

	for t, cats := range c.types {
		seen := make(map[string]bool, 8)
		var walk func(string)
		walk = func(cat string) {
			if seen[cat] {
				return
			}
			seen[cat] = true
			ms, have := c.members[cat]
			if !have {
				ms = make(map[EntityType]bool, 8)
				c.members[cat] = ms
			}
			ms[t] = true
			for _, p := range c.parents[cat] {
				walk(p)
			}
		}
		for _, cat := range cats {
			walk(cat)
		}
		walk("Entity")
	}

	return c
}

func canonical(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// LookupType resolves a user-supplied type name (trimmed,
// case-insensitive).
func (c *Catalog) LookupType(s string) (EntityType, bool) {
	t := EntityType(canonical(s))
	_, have := c.types[t]
	return t, have
}

// LookupSpawnReason resolves a user-supplied spawn reason (trimmed,
// case-insensitive).
func (c *Catalog) LookupSpawnReason(s string) (SpawnReason, bool) {
	r := SpawnReason(canonical(s))
	return r, c.reasons[r]
}

// LookupCategory resolves a category name.  A qualified name such as
// "org.bukkit.entity.Monster" is reduced to its last segment.
func (c *Catalog) LookupCategory(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "."); 0 <= i {
		s = s[i+1:]
	}
	for cat := range c.members {
		if strings.EqualFold(cat, s) {
			return cat, true
		}
	}
	return "", false
}

// InCategory reports whether the type belongs to the category.
func (c *Catalog) InCategory(t EntityType, category string) bool {
	return c.members[category][t]
}

// Categories lists all known categories in sorted order.
func (c *Catalog) Categories() []string {
	acc := make([]string, 0, len(c.members))
	for cat := range c.members {
		acc = append(acc, cat)
	}
	sort.Strings(acc)
	return acc
}

// DefaultCatalog describes a reasonably current vanilla world.
var DefaultCatalog = NewCatalog(defaultTypes, defaultReasons, defaultParents)

var defaultParents = map[string][]string{
	"LivingEntity":     {"Entity"},
	"HumanEntity":      {"LivingEntity"},
	"Player":           {"HumanEntity"},
	"ArmorStand":       {"LivingEntity"},
	"Mob":              {"LivingEntity"},
	"Boss":             {"LivingEntity"},
	"Creature":         {"Mob"},
	"Monster":          {"Creature"},
	"Zombie":           {"Monster"},
	"Skeleton":         {"Monster"},
	"Raider":           {"Monster"},
	"Illager":          {"Raider"},
	"Ageable":          {"Creature"},
	"Animals":          {"Ageable"},
	"Tameable":         {"Animals"},
	"AbstractHorse":    {"Animals", "Tameable", "Vehicle"},
	"AbstractVillager": {"Ageable"},
	"Villager":         {"AbstractVillager"},
	"WaterMob":         {"Creature"},
	"Golem":            {"Creature"},
	"Flying":           {"Mob"},
	"Slime":            {"Mob"},
	"Ambient":          {"Mob"},
	"Item":             {"Entity"},
	"ExperienceOrb":    {"Entity"},
	"Projectile":       {"Entity"},
	"Vehicle":          {"Entity"},
	"Minecart":         {"Vehicle"},
	"Boat":             {"Vehicle"},
	"Hanging":          {"Entity"},
	"ItemFrame":        {"Hanging"},
	"Painting":         {"Hanging"},
	"Display":          {"Entity"},
}

var defaultTypes = map[EntityType][]string{
	Player: {"Player"},

	"ZOMBIE":           {"Zombie"},
	"HUSK":             {"Zombie"},
	"DROWNED":          {"Zombie"},
	"ZOMBIE_VILLAGER":  {"Zombie"},
	"ZOMBIFIED_PIGLIN": {"Zombie"},
	"SKELETON":         {"Skeleton"},
	"STRAY":            {"Skeleton"},
	"BOGGED":           {"Skeleton"},
	"WITHER_SKELETON":  {"Skeleton"},
	"CREEPER":          {"Monster"},
	"SPIDER":           {"Monster"},
	"CAVE_SPIDER":      {"Monster"},
	"ENDERMAN":         {"Monster"},
	"BLAZE":            {"Monster"},
	"BREEZE":           {"Monster"},
	"SILVERFISH":       {"Monster"},
	"ENDERMITE":        {"Monster"},
	"WARDEN":           {"Monster"},
	"PIGLIN":           {"Monster"},
	"PIGLIN_BRUTE":     {"Monster"},
	"ZOGLIN":           {"Monster"},
	"GUARDIAN":         {"Monster"},
	"ELDER_GUARDIAN":   {"Monster"},
	"VEX":              {"Monster"},
	"WITCH":            {"Raider"},
	"RAVAGER":          {"Raider"},
	"PILLAGER":         {"Illager"},
	"VINDICATOR":       {"Illager"},
	"EVOKER":           {"Illager"},
	"ILLUSIONER":       {"Illager"},
	"WITHER":           {"Monster", "Boss"},
	"ENDER_DRAGON":     {"Mob", "Boss"},
	"GHAST":            {"Flying"},
	"PHANTOM":          {"Flying"},
	"SLIME":            {"Slime"},
	"MAGMA_CUBE":       {"Slime"},

	"COW":          {"Animals"},
	"MOOSHROOM":    {"Animals"},
	"PIG":          {"Animals"},
	"SHEEP":        {"Animals"},
	"CHICKEN":      {"Animals"},
	"RABBIT":       {"Animals"},
	"GOAT":         {"Animals"},
	"BEE":          {"Animals"},
	"FOX":          {"Animals"},
	"PANDA":        {"Animals"},
	"POLAR_BEAR":   {"Animals"},
	"TURTLE":       {"Animals"},
	"FROG":         {"Animals"},
	"SNIFFER":      {"Animals"},
	"ARMADILLO":    {"Animals"},
	"AXOLOTL":      {"Animals"},
	"STRIDER":      {"Animals"},
	"OCELOT":       {"Animals"},
	"HOGLIN":       {"Animals"},
	"WOLF":         {"Tameable"},
	"CAT":          {"Tameable"},
	"PARROT":       {"Tameable"},
	"HORSE":        {"AbstractHorse"},
	"DONKEY":       {"AbstractHorse"},
	"MULE":         {"AbstractHorse"},
	"LLAMA":        {"AbstractHorse"},
	"TRADER_LLAMA": {"AbstractHorse"},
	"CAMEL":        {"AbstractHorse"},

	"SKELETON_HORSE": {"AbstractHorse"},
	"ZOMBIE_HORSE":   {"AbstractHorse"},

	"VILLAGER":         {"Villager"},
	"WANDERING_TRADER": {"AbstractVillager"},

	"SQUID":         {"WaterMob"},
	"GLOW_SQUID":    {"WaterMob"},
	"COD":           {"WaterMob"},
	"SALMON":        {"WaterMob"},
	"PUFFERFISH":    {"WaterMob"},
	"TROPICAL_FISH": {"WaterMob"},
	"DOLPHIN":       {"WaterMob"},
	"TADPOLE":       {"WaterMob"},

	"IRON_GOLEM": {"Golem"},
	"SNOW_GOLEM": {"Golem"},
	"SHULKER":    {"Golem"},
	"ALLAY":      {"Creature"},
	"BAT":        {"Ambient"},

	"ARMOR_STAND":    {"ArmorStand"},
	Item:             {"Item"},
	DroppedItem:      {"Item"},
	"EXPERIENCE_ORB": {"ExperienceOrb"},

	"ARROW":           {"Projectile"},
	"SPECTRAL_ARROW":  {"Projectile"},
	"TRIDENT":         {"Projectile"},
	"SNOWBALL":        {"Projectile"},
	"EGG":             {"Projectile"},
	"ENDER_PEARL":     {"Projectile"},
	"FIREBALL":        {"Projectile"},
	"SMALL_FIREBALL":  {"Projectile"},
	"WITHER_SKULL":    {"Projectile"},
	"FIREWORK_ROCKET": {"Projectile"},

	"MINECART":         {"Minecart"},
	"CHEST_MINECART":   {"Minecart"},
	"HOPPER_MINECART":  {"Minecart"},
	"FURNACE_MINECART": {"Minecart"},
	"TNT_MINECART":     {"Minecart"},
	"BOAT":             {"Boat"},
	"CHEST_BOAT":       {"Boat"},

	"ITEM_FRAME":      {"ItemFrame"},
	"GLOW_ITEM_FRAME": {"ItemFrame"},
	"PAINTING":        {"Painting"},
	"LEASH_KNOT":      {"Hanging"},

	"BLOCK_DISPLAY": {"Display"},
	"ITEM_DISPLAY":  {"Display"},
	"TEXT_DISPLAY":  {"Display"},

	"TNT":               nil,
	"FALLING_BLOCK":     nil,
	"AREA_EFFECT_CLOUD": nil,
	"END_CRYSTAL":       nil,
	"LIGHTNING_BOLT":    nil,
	"MARKER":            nil,
	"INTERACTION":       nil,
	Unknown:             nil,
}

var defaultReasons = []SpawnReason{
	"NATURAL",
	"JOCKEY",
	"CHUNK_GEN",
	"SPAWNER",
	"TRIAL_SPAWNER",
	"EGG",
	"SPAWNER_EGG",
	"BUCKET",
	"LIGHTNING",
	"BUILD_SNOWMAN",
	"BUILD_IRONGOLEM",
	"BUILD_WITHER",
	"VILLAGE_DEFENSE",
	"VILLAGE_INVASION",
	"BREEDING",
	"SLIME_SPLIT",
	"REINFORCEMENTS",
	"NETHER_PORTAL",
	"DISPENSE_EGG",
	"INFECTION",
	"CURED",
	"OCELOT_BABY",
	"SILVERFISH_BLOCK",
	"MOUNT",
	"TRAP",
	"ENDER_PEARL",
	"SHOULDER_ENTITY",
	"DROWNED",
	"SHEARED",
	"EXPLOSION",
	"RAID",
	"PATROL",
	"BEEHIVE",
	"PIGLIN_ZOMBIFIED",
	"SPELL",
	"FROZEN",
	"METAMORPHOSIS",
	"DUPLICATION",
	"COMMAND",
	"ENCHANTMENT",
	"OMINOUS_ITEM_SPAWNER",
	"POTION_EFFECT",
	"REHYDRATION",
	"CUSTOM",
	DefaultSpawnReason,
}
