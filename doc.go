// Package entitymarkers keeps web-map marker sets in step with the
// entities of a game world.
//
// Each target document names filter sets.  On every tick the daemon
// matches the world's entities against them and rebuilds one marker
// set per filter set.  The packages, bottom up: 'world', 'assets',
// 'match', 'popup', 'filter', 'marker', 'registry', 'config',
// 'reconcile', 'scheduler', and 'server'.  The daemon is in
// `cmd/entitymarkers`.
package entitymarkers
