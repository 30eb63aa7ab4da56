// Package pathfind implements an 8-neighbour A* pathfinder over a shared
// tile grid with dynamically blocked tiles. It runs off the simulation's
// hot path: requests are submitted to a worker goroutine and results are
// drained from a result queue at well-defined tick boundaries, so the
// pathfinder's progress rate never affects simulation determinism.
package pathfind

import (
	"sync/atomic"
)

// Terrain is one of 8 terrain classes for a tile.
type Terrain byte

const (
	TerrainSand Terrain = iota
	TerrainRock
	TerrainSpiceLow
	TerrainSpiceHigh
	TerrainDunes
	TerrainCliff
	TerrainConcrete
	TerrainInfantryOnlyRock
)

// TraversalClass is the mobility category of a unit, determining which
// terrain types it treats as passable.
type TraversalClass byte

const (
	TraversalInfantry TraversalClass = iota
	TraversalVehicle
)

// terrainMultiplier scales move cost by terrain class. Fixed table, no
// platform-variable float computation.
var terrainMultiplier = [...]float64{
	TerrainSand:             1.0,
	TerrainRock:             0.8,
	TerrainSpiceLow:         1.0,
	TerrainSpiceHigh:        1.0,
	TerrainDunes:            1.5,
	TerrainCliff:            1.0, // impassable regardless of multiplier
	TerrainConcrete:         0.7,
	TerrainInfantryOnlyRock: 0.8,
}

// passable reports whether a traversal class may enter terrain t, ignoring
// the blocked overlay.
func passable(t Terrain, class TraversalClass) bool {
	switch t {
	case TerrainCliff:
		return false
	case TerrainInfantryOnlyRock:
		return class == TraversalInfantry
	default:
		return true
	}
}

// gridSnapshot is the immutable terrain+overlay pair a single Grid publishes.
// Replacing the whole snapshot (rather than mutating fields in place) is
// what lets readers and the writer never share a mutable reference.
type gridSnapshot struct {
	width, height int
	terrain       []Terrain
	blocked       map[int]struct{}
}

func (g *gridSnapshot) inBounds(tx, tz int) bool {
	return tx >= 0 && tx < g.width && tz >= 0 && tz < g.height
}

func (g *gridSnapshot) index(tx, tz int) int {
	return tz*g.width + tx
}

func (g *gridSnapshot) isBlocked(idx int) bool {
	_, ok := g.blocked[idx]
	return ok
}

// Grid is the pathfinder's private copy of the world's tile grid. It is
// installed once with Init and then updated in place via UpdateTerrain /
// UpdateBlocked; the pathfinder never reads the simulator's own grid
// directly (ownership rule in the data model: the pathfinder owns its
// copy, the simulator only ever hands it snapshots).
//
// Reads (from the worker goroutine) and writes (from whichever goroutine
// calls the Update* methods) are lock-free: Grid swaps an atomic.Value
// holding the whole immutable snapshot, the same pattern the teacher's IPC
// subscriber uses for its "latest snapshot" field.
type Grid struct {
	snap atomic.Value // *gridSnapshot
}

// NewGrid constructs an uninitialised Grid. Call Init before issuing any
// find-path requests.
func NewGrid() *Grid {
	return &Grid{}
}

// Init installs the terrain snapshot and width/height. gridBytes must have
// length width*height, row-major (z*width+x).
func (g *Grid) Init(gridBytes []byte, width, height int) {
	terrain := make([]Terrain, len(gridBytes))
	for i, b := range gridBytes {
		terrain[i] = Terrain(b)
	}
	g.snap.Store(&gridSnapshot{
		width:   width,
		height:  height,
		terrain: terrain,
		blocked: map[int]struct{}{},
	})
}

// UpdateTerrain replaces the terrain snapshot (e.g. spice growth/depletion
// changing a tile's class). Width/height and the blocked overlay carry
// over unchanged.
func (g *Grid) UpdateTerrain(gridBytes []byte) {
	old, _ := g.snap.Load().(*gridSnapshot)
	if old == nil {
		return
	}
	terrain := make([]Terrain, len(gridBytes))
	for i, b := range gridBytes {
		terrain[i] = Terrain(b)
	}
	g.snap.Store(&gridSnapshot{
		width:   old.width,
		height:  old.height,
		terrain: terrain,
		blocked: old.blocked,
	})
}

// UpdateBlocked replaces the overlay set of blocked tile indices (e.g.
// buildings appearing/vanishing).
func (g *Grid) UpdateBlocked(tileIndices []int) {
	old, _ := g.snap.Load().(*gridSnapshot)
	if old == nil {
		return
	}
	blocked := make(map[int]struct{}, len(tileIndices))
	for _, idx := range tileIndices {
		blocked[idx] = struct{}{}
	}
	g.snap.Store(&gridSnapshot{
		width:   old.width,
		height:  old.height,
		terrain: old.terrain,
		blocked: blocked,
	})
}

// snapshot returns the currently installed grid snapshot, or nil if Init
// was never called.
func (g *Grid) snapshot() *gridSnapshot {
	s, _ := g.snap.Load().(*gridSnapshot)
	return s
}
