package pathfind

import (
	"container/heap"

	"rtslockstep/internal/config"
)

// searchLimits carries the tuning values findPath expands against. Derived
// from a config.PathfindConfig once at Worker construction; findPath itself
// stays a pure function of (snapshot, request, limits).
type searchLimits struct {
	nodeBudget           int
	goalRelocationRadius int
	partialPathFloor     float64
}

func limitsFromConfig(cfg config.PathfindConfig) searchLimits {
	return searchLimits{
		nodeBudget:           cfg.NodeBudget,
		goalRelocationRadius: cfg.GoalRelocationRadius,
		partialPathFloor:     cfg.PartialPathFloor,
	}
}

var defaultSearchLimits = limitsFromConfig(config.DefaultPathfind())

// Tile is a grid coordinate.
type Tile struct {
	X, Z int
}

// Request describes a path query. MaxNodes overrides the Worker's
// configured node budget for this one search when non-zero — callers that
// need a tighter (or looser) expansion cap than the shared default, per
// request, set it; zero means "use the Worker's configured default".
type Request struct {
	ID       uint64
	From     Tile
	To       Tile
	Class    TraversalClass
	MaxNodes int
}

// Result is the outcome of a Request.
type Result struct {
	ID       uint64
	Path     []Tile // waypoints, simplified; empty if no path could be built
	Partial  bool   // true if Path stops short of the goal because the node budget ran out
	NoPath   bool   // true if no path at all, not even a partial one, exists
	Relocated bool  // true if To was relocated to a reachable substitute
}

type searchNode struct {
	tile     Tile
	g        float64 // cost from start
	f        float64 // g + heuristic
	seq      int     // insertion sequence, breaks f-ties deterministically
	parent   int     // index into the closed/open node pool, -1 for start
	heapIdx  int
}

type nodePool struct {
	nodes []searchNode
}

// openHeap is a binary min-heap over indices into a nodePool, ordered by
// (f, seq) so two nodes with equal f always resolve the same way regardless
// of map iteration or allocation order.
type openHeap struct {
	pool    *nodePool
	indices []int
}

func (h *openHeap) Len() int { return len(h.indices) }
func (h *openHeap) Less(i, j int) bool {
	a, b := &h.pool.nodes[h.indices[i]], &h.pool.nodes[h.indices[j]]
	if a.f != b.f {
		return a.f < b.f
	}
	return a.seq < b.seq
}
func (h *openHeap) Swap(i, j int) {
	h.indices[i], h.indices[j] = h.indices[j], h.indices[i]
	h.pool.nodes[h.indices[i]].heapIdx = i
	h.pool.nodes[h.indices[j]].heapIdx = j
}
func (h *openHeap) Push(x any) {
	idx := x.(int)
	h.pool.nodes[idx].heapIdx = len(h.indices)
	h.indices = append(h.indices, idx)
}
func (h *openHeap) Pop() any {
	old := h.indices
	n := len(old)
	idx := old[n-1]
	h.indices = old[:n-1]
	return idx
}

// octile is the standard 8-direction heuristic approximation: the straight
// diagonal distance plus the remaining straight-line distance, using
// 0.414 (sqrt(2)-1) in place of the true diagonal cost so ties between
// equally-good straight and diagonal routes resolve the same way on every
// peer's machine.
func octile(a, b Tile) float64 {
	dx := absInt(a.X - b.X)
	dz := absInt(a.Z - b.Z)
	mx, mn := dx, dz
	if mn > mx {
		mx, mn = mn, mx
	}
	return float64(mx) + 0.414*float64(mn)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func chebyshev(a, b Tile) int {
	dx := absInt(a.X - b.X)
	dz := absInt(a.Z - b.Z)
	if dx > dz {
		return dx
	}
	return dz
}

var neighbourOffsets = [8]Tile{
	{X: 1, Z: 0}, {X: -1, Z: 0}, {X: 0, Z: 1}, {X: 0, Z: -1},
	{X: 1, Z: 1}, {X: 1, Z: -1}, {X: -1, Z: 1}, {X: -1, Z: -1},
}

// cornerBlocked reports whether moving diagonally from 'from' toward the
// offset would cut through a blocked or impassable corner: a diagonal step
// is only legal if both of the two orthogonal tiles it "grazes" are
// themselves passable.
func cornerBlocked(snap *gridSnapshot, from Tile, off Tile, class TraversalClass) bool {
	if off.X == 0 || off.Z == 0 {
		return false
	}
	sideA := Tile{X: from.X + off.X, Z: from.Z}
	sideB := Tile{X: from.X, Z: from.Z + off.Z}
	return !tilePassable(snap, sideA, class) || !tilePassable(snap, sideB, class)
}

func tilePassable(snap *gridSnapshot, t Tile, class TraversalClass) bool {
	if !snap.inBounds(t.X, t.Z) {
		return false
	}
	idx := snap.index(t.X, t.Z)
	if snap.isBlocked(idx) {
		return false
	}
	return passable(snap.terrain[idx], class)
}

// findPassableNear searches an expanding Chebyshev ring around center, up to
// radius, for the nearest passable tile, breaking ties by ascending X then Z
// so the result is deterministic across peers.
func findPassableNear(snap *gridSnapshot, center Tile, class TraversalClass, radius int) (Tile, bool) {
	if tilePassable(snap, center, class) {
		return center, true
	}
	for r := 1; r <= radius; r++ {
		var candidates []Tile
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if absInt(dx) != r && absInt(dz) != r {
					continue
				}
				t := Tile{X: center.X + dx, Z: center.Z + dz}
				if tilePassable(snap, t, class) {
					candidates = append(candidates, t)
				}
			}
		}
		if len(candidates) > 0 {
			best := candidates[0]
			for _, c := range candidates[1:] {
				if c.X < best.X || (c.X == best.X && c.Z < best.Z) {
					best = c
				}
			}
			return best, true
		}
	}
	return Tile{}, false
}

// simplifyWaypoints collapses runs of collinear tiles into their endpoints,
// so a long straight or diagonal run becomes one waypoint instead of one per
// tile.
func simplifyWaypoints(path []Tile) []Tile {
	if len(path) <= 2 {
		return path
	}
	out := make([]Tile, 0, len(path))
	out = append(out, path[0])
	for i := 1; i < len(path)-1; i++ {
		prev, cur, next := path[i-1], path[i], path[i+1]
		d1 := Tile{X: cur.X - prev.X, Z: cur.Z - prev.Z}
		d2 := Tile{X: next.X - cur.X, Z: next.Z - cur.Z}
		if d1 != d2 {
			out = append(out, cur)
		}
	}
	out = append(out, path[len(path)-1])
	return out
}

// findPath runs A* from req.From to req.To over snap for req.Class. It never
// mutates snap. Goal relocation and partial-path fallback are applied
// internally; the returned Result's Partial/NoPath/Relocated flags record
// which, if any, were used.
func findPath(snap *gridSnapshot, req Request, limits searchLimits) Result {
	if !snap.inBounds(req.From.X, req.From.Z) {
		return Result{ID: req.ID, NoPath: true}
	}

	if req.MaxNodes > 0 {
		limits.nodeBudget = req.MaxNodes
	}

	goal, ok := findPassableNear(snap, req.To, req.Class, limits.goalRelocationRadius)
	if !ok {
		return Result{ID: req.ID, NoPath: true}
	}
	relocated := goal != req.To

	if req.From == goal {
		return Result{ID: req.ID, Path: []Tile{req.From}, Relocated: relocated}
	}

	pool := &nodePool{}
	index := map[Tile]int{}
	open := &openHeap{pool: pool}
	heap.Init(open)

	startH := octile(req.From, goal)
	pool.nodes = append(pool.nodes, searchNode{tile: req.From, g: 0, f: startH, seq: 0, parent: -1})
	index[req.From] = 0
	heap.Push(open, 0)

	closed := map[Tile]bool{}
	seq := 1
	expansions := 0

	bestPartial := 0 // index of the node with lowest heuristic seen, for fallback
	bestPartialH := startH

	for open.Len() > 0 && expansions < limits.nodeBudget {
		curIdx := heap.Pop(open).(int)
		cur := pool.nodes[curIdx]
		if closed[cur.tile] {
			continue
		}
		closed[cur.tile] = true
		expansions++

		h := octile(cur.tile, goal)
		if h < bestPartialH {
			bestPartialH = h
			bestPartial = curIdx
		}

		if cur.tile == goal {
			return Result{ID: req.ID, Path: simplifyWaypoints(reconstruct(pool, curIdx)), Relocated: relocated}
		}

		for _, off := range neighbourOffsets {
			next := Tile{X: cur.tile.X + off.X, Z: cur.tile.Z + off.Z}
			if closed[next] {
				continue
			}
			if !tilePassable(snap, next, req.Class) {
				continue
			}
			if cornerBlocked(snap, cur.tile, off, req.Class) {
				continue
			}
			idx := snap.index(next.X, next.Z)
			stepCost := 1.0
			if off.X != 0 && off.Z != 0 {
				stepCost = 1.41421356
			}
			stepCost *= terrainMultiplier[snap.terrain[idx]]
			g := cur.g + stepCost

			if existing, seen := index[next]; seen {
				if g < pool.nodes[existing].g {
					pool.nodes[existing].g = g
					pool.nodes[existing].f = g + octile(next, goal)
					pool.nodes[existing].parent = curIdx
					if pool.nodes[existing].heapIdx < open.Len() {
						heap.Fix(open, pool.nodes[existing].heapIdx)
					}
				}
				continue
			}

			nn := searchNode{tile: next, g: g, f: g + octile(next, goal), seq: seq, parent: curIdx}
			seq++
			pool.nodes = append(pool.nodes, nn)
			newIdx := len(pool.nodes) - 1
			index[next] = newIdx
			heap.Push(open, newIdx)
		}
	}

	if expansions >= limits.nodeBudget && bestPartialH < startH*limits.partialPathFloor {
		return Result{ID: req.ID, Path: simplifyWaypoints(reconstruct(pool, bestPartial)), Partial: true, Relocated: relocated}
	}
	return Result{ID: req.ID, NoPath: true, Relocated: relocated}
}

func reconstruct(pool *nodePool, idx int) []Tile {
	var rev []Tile
	for idx != -1 {
		n := pool.nodes[idx]
		rev = append(rev, n.tile)
		idx = n.parent
	}
	path := make([]Tile, len(rev))
	for i, t := range rev {
		path[len(rev)-1-i] = t
	}
	return path
}
