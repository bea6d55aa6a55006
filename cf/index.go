// Nearest-neighbor index over the reference pool, partitioned by class label.
// Distance is Euclidean over the flattened pixel intensities. Two modes:
// a k-d tree per class (use_kdtree: true) or a flat linear scan. Both modes
// return identical results, including the deterministic lowest-ID tie-break.

package cf

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Index answers "closest reference patch of class k" queries. Built once,
// read-only afterwards; safe for concurrent queries from multiple workers.
type Index struct {
	useKDTree bool
	dim       int
	byClass   map[int]*classIndex
}

type classIndex struct {
	members []*Instance // sorted by ID
	root    *kdNode
}

type kdNode struct {
	inst        *Instance
	axis        int
	left, right *kdNode
}

// NewIndex builds the per-class indexes from the reference pool. All
// references must share one pixel layout (same channels and patch size).
func NewIndex(pool *ReferencePool, useKDTree bool) (*Index, error) {
	idx := &Index{useKDTree: useKDTree, dim: -1, byClass: make(map[int]*classIndex)}
	for _, label := range pool.Classes() {
		members := pool.Class(label)
		for _, in := range members {
			if err := in.Validate(); err != nil {
				return nil, fmt.Errorf("reference pool: %w", err)
			}
			if idx.dim == -1 {
				idx.dim = len(in.Pixels)
			} else if len(in.Pixels) != idx.dim {
				return nil, fmt.Errorf("reference %s has %d pixels, pool layout has %d",
					in.ID, len(in.Pixels), idx.dim)
			}
		}
		ci := &classIndex{members: members}
		if useKDTree {
			// Copy before sorting in-place during construction.
			pts := make([]*Instance, len(members))
			copy(pts, members)
			ci.root = buildKD(pts, 0, idx.dim)
		}
		idx.byClass[label] = ci
	}
	return idx, nil
}

// Nearest returns the reference instance of targetClass closest to the query.
// Distance ties break toward the lowest instance ID, so repeated queries are
// idempotent. Returns EmptyPoolError when the class has no references.
func (idx *Index) Nearest(query *Instance, targetClass int) (*Instance, error) {
	ci, ok := idx.byClass[targetClass]
	if !ok || len(ci.members) == 0 {
		return nil, &EmptyPoolError{Class: targetClass}
	}
	if len(query.Pixels) != idx.dim {
		return nil, fmt.Errorf("query %s has %d pixels, index expects %d",
			query.ID, len(query.Pixels), idx.dim)
	}
	best := neighbor{dist: math.Inf(1)}
	if idx.useKDTree {
		ci.root.search(query.Pixels, &best)
	} else {
		// Members are ID-sorted, so strict improvement keeps the lowest ID.
		for _, in := range ci.members {
			best.consider(in, floats.Distance(query.Pixels, in.Pixels, 2))
		}
	}
	return best.inst, nil
}

type neighbor struct {
	inst *Instance
	dist float64
}

func (b *neighbor) consider(in *Instance, d float64) {
	if in == nil {
		return
	}
	if d < b.dist || (d == b.dist && (b.inst == nil || in.ID < b.inst.ID)) {
		b.inst = in
		b.dist = d
	}
}

// buildKD constructs a balanced k-d tree by median split on the cycling axis.
// Points with equal coordinates order by ID so construction is deterministic.
func buildKD(pts []*Instance, depth, dim int) *kdNode {
	if len(pts) == 0 {
		return nil
	}
	axis := depth % dim
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Pixels[axis] != pts[j].Pixels[axis] {
			return pts[i].Pixels[axis] < pts[j].Pixels[axis]
		}
		return pts[i].ID < pts[j].ID
	})
	m := len(pts) / 2
	return &kdNode{
		inst:  pts[m],
		axis:  axis,
		left:  buildKD(pts[:m], depth+1, dim),
		right: buildKD(pts[m+1:], depth+1, dim),
	}
}

func (n *kdNode) search(query []float64, best *neighbor) {
	if n == nil {
		return
	}
	best.consider(n.inst, floats.Distance(query, n.inst.Pixels, 2))

	diff := query[n.axis] - n.inst.Pixels[n.axis]
	near, far := n.left, n.right
	if diff > 0 {
		near, far = n.right, n.left
	}
	near.search(query, best)
	// The far side must also be visited on exact distance ties so the
	// lowest-ID winner is found regardless of tree shape.
	if math.Abs(diff) <= best.dist {
		far.search(query, best)
	}
}
