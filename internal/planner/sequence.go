package planner

import (
	"math"
	"math/bits"
	"slices"
)

const (
	minClusterSize = 2
	maxClusterSize = 1 << 16

	// bounding diameter is split into roughly this many cluster widths
	clusterDivisor = 20
)

// Sequence orders every eligible point (intensity > 0, not visited).
// The result depends only on the eligible set and last, the previously burned
// point, so sequencing again after a pause continues where the head stopped.
func Sequence(mode Mode, points []*EngravePoint, last *EngravePoint) []*EngravePoint {
	pending := eligible(points)
	if mode == ModeRaster {
		return rasterOrder(pending)
	}
	return clusterOrder(pending, last)
}

func rasterOrder(points []*EngravePoint) []*EngravePoint {
	slices.SortStableFunc(points, compareRowMajor)
	return points
}

func compareRowMajor(a, b *EngravePoint) int {
	if a.Y != b.Y {
		return a.Y - b.Y
	}
	return a.X - b.X
}

// ClusterSize is the largest power of two not above diameter/20 of the
// bounding box of points, clamped to [2, 65536].
func ClusterSize(points []*EngravePoint) int {
	width, height := 1, 1
	if len(points) > 0 {
		minX, maxX := points[0].X, points[0].X
		minY, maxY := points[0].Y, points[0].Y
		for _, p := range points[1:] {
			minX, maxX = min(minX, p.X), max(maxX, p.X)
			minY, maxY = min(minY, p.Y), max(maxY, p.Y)
		}
		width, height = maxX-minX, maxY-minY
	}

	diameter := int(math.Sqrt(float64(width)*float64(width) + float64(height)*float64(height)))
	size := diameter / clusterDivisor
	if size < 1 {
		size = 1
	}

	log := bits.Len(uint(size)) - 1
	size = 1 << min(max(log, 1), 16)
	return size
}

type clusterKey struct {
	x, y int
}

func keyOf(x, y, size int) clusterKey {
	return clusterKey{x: floorDiv(x, size), y: floorDiv(y, size)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ClusterOf returns the grid cell p falls into for the given cluster size.
func ClusterOf(p *EngravePoint, size int) (cx, cy int) {
	k := keyOf(p.X, p.Y, size)
	return k.x, k.y
}

func clusterOrder(points []*EngravePoint, last *EngravePoint) []*EngravePoint {
	size := ClusterSize(points)

	members := make(map[clusterKey][]*EngravePoint)
	for _, p := range points {
		k := keyOf(p.X, p.Y, size)
		members[k] = append(members[k], p)
	}

	keys := make([]clusterKey, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b clusterKey) int {
		if a.y != b.y {
			return a.y - b.y
		}
		return a.x - b.x
	})

	var cur *cell
	if last != nil {
		cur = &cell{x: last.X, y: last.Y}
	}

	out := make([]*EngravePoint, 0, len(points))
	for len(keys) > 0 {
		i := nearestCluster(keys, size, cur)
		set := newPointSet(members[keys[i]])
		keys = slices.Delete(keys, i, i+1)

		for set.count > 0 {
			c := set.leftmostNeighbor(set.nearest(cur))
			out = append(out, set.take(c))
			cur = &c
		}
	}
	return out
}

// nearestCluster picks by squared distance from cur to the cluster square,
// preferring clusters at or below the current row, then to the right, then
// the smaller horizontal offset. Remaining ties keep row-major key order.
func nearestCluster(keys []clusterKey, size int, cur *cell) int {
	var fx, fy int
	if cur != nil {
		fx, fy = cur.x, cur.y
	}
	curKey := keyOf(fx, fy, size)

	best := -1
	var bestWeight [4]int64
	for i, k := range keys {
		x0, y0 := k.x*size, k.y*size
		dx := axisDistance(fx, x0, x0+size-1)
		dy := axisDistance(fy, y0, y0+size-1)

		var below, right int64 = 1, 1
		if k.y >= curKey.y {
			below = 0
		}
		if x0 > fx {
			right = 0
		}
		residual := int64(2*x0 + size - 2*fx)
		if residual < 0 {
			residual = -residual
		}

		w := [4]int64{dx*dx + dy*dy, below, right, residual}
		if best < 0 || lessWeight(w, bestWeight) {
			best, bestWeight = i, w
		}
	}
	return best
}

func axisDistance(v, lo, hi int) int64 {
	switch {
	case v < lo:
		return int64(lo - v)
	case v > hi:
		return int64(v - hi)
	default:
		return 0
	}
}

func lessWeight(a, b [4]int64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
