package planner

import "slices"

type cell struct {
	x, y int
}

// pointSet holds the unvisited points of one cluster, indexed by coordinate.
type pointSet struct {
	cells map[cell][]*EngravePoint
	count int

	// row-major unique cells for linear scans; entries are dropped lazily
	order []cell
	stale int

	minX, minY, maxX, maxY int
}

func newPointSet(points []*EngravePoint) *pointSet {
	s := &pointSet{cells: make(map[cell][]*EngravePoint, len(points))}
	for i, p := range points {
		c := cell{x: p.X, y: p.Y}
		if _, ok := s.cells[c]; !ok {
			s.order = append(s.order, c)
		}
		s.cells[c] = append(s.cells[c], p)
		s.count++

		if i == 0 {
			s.minX, s.maxX, s.minY, s.maxY = p.X, p.X, p.Y, p.Y
			continue
		}
		s.minX, s.maxX = min(s.minX, p.X), max(s.maxX, p.X)
		s.minY, s.maxY = min(s.minY, p.Y), max(s.maxY, p.Y)
	}
	slices.SortFunc(s.order, compareCell)
	return s
}

func compareCell(a, b cell) int {
	if a.y != b.y {
		return a.y - b.y
	}
	return a.x - b.x
}

// take removes and returns one point at c.
func (s *pointSet) take(c cell) *EngravePoint {
	stack := s.cells[c]
	p := stack[0]
	if len(stack) == 1 {
		delete(s.cells, c)
		s.stale++
	} else {
		s.cells[c] = stack[1:]
	}
	s.count--
	return p
}

// weight ranks candidate c seen from cur. Distances below 2 count as 2 so a
// direct and a diagonal neighbour tie; ties go to points right of cur, then
// to the same row, then below.
func weight(cur *cell, c cell) int64 {
	var fx, fy int
	var xw, yw int64 = 1, 2
	if cur != nil {
		fx, fy = cur.x, cur.y
		if c.x > fx {
			xw = 0
		}
		switch {
		case c.y == fy:
			yw = 0
		case c.y > fy:
			yw = 1
		}
	}
	dx, dy := int64(c.x-fx), int64(c.y-fy)
	d := dx*dx + dy*dy
	if d < 2 {
		d = 2
	}
	return d<<2 + xw<<1 + yw
}

func better(cur *cell, a, b cell) bool {
	wa, wb := weight(cur, a), weight(cur, b)
	if wa != wb {
		return wa < wb
	}
	return compareCell(a, b) < 0
}

// nearest returns the occupied cell with the lowest weight from cur.
// Dense sets are searched in growing rings around cur; sparse ones linearly.
func (s *pointSet) nearest(cur *cell) cell {
	if c, ok := s.ringSearch(cur); ok {
		return c
	}
	return s.linearSearch(cur)
}

func (s *pointSet) linearSearch(cur *cell) cell {
	if s.stale > len(s.order)/2 {
		s.compact()
	}

	var best cell
	found := false
	for _, c := range s.order {
		if _, ok := s.cells[c]; !ok {
			continue
		}
		if !found || better(cur, c, best) {
			best, found = c, true
		}
	}
	return best
}

func (s *pointSet) compact() {
	kept := s.order[:0]
	for _, c := range s.order {
		if _, ok := s.cells[c]; ok {
			kept = append(kept, c)
		}
	}
	s.order = kept
	s.stale = 0
}

// ringSearch gives up once it has probed more cells than a linear scan would.
func (s *pointSet) ringSearch(cur *cell) (cell, bool) {
	if cur == nil {
		return cell{}, false
	}

	budget := len(s.order) - s.stale + 8
	maxR := max(abs(cur.x-s.minX), abs(cur.x-s.maxX), abs(cur.y-s.minY), abs(cur.y-s.maxY))

	var best cell
	var bestDist int64
	found := false
	probed := 0

	for r := 0; r <= maxR; r++ {
		if found && int64(r)*int64(r) > bestDist {
			break
		}
		for _, c := range s.ring(*cur, r) {
			probed++
			if _, ok := s.cells[c]; !ok {
				continue
			}
			if !found || better(cur, c, best) {
				best, found = c, true
				dx, dy := int64(c.x-cur.x), int64(c.y-cur.y)
				bestDist = max(dx*dx+dy*dy, 2)
			}
		}
		if probed > budget {
			return cell{}, false
		}
	}
	return best, found
}

// ring lists the cells at Chebyshev distance r from c inside the set bounds.
func (s *pointSet) ring(c cell, r int) []cell {
	if r == 0 {
		if s.inBounds(c) {
			return []cell{c}
		}
		return nil
	}

	out := make([]cell, 0, 8*r)
	for x := c.x - r; x <= c.x+r; x++ {
		for _, y := range [2]int{c.y - r, c.y + r} {
			if p := (cell{x: x, y: y}); s.inBounds(p) {
				out = append(out, p)
			}
		}
	}
	for y := c.y - r + 1; y <= c.y+r-1; y++ {
		for _, x := range [2]int{c.x - r, c.x + r} {
			if p := (cell{x: x, y: y}); s.inBounds(p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *pointSet) inBounds(c cell) bool {
	return c.x >= s.minX && c.x <= s.maxX && c.y >= s.minY && c.y <= s.maxY
}

// leftmostNeighbor walks left from c across contiguous occupied cells of the
// same row so a run is burned from its left end.
func (s *pointSet) leftmostNeighbor(c cell) cell {
	for {
		left := cell{x: c.x - 1, y: c.y}
		if _, ok := s.cells[left]; !ok {
			return c
		}
		c = left
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
