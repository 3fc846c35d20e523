package planner

// Run is a contiguous horizontal stretch of same-intensity points, burned
// with a single engrave command starting at its first (leftmost) point.
type Run []*EngravePoint

func (r Run) Start() *EngravePoint { return r[0] }

func (r Run) Len() int { return len(r) }

func (r Run) Intensity() uint8 { return r[0].Intensity }

// MarkVisited flags every point of the run as burned.
func (r Run) MarkVisited() {
	for _, p := range r {
		p.Visited = true
	}
}

// Runs groups consecutive points of a sequence sharing row and intensity
// whose x advances by exactly one. Flattening the result yields seq again.
func Runs(seq []*EngravePoint) []Run {
	var runs []Run
	var current Run

	for _, p := range seq {
		if n := len(current); n > 0 {
			prev := current[n-1]
			if p.Y != prev.Y || p.X != prev.X+1 || p.Intensity != prev.Intensity {
				runs = append(runs, current)
				current = nil
			}
		}
		current = append(current, p)
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}
	return runs
}
