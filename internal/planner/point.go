package planner

import (
	"fmt"
	"strings"
)

// EngravePoint is one pixel to burn. Only Visited is mutated by the engine.
type EngravePoint struct {
	X         int   `json:"x"`
	Y         int   `json:"y"`
	Intensity uint8 `json:"intensity"`
	Visited   bool  `json:"visited,omitempty"`
}

// Eligible reports whether p still has to be burned.
func (p *EngravePoint) Eligible() bool {
	return p.Intensity > 0 && !p.Visited
}

// Mode selects the visiting order of engrave points.
type Mode int

const (
	// ModeRaster scans top to bottom, left to right.
	ModeRaster Mode = iota
	// ModeRasterOptimized finishes square clusters nearest first.
	ModeRasterOptimized
)

func (m Mode) String() string {
	switch m {
	case ModeRaster:
		return "raster"
	case ModeRasterOptimized:
		return "raster_optimized"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raster":
		return ModeRaster, nil
	case "raster_optimized", "rasteroptimized", "optimized", "":
		return ModeRasterOptimized, nil
	default:
		return 0, fmt.Errorf("unknown plotting mode: %q", s)
	}
}

func eligible(points []*EngravePoint) []*EngravePoint {
	out := make([]*EngravePoint, 0, len(points))
	for _, p := range points {
		if p != nil && p.Eligible() {
			out = append(out, p)
		}
	}
	return out
}
