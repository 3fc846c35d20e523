package planner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPoints(seed int64, n, width, height int) []*EngravePoint {
	rnd := rand.New(rand.NewSource(seed))
	points := make([]*EngravePoint, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, &EngravePoint{
			X:         rnd.Intn(width),
			Y:         rnd.Intn(height),
			Intensity: uint8(rnd.Intn(4) * 85),
			Visited:   rnd.Intn(10) == 0,
		})
	}
	return points
}

func filledRect(x0, y0, w, h int, intensity uint8) []*EngravePoint {
	points := make([]*EngravePoint, 0, w*h)
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			points = append(points, &EngravePoint{X: x, Y: y, Intensity: intensity})
		}
	}
	return points
}

func assertExactlyEligible(t *testing.T, input, output []*EngravePoint) {
	t.Helper()

	seen := make(map[*EngravePoint]int)
	for _, p := range output {
		seen[p]++
		assert.True(t, p.Intensity > 0, "zero intensity point sequenced")
		assert.False(t, p.Visited, "visited point sequenced")
	}
	want := 0
	for _, p := range input {
		if p.Intensity > 0 && !p.Visited {
			want++
			assert.Equal(t, 1, seen[p], "point %+v", *p)
		}
	}
	assert.Len(t, output, want)
}

func TestSequence_Raster(t *testing.T) {
	input := randomPoints(1, 2000, 300, 200)
	out := Sequence(ModeRaster, input, nil)

	assertExactlyEligible(t, input, out)
	for i := 1; i < len(out); i++ {
		a, b := out[i-1], out[i]
		assert.True(t, a.Y < b.Y || (a.Y == b.Y && a.X <= b.X), "not sorted at %d", i)
	}
}

func TestSequence_OptimizedIsPermutation(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		input := randomPoints(seed, 3000, 400, 300)
		out := Sequence(ModeRasterOptimized, input, nil)
		assertExactlyEligible(t, input, out)
	}

	input := append(filledRect(10, 10, 60, 40, 255), filledRect(300, 200, 30, 30, 128)...)
	out := Sequence(ModeRasterOptimized, input, nil)
	assertExactlyEligible(t, input, out)
}

func TestSequence_OptimizedExhaustsClusters(t *testing.T) {
	inputs := [][]*EngravePoint{
		randomPoints(7, 5000, 800, 600),
		randomPoints(8, 200, 5000, 5000),
		append(filledRect(0, 0, 120, 90, 200), filledRect(400, 10, 50, 50, 60)...),
	}

	for _, input := range inputs {
		out := Sequence(ModeRasterOptimized, input, nil)
		size := ClusterSize(out)

		done := make(map[[2]int]bool)
		var current [2]int
		for i, p := range out {
			cx, cy := ClusterOf(p, size)
			key := [2]int{cx, cy}
			if i > 0 && key == current {
				continue
			}
			if i > 0 {
				done[current] = true
			}
			require.False(t, done[key], "cluster %v revisited at %d", key, i)
			current = key
		}
	}
}

func TestSequence_Deterministic(t *testing.T) {
	input := randomPoints(11, 4000, 500, 500)
	last := &EngravePoint{X: 250, Y: 250}

	a := Sequence(ModeRasterOptimized, input, last)
	b := Sequence(ModeRasterOptimized, input, last)
	assert.Equal(t, a, b)

	shuffled := append([]*EngravePoint(nil), input...)
	rand.New(rand.NewSource(3)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	c := Sequence(ModeRasterOptimized, shuffled, last)

	require.Len(t, c, len(a))
	for i := range a {
		assert.Equal(t, a[i].X, c[i].X)
		assert.Equal(t, a[i].Y, c[i].Y)
	}
}

func TestSequence_ResumeSkipsVisited(t *testing.T) {
	input := filledRect(0, 0, 40, 40, 255)
	first := Sequence(ModeRasterOptimized, input, nil)

	burned := first[:500]
	for _, p := range burned {
		p.Visited = true
	}

	rest := Sequence(ModeRasterOptimized, input, burned[len(burned)-1])
	assertExactlyEligible(t, input, rest)
	for _, p := range rest {
		assert.False(t, p.Visited)
	}
}

func TestSequence_ContinuesFromLastPoint(t *testing.T) {
	input := append(filledRect(0, 0, 10, 10, 255), filledRect(90, 90, 10, 10, 255)...)

	out := Sequence(ModeRasterOptimized, input, &EngravePoint{X: 95, Y: 95})
	require.NotEmpty(t, out)
	assert.GreaterOrEqual(t, out[0].X, 90)
	assert.GreaterOrEqual(t, out[0].Y, 90)
}

func TestSequence_SnapsToLeftmostNeighbor(t *testing.T) {
	// the far point widens the cluster grid to 16 so the run shares one cluster
	input := append(filledRect(32, 34, 5, 1, 255), &EngravePoint{X: 400, Y: 34, Intensity: 255})
	require.Equal(t, 16, ClusterSize(input))

	out := Sequence(ModeRasterOptimized, input, &EngravePoint{X: 35, Y: 33})
	require.Len(t, out, 6)
	for i, p := range out[:5] {
		assert.Equal(t, 32+i, p.X)
	}
	assert.Len(t, Runs(out), 2)
}

func TestSequence_Empty(t *testing.T) {
	assert.Empty(t, Sequence(ModeRaster, nil, nil))
	assert.Empty(t, Sequence(ModeRasterOptimized, nil, nil))
	assert.Empty(t, Sequence(ModeRasterOptimized, []*EngravePoint{{X: 1, Y: 1}}, nil))
}

func TestClusterSize(t *testing.T) {
	assert.Equal(t, 2, ClusterSize(nil))
	assert.Equal(t, 2, ClusterSize([]*EngravePoint{{X: 5, Y: 5}}))
	assert.Equal(t, 2, ClusterSize([]*EngravePoint{{X: 0, Y: 0}, {X: 79, Y: 0}}))
	assert.Equal(t, 16, ClusterSize([]*EngravePoint{{X: 0, Y: 0}, {X: 400, Y: 0}}))
	assert.Equal(t, 64, ClusterSize([]*EngravePoint{{X: 0, Y: 0}, {X: 1600, Y: 1600}}))
	assert.Equal(t, 65536, ClusterSize([]*EngravePoint{{X: 0, Y: 0}, {X: 100_000_000, Y: 0}}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("raster")
	require.NoError(t, err)
	assert.Equal(t, ModeRaster, m)

	m, err = ParseMode("Raster_Optimized")
	require.NoError(t, err)
	assert.Equal(t, ModeRasterOptimized, m)

	_, err = ParseMode("spiral")
	assert.Error(t, err)
}
