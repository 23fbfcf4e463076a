package spatial

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/netprep/internal/errs"
)

func newTestIndex(t *testing.T, size float64, pts map[int]Point) *GridIndex {
	t.Helper()
	g, err := NewGridIndex(size)
	require.NoError(t, err)
	for id, p := range pts {
		require.NoError(t, g.Insert(id, p.X, p.Y))
	}
	return g
}

func bruteWithin(pts map[int]Point, x, y, r float64) []int {
	var out []int
	for id, p := range pts {
		if math.Abs(p.X-x) <= r && math.Abs(p.Y-y) <= r {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func bruteNearest(pts map[int]Point, x, y float64) int {
	q := Point{X: x, Y: y}
	best, bestDist := 0, math.Inf(1)
	for id, p := range pts {
		d := q.Dist(p)
		if d < bestDist || (d == bestDist && id < best) {
			best, bestDist = id, d
		}
	}
	return best
}

func randomPoints(rng *rand.Rand, n int, extent float64) map[int]Point {
	pts := make(map[int]Point, n)
	for i := range n {
		pts[i+1] = Point{X: rng.Float64()*extent - extent/4, Y: rng.Float64()*extent - extent/4}
	}
	return pts
}

func TestNewGridIndex_InvalidSize(t *testing.T) {
	for _, size := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := NewGridIndex(size)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindConfiguration))
	}
}

func TestInsert_Duplicate(t *testing.T) {
	g := newTestIndex(t, 100, map[int]Point{1: {0, 0}})

	err := g.Insert(1, 500, 500)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConsistency))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, g.Len())

	// The original position is kept.
	ids, err := g.WithinSquare(0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids)
}

func TestInsert_NonFinite(t *testing.T) {
	g := newTestIndex(t, 100, nil)
	err := g.Insert(1, math.NaN(), 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConsistency))
	assert.Equal(t, 0, g.Len())
}

func TestInsert_OutsideIndexRange(t *testing.T) {
	g := newTestIndex(t, 1, nil)
	err := g.Insert(1, 1e300, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConsistency))
	assert.Equal(t, 0, g.Len())
}

func TestQueries_NonFinite(t *testing.T) {
	g := newTestIndex(t, 2640, map[int]Point{7: {0, 0}})

	for _, q := range []Point{{math.NaN(), 0}, {0, math.Inf(1)}, {math.Inf(-1), math.NaN()}} {
		_, err := g.Nearest(q.X, q.Y)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindConsistency))

		_, err = g.WithinSquare(q.X, q.Y, 10)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindConsistency))
	}
}

func TestEmptyIndex(t *testing.T) {
	g := newTestIndex(t, 100, nil)

	_, err := g.Nearest(0, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindLookup))
	assert.ErrorIs(t, err, ErrEmptyIndex)

	_, err = g.WithinSquare(0, 0, 10)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindLookup))
}

func TestWithinSquare_EdgesInclusive(t *testing.T) {
	pts := map[int]Point{
		1: {0, 0},
		2: {100, 0},    // exactly on the right edge
		3: {100.5, 0},  // just outside
		4: {-100, 100}, // corner
		5: {70, 70},    // inside the square, outside a circle of radius 100
	}
	g := newTestIndex(t, 50, pts)

	ids, err := g.WithinSquare(0, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4, 5}, ids)
}

func TestWithinSquare_IncludesSelf(t *testing.T) {
	g := newTestIndex(t, 2640, map[int]Point{10: {5000, 5000}})
	ids, err := g.WithinSquare(5000, 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, ids)
}

func TestWithinSquare_NegativeHalfWidth(t *testing.T) {
	g := newTestIndex(t, 10, map[int]Point{1: {0, 0}})
	_, err := g.WithinSquare(0, 0, -1)
	require.Error(t, err)
}

func TestWithinSquare_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	pts := randomPoints(rng, 2000, 50000)
	g := newTestIndex(t, 2640, pts)

	for range 300 {
		x := rng.Float64()*60000 - 15000
		y := rng.Float64()*60000 - 15000
		r := rng.Float64() * 8000
		got, err := g.WithinSquare(x, y, r)
		require.NoError(t, err)
		assert.Equal(t, bruteWithin(pts, x, y, r), got)
	}
}

func TestWithinSquare_HugeWindow(t *testing.T) {
	pts := map[int]Point{1: {0, 0}, 2: {1e6, 1e6}, 3: {-1e6, 5}}
	g := newTestIndex(t, 1, pts)

	got, err := g.WithinSquare(0, 0, 1e7)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestWithinSquare_InfiniteWindow(t *testing.T) {
	pts := map[int]Point{7: {0, 0}, 8: {5000, 5000}}
	g := newTestIndex(t, 2640, pts)

	for _, hw := range []float64{math.Inf(1), 1e30, math.MaxFloat64} {
		got, err := g.WithinSquare(0, 0, hw)
		require.NoError(t, err)
		assert.Equal(t, []int{7, 8}, got, "half width %v", hw)
	}

	got, err := g.WithinSquare(1e30, 1e30, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNearest_FarQuery(t *testing.T) {
	pts := map[int]Point{7: {0, 0}, 8: {5000, 5000}}
	g := newTestIndex(t, 2640, pts)

	tests := []struct {
		name string
		x, y float64
		want int
	}{
		{"far upper right", 1e12, 1e12, 8},
		{"far left", -1e12, 0, 7},
		{"far left beyond int64 cells", -1e30, 0, 7},
		{"far below", 2500, -1e15, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Nearest(tt.x, tt.y)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// At this magnitude both distances round to the same value; the result
	// must still be an inserted id.
	got, err := g.Nearest(1e30, 1e30)
	require.NoError(t, err)
	assert.Contains(t, []int{7, 8}, got)
}

func TestNearest_Basic(t *testing.T) {
	pts := map[int]Point{
		1: {0, 0},
		2: {100, 0},
		3: {1000, 0},
	}
	g := newTestIndex(t, 50, pts)

	tests := []struct {
		name string
		x, y float64
		want int
	}{
		{"on point", 0, 0, 1},
		{"closer to 2", 60, 10, 2},
		{"far right", 5000, 0, 3},
		{"far left", -9000, -9000, 1},
		{"between 2 and 3", 600, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Nearest(tt.x, tt.y)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNearest_TieLowestID(t *testing.T) {
	// 5 and 9 are equidistant from the origin and sit in different cells.
	pts := map[int]Point{9: {-30, 0}, 5: {30, 0}}
	g := newTestIndex(t, 10, pts)

	got, err := g.Nearest(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestNearest_CloserPointInOuterRing(t *testing.T) {
	// The query sits at the right edge of its cell; a point just across the
	// boundary is closer than a point in the same cell.
	pts := map[int]Point{1: {0.5, 0.5}, 2: {10.2, 9.5}}
	g := newTestIndex(t, 10, pts)

	got, err := g.Nearest(9.9, 9.5)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestNearest_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	pts := randomPoints(rng, 3000, 80000)
	g := newTestIndex(t, 2640, pts)

	for range 500 {
		x := rng.Float64()*200000 - 60000
		y := rng.Float64()*200000 - 60000
		got, err := g.Nearest(x, y)
		require.NoError(t, err)
		assert.Equal(t, bruteNearest(pts, x, y), got)
	}
}

func TestNearest_SparseClusters(t *testing.T) {
	pts := map[int]Point{
		1: {0, 0},
		2: {1, 1},
		3: {1e6, 1e6},
		4: {1e6 + 3, 1e6},
	}
	g := newTestIndex(t, 5, pts)

	got, err := g.Nearest(9e5, 9e5)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = g.Nearest(-50, -50)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}
