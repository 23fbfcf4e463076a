// Package spatial implements a uniform-grid index over planar points
// (projected feet) for square-range and nearest-neighbour queries.
package spatial

import (
	"fmt"
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/netprep/internal/errs"
)

var (
	// ErrDuplicateID is returned when an id is inserted twice.
	ErrDuplicateID = eris.New("spatial: duplicate id")
	// ErrEmptyIndex is returned by queries against an index with no points.
	ErrEmptyIndex = eris.New("spatial: empty index")
)

// Point is a planar coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

type cellKey struct {
	cx, cy int64
}

type entry struct {
	id int
	p  Point
}

// GridIndex buckets ids into square cells of a fixed size. Positions are
// captured at insertion and never updated. Populate fully before querying;
// once populated the index is safe for concurrent reads.
type GridIndex struct {
	size  float64
	cells map[cellKey][]entry
	ids   map[int]cellKey

	minCX, maxCX int64
	minCY, maxCY int64
}

// NewGridIndex creates an index with the given cell size.
func NewGridIndex(cellSize float64) (*GridIndex, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, errs.New(errs.KindConfiguration, "cell size", "spatial: cell size must be positive and finite, got %v", cellSize)
	}
	return &GridIndex{
		size:  cellSize,
		cells: make(map[cellKey][]entry),
		ids:   make(map[int]cellKey),
	}, nil
}

// CellSize returns the fixed cell size.
func (g *GridIndex) CellSize() float64 { return g.size }

// Len returns the number of indexed ids.
func (g *GridIndex) Len() int { return len(g.ids) }

// maxCell bounds cell indices so that cell arithmetic stays exact in both
// int64 and float64.
const maxCell = 1 << 52

func (g *GridIndex) cellCoord(v float64) float64 {
	return math.Floor(v / g.size)
}

// cellRange returns the cells covering [lo, hi] along one axis, clamped to
// the occupied range [minC, maxC]. ok is false when nothing occupied overlaps.
func (g *GridIndex) cellRange(lo, hi float64, minC, maxC int64) (from, to int64, ok bool) {
	flo := max(g.cellCoord(lo), float64(minC))
	fhi := min(g.cellCoord(hi), float64(maxC))
	if flo > fhi {
		return 0, 0, false
	}
	return int64(flo), int64(fhi), true
}

func finite(x, y float64) bool {
	return !math.IsNaN(x) && !math.IsNaN(y) && !math.IsInf(x, 0) && !math.IsInf(y, 0)
}

// Insert adds id at (x, y). Each id represents one physical zone or node,
// so a second insert of the same id is rejected.
func (g *GridIndex) Insert(id int, x, y float64) error {
	entity := fmt.Sprintf("id %d", id)
	if _, dup := g.ids[id]; dup {
		return errs.Wrap(ErrDuplicateID, errs.KindConsistency, entity)
	}
	if !finite(x, y) {
		return errs.New(errs.KindConsistency, entity, "spatial: non-finite coordinates (%v, %v)", x, y)
	}
	fx, fy := g.cellCoord(x), g.cellCoord(y)
	if math.Abs(fx) > maxCell || math.Abs(fy) > maxCell {
		return errs.New(errs.KindConsistency, entity, "spatial: coordinates (%v, %v) outside index range for cell size %v", x, y, g.size)
	}

	k := cellKey{cx: int64(fx), cy: int64(fy)}
	if len(g.ids) == 0 {
		g.minCX, g.maxCX, g.minCY, g.maxCY = k.cx, k.cx, k.cy, k.cy
	} else {
		g.minCX = min(g.minCX, k.cx)
		g.maxCX = max(g.maxCX, k.cx)
		g.minCY = min(g.minCY, k.cy)
		g.maxCY = max(g.maxCY, k.cy)
	}
	g.cells[k] = append(g.cells[k], entry{id: id, p: Point{X: x, Y: y}})
	g.ids[id] = k
	return nil
}

// WithinSquare returns, in ascending order, every id whose point lies in the
// axis-aligned square of side 2*halfWidth centred on (x, y), edges included.
func (g *GridIndex) WithinSquare(x, y, halfWidth float64) ([]int, error) {
	if len(g.ids) == 0 {
		return nil, errs.Wrap(ErrEmptyIndex, errs.KindLookup, "within_square")
	}
	if !finite(x, y) {
		return nil, errs.New(errs.KindConsistency, "within_square", "spatial: non-finite query (%v, %v)", x, y)
	}
	if halfWidth < 0 || math.IsNaN(halfWidth) {
		return nil, errs.New(errs.KindConfiguration, "within_square", "spatial: negative half width %v", halfWidth)
	}

	var lo, hi cellKey
	var okX, okY bool
	lo.cx, hi.cx, okX = g.cellRange(x-halfWidth, x+halfWidth, g.minCX, g.maxCX)
	lo.cy, hi.cy, okY = g.cellRange(y-halfWidth, y+halfWidth, g.minCY, g.maxCY)
	if !okX || !okY {
		return nil, nil
	}

	var out []int
	collect := func(es []entry) {
		for _, e := range es {
			if math.Abs(e.p.X-x) <= halfWidth && math.Abs(e.p.Y-y) <= halfWidth {
				out = append(out, e.id)
			}
		}
	}

	span := float64(hi.cx-lo.cx+1) * float64(hi.cy-lo.cy+1)
	if span > float64(len(g.cells)) {
		// Large windows: walking the occupied cells is cheaper than the range.
		for k, es := range g.cells {
			if k.cx >= lo.cx && k.cx <= hi.cx && k.cy >= lo.cy && k.cy <= hi.cy {
				collect(es)
			}
		}
	} else {
		for cx := lo.cx; cx <= hi.cx; cx++ {
			for cy := lo.cy; cy <= hi.cy; cy++ {
				collect(g.cells[cellKey{cx, cy}])
			}
		}
	}

	slices.Sort(out)
	return out, nil
}

// Nearest returns the id closest to (x, y); equal distances resolve to the
// lowest id. The search expands ring by ring around the query cell and stops
// once the best distance is below the distance to any unexamined ring.
func (g *GridIndex) Nearest(x, y float64) (int, error) {
	if len(g.ids) == 0 {
		return 0, errs.Wrap(ErrEmptyIndex, errs.KindLookup, "nearest")
	}

	if !finite(x, y) {
		return 0, errs.New(errs.KindConsistency, "nearest", "spatial: non-finite query (%v, %v)", x, y)
	}

	q := Point{X: x, Y: y}
	fx, fy := g.cellCoord(x), g.cellCoord(y)

	best := 0
	bestDist := math.Inf(1)
	found := false
	consider := func(es []entry) {
		for _, e := range es {
			d := q.Dist(e.p)
			if !found || d < bestDist || (d == bestDist && e.id < best) {
				best, bestDist, found = e.id, d, true
			}
		}
	}

	if fx < float64(g.minCX) || fx > float64(g.maxCX) || fy < float64(g.minCY) || fy > float64(g.maxCY) {
		// Queries outside the occupied extent scan every entry.
		for _, es := range g.cells {
			consider(es)
		}
		return best, nil
	}

	c := cellKey{cx: int64(fx), cy: int64(fy)}
	maxR := max(absDiff(c.cx, g.minCX), absDiff(g.maxCX, c.cx), absDiff(c.cy, g.minCY), absDiff(g.maxCY, c.cy))
	for r := int64(0); r <= maxR; r++ {
		side := float64(2*r + 1)
		if side*side > float64(len(g.cells)) {
			// The remaining rings cover more cells than are occupied.
			for k, es := range g.cells {
				if chebyshev(k, c) >= r {
					consider(es)
				}
			}
			break
		}

		g.visitRing(c, r, consider)
		if found && bestDist < g.ringBound(q, c, r) {
			break
		}
	}

	return best, nil
}

// visitRing calls fn for every occupied cell at Chebyshev distance r from c.
func (g *GridIndex) visitRing(c cellKey, r int64, fn func([]entry)) {
	if r == 0 {
		fn(g.cells[c])
		return
	}
	for dx := -r; dx <= r; dx++ {
		fn(g.cells[cellKey{c.cx + dx, c.cy - r}])
		fn(g.cells[cellKey{c.cx + dx, c.cy + r}])
	}
	for dy := -r + 1; dy <= r-1; dy++ {
		fn(g.cells[cellKey{c.cx - r, c.cy + dy}])
		fn(g.cells[cellKey{c.cx + r, c.cy + dy}])
	}
}

// ringBound is the distance from q to the edge of the block of cells within
// Chebyshev distance r of c; any point outside the block is at least this far.
func (g *GridIndex) ringBound(q Point, c cellKey, r int64) float64 {
	left := q.X - float64(c.cx-r)*g.size
	right := float64(c.cx+r+1)*g.size - q.X
	bottom := q.Y - float64(c.cy-r)*g.size
	top := float64(c.cy+r+1)*g.size - q.Y
	return min(left, right, bottom, top)
}

func chebyshev(a, b cellKey) int64 {
	return max(absDiff(a.cx, b.cx), absDiff(a.cy, b.cy))
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
