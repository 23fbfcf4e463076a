// Package areatype classifies zones by land-use density within a square
// buffer and assigns each link the denser area type of its two end zones.
//
// Codes run from 0 (regional core) to 5 (rural):
//
//	density < 6    → 5 rural
//	density < 30   → 4 suburban
//	density < 55   → 3 urban
//	density < 100  → 2 urban business
//	density < 300  → 1 CBD
//	otherwise      → 0 regional core
//
// where density = (pop + 2.5*emp) / acres over every zone in the buffer.
package areatype

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/landuse"
	"github.com/sells-group/netprep/internal/memo"
	"github.com/sells-group/netprep/internal/network"
	"github.com/sells-group/netprep/internal/spatial"
)

// Unclassified marks a link or zone without an area type.
const Unclassified = -1

// EmploymentWeight scales employment relative to population in the density.
const EmploymentWeight = 2.5

var breakpoints = []struct {
	below float64
	code  int
}{
	{6, 5},
	{30, 4},
	{55, 3},
	{100, 2},
	{300, 1},
}

// Code maps a density to an area type code.
func Code(density float64) int {
	for _, bp := range breakpoints {
		if density < bp.below {
			return bp.code
		}
	}
	return 0
}

// Density returns (pop + 2.5*emp) / acres, or 0 when acres is not positive.
func Density(pop, emp, acres float64) float64 {
	if acres <= 0 {
		return 0
	}
	return (pop + EmploymentWeight*emp) / acres
}

// Zone is a located zone with its buffer totals and area type.
type Zone struct {
	ID       int
	Point    spatial.Point
	Pop      float64
	Emp      float64
	Acres    float64
	Density  float64
	AreaType int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithConcurrency bounds the number of zones aggregated in parallel.
func WithConcurrency(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithNearestCache shares a point → nearest zone cache across link queries.
func WithNearestCache(cache *memo.Cache[spatial.Point, int]) Option {
	return func(c *Classifier) {
		c.nearest = cache
	}
}

// Classifier owns the zone index for one run. Locate every zone, then call
// ClassifyZones, then query links.
type Classifier struct {
	table       landuse.Table
	buffer      float64
	index       *spatial.GridIndex
	concurrency int
	nearest     *memo.Cache[spatial.Point, int]

	mu         sync.RWMutex
	zones      map[int]*Zone
	classified bool
}

// New creates a classifier over table with a square buffer of bufferFeet
// half-width. The index cell size equals the buffer.
func New(table landuse.Table, bufferFeet float64, opts ...Option) (*Classifier, error) {
	if !(bufferFeet > 0) || math.IsInf(bufferFeet, 0) {
		return nil, errs.New(errs.KindConfiguration, "area_type_buffer_dist_miles",
			"areatype: buffer must be positive, got %v ft", bufferFeet)
	}
	index, err := spatial.NewGridIndex(bufferFeet)
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		table:       table,
		buffer:      bufferFeet,
		index:       index,
		concurrency: runtime.NumCPU(),
		zones:       make(map[int]*Zone),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.nearest == nil {
		c.nearest = memo.New[spatial.Point, int]()
	}
	return c, nil
}

// Buffer returns the buffer half-width in feet.
func (c *Classifier) Buffer() float64 { return c.buffer }

// Locate records a zone's position. The zone must appear in the land-use
// table and may be located once.
func (c *Classifier) Locate(zoneID int, x, y float64) error {
	entity := fmt.Sprintf("zone %d", zoneID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.classified {
		return errs.New(errs.KindConsistency, entity, "areatype: zones already classified")
	}
	rec, ok := c.table[zoneID]
	if !ok {
		return errs.New(errs.KindConsistency, entity, "areatype: zone missing from land-use table")
	}
	if err := c.index.Insert(zoneID, x, y); err != nil {
		return err
	}
	c.zones[zoneID] = &Zone{
		ID:       zoneID,
		Point:    spatial.Point{X: x, Y: y},
		Pop:      rec.Pop,
		Emp:      rec.Emp,
		Acres:    rec.Acres,
		AreaType: Unclassified,
	}
	return nil
}

// ClassifyZones aggregates land use in each located zone's buffer and
// assigns its area type. Land-use zones never located are skipped.
func (c *Classifier) ClassifyZones(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.classified {
		return nil
	}
	if len(c.zones) == 0 {
		return errs.Wrap(spatial.ErrEmptyIndex, errs.KindLookup, "zones")
	}

	ids := make([]int, 0, len(c.zones))
	for id := range c.zones {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		z := c.zones[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return c.classifyZone(z)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.classified = true
	return nil
}

// classifyZone reads other zones' land-use totals but writes only z.
func (c *Classifier) classifyZone(z *Zone) error {
	members, err := c.index.WithinSquare(z.Point.X, z.Point.Y, c.buffer)
	if err != nil {
		return err
	}
	var pop, emp, acres float64
	for _, id := range members {
		rec := c.table[id]
		pop += rec.Pop
		emp += rec.Emp
		acres += rec.Acres
	}
	z.Density = Density(pop, emp, acres)
	z.AreaType = Code(z.Density)
	return nil
}

// ZoneAreaType returns a classified zone's area type.
func (c *Classifier) ZoneAreaType(id int) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.zones[id]
	if !ok || !c.classified {
		return Unclassified, false
	}
	return z.AreaType, true
}

// Zones returns a copy of every located zone ordered by id.
func (c *Classifier) Zones() []Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Zone, 0, len(c.zones))
	for _, z := range c.zones {
		out = append(out, *z)
	}
	slices.SortFunc(out, func(a, b Zone) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// NearestZone returns the id of the zone closest to p.
func (c *Classifier) NearestZone(p spatial.Point) (int, error) {
	return c.nearest.GetOrCompute(p, func() (int, error) {
		return c.index.Nearest(p.X, p.Y)
	})
}

// LinkAreaType returns the lower (denser) area type of the zones nearest
// to a link's two end points.
func (c *Classifier) LinkAreaType(i, j spatial.Point) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.classified {
		return Unclassified, errs.New(errs.KindConsistency, "zones", "areatype: link query before zones are classified")
	}
	a, err := c.NearestZone(i)
	if err != nil {
		return Unclassified, err
	}
	b, err := c.NearestZone(j)
	if err != nil {
		return Unclassified, err
	}
	return min(c.zones[a].AreaType, c.zones[b].AreaType), nil
}

// Summary reports what a network classification did.
type Summary struct {
	ZonesLocated    int
	ZonesSkipped    int
	Links           int
	ZonesByAreaType map[int]int
	LinksByAreaType map[int]int
}

// ClassifyNetwork locates every node carrying a non-zero zone id, classifies
// the zones and writes @area_type on every link of n.
func (c *Classifier) ClassifyNetwork(ctx context.Context, n *network.Network) (Summary, error) {
	log := zap.L().With(zap.String("component", "areatype"))
	sum := Summary{ZonesByAreaType: make(map[int]int), LinksByAreaType: make(map[int]int)}

	if _, ok := n.ExtraAttribute(network.AttrZoneID); !ok {
		return sum, errs.New(errs.KindConfiguration, "attribute "+network.AttrZoneID,
			"areatype: network has no zone id attribute")
	}
	for _, node := range n.Nodes() {
		id := node.Data[network.AttrZoneID]
		if id == 0 {
			continue
		}
		if err := c.Locate(int(id), node.X, node.Y); err != nil {
			return sum, err
		}
		sum.ZonesLocated++
	}
	sum.ZonesSkipped = len(c.table) - sum.ZonesLocated

	if err := c.ClassifyZones(ctx); err != nil {
		return sum, err
	}
	for _, z := range c.Zones() {
		sum.ZonesByAreaType[z.AreaType]++
	}

	if _, err := n.CreateExtraAttribute(network.DomainLink, network.AttrAreaType, Unclassified); err != nil {
		return sum, err
	}
	for _, link := range n.Links() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		at, err := c.LinkAreaType(n.Node(link.I).Point(), n.Node(link.J).Point())
		if err != nil {
			kind := errs.KindOf(err)
			if kind == "" {
				kind = errs.KindLookup
			}
			return sum, errs.Wrap(err, kind, "link "+link.Key().String())
		}
		link.Data[network.AttrAreaType] = float64(at)
		sum.LinksByAreaType[at]++
		sum.Links++
	}

	hits, misses := c.nearest.Stats()
	log.Info("classified area types",
		zap.Int("zones_located", sum.ZonesLocated),
		zap.Int("zones_skipped", sum.ZonesSkipped),
		zap.Int("links", sum.Links),
		zap.Any("links_by_area_type", sum.LinksByAreaType),
		zap.Int64("nearest_cache_hits", hits),
		zap.Int64("nearest_cache_misses", misses),
	)
	return sum, nil
}
