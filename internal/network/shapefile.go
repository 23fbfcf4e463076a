package network

import (
	"math"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/spatial"
)

// FeetPerMile converts projected feet to miles.
const FeetPerMile = 5280.0

// Shapefile fields with fixed meaning. Any other numeric field becomes an
// extra attribute named "@" + lower(field).
var (
	nodeFields = map[string]bool{"n": true, "x": true, "y": true, "centroid": true}
	linkFields = map[string]bool{"a": true, "b": true, "length": true, "modes": true, "link_id": true, "cntype": true}
)

// ImportShapefiles builds a network from a Point node shapefile and a
// PolyLine link shapefile. Coordinates are taken as projected feet.
func ImportShapefiles(nodesPath, linksPath string) (*Network, error) {
	net := New()
	if err := importNodes(net, nodesPath); err != nil {
		return nil, err
	}
	if err := importLinks(net, linksPath); err != nil {
		return nil, err
	}
	zap.L().Info("network: imported shapefiles",
		zap.Int("nodes", len(net.nodes)),
		zap.Int("links", len(net.links)),
		zap.Int("attributes", len(net.attrs)),
	)
	return net, nil
}

type shpColumns struct {
	index   map[string]int
	numeric map[string]int
}

// readColumns maps lowercased field names to indexes and collects the
// numeric fields not listed in reserved.
func readColumns(reader *shp.Reader, reserved map[string]bool) shpColumns {
	cols := shpColumns{index: make(map[string]int), numeric: make(map[string]int)}
	for i, f := range reader.Fields() {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		cols.index[name] = i
		if reserved[name] {
			continue
		}
		if f.Fieldtype == 'N' || f.Fieldtype == 'F' {
			cols.numeric[attrName(name)] = i
		}
	}
	return cols
}

func attrName(field string) string {
	if strings.HasPrefix(field, "@") {
		return field
	}
	return "@" + field
}

func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

func numericAttribute(reader *shp.Reader, idx int) (float64, error) {
	raw := attribute(reader, idx)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func importNodes(net *Network, path string) error {
	reader, err := shp.Open(path)
	if err != nil {
		return errs.Wrap(eris.Wrapf(err, "network: open node shapefile %s", path), errs.KindExternalStore, path)
	}
	defer func() { _ = reader.Close() }()

	cols := readColumns(reader, nodeFields)
	idIdx, ok := cols.index["n"]
	if !ok {
		return errs.New(errs.KindConfiguration, path, "network: node shapefile has no N field")
	}
	for name := range cols.numeric {
		if _, err := net.CreateExtraAttribute(DomainNode, name, 0); err != nil {
			return err
		}
	}
	centroidIdx, hasCentroid := cols.index["centroid"]

	for reader.Next() {
		row, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok {
			return errs.New(errs.KindConsistency, path, "network: node record %d is not a point", row)
		}
		id, err := numericAttribute(reader, idIdx)
		if err != nil || id <= 0 {
			return errs.New(errs.KindConsistency, path, "network: node record %d has invalid N %q", row, attribute(reader, idIdx))
		}
		node := &Node{ID: int(id), X: pt.X, Y: pt.Y, Data: make(map[string]float64, len(cols.numeric))}
		if hasCentroid {
			flag, _ := numericAttribute(reader, centroidIdx)
			node.IsCentroid = flag != 0
		}
		for name, idx := range cols.numeric {
			v, err := numericAttribute(reader, idx)
			if err != nil {
				return errs.New(errs.KindConsistency, path, "network: node %d field %s: %v", node.ID, name, err)
			}
			node.Data[name] = v
		}
		if err := net.AddNode(node); err != nil {
			return err
		}
	}
	return nil
}

func importLinks(net *Network, path string) error {
	reader, err := shp.Open(path)
	if err != nil {
		return errs.Wrap(eris.Wrapf(err, "network: open link shapefile %s", path), errs.KindExternalStore, path)
	}
	defer func() { _ = reader.Close() }()

	cols := readColumns(reader, linkFields)
	aIdx, okA := cols.index["a"]
	bIdx, okB := cols.index["b"]
	if !okA || !okB {
		return errs.New(errs.KindConfiguration, path, "network: link shapefile needs A and B fields")
	}
	for name := range cols.numeric {
		if _, err := net.CreateExtraAttribute(DomainLink, name, 0); err != nil {
			return err
		}
	}
	lengthIdx, hasLength := cols.index["length"]
	modesIdx, hasModes := cols.index["modes"]
	labels := map[string]string{"link_id": LabelLinkID, "cntype": LabelConnectorType}

	for reader.Next() {
		row, shape := reader.Shape()
		a, errA := numericAttribute(reader, aIdx)
		b, errB := numericAttribute(reader, bIdx)
		if errA != nil || errB != nil {
			return errs.New(errs.KindConsistency, path, "network: link record %d has invalid A/B", row)
		}
		link := &Link{
			I:      int(a),
			J:      int(b),
			Data:   make(map[string]float64, len(cols.numeric)),
			Labels: make(map[string]string),
		}
		if pl, ok := shape.(*shp.PolyLine); ok && len(pl.Points) > 2 {
			for _, p := range pl.Points[1 : len(pl.Points)-1] {
				link.Vertices = append(link.Vertices, spatial.Point{X: p.X, Y: p.Y})
			}
		}
		if hasModes {
			for _, m := range attribute(reader, modesIdx) {
				link.AddModes(string(m))
			}
		}
		for field, label := range labels {
			if idx, ok := cols.index[field]; ok {
				if v := attribute(reader, idx); v != "" {
					link.Labels[label] = v
				}
			}
		}
		for name, idx := range cols.numeric {
			v, err := numericAttribute(reader, idx)
			if err != nil {
				return errs.New(errs.KindConsistency, path, "network: link %d-%d field %s: %v", link.I, link.J, name, err)
			}
			link.Data[name] = v
		}
		if hasLength {
			link.Length, _ = numericAttribute(reader, lengthIdx)
		}
		if link.Length <= 0 {
			link.Length = shapeLength(shape) / FeetPerMile
		}
		if err := net.AddLink(link); err != nil {
			return err
		}
	}
	return nil
}

// shapeLength returns the planar length of a polyline in its own units.
func shapeLength(shape shp.Shape) float64 {
	pl, ok := shape.(*shp.PolyLine)
	if !ok || pl == nil {
		return 0
	}
	var total float64
	for part := int32(0); part < pl.NumParts; part++ {
		start := pl.Parts[part]
		end := int32(len(pl.Points))
		if part+1 < pl.NumParts {
			end = pl.Parts[part+1]
		}
		for i := start + 1; i < end; i++ {
			total += math.Hypot(pl.Points[i].X-pl.Points[i-1].X, pl.Points[i].Y-pl.Points[i-1].Y)
		}
	}
	return total
}
