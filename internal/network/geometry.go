package network

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is NAD83(HARN) / California zone 6 (ftUS), the projection node
// coordinates are stored in.
const SRID = 2875

// LinkEWKB encodes the link as an EWKB LineString from its I node through
// its vertices to its J node.
func (n *Network) LinkEWKB(l *Link) ([]byte, error) {
	from, to := n.nodes[l.I], n.nodes[l.J]
	if from == nil || to == nil {
		return nil, eris.Errorf("network: link %s references unknown node", l.Key())
	}
	flat := make([]float64, 0, 2*(len(l.Vertices)+2))
	flat = append(flat, from.X, from.Y)
	for _, v := range l.Vertices {
		flat = append(flat, v.X, v.Y)
	}
	flat = append(flat, to.X, to.Y)

	ls := geom.NewLineStringFlat(geom.XY, flat).SetSRID(SRID)
	data, err := ewkb.Marshal(ls, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "network: encode link EWKB")
	}
	return data, nil
}
