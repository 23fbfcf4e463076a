// Package network models a transportation network snapshot: nodes, links,
// turns and transit lines, each carrying named scalar extra attributes.
// Scenarios wrap a network and live in a Bank.
package network

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/spatial"
)

// Domain identifies the entity type an extra attribute belongs to.
type Domain string

// Entity domains.
const (
	DomainNode           Domain = "NODE"
	DomainLink           Domain = "LINK"
	DomainTurn           Domain = "TURN"
	DomainTransitLine    Domain = "TRANSIT_LINE"
	DomainTransitSegment Domain = "TRANSIT_SEGMENT"
)

// Domains lists every domain in a fixed order.
var Domains = []Domain{DomainNode, DomainLink, DomainTurn, DomainTransitLine, DomainTransitSegment}

// ParseDomain converts a domain name (case-insensitive) to a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToUpper(strings.TrimSpace(s)))
	if slices.Contains(Domains, d) {
		return d, nil
	}
	return "", errs.New(errs.KindConfiguration, "domain "+s, "network: unknown attribute domain %q", s)
}

// ExtraAttribute describes a named scalar field on every entity of a domain.
type ExtraAttribute struct {
	Name        string  `json:"name"`
	Domain      Domain  `json:"domain"`
	Description string  `json:"description,omitempty"`
	Default     float64 `json:"default"`
}

// Node is a network vertex in projected feet.
type Node struct {
	ID         int                `json:"id"`
	X          float64            `json:"x"`
	Y          float64            `json:"y"`
	IsCentroid bool               `json:"is_centroid,omitempty"`
	Data       map[string]float64 `json:"data,omitempty"`
}

// Point returns the node position.
func (n *Node) Point() spatial.Point {
	return spatial.Point{X: n.X, Y: n.Y}
}

// LinkKey identifies a directed link by its end nodes.
type LinkKey struct {
	I, J int
}

func (k LinkKey) String() string {
	return fmt.Sprintf("%d-%d", k.I, k.J)
}

// Link is a directed edge between two nodes. Length is in miles.
type Link struct {
	I        int                `json:"i"`
	J        int                `json:"j"`
	Length   float64            `json:"length"`
	Modes    []string           `json:"modes,omitempty"`
	Vertices []spatial.Point    `json:"vertices,omitempty"`
	Data     map[string]float64 `json:"data,omitempty"`
	Labels   map[string]string  `json:"labels,omitempty"`
}

// Key returns the link's end-node key.
func (l *Link) Key() LinkKey {
	return LinkKey{I: l.I, J: l.J}
}

// Label returns a string attribute such as "#link_id", or "".
func (l *Link) Label(name string) string {
	return l.Labels[name]
}

// HasMode reports whether mode is allowed on the link.
func (l *Link) HasMode(mode string) bool {
	return slices.Contains(l.Modes, mode)
}

// AddModes allows the given modes, keeping Modes sorted and unique.
func (l *Link) AddModes(modes ...string) {
	for _, m := range modes {
		if !l.HasMode(m) {
			l.Modes = append(l.Modes, m)
		}
	}
	slices.Sort(l.Modes)
}

// RemoveModes disallows the given modes.
func (l *Link) RemoveModes(modes ...string) {
	l.Modes = slices.DeleteFunc(l.Modes, func(m string) bool {
		return slices.Contains(modes, m)
	})
}

// TurnKey identifies a turn movement at a node.
type TurnKey struct {
	At, From, To int
}

// Turn is a movement from one link to another at a node.
type Turn struct {
	At   int                `json:"at"`
	From int                `json:"from"`
	To   int                `json:"to"`
	Data map[string]float64 `json:"data,omitempty"`
}

// Key returns the turn key.
func (t *Turn) Key() TurnKey {
	return TurnKey{At: t.At, From: t.From, To: t.To}
}

// Segment is one hop of a transit line itinerary.
type Segment struct {
	I    int                `json:"i"`
	J    int                `json:"j"`
	Data map[string]float64 `json:"data,omitempty"`
}

// TransitLine is a transit route with its itinerary. TimePeriod holds the
// "#time_period" label naming the period the line runs in.
type TransitLine struct {
	ID         string             `json:"id"`
	Vehicle    string             `json:"vehicle,omitempty"`
	TimePeriod string             `json:"time_period,omitempty"`
	Data       map[string]float64 `json:"data,omitempty"`
	Segments   []*Segment         `json:"segments,omitempty"`
}

// Network holds entities and the extra attribute definitions shared by them.
// A Network is not safe for concurrent mutation.
type Network struct {
	nodes map[int]*Node
	links map[LinkKey]*Link
	turns map[TurnKey]*Turn
	lines map[string]*TransitLine
	attrs map[string]*ExtraAttribute
}

// New creates an empty network.
func New() *Network {
	return &Network{
		nodes: make(map[int]*Node),
		links: make(map[LinkKey]*Link),
		turns: make(map[TurnKey]*Turn),
		lines: make(map[string]*TransitLine),
		attrs: make(map[string]*ExtraAttribute),
	}
}

// AddNode inserts a node. Existing attributes of the node domain default
// to their declared default when the node does not carry a value.
func (n *Network) AddNode(node *Node) error {
	if _, dup := n.nodes[node.ID]; dup {
		return errs.New(errs.KindConsistency, fmt.Sprintf("node %d", node.ID), "network: duplicate node")
	}
	node.Data = n.withDefaults(DomainNode, node.Data)
	n.nodes[node.ID] = node
	return nil
}

// Node returns the node with id, or nil.
func (n *Network) Node(id int) *Node {
	return n.nodes[id]
}

// Nodes returns all nodes ordered by id.
func (n *Network) Nodes() []*Node {
	out := slices.Collect(maps.Values(n.nodes))
	slices.SortFunc(out, func(a, b *Node) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// AddLink inserts a link; both end nodes must already exist.
func (n *Network) AddLink(link *Link) error {
	key := link.Key()
	if _, dup := n.links[key]; dup {
		return errs.New(errs.KindConsistency, "link "+key.String(), "network: duplicate link")
	}
	if n.nodes[link.I] == nil || n.nodes[link.J] == nil {
		return errs.New(errs.KindConsistency, "link "+key.String(), "network: link references unknown node")
	}
	link.Data = n.withDefaults(DomainLink, link.Data)
	if link.Labels == nil {
		link.Labels = make(map[string]string)
	}
	n.links[key] = link
	return nil
}

// Link returns the link from i to j, or nil.
func (n *Network) Link(i, j int) *Link {
	return n.links[LinkKey{I: i, J: j}]
}

// Links returns all links ordered by (I, J).
func (n *Network) Links() []*Link {
	out := slices.Collect(maps.Values(n.links))
	slices.SortFunc(out, func(a, b *Link) int {
		return cmp.Or(cmp.Compare(a.I, b.I), cmp.Compare(a.J, b.J))
	})
	return out
}

// AddTurn inserts a turn movement.
func (n *Network) AddTurn(turn *Turn) error {
	key := turn.Key()
	if _, dup := n.turns[key]; dup {
		return errs.New(errs.KindConsistency, fmt.Sprintf("turn %d/%d/%d", key.At, key.From, key.To), "network: duplicate turn")
	}
	turn.Data = n.withDefaults(DomainTurn, turn.Data)
	n.turns[key] = turn
	return nil
}

// Turns returns all turns ordered by (At, From, To).
func (n *Network) Turns() []*Turn {
	out := slices.Collect(maps.Values(n.turns))
	slices.SortFunc(out, func(a, b *Turn) int {
		return cmp.Or(cmp.Compare(a.At, b.At), cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
	})
	return out
}

// AddTransitLine inserts a line; every segment must follow an existing link.
func (n *Network) AddTransitLine(line *TransitLine) error {
	if _, dup := n.lines[line.ID]; dup {
		return errs.New(errs.KindConsistency, "line "+line.ID, "network: duplicate transit line")
	}
	for _, seg := range line.Segments {
		if n.Link(seg.I, seg.J) == nil {
			return errs.New(errs.KindConsistency, "line "+line.ID, "network: segment %d-%d has no link", seg.I, seg.J)
		}
		seg.Data = n.withDefaults(DomainTransitSegment, seg.Data)
	}
	line.Data = n.withDefaults(DomainTransitLine, line.Data)
	n.lines[line.ID] = line
	return nil
}

// TransitLine returns the line with id, or nil.
func (n *Network) TransitLine(id string) *TransitLine {
	return n.lines[id]
}

// TransitLines returns all lines ordered by id.
func (n *Network) TransitLines() []*TransitLine {
	out := slices.Collect(maps.Values(n.lines))
	slices.SortFunc(out, func(a, b *TransitLine) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// DeleteTransitLine removes a line and its segments.
func (n *Network) DeleteTransitLine(id string) error {
	if _, ok := n.lines[id]; !ok {
		return errs.New(errs.KindConsistency, "line "+id, "network: transit line not found")
	}
	delete(n.lines, id)
	return nil
}

// withDefaults returns data with every attribute of domain present.
func (n *Network) withDefaults(domain Domain, data map[string]float64) map[string]float64 {
	if data == nil {
		data = make(map[string]float64)
	}
	for name, a := range n.attrs {
		if a.Domain != domain {
			continue
		}
		if _, ok := data[name]; !ok {
			data[name] = a.Default
		}
	}
	return data
}

// Clone returns a deep copy of the network.
func (n *Network) Clone() *Network {
	c := New()
	c.attrs = cloneAttrs(n.attrs)
	for id, node := range n.nodes {
		cp := *node
		cp.Data = maps.Clone(node.Data)
		c.nodes[id] = &cp
	}
	for k, link := range n.links {
		cp := *link
		cp.Modes = slices.Clone(link.Modes)
		cp.Vertices = slices.Clone(link.Vertices)
		cp.Data = maps.Clone(link.Data)
		cp.Labels = maps.Clone(link.Labels)
		c.links[k] = &cp
	}
	for k, turn := range n.turns {
		cp := *turn
		cp.Data = maps.Clone(turn.Data)
		c.turns[k] = &cp
	}
	for id, line := range n.lines {
		cp := *line
		cp.Data = maps.Clone(line.Data)
		cp.Segments = make([]*Segment, len(line.Segments))
		for i, seg := range line.Segments {
			sc := *seg
			sc.Data = maps.Clone(seg.Data)
			cp.Segments[i] = &sc
		}
		c.lines[id] = &cp
	}
	return c
}
