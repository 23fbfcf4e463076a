package network

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/netprep/internal/errs"
)

// Attribute names written or read by the preparation stages.
const (
	AttrZoneID        = "@maz_id"
	AttrFacilityType  = "@ft"
	AttrAreaType      = "@area_type"
	AttrCapclass      = "@capclass"
	AttrFreeFlowSpeed = "@free_flow_speed"
	AttrFreeFlowTime  = "@free_flow_time"
	AttrTransitTime   = "@trantime"
	AttrWalkLink      = "@walk_link"

	LabelLinkID        = "#link_id"
	LabelConnectorType = "#cntype"
)

// ExtraAttribute returns the definition for name.
func (n *Network) ExtraAttribute(name string) (ExtraAttribute, bool) {
	a, ok := n.attrs[name]
	if !ok {
		return ExtraAttribute{}, false
	}
	return *a, true
}

// ExtraAttributes returns every definition ordered by domain then name.
func (n *Network) ExtraAttributes() []ExtraAttribute {
	out := make([]ExtraAttribute, 0, len(n.attrs))
	for _, a := range n.attrs {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b ExtraAttribute) int {
		return cmp.Or(
			cmp.Compare(slices.Index(Domains, a.Domain), slices.Index(Domains, b.Domain)),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return out
}

// CreateExtraAttribute defines name on domain and sets def on every entity.
// An existing attribute on the same domain is returned unchanged; one on a
// different domain is a configuration error.
func (n *Network) CreateExtraAttribute(domain Domain, name string, def float64) (ExtraAttribute, error) {
	if !strings.HasPrefix(name, "@") || len(name) < 2 {
		return ExtraAttribute{}, errs.New(errs.KindConfiguration, "attribute "+name, "network: extra attribute names start with @")
	}
	if !slices.Contains(Domains, domain) {
		return ExtraAttribute{}, errs.New(errs.KindConfiguration, "attribute "+name, "network: unknown domain %q", domain)
	}
	if a, ok := n.attrs[name]; ok {
		if a.Domain != domain {
			return ExtraAttribute{}, errs.New(errs.KindConfiguration, "attribute "+name,
				"network: attribute exists on %s, requested %s", a.Domain, domain)
		}
		return *a, nil
	}
	n.attrs[name] = &ExtraAttribute{Name: name, Domain: domain, Default: def}
	for _, data := range n.dataMaps(domain) {
		data[name] = def
	}
	return *n.attrs[name], nil
}

// DeleteExtraAttribute removes the definition and every stored value.
func (n *Network) DeleteExtraAttribute(name string) error {
	a, ok := n.attrs[name]
	if !ok {
		return errs.New(errs.KindConsistency, "attribute "+name, "network: extra attribute not found")
	}
	for _, data := range n.dataMaps(a.Domain) {
		delete(data, name)
	}
	delete(n.attrs, name)
	return nil
}

// SetDescription replaces the attribute's description.
func (n *Network) SetDescription(name, description string) error {
	a, ok := n.attrs[name]
	if !ok {
		return errs.New(errs.KindConsistency, "attribute "+name, "network: extra attribute not found")
	}
	a.Description = description
	return nil
}

// AttributeValues returns name's values for every entity of its domain, in
// the domain's canonical entity order.
func (n *Network) AttributeValues(name string) ([]float64, error) {
	a, ok := n.attrs[name]
	if !ok {
		return nil, errs.New(errs.KindConsistency, "attribute "+name, "network: extra attribute not found")
	}
	rows := n.dataMaps(a.Domain)
	out := make([]float64, len(rows))
	for i, data := range rows {
		v, ok := data[name]
		if !ok {
			v = a.Default
		}
		out[i] = v
	}
	return out, nil
}

// SetAttributeValues writes values in the domain's canonical entity order.
func (n *Network) SetAttributeValues(name string, values []float64) error {
	a, ok := n.attrs[name]
	if !ok {
		return errs.New(errs.KindConsistency, "attribute "+name, "network: extra attribute not found")
	}
	rows := n.dataMaps(a.Domain)
	if len(values) != len(rows) {
		return errs.New(errs.KindConsistency, "attribute "+name,
			"network: %d values for %d %s entities", len(values), len(rows), a.Domain)
	}
	for i, data := range rows {
		data[name] = values[i]
	}
	return nil
}

// dataMaps returns the Data map of every entity in domain, in canonical order.
func (n *Network) dataMaps(domain Domain) []map[string]float64 {
	var out []map[string]float64
	switch domain {
	case DomainNode:
		for _, node := range n.Nodes() {
			out = append(out, node.Data)
		}
	case DomainLink:
		for _, link := range n.Links() {
			out = append(out, link.Data)
		}
	case DomainTurn:
		for _, turn := range n.Turns() {
			out = append(out, turn.Data)
		}
	case DomainTransitLine:
		for _, line := range n.TransitLines() {
			out = append(out, line.Data)
		}
	case DomainTransitSegment:
		for _, line := range n.TransitLines() {
			for _, seg := range line.Segments {
				out = append(out, seg.Data)
			}
		}
	}
	return out
}

// AttributeNames returns the names defined on domain, sorted.
func (n *Network) AttributeNames(domain Domain) []string {
	var out []string
	for name, a := range n.attrs {
		if a.Domain == domain {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// cloneAttrs copies definitions without touching entity data.
func cloneAttrs(src map[string]*ExtraAttribute) map[string]*ExtraAttribute {
	out := make(map[string]*ExtraAttribute, len(src))
	for name, a := range src {
		cp := *a
		out[name] = &cp
	}
	return out
}
