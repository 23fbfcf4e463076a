package network

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/netprep/internal/errs"
)

// testNetwork builds three nodes, two links, one turn and one transit line.
func testNetwork(t *testing.T) *Network {
	t.Helper()
	n := New()
	require.NoError(t, n.AddNode(&Node{ID: 1, X: 0, Y: 0, IsCentroid: true}))
	require.NoError(t, n.AddNode(&Node{ID: 2, X: 5280, Y: 0}))
	require.NoError(t, n.AddNode(&Node{ID: 3, X: 5280, Y: 5280}))
	require.NoError(t, n.AddLink(&Link{I: 2, J: 3, Length: 1, Modes: []string{"c"}, Labels: map[string]string{LabelLinkID: "20"}}))
	require.NoError(t, n.AddLink(&Link{I: 1, J: 2, Length: 1, Modes: []string{"c", "w"}, Labels: map[string]string{LabelLinkID: "10"}}))
	require.NoError(t, n.AddTurn(&Turn{At: 2, From: 1, To: 3}))
	require.NoError(t, n.AddTransitLine(&TransitLine{
		ID: "BUS1", Vehicle: "bus", TimePeriod: "AM",
		Segments: []*Segment{{I: 1, J: 2}, {I: 2, J: 3}},
	}))
	return n
}

func TestNetwork_CanonicalOrder(t *testing.T) {
	n := testNetwork(t)

	links := n.Links()
	require.Len(t, links, 2)
	assert.Equal(t, LinkKey{I: 1, J: 2}, links[0].Key())
	assert.Equal(t, LinkKey{I: 2, J: 3}, links[1].Key())

	nodes := n.Nodes()
	assert.Equal(t, []int{1, 2, 3}, []int{nodes[0].ID, nodes[1].ID, nodes[2].ID})
}

func TestNetwork_AddRejectsDuplicatesAndDanglingLinks(t *testing.T) {
	n := testNetwork(t)

	err := n.AddNode(&Node{ID: 1})
	assert.True(t, errs.Is(err, errs.KindConsistency))

	err = n.AddLink(&Link{I: 1, J: 2})
	assert.True(t, errs.Is(err, errs.KindConsistency))

	err = n.AddLink(&Link{I: 1, J: 99})
	assert.True(t, errs.Is(err, errs.KindConsistency))
	assert.Equal(t, "link 1-99", errs.EntityOf(err))

	err = n.AddTransitLine(&TransitLine{ID: "X", Segments: []*Segment{{I: 3, J: 1}}})
	assert.True(t, errs.Is(err, errs.KindConsistency))
}

func TestNetwork_CreateExtraAttribute(t *testing.T) {
	n := testNetwork(t)

	attr, err := n.CreateExtraAttribute(DomainLink, "@area_type", -1)
	require.NoError(t, err)
	assert.Equal(t, DomainLink, attr.Domain)

	vals, err := n.AttributeValues("@area_type")
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1}, vals)

	// Same domain: reused.
	_, err = n.CreateExtraAttribute(DomainLink, "@area_type", 0)
	require.NoError(t, err)
	vals, _ = n.AttributeValues("@area_type")
	assert.Equal(t, []float64{-1, -1}, vals)

	// Different domain: rejected.
	_, err = n.CreateExtraAttribute(DomainNode, "@area_type", 0)
	assert.True(t, errs.Is(err, errs.KindConfiguration))

	_, err = n.CreateExtraAttribute(DomainLink, "area_type", 0)
	assert.True(t, errs.Is(err, errs.KindConfiguration))

	// Entities added later pick up the default.
	require.NoError(t, n.AddLink(&Link{I: 3, J: 1, Length: 1.4}))
	vals, _ = n.AttributeValues("@area_type")
	assert.Equal(t, []float64{-1, -1, -1}, vals)
}

func TestNetwork_SetAttributeValues(t *testing.T) {
	n := testNetwork(t)
	_, err := n.CreateExtraAttribute(DomainTransitSegment, "@headway", 0)
	require.NoError(t, err)

	require.NoError(t, n.SetAttributeValues("@headway", []float64{10, 20}))
	line := n.TransitLine("BUS1")
	assert.Equal(t, 10.0, line.Segments[0].Data["@headway"])
	assert.Equal(t, 20.0, line.Segments[1].Data["@headway"])

	err = n.SetAttributeValues("@headway", []float64{1})
	assert.True(t, errs.Is(err, errs.KindConsistency))

	err = n.SetAttributeValues("@missing", nil)
	assert.True(t, errs.Is(err, errs.KindConsistency))
}

func TestNetwork_DeleteExtraAttribute(t *testing.T) {
	n := testNetwork(t)
	_, err := n.CreateExtraAttribute(DomainNode, "@maz_id", 0)
	require.NoError(t, err)

	require.NoError(t, n.DeleteExtraAttribute("@maz_id"))
	_, ok := n.ExtraAttribute("@maz_id")
	assert.False(t, ok)
	for _, node := range n.Nodes() {
		assert.NotContains(t, node.Data, "@maz_id")
	}

	err = n.DeleteExtraAttribute("@maz_id")
	assert.True(t, errs.Is(err, errs.KindConsistency))
}

func TestNetwork_ExtraAttributesOrder(t *testing.T) {
	n := New()
	for _, a := range []struct {
		domain Domain
		name   string
	}{
		{DomainTransitLine, "@hdw"},
		{DomainLink, "@b"},
		{DomainNode, "@z"},
		{DomainLink, "@a"},
	} {
		_, err := n.CreateExtraAttribute(a.domain, a.name, 0)
		require.NoError(t, err)
	}

	var names []string
	for _, a := range n.ExtraAttributes() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"@z", "@a", "@b", "@hdw"}, names)
	assert.Equal(t, []string{"@a", "@b"}, n.AttributeNames(DomainLink))
}

func TestNetwork_CloneIsDeep(t *testing.T) {
	n := testNetwork(t)
	_, err := n.CreateExtraAttribute(DomainLink, "@ft", 3)
	require.NoError(t, err)

	c := n.Clone()
	c.Link(1, 2).Data["@ft"] = 7
	c.Link(1, 2).Labels[LabelLinkID] = "changed"
	c.Link(1, 2).AddModes("b")
	c.TransitLine("BUS1").Segments[0].I = 99
	require.NoError(t, c.DeleteTransitLine("BUS1"))

	assert.Equal(t, 3.0, n.Link(1, 2).Data["@ft"])
	assert.Equal(t, "10", n.Link(1, 2).Label(LabelLinkID))
	assert.False(t, n.Link(1, 2).HasMode("b"))
	require.NotNil(t, n.TransitLine("BUS1"))
	assert.Equal(t, 1, n.TransitLine("BUS1").Segments[0].I)
}

func TestLink_Modes(t *testing.T) {
	l := &Link{Modes: []string{"w"}}
	l.AddModes("c", "w", "b")
	assert.Equal(t, []string{"b", "c", "w"}, l.Modes)
	l.RemoveModes("w", "x")
	assert.Equal(t, []string{"b", "c"}, l.Modes)
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain(" link ")
	require.NoError(t, err)
	assert.Equal(t, DomainLink, d)

	_, err = ParseDomain("ZONE")
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestNetwork_JSONSnapshot(t *testing.T) {
	n := testNetwork(t)
	_, err := n.CreateExtraAttribute(DomainLink, "@ft", 0)
	require.NoError(t, err)
	require.NoError(t, n.SetDescription("@ft", "facility type"))
	require.NoError(t, n.SetAttributeValues("@ft", []float64{1, 3}))

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var back Network
	require.NoError(t, json.Unmarshal(data, &back))

	attr, ok := back.ExtraAttribute("@ft")
	require.True(t, ok)
	assert.Equal(t, "facility type", attr.Description)
	vals, err := back.AttributeValues("@ft")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3}, vals)
	assert.Equal(t, "AM", back.TransitLine("BUS1").TimePeriod)

	again, err := json.Marshal(&back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestNetwork_UnmarshalRejectsDanglingLink(t *testing.T) {
	raw := `{"attributes":[],"nodes":[{"id":1,"x":0,"y":0}],"links":[{"i":1,"j":2,"length":1}]}`
	var n Network
	err := json.Unmarshal([]byte(raw), &n)
	assert.True(t, errs.Is(err, errs.KindConsistency))
}
