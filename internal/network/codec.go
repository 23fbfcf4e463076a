package network

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// snapshot is the JSON form of a Network. Entities are emitted in canonical
// order so identical networks encode to identical bytes.
type snapshot struct {
	Attributes []ExtraAttribute `json:"attributes"`
	Nodes      []*Node          `json:"nodes"`
	Links      []*Link          `json:"links"`
	Turns      []*Turn          `json:"turns,omitempty"`
	Lines      []*TransitLine   `json:"transit_lines,omitempty"`
}

// MarshalJSON encodes the network as a snapshot.
func (n *Network) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		Attributes: n.ExtraAttributes(),
		Nodes:      n.Nodes(),
		Links:      n.Links(),
		Turns:      n.Turns(),
		Lines:      n.TransitLines(),
	})
}

// UnmarshalJSON rebuilds a network from a snapshot, validating references.
func (n *Network) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return eris.Wrap(err, "network: decode snapshot")
	}
	out := New()
	for _, a := range snap.Attributes {
		if _, err := out.CreateExtraAttribute(a.Domain, a.Name, a.Default); err != nil {
			return err
		}
		if err := out.SetDescription(a.Name, a.Description); err != nil {
			return err
		}
	}
	for _, node := range snap.Nodes {
		if err := out.AddNode(node); err != nil {
			return err
		}
	}
	for _, link := range snap.Links {
		if err := out.AddLink(link); err != nil {
			return err
		}
	}
	for _, turn := range snap.Turns {
		if err := out.AddTurn(turn); err != nil {
			return err
		}
	}
	for _, line := range snap.Lines {
		if err := out.AddTransitLine(line); err != nil {
			return err
		}
	}
	*n = *out
	return nil
}
