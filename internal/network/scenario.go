package network

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/netprep/internal/errs"
)

// Scenario is a titled network snapshot held in a Bank slot.
type Scenario struct {
	ID    int
	Title string

	mu  sync.RWMutex
	net *Network
}

// NewScenario wraps net in a scenario. A nil net starts empty.
func NewScenario(id int, title string, net *Network) *Scenario {
	if net == nil {
		net = New()
	}
	return &Scenario{ID: id, Title: title, net: net}
}

// Network returns a detached copy of the scenario's network.
func (s *Scenario) Network() *Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.net.Clone()
}

// PublishNetwork replaces the scenario's network with a copy of net.
func (s *Scenario) PublishNetwork(net *Network) {
	cp := net.Clone()
	s.mu.Lock()
	s.net = cp
	s.mu.Unlock()
}

// ExtraAttributes returns the scenario's attribute definitions.
func (s *Scenario) ExtraAttributes() []ExtraAttribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.net.ExtraAttributes()
}

// ExtraAttribute returns one definition by name.
func (s *Scenario) ExtraAttribute(name string) (ExtraAttribute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.net.ExtraAttribute(name)
}

// CreateExtraAttribute defines an attribute; see Network.CreateExtraAttribute.
func (s *Scenario) CreateExtraAttribute(domain Domain, name string, def float64) (ExtraAttribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.CreateExtraAttribute(domain, name, def)
}

// DeleteExtraAttribute removes an attribute and its values.
func (s *Scenario) DeleteExtraAttribute(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.DeleteExtraAttribute(name)
}

// SetAttributeDescription replaces an attribute's description.
func (s *Scenario) SetAttributeDescription(name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.SetDescription(name, description)
}

// AttributeValues returns an attribute's values in canonical entity order.
func (s *Scenario) AttributeValues(name string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.net.AttributeValues(name)
}

// SetAttributeValues writes an attribute's values in canonical entity order.
func (s *Scenario) SetAttributeValues(name string, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.SetAttributeValues(name, values)
}

// Stats summarizes entity counts.
type Stats struct {
	Nodes        int `json:"nodes"`
	Links        int `json:"links"`
	Turns        int `json:"turns"`
	TransitLines int `json:"transit_lines"`
	Attributes   int `json:"attributes"`
}

// Stats returns entity counts for the scenario's network.
func (s *Scenario) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Nodes:        len(s.net.nodes),
		Links:        len(s.net.links),
		Turns:        len(s.net.turns),
		TransitLines: len(s.net.lines),
		Attributes:   len(s.net.attrs),
	}
}

type scenarioJSON struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Network *Network `json:"network"`
}

// MarshalJSON encodes the scenario with its network snapshot.
func (s *Scenario) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(scenarioJSON{ID: s.ID, Title: s.Title, Network: s.net})
}

// UnmarshalJSON decodes a scenario snapshot.
func (s *Scenario) UnmarshalJSON(data []byte) error {
	var raw scenarioJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "network: decode scenario")
	}
	if raw.Network == nil {
		raw.Network = New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ID, s.Title, s.net = raw.ID, raw.Title, raw.Network
	return nil
}

// Bank holds scenarios by id. Scenario returns nil without error when the
// slot is empty.
type Bank interface {
	Name() string
	Scenario(ctx context.Context, id int) (*Scenario, error)
	Scenarios(ctx context.Context) ([]*Scenario, error)
	CopyScenario(ctx context.Context, src *Scenario, dstID int) (*Scenario, error)
	DeleteScenario(ctx context.Context, id int) error
}

// MemoryBank is an in-process Bank. Slot mutations are serialized.
type MemoryBank struct {
	name string

	mu    sync.Mutex
	slots map[int]*Scenario
}

// NewMemoryBank creates a bank holding the given scenarios.
func NewMemoryBank(name string, scenarios ...*Scenario) *MemoryBank {
	b := &MemoryBank{name: name, slots: make(map[int]*Scenario, len(scenarios))}
	for _, sc := range scenarios {
		b.slots[sc.ID] = sc
	}
	return b
}

// Name returns the bank name.
func (b *MemoryBank) Name() string { return b.name }

// Add stores sc in its slot; the slot must be empty.
func (b *MemoryBank) Add(sc *Scenario) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.slots[sc.ID]; ok {
		return errs.New(errs.KindExternalStore, fmt.Sprintf("scenario %d", sc.ID), "network: scenario slot in use")
	}
	b.slots[sc.ID] = sc
	return nil
}

// Scenario returns the scenario in slot id, or nil.
func (b *MemoryBank) Scenario(ctx context.Context, id int) (*Scenario, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[id], nil
}

// Scenarios returns every scenario ordered by id.
func (b *MemoryBank) Scenarios(ctx context.Context) ([]*Scenario, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Scenario, 0, len(b.slots))
	for _, sc := range b.slots {
		out = append(out, sc)
	}
	slices.SortFunc(out, func(x, y *Scenario) int { return cmp.Compare(x.ID, y.ID) })
	return out, nil
}

// CopyScenario deep-copies src into the empty slot dstID.
func (b *MemoryBank) CopyScenario(ctx context.Context, src *Scenario, dstID int) (*Scenario, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := NewScenario(dstID, src.Title, src.Network())
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.slots[dstID]; ok {
		return nil, errs.New(errs.KindExternalStore, fmt.Sprintf("scenario %d", dstID), "network: scenario slot in use")
	}
	b.slots[dstID] = cp
	return cp, nil
}

// DeleteScenario empties slot id.
func (b *MemoryBank) DeleteScenario(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.slots[id]; !ok {
		return errs.New(errs.KindExternalStore, fmt.Sprintf("scenario %d", id), "network: scenario not found")
	}
	delete(b.slots, id)
	return nil
}
