package network

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/netprep/internal/errs"
)

func TestScenario_NetworkIsDetached(t *testing.T) {
	sc := NewScenario(1, "all day", testNetwork(t))

	net := sc.Network()
	_, err := net.CreateExtraAttribute(DomainLink, "@ft", 1)
	require.NoError(t, err)
	_, ok := sc.ExtraAttribute("@ft")
	assert.False(t, ok, "edits to a fetched network stay local until published")

	sc.PublishNetwork(net)
	_, ok = sc.ExtraAttribute("@ft")
	assert.True(t, ok)

	net.Link(1, 2).Data["@ft"] = 9
	vals, err := sc.AttributeValues("@ft")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, vals)
}

func TestScenario_AttributeAPI(t *testing.T) {
	sc := NewScenario(1, "all day", testNetwork(t))

	_, err := sc.CreateExtraAttribute(DomainLink, "@ffs_AM", 0)
	require.NoError(t, err)
	require.NoError(t, sc.SetAttributeDescription("@ffs_AM", "am speed"))
	require.NoError(t, sc.SetAttributeValues("@ffs_AM", []float64{35, 45}))

	attr, ok := sc.ExtraAttribute("@ffs_AM")
	require.True(t, ok)
	assert.Equal(t, "am speed", attr.Description)

	vals, err := sc.AttributeValues("@ffs_AM")
	require.NoError(t, err)
	assert.Equal(t, []float64{35, 45}, vals)
	assert.Len(t, sc.ExtraAttributes(), 1)

	require.NoError(t, sc.DeleteExtraAttribute("@ffs_AM"))
	assert.Empty(t, sc.ExtraAttributes())

	st := sc.Stats()
	assert.Equal(t, Stats{Nodes: 3, Links: 2, Turns: 1, TransitLines: 1}, st)
}

func TestScenario_JSON(t *testing.T) {
	sc := NewScenario(12, "AM all day", testNetwork(t))
	data, err := json.Marshal(sc)
	require.NoError(t, err)

	var back Scenario
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 12, back.ID)
	assert.Equal(t, "AM all day", back.Title)
	assert.Equal(t, 3, back.Stats().Nodes)
}

func TestMemoryBank_CopyAndDelete(t *testing.T) {
	ctx := context.Background()
	ref := NewScenario(1, "all day", testNetwork(t))
	bank := NewMemoryBank("highway", ref)
	assert.Equal(t, "highway", bank.Name())

	got, err := bank.Scenario(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, got)

	cp, err := bank.CopyScenario(ctx, ref, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.ID)
	assert.Equal(t, ref.Title, cp.Title)

	// Copies are independent.
	_, err = cp.CreateExtraAttribute(DomainNode, "@x", 0)
	require.NoError(t, err)
	_, ok := ref.ExtraAttribute("@x")
	assert.False(t, ok)

	_, err = bank.CopyScenario(ctx, ref, 2)
	assert.True(t, errs.Is(err, errs.KindExternalStore))

	all, err := bank.Scenarios(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].ID)
	assert.Equal(t, 2, all[1].ID)

	require.NoError(t, bank.DeleteScenario(ctx, 2))
	err = bank.DeleteScenario(ctx, 2)
	assert.True(t, errs.Is(err, errs.KindExternalStore))

	require.NoError(t, bank.Add(NewScenario(5, "", nil)))
	assert.Error(t, bank.Add(NewScenario(5, "", nil)))
}

func TestMemoryBank_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bank := NewMemoryBank("highway")

	_, err := bank.Scenario(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = bank.CopyScenario(ctx, NewScenario(1, "", nil), 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBank_ConcurrentCopies(t *testing.T) {
	ctx := context.Background()
	ref := NewScenario(1, "all day", testNetwork(t))
	bank := NewMemoryBank("highway", ref)

	var wg sync.WaitGroup
	for id := 10; id < 20; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := bank.CopyScenario(ctx, ref, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	all, err := bank.Scenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 11)
}
