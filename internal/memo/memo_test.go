package memo

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type skimKey struct {
	Mode     string
	Period   string
	Property string
}

func TestCache_MissDoesNotCreate(t *testing.T) {
	c := New[skimKey, []float64]()

	v, ok := c.Get(skimKey{"auto", "AM", "time"})
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 0, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCache_PutGet(t *testing.T) {
	c := New[skimKey, int]()
	c.Put(skimKey{"transit", "MD", "ivt"}, 42)

	v, ok := c.Get(skimKey{"transit", "MD", "ivt"})
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = c.Get(skimKey{"transit", "PM", "ivt"})
	assert.False(t, ok)
}

func TestCache_GetOrCompute(t *testing.T) {
	c := New[int, string]()
	calls := 0
	compute := func() (string, error) {
		calls++
		return "zone", nil
	}

	v, err := c.GetOrCompute(1, compute)
	require.NoError(t, err)
	assert.Equal(t, "zone", v)

	v, err = c.GetOrCompute(1, compute)
	require.NoError(t, err)
	assert.Equal(t, "zone", v)
	assert.Equal(t, 1, calls)
}

func TestCache_GetOrComputeErrorNotStored(t *testing.T) {
	c := New[int, int]()
	_, err := c.GetOrCompute(1, func() (int, error) { return 0, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int]()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put(i%10, i)
			c.Get(i % 10)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}
