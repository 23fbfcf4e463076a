package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/netprep/internal/network"
	"github.com/sells-group/netprep/internal/store"
)

func TestImportCmd_Metadata(t *testing.T) {
	assert.Equal(t, "import", importCmd.Use)
	assert.NotEmpty(t, importCmd.Short)

	for _, name := range []string{"bank", "scenario", "title", "nodes", "links", "replace"} {
		require.NotNil(t, importCmd.Flags().Lookup(name), "missing --%s flag", name)
	}
}

func TestImportCmd_FlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		flags   map[string]string
		wantErr string
	}{
		{
			name:    "missing bank",
			flags:   map[string]string{"scenario": "1", "nodes": "n.shp", "links": "l.shp"},
			wantErr: "--bank is required",
		},
		{
			name:    "non-positive scenario",
			flags:   map[string]string{"bank": "highway", "nodes": "n.shp", "links": "l.shp"},
			wantErr: "--scenario must be a positive",
		},
		{
			name:    "missing links",
			flags:   map[string]string{"bank": "highway", "scenario": "1", "nodes": "n.shp"},
			wantErr: "--nodes and --links are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range []string{"bank", "scenario", "nodes", "links"} {
				f := importCmd.Flags().Lookup(name)
				require.NoError(t, f.Value.Set(f.DefValue))
			}
			for k, v := range tt.flags {
				require.NoError(t, importCmd.Flags().Set(k, v))
			}

			err := importCmd.RunE(importCmd, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func newCmdTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "netprep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func importTestScenario(t *testing.T, title string, links int) *network.Scenario {
	t.Helper()
	n := network.New()
	for id := 1; id <= links+1; id++ {
		require.NoError(t, n.AddNode(&network.Node{ID: id, X: float64(id) * 5280}))
	}
	for i := 1; i <= links; i++ {
		require.NoError(t, n.AddLink(&network.Link{I: i, J: i + 1, Length: 1, Modes: []string{"c"}}))
	}
	return network.NewScenario(1, title, n)
}

func TestImportScenario(t *testing.T) {
	ctx := context.Background()
	st := newCmdTestStore(t)

	require.NoError(t, importScenario(ctx, st, "highway", importTestScenario(t, "base", 1), false))

	got, err := st.LoadScenario(ctx, "highway", 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "base", got.Title)
	assert.Equal(t, 1, got.Stats().Links)
}

func TestImportScenario_ExistingSlot(t *testing.T) {
	ctx := context.Background()
	st := newCmdTestStore(t)
	require.NoError(t, importScenario(ctx, st, "highway", importTestScenario(t, "base", 1), false))

	err := importScenario(ctx, st, "highway", importTestScenario(t, "rebuilt", 2), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, importScenario(ctx, st, "highway", importTestScenario(t, "rebuilt", 2), true))
	got, err := st.LoadScenario(ctx, "highway", 1)
	require.NoError(t, err)
	assert.Equal(t, "rebuilt", got.Title)
	assert.Equal(t, 2, got.Stats().Links)
}
