//go:build !integration

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela-astro/xmatch-cli/internal/config"
	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/reduce"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

func newAuditStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "xmatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func stubConfig() {
	cfg = &config.Config{
		Store: config.StoreConfig{Path: "test.db"},
	}
}

func TestAuditStore(t *testing.T) {
	stubConfig()
	st := newAuditStore(t)
	ctx := context.Background()

	cat := model.NewTable(model.ColCatalogObject, "ra", "dec")
	cat.Append(model.Row{model.ColCatalogObject: "SRC-1", "ra": 10.0, "dec": 0.0})
	cat.Append(model.Row{model.ColCatalogObject: "SRC-2", "ra": 20.0, "dec": -5.0})
	require.NoError(t, st.AppendRows(ctx, store.CatalogTable, cat))
	require.NoError(t, st.MetaAdd(ctx, store.ProcessCatalogIncluded, store.MetaAllTables))

	reduced := model.NewTable(model.ColCatalogObject, model.ColSeparation, "SIMBAD_PSF_SCORE")
	reduced.Append(model.Row{
		model.ColCatalogObject: "SRC-1",
		model.ColSeparation:    60.0,
		"SIMBAD_PSF_SCORE":     0.5,
	})
	require.NoError(t, st.AppendRows(ctx, "SIMBAD_MATCH", reduced))
	require.NoError(t, st.MetaAdd(ctx, reduce.ProcessSeparation, "SIMBAD_MATCH"))

	raw := model.NewTable(model.ColCatalogObject, "recno")
	raw.Append(model.Row{model.ColCatalogObject: "SRC-1", "recno": int64(7)})
	raw.Append(model.Row{model.ColCatalogObject: "SRC-2", "recno": int64(9)})
	require.NoError(t, st.AppendRows(ctx, "VIZIER_MATCH", raw))

	status, err := auditStore(ctx, st)
	require.NoError(t, err)

	require.NotNil(t, status.Catalog)
	assert.Equal(t, int64(2), status.Catalog.Rows)
	assert.Contains(t, status.Catalog.Processes, store.ProcessCatalogIncluded)

	// Match tables list alphabetically.
	require.Len(t, status.Matches, 2)
	simbad, vizier := status.Matches[0], status.Matches[1]

	assert.Equal(t, "SIMBAD_MATCH", simbad.Name)
	assert.Equal(t, int64(1), simbad.Rows)
	assert.True(t, simbad.Separation)
	assert.True(t, simbad.Score)
	assert.Contains(t, simbad.Processes, reduce.ProcessSeparation)

	assert.Equal(t, "VIZIER_MATCH", vizier.Name)
	assert.Equal(t, int64(2), vizier.Rows)
	assert.False(t, vizier.Separation)
	assert.False(t, vizier.Score)
	assert.Empty(t, vizier.Processes)
}

func TestAuditStore_EmptyStore(t *testing.T) {
	stubConfig()
	st := newAuditStore(t)

	status, err := auditStore(context.Background(), st)
	require.NoError(t, err)
	assert.Nil(t, status.Catalog)
	assert.Empty(t, status.Matches)
}

func TestFormatStatus(t *testing.T) {
	s := &storeStatus{
		Path:    "test.db",
		Catalog: &tableStatus{Name: store.CatalogTable, Rows: 120},
		Matches: []tableStatus{
			{Name: "SIMBAD_MATCH", Rows: 340, Separation: true, Score: true,
				Processes: []string{"ADD_SEPARATION", "SIMBAD_PSF_SCORE"}},
			{Name: "NED_MATCH", Rows: 88},
		},
	}

	var buf bytes.Buffer
	formatStatus(&buf, s)

	output := buf.String()
	assert.Contains(t, output, "Store: test.db")
	assert.Contains(t, output, "Catalog: 120 sources")
	assert.Contains(t, output, "TABLE")
	assert.Contains(t, output, "SIMBAD_MATCH")
	assert.Contains(t, output, "ADD_SEPARATION,SIMBAD_PSF_SCORE")
	assert.Contains(t, output, "NED_MATCH")
	assert.Contains(t, output, "yes")
	assert.Contains(t, output, "no")
}

func TestFormatStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatStatus(&buf, &storeStatus{Path: "test.db"})

	output := buf.String()
	assert.Contains(t, output, "No catalog ingested.")
	assert.Contains(t, output, "No match tables.")
}

func TestFormatStatus_WithAtlas(t *testing.T) {
	s := &storeStatus{
		Path: "test.db",
		Atlas: &atlasInfo{
			Path:     "atlas.db",
			Database: "SIMBAD",
			Nside:    64,
			Samples:  5000,
			Maps:     []string{"Galaxy_LOCAL_UNIFORM"},
		},
	}

	var buf bytes.Buffer
	formatStatus(&buf, s)

	output := buf.String()
	assert.Contains(t, output, "Atlas: atlas.db")
	assert.Contains(t, output, "database=SIMBAD")
	assert.Contains(t, output, "maps=1")
}
