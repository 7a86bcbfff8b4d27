//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSVTable(t *testing.T) {
	path := writeTempCSV(t, "name,ra,dec,flux\n"+
		"SRC-1,10.5,-3.25,42\n"+
		"SRC-2,20,5,\n"+
		"SRC-3,bad,1e-3,text\n")

	tbl, err := readCSVTable(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "ra", "dec", "flux"}, tbl.Columns)
	require.Equal(t, 3, tbl.Len())

	// Cells narrow to int64, then float64, then string; empty stays nil.
	assert.Equal(t, "SRC-1", tbl.Rows[0]["name"])
	assert.Equal(t, 10.5, tbl.Rows[0]["ra"])
	assert.Equal(t, -3.25, tbl.Rows[0]["dec"])
	assert.Equal(t, int64(42), tbl.Rows[0]["flux"])

	assert.Equal(t, int64(20), tbl.Rows[1]["ra"])
	assert.Nil(t, tbl.Rows[1]["flux"])

	assert.Equal(t, "bad", tbl.Rows[2]["ra"])
	assert.Equal(t, 1e-3, tbl.Rows[2]["dec"])
	assert.Equal(t, "text", tbl.Rows[2]["flux"])
}

func TestReadCSVTable_MissingFile(t *testing.T) {
	_, err := readCSVTable(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestReadCSVTable_EmptyFile(t *testing.T) {
	path := writeTempCSV(t, "")
	_, err := readCSVTable(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadCSVHeader(t *testing.T) {
	path := writeTempCSV(t, "main_id,ra,dec,otype\nM31,10.68,41.27,G\n")

	cols, err := readCSVHeader(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"main_id", "ra", "dec", "otype"}, cols)
}

func TestCoerceCell(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", nil},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"3.5", 3.5},
		{"1e3", 1000.0},
		{"NGC 205", "NGC 205"},
		{"10:41:27", "10:41:27"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, coerceCell(tt.in), "cell %q", tt.in)
	}
}
