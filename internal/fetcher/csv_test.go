package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := "\xEF\xBB\xBFVendor Name, Approved PO List\n Acme Ltd ,PO-1\n\"Smith, Jones & Co\",PO-2\n"
	rows, err := ReadCSV(strings.NewReader(in), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Vendor Name", "Approved PO List"},
		{"Acme Ltd", "PO-1"},
		{"Smith, Jones & Co", "PO-2"},
	}, rows)
}

func TestReadCSV_Options(t *testing.T) {
	in := "# exported 2024-03-01\nvendor;po\nAcme;PO-1;extra\n"
	rows, err := ReadCSV(strings.NewReader(in), CSVOptions{Delimiter: ';', Comment: '#'})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Acme", "PO-1", "extra"}, rows[1])
}

func TestReadCSV_Malformed(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,\"b\nc"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: parse")
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/pos.csv"))
	assert.True(t, IsRemote("HTTP://example.com/pos.csv"))
	assert.True(t, IsRemote("ftp://files.example.com/pos.xlsx"))
	assert.False(t, IsRemote("data/reference/approved_pos.csv"))
}
