package fetcher

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "pos.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"POs": {
			{"Vendor Name", "Approved PO List"},
			{" Acme Ltd ", "PO-1"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Vendor Name", "Approved PO List"}, {"Acme Ltd", "PO-1"}}, rows)

	rows, err = ReadXLSX(path, XLSXOptions{SheetName: "POs"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReadXLSX_SheetErrors(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	require.Error(t, err)
}

func TestReadXLSXBytes(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"Vendor Name"}, {"Acme"}}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	rows, err := ReadXLSXBytes(data, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Vendor Name"}, {"Acme"}}, rows)

	_, err = ReadXLSXBytes(bytes.Repeat([]byte("x"), 16), XLSXOptions{})
	require.Error(t, err)
}
