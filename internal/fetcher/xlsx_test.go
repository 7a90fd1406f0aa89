package fetcher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func buildXLSX(t *testing.T, sheets map[string][][]string) *bytes.Reader {
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
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return bytes.NewReader(buf.Bytes())
}

func TestReadXLSX_SkipRows(t *testing.T) {
	r := buildXLSX(t, map[string][][]string{
		"Sheet1": {{"Header1", "Header2"}, {"a", "b"}, {"c", "d"}},
	})

	rows, err := ReadXLSX(r, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b"}, rows[0])
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	r := buildXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})
	_, err := ReadXLSX(r, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	r := buildXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})
	_, err := ReadXLSX(r, XLSXOptions{SheetIndex: 5})
	require.Error(t, err)
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	_, err := ReadXLSX(bytes.NewReader([]byte("plain text")), XLSXOptions{})
	require.Error(t, err)
}

func TestReadXLSXRecords(t *testing.T) {
	r := buildXLSX(t, map[string][][]string{
		"Leads": {
			{"Name", "Email", "Industry"},
			{"Jane Doe", "jane@acme.ug", "Real Estate"},
		},
	})

	recs, err := ReadXLSXRecords(r)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "jane@acme.ug", recs[0]["Email"])
	assert.Equal(t, "Real Estate", recs[0]["Industry"])
}
