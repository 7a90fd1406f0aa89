package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"id":1,"name":"alpha"},{"id":2,"name":"beta"}]`

	ch, errCh := DecodeJSONArray[testRecord](context.Background(), strings.NewReader(input))

	var records []testRecord
	for rec := range ch {
		records = append(records, rec)
	}
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].ID)
	assert.Equal(t, "beta", records[1].Name)
}

func TestDecodeJSONArray_InvalidFormat(t *testing.T) {
	ch, errCh := DecodeJSONArray[testRecord](context.Background(), strings.NewReader(`{"id":1}`))
	for range ch { //nolint:revive // drain
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "expected '['")
}

func TestReadJSONRecords(t *testing.T) {
	input := `[{"name":"Jane","email":"jane@acme.ug","employees":25,"phone":null}]`
	recs, err := ReadJSONRecords(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Jane", recs[0]["name"])
	assert.Equal(t, "25", recs[0]["employees"])
	assert.Equal(t, "", recs[0]["phone"])
}

func TestReadJSONRecords_Empty(t *testing.T) {
	recs, err := ReadJSONRecords(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadYAMLRecords(t *testing.T) {
	input := `
- name: Jane Doe
  email: jane@acme.ug
  company: Acme
- name: John Roe
  phone: "+256700000000"
`
	recs, err := ReadYAMLRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Acme", recs[0]["company"])
	assert.Equal(t, "+256700000000", recs[1]["phone"])
}

func TestReadYAMLRecords_Invalid(t *testing.T) {
	_, err := ReadYAMLRecords(strings.NewReader("name: [unclosed"))
	require.Error(t, err)
}
