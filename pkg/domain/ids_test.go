package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vigil/pkg/domain-errors"
)

func TestParseQueryID(t *testing.T) {
	t.Run("round trips through its string form", func(t *testing.T) {
		original := NewQueryID()
		parsed, err := ParseQueryID(original.String())
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("rejects empty, malformed and nil ids", func(t *testing.T) {
		for _, input := range []string{"", "not-a-uuid", "00000000-0000-0000-0000-000000000000"} {
			_, err := ParseQueryID(input)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "input %q", input)
		}
	})
}

// IDs embedded in JSON documents must appear as UUID strings, not as the
// underlying byte array.
func TestIDJSONEncoding(t *testing.T) {
	type doc struct {
		Query   QueryID   `json:"query_id"`
		Dataset DatasetID `json:"dataset_id"`
	}
	original := doc{Query: NewQueryID(), Dataset: NewDatasetID()}

	raw, err := json.Marshal(original)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"query_id":"`+original.Query.String()+`","dataset_id":"`+original.Dataset.String()+`"}`,
		string(raw),
	)

	var decoded doc
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, original, decoded)

	var invalid doc
	err = json.Unmarshal([]byte(`{"query_id":"nope"}`), &invalid)
	require.Error(t, err)
}
