package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSSE(t *testing.T) {
	t.Run("encodes named event with JSON data", func(t *testing.T) {
		var buf strings.Builder
		err := WriteSSE(&buf, Event{
			Type:    "screening.update",
			Payload: map[string]any{"status": "partial"},
		})
		require.NoError(t, err)
		assert.Equal(t, "event: screening.update\ndata: {\"status\":\"partial\"}\n\n", buf.String())
	})

	t.Run("rejects unserializable payload", func(t *testing.T) {
		var buf strings.Builder
		err := WriteSSE(&buf, Event{Type: "bad", Payload: func() {}})
		require.Error(t, err)
		assert.Empty(t, buf.String())
	})
}

func TestWriteSSEComment(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteSSEComment(&buf, "connected"))
	assert.Equal(t, ": connected\n\n", buf.String())
}
