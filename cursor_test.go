package stepflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCursor_RoundTrip(t *testing.T) {
	original := ListCursor{
		UpdatedAt: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		ID:        "0d9a2e5c-8a1f-4f51-9a54-91a0c2a3ce00",
	}

	decoded, err := DecodeListCursor(original.Encode())
	require.NoError(t, err)
	assert.True(t, original.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, original.ID, decoded.ID)
}

func TestDecodeListCursor_Malformed(t *testing.T) {
	cases := []string{
		"not base64!!!",
		"bm90IGpzb24",        // valid base64, not json
		"e30",                // "{}" - missing fields
		"eyJpZCI6ICJhYmMifQ", // {"id": "abc"} - zero timestamp
	}

	for _, input := range cases {
		_, err := DecodeListCursor(input)
		require.Error(t, err, "input %q should be rejected", input)
		assert.Equal(t, ErrCodeBadRequest, CodeOf(err))
	}
}
