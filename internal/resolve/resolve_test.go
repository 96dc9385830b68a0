package resolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgstream/internal/stream"
)

func TestIDRoundTrip(t *testing.T) {
	id := EncodeID(-1001234567890, 42, "a1b2c3")

	chatID, msgID, hash, err := DecodeID(id)
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), chatID)
	assert.Equal(t, 42, msgID)
	assert.Equal(t, "a1b2c3", hash)
}

func TestDecodeIDRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name string
		id   string
	}{
		{"not base64", "not!!base64"},
		{"missing fields", EncodeID(1, 2, "") + ""},
		{"empty", ""},
		{"plain text", "aGVsbG8"},
		{"zero msg id", EncodeID(1, 0, "a1b2c3")},
		{"short hash", EncodeID(1, 2, "abc")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := DecodeID(tc.id)
			assert.True(t, errors.Is(err, stream.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestBareChannelID(t *testing.T) {
	assert.Equal(t, int64(1234567890), bareChannelID(-1001234567890))
	assert.Equal(t, int64(987), bareChannelID(987))
	assert.Equal(t, int64(55), bareChannelID(-55))
}
