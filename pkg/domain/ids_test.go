package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "rolegate/pkg/domain-errors"
)

// TestParseSnowflake_Invariants validates the parsing invariant:
// "IDs must be non-zero decimal snowflakes that fit in 64 bits"
func TestParseSnowflake_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseGuildID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects zero", func(t *testing.T) {
		_, err := ParseRoleID("0")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects overflow", func(t *testing.T) {
		_, err := ParseChannelID("18446744073709551616")
		require.Error(t, err)
	})

	t.Run("accepts max uint64", func(t *testing.T) {
		id, err := ParseMessageID("18446744073709551615")
		require.NoError(t, err)
		assert.Equal(t, MessageID(^uint64(0)), id)
	})

	t.Run("accepts real snowflake", func(t *testing.T) {
		id, err := ParseUserID("1005408303825829998")
		require.NoError(t, err)
		assert.Equal(t, UserID(1005408303825829998), id)
		assert.Equal(t, "1005408303825829998", id.String())
	})
}

func TestParseSnowflake_RejectsHostileInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"SQL injection attempt", "1; DROP TABLE grants;--"},
		{"Leading plus sign", "+123"},
		{"Negative", "-123"},
		{"Surrounding whitespace", " 123 "},
		{"Null byte", "123\x00"},
		{"Oversized input", strings.Repeat("9", 1000)},
		{"Hex", "0x1f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGuildID(tt.input)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}
