package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
)

func TestNewGrantEntry(t *testing.T) {
	t.Run("valid entry starts without message", func(t *testing.T) {
		e, err := NewGrantEntry(1, 10, 55)
		require.NoError(t, err)
		assert.Nil(t, e.MessageID)
		assert.False(t, e.HasMessage())
		assert.Equal(t, id.MessageID(0), e.Message())
	})

	cases := []struct {
		name    string
		guild   id.GuildID
		channel id.ChannelID
		role    id.RoleID
	}{
		{"zero guild", 0, 10, 55},
		{"zero channel", 1, 0, 55},
		{"zero role", 1, 10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGrantEntry(tc.guild, tc.channel, tc.role)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}

func TestGrantEntryMessage(t *testing.T) {
	e := GrantEntry{GuildID: 1, ChannelID: 10, RoleID: 55}
	withMsg := e.WithMessage(100)

	assert.Nil(t, e.MessageID, "original untouched")
	assert.True(t, withMsg.HasMessage())
	assert.Equal(t, id.MessageID(100), withMsg.Message())

	clone := withMsg.Clone()
	*clone.MessageID = 101
	assert.Equal(t, id.MessageID(100), withMsg.Message(), "clone does not alias")

	assert.True(t, withMsg.Equal(withMsg.Clone()))
	assert.False(t, withMsg.Equal(e))
	assert.True(t, e.Equal(GrantEntry{GuildID: 1, ChannelID: 10, RoleID: 55}))
}

func TestGrantEntryJSONShape(t *testing.T) {
	t.Run("nil message id encodes as null", func(t *testing.T) {
		raw, err := json.Marshal(GrantEntry{GuildID: 1, ChannelID: 10, RoleID: 55})
		require.NoError(t, err)
		assert.JSONEq(t, `{"guildId":1,"channelId":10,"messageId":null,"roleId":55}`, string(raw))
	})

	t.Run("large snowflakes keep full precision", func(t *testing.T) {
		in := GrantEntry{GuildID: 1005408303825829998, ChannelID: 18446744073709551615, RoleID: 55}.WithMessage(1234567890123456789)
		raw, err := json.Marshal(in)
		require.NoError(t, err)

		var out GrantEntry
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.True(t, in.Equal(out))
	})
}

func TestActivationHasRole(t *testing.T) {
	a := Activation{MemberRoles: []id.RoleID{3, 55}}
	assert.True(t, a.HasRole(55))
	assert.False(t, a.HasRole(56))
}
