package domain

import (
	"strconv"
	"strings"

	dErrors "rolegate/pkg/domain-errors"
)

// Platform identifiers are 64-bit snowflakes. Each kind gets its own type so a
// channel id can never be passed where a role id is expected.
type (
	GuildID   uint64
	ChannelID uint64
	MessageID uint64
	RoleID    uint64
	UserID    uint64
)

// maxSnowflakeLen is the decimal width of the largest uint64.
const maxSnowflakeLen = 20

func (id GuildID) String() string   { return strconv.FormatUint(uint64(id), 10) }
func (id ChannelID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id MessageID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id RoleID) String() string    { return strconv.FormatUint(uint64(id), 10) }
func (id UserID) String() string    { return strconv.FormatUint(uint64(id), 10) }

func (id GuildID) IsZero() bool   { return id == 0 }
func (id ChannelID) IsZero() bool { return id == 0 }
func (id MessageID) IsZero() bool { return id == 0 }
func (id RoleID) IsZero() bool    { return id == 0 }
func (id UserID) IsZero() bool    { return id == 0 }

func ParseGuildID(s string) (GuildID, error) {
	v, err := parseSnowflake("guild id", s)
	return GuildID(v), err
}

func ParseChannelID(s string) (ChannelID, error) {
	v, err := parseSnowflake("channel id", s)
	return ChannelID(v), err
}

func ParseMessageID(s string) (MessageID, error) {
	v, err := parseSnowflake("message id", s)
	return MessageID(v), err
}

func ParseRoleID(s string) (RoleID, error) {
	v, err := parseSnowflake("role id", s)
	return RoleID(v), err
}

func ParseUserID(s string) (UserID, error) {
	v, err := parseSnowflake("user id", s)
	return UserID(v), err
}

// parseSnowflake accepts only plain decimal digits. Signs, whitespace and
// zero are rejected: zero never names a real platform object.
func parseSnowflake(kind, s string) (uint64, error) {
	if s == "" || len(s) > maxSnowflakeLen {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if strings.TrimLeft(s, "0123456789") != "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return v, nil
}
