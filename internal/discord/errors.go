package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"rolegate/pkg/platform/sentinel"
)

// JSON error codes returned by the Discord REST API.
const (
	codeUnknownChannel     = 10003
	codeUnknownGuild       = 10004
	codeUnknownMessage     = 10008
	codeUnknownRole        = 10011
	codeUnknownMember      = 10007
	codeMissingAccess      = 50001
	codeMissingPermissions = 50013
)

// classify wraps err with the sentinel matching the Discord failure so the
// grant subsystem can branch on errors.Is without importing discordgo.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	}

	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}

	if rest.Message != nil {
		switch rest.Message.Code {
		case codeUnknownChannel, codeUnknownGuild, codeUnknownMessage, codeUnknownRole, codeUnknownMember:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrNotFound, rest.Message.Message)
		case codeMissingAccess, codeMissingPermissions:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrForbidden, rest.Message.Message)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, sentinel.ErrForbidden)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", op, sentinel.ErrRateLimited)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

// classifyGuild treats missing access to a guild as the bot no longer
// being a member of it.
func classifyGuild(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == codeMissingAccess {
		return fmt.Errorf("%s: %w: %s", op, sentinel.ErrNotFound, rest.Message.Message)
	}
	return classify(op, err)
}
