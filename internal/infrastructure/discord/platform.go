// Package discord adapts the Discord API to the guild platform and direct
// messaging ports.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

// Discord JSON error codes the adapter distinguishes.
const (
	codeUnknownMember      = 10007
	codeUnknownUser        = 10013
	codeMissingAccess      = 50001
	codeCannotSendMessages = 50007
	codeMissingPermissions = 50013
)

// session is the subset of *discordgo.Session used by Platform.
type session interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Platform implements ports.GuildPlatform and ports.DirectMessenger for one
// guild and one subscriber role.
type Platform struct {
	s       session
	guildID string
	roleID  string
	log     zerolog.Logger
}

var (
	_ ports.GuildPlatform   = (*Platform)(nil)
	_ ports.DirectMessenger = (*Platform)(nil)
)

func NewPlatform(s *discordgo.Session, guildID, roleID string, log zerolog.Logger) *Platform {
	return newPlatform(s, guildID, roleID, log)
}

func newPlatform(s session, guildID, roleID string, log zerolog.Logger) *Platform {
	return &Platform{
		s:       s,
		guildID: guildID,
		roleID:  roleID,
		log:     log.With().Str("component", "discord").Logger(),
	}
}

// HasRole reports whether memberID currently holds the subscriber role.
func (p *Platform) HasRole(ctx context.Context, memberID string) (bool, error) {
	m, err := p.s.GuildMember(p.guildID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("get member %s: %w", memberID, mapRoleError(err))
	}
	return slices.Contains(m.Roles, p.roleID), nil
}

func (p *Platform) AddRole(ctx context.Context, memberID, reason string) error {
	err := p.s.GuildMemberRoleAdd(p.guildID, memberID, p.roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("add role to %s: %w", memberID, mapRoleError(err))
	}
	p.log.Info().Str("user_id", memberID).Str("reason", reason).Msg("subscriber role added")
	return nil
}

func (p *Platform) RemoveRole(ctx context.Context, memberID, reason string) error {
	err := p.s.GuildMemberRoleRemove(p.guildID, memberID, p.roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("remove role from %s: %w", memberID, mapRoleError(err))
	}
	p.log.Info().Str("user_id", memberID).Str("reason", reason).Msg("subscriber role removed")
	return nil
}

// SendDirect opens (or reuses) the DM channel with userID and posts msg as an
// embed, with a link button when msg carries an action.
func (p *Platform) SendDirect(ctx context.Context, userID string, msg ports.Message) error {
	ch, err := p.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open DM with %s: %w", userID, mapDMError(err))
	}
	if _, err := p.s.ChannelMessageSendComplex(ch.ID, toMessageSend(msg), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send DM to %s: %w", userID, mapDMError(err))
	}
	return nil
}

func toMessageSend(msg ports.Message) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if msg.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: msg.Footer}
	}

	send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if msg.ActionURL != "" {
		send.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: msg.ActionLabel, Style: discordgo.LinkButton, URL: msg.ActionURL},
			}},
		}
	}
	return send
}

// restCode extracts the Discord JSON error code and HTTP status from err.
func restCode(err error) (code, status int, ok bool) {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return 0, 0, false
	}
	if rest.Message != nil {
		code = rest.Message.Code
	}
	if rest.Response != nil {
		status = rest.Response.StatusCode
	}
	return code, status, true
}

func mapRoleError(err error) error {
	code, status, ok := restCode(err)
	if !ok {
		return fmt.Errorf("%w: %w", domain.ErrMutationFailure, err)
	}
	switch {
	case code == codeUnknownMember, code == codeUnknownUser:
		return fmt.Errorf("%w: %w", domain.ErrMemberNotFound, err)
	case code == codeMissingPermissions, code == codeMissingAccess, status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrMemberNotFound, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrMutationFailure, err)
	}
}

func mapDMError(err error) error {
	code, status, ok := restCode(err)
	if !ok {
		return err
	}
	switch {
	case code == codeUnknownUser, code == codeUnknownMember, status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrRecipientUnreachable, err)
	case code == codeCannotSendMessages, status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrDeliveryBlocked, err)
	default:
		return err
	}
}
