package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/ports"
)

const (
	handlerTimeout = 30 * time.Second

	optOutReply = `You've opted out of grace period reminders. You can opt back in anytime by replying with "START".`
	optInReply  = `You've opted back in to grace period reminders. You'll receive daily reminders during your grace period.`
)

// Intents the gateway needs: member joins and direct messages.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// NewSession creates a bot session with the intents the service relies on.
// The session is not opened.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Gateway routes gateway events into the reconciler.
type Gateway struct {
	guildID    string
	reconciler ports.Reconciler
	log        zerolog.Logger
}

func NewGateway(guildID string, reconciler ports.Reconciler, log zerolog.Logger) *Gateway {
	return &Gateway{
		guildID:    guildID,
		reconciler: reconciler,
		log:        log.With().Str("component", "gateway").Logger(),
	}
}

// Register attaches the gateway handlers to s. Call before s.Open.
func (g *Gateway) Register(s *discordgo.Session) {
	s.AddHandler(g.onReady)
	s.AddHandler(g.onGuildMemberAdd)
	s.AddHandler(g.onMessageCreate)
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.log.Info().Str("user", r.User.Username).Msg("bot logged in")
	if err := s.UpdateWatchStatus(0, "subscriptions"); err != nil {
		g.log.Warn().Err(err).Msg("failed to set presence")
	}
}

func (g *Gateway) onGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	g.memberJoined(ctx, m.GuildID, m.User.ID, m.User.Bot)
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	reply, ok := g.directMessage(ctx, m.GuildID, m.Author.ID, m.Author.Bot, m.Content)
	if !ok {
		return
	}
	if _, err := s.ChannelMessageSendReply(m.ChannelID, reply, m.Reference(), discordgo.WithContext(ctx)); err != nil {
		g.log.Warn().Err(err).Str("user_id", m.Author.ID).Msg("failed to acknowledge reminder preference")
	}
}

func (g *Gateway) memberJoined(ctx context.Context, guildID, userID string, bot bool) {
	if bot || guildID != g.guildID {
		return
	}
	g.log.Info().Str("user_id", userID).Msg("new member joined")
	if _, err := g.reconciler.HandleMemberJoin(ctx, userID); err != nil {
		g.log.Error().Err(err).Str("user_id", userID).Msg("error handling new member")
	}
}

// directMessage handles a STOP/START command sent in a DM and returns the
// acknowledgement to post. ok is false for anything that is not a command.
func (g *Gateway) directMessage(ctx context.Context, guildID, authorID string, bot bool, content string) (reply string, ok bool) {
	if guildID != "" || bot {
		return "", false
	}
	enabled, isCommand := parsePreferenceCommand(content)
	if !isCommand {
		return "", false
	}

	// The acknowledgement goes out even when the backend update fails.
	if err := g.reconciler.SetReminderPreference(ctx, authorID, enabled); err != nil {
		g.log.Error().Err(err).Str("user_id", authorID).Bool("enabled", enabled).Msg("failed to update reminder preference")
	}
	if enabled {
		return optInReply, true
	}
	return optOutReply, true
}

// parsePreferenceCommand recognises STOP and START, ignoring case and
// surrounding whitespace.
func parsePreferenceCommand(content string) (enabled, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(content)) {
	case "STOP":
		return false, true
	case "START":
		return true, true
	default:
		return false, false
	}
}
