package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

const (
	testGuild = "100"
	testRole  = "200"
)

type fakeSession struct {
	members   map[string]*discordgo.Member
	memberErr error
	addErr    error
	removeErr error
	dmErr     error
	sendErr   error

	added   []string
	removed []string
	sent    []*discordgo.MessageSend
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	m, ok := f.members[userID]
	if !ok {
		return nil, restErr(http.StatusNotFound, codeUnknownMember)
	}
	return m, nil
}

func (f *fakeSession) GuildMemberRoleAdd(_, userID, _ string, _ ...discordgo.RequestOption) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, userID)
	return nil
}

func (f *fakeSession) GuildMemberRoleRemove(_, userID, _ string, _ ...discordgo.RequestOption) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, userID)
	return nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.dmErr != nil {
		return nil, f.dmErr
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, data)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func restErr(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "test"},
	}
}

func newTestPlatform(f *fakeSession) *Platform {
	return newPlatform(f, testGuild, testRole, zerolog.Nop())
}

func TestHasRole(t *testing.T) {
	f := &fakeSession{members: map[string]*discordgo.Member{
		"1": {Roles: []string{"999", testRole}},
		"2": {Roles: []string{"999"}},
	}}
	p := newTestPlatform(f)

	has, err := p.HasRole(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = p.HasRole(context.Background(), "2")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = p.HasRole(context.Background(), "3")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestRoleErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing permissions", restErr(http.StatusForbidden, codeMissingPermissions), domain.ErrPermissionDenied},
		{"missing access", restErr(http.StatusForbidden, codeMissingAccess), domain.ErrPermissionDenied},
		{"unknown member", restErr(http.StatusNotFound, codeUnknownMember), domain.ErrMemberNotFound},
		{"unknown user", restErr(http.StatusNotFound, codeUnknownUser), domain.ErrMemberNotFound},
		{"server error", restErr(http.StatusInternalServerError, 0), domain.ErrMutationFailure},
		{"transport", errors.New("connection reset"), domain.ErrMutationFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPlatform(&fakeSession{addErr: tc.err})
			err := p.AddRole(context.Background(), "1", "Subscription active")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRemoveRole(t *testing.T) {
	f := &fakeSession{}
	p := newTestPlatform(f)

	require.NoError(t, p.RemoveRole(context.Background(), "1", "Subscription ended"))
	assert.Equal(t, []string{"1"}, f.removed)
}

func TestSendDirect_EmbedAndButton(t *testing.T) {
	f := &fakeSession{}
	p := newTestPlatform(f)

	err := p.SendDirect(context.Background(), "1", ports.Message{
		Title:       "⏰ Subscription Grace Period Reminder",
		Description: "3 more days",
		Color:       0xB8860B,
		Fields:      []ports.EmbedField{{Name: "Time Remaining", Value: "3 days left", Inline: true}},
		Footer:      "Reply STOP in DMs to opt out of these reminders",
		ActionLabel: "Renew Membership",
		ActionURL:   "https://triboar.guild/checkout/",
	})

	require.NoError(t, err)
	require.Len(t, f.sent, 1)
	send := f.sent[0]
	require.Len(t, send.Embeds, 1)
	embed := send.Embeds[0]
	assert.Equal(t, 0xB8860B, embed.Color)
	require.Len(t, embed.Fields, 1)
	assert.True(t, embed.Fields[0].Inline)
	require.NotNil(t, embed.Footer)

	require.Len(t, send.Components, 1)
	row, ok := send.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	btn, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, discordgo.LinkButton, btn.Style)
	assert.Equal(t, "https://triboar.guild/checkout/", btn.URL)
}

func TestSendDirect_NoActionNoComponents(t *testing.T) {
	f := &fakeSession{}
	p := newTestPlatform(f)

	require.NoError(t, p.SendDirect(context.Background(), "1", ports.Message{Title: "hi"}))
	assert.Empty(t, f.sent[0].Components)
	assert.Nil(t, f.sent[0].Embeds[0].Footer)
}

func TestSendDirect_ErrorMapping(t *testing.T) {
	p := newTestPlatform(&fakeSession{sendErr: restErr(http.StatusForbidden, codeCannotSendMessages)})
	err := p.SendDirect(context.Background(), "1", ports.Message{Title: "hi"})
	assert.ErrorIs(t, err, domain.ErrDeliveryBlocked)

	p = newTestPlatform(&fakeSession{dmErr: restErr(http.StatusNotFound, codeUnknownUser)})
	err = p.SendDirect(context.Background(), "1", ports.Message{Title: "hi"})
	assert.ErrorIs(t, err, domain.ErrRecipientUnreachable)
}
