package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

// Denied on every channel for members of the restriction role.
const restrictedPermissions = discordgo.PermissionSendMessages |
	discordgo.PermissionSendMessagesInThreads |
	discordgo.PermissionAddReactions

// Session is the part of *discordgo.Session the operations use.
type Session interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
}

// Operations maps the moderation platform port onto the Discord REST API.
// The restriction group is a role denied sending and reacting everywhere.
type Operations struct {
	session Session
	logger  *log.Entry
}

var _ moderation.Platform = (*Operations)(nil)

func NewOperations(session Session) *Operations {
	return &Operations{
		session: session,
		logger:  log.WithField("object", "DiscordOperations"),
	}
}

func (o *Operations) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return withPrivilegeError(o.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)), "delete message")
}

func (o *Operations) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	msg, err := o.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", withPrivilegeError(err, "send message")
	}
	return msg.ID, nil
}

func (o *Operations) Mention(userID string) string {
	return "<@" + userID + ">"
}

// EnsureRestrictionGroup finds the role called name or creates it, then
// writes the deny overwrite on every text-capable channel of the guild.
func (o *Operations) EnsureRestrictionGroup(ctx context.Context, guildID, name string) (string, error) {
	entry := o.logger.WithFields(log.Fields{"guild_id": guildID, "role": name})

	roles, err := o.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", withPrivilegeError(err, "list roles")
	}
	var role *discordgo.Role
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			role = r
			break
		}
	}
	if role == nil {
		noPermissions := int64(0)
		mentionable := false
		role, err = o.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
			Name:        name,
			Permissions: &noPermissions,
			Mentionable: &mentionable,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return "", withPrivilegeError(err, "create role")
		}
		entry.WithField("role_id", role.ID).Info("created restriction role")
	}

	channels, err := o.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", withPrivilegeError(err, "list channels")
	}
	for _, ch := range channels {
		if !restrictable(ch) || hasDenyOverwrite(ch, role.ID) {
			continue
		}
		err := o.session.ChannelPermissionSet(ch.ID, role.ID, discordgo.PermissionOverwriteTypeRole, 0, restrictedPermissions, discordgo.WithContext(ctx))
		if err != nil {
			return "", withPrivilegeError(err, "set channel overwrite")
		}
	}
	return role.ID, nil
}

func (o *Operations) AddToGroup(ctx context.Context, guildID, userID, groupID string) error {
	return withPrivilegeError(o.session.GuildMemberRoleAdd(guildID, userID, groupID, discordgo.WithContext(ctx)), "add role")
}

func (o *Operations) RemoveFromGroup(ctx context.Context, guildID, userID, groupID string) error {
	return withPrivilegeError(o.session.GuildMemberRoleRemove(guildID, userID, groupID, discordgo.WithContext(ctx)), "remove role")
}

func (o *Operations) Ban(ctx context.Context, guildID, userID, reason string) error {
	return withPrivilegeError(o.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)), "ban")
}

func restrictable(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildForum,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeGuildCategory:
		return true
	default:
		return false
	}
}

func hasDenyOverwrite(ch *discordgo.Channel, roleID string) bool {
	for _, ow := range ch.PermissionOverwrites {
		if ow.ID == roleID && ow.Type == discordgo.PermissionOverwriteTypeRole && ow.Deny&restrictedPermissions == restrictedPermissions {
			return true
		}
	}
	return false
}

func withPrivilegeError(err error, operation string) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: %s: %s", moderation.ErrActuationDenied, operation, err.Error())
		}
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}
