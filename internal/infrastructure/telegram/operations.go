package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/moderation"
	"github.com/iamwavecut/ngmod/internal/policy/permissions"
)

const MsgNoPrivileges = "not enough rights"

// Bot is the part of *api.BotAPI the operations use.
type Bot interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
	GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
}

// Operations maps the moderation platform port onto the Bot API. A guild is a
// chat, the restriction group is the set of members restricted by this bot.
type Operations struct {
	bot    Bot
	selfID int64
	// Telegram lifts restrictions by itself after restrictFor, so a restart
	// that loses the reversal timer does not mute anyone forever.
	restrictFor time.Duration
	now         func() time.Time
	names       sync.Map
	logger      *log.Entry
}

var _ moderation.Platform = (*Operations)(nil)

func NewOperations(bot Bot, selfID int64, restrictFor time.Duration) *Operations {
	return &Operations{
		bot:         bot,
		selfID:      selfID,
		restrictFor: restrictFor,
		now:         time.Now,
		logger:      log.WithField("object", "TelegramOperations"),
	}
}

// RememberUser stores the display name Mention uses for userID.
func (o *Operations) RememberUser(user *api.User) {
	if user == nil {
		return
	}
	o.names.Store(user.ID, GetFullName(user))
}

func (o *Operations) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	chatID, err := parseID(channelID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, msgID)); err != nil {
		return withPrivilegeError(err, "delete message")
	}
	return nil
}

func (o *Operations) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	chatID, err := parseID(channelID)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := api.NewMessage(chatID, text)
	msg.ParseMode = api.ModeHTML
	sent, err := o.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (o *Operations) Mention(userID string) string {
	id, err := parseID(userID)
	if err != nil {
		return html.EscapeString(userID)
	}
	name := "user"
	if v, ok := o.names.Load(id); ok && v.(string) != "" {
		name = v.(string)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, id, html.EscapeString(name))
}

// EnsureRestrictionGroup has nothing to create on Telegram. It verifies that
// the bot may restrict members and returns name as the group ID.
func (o *Operations) EnsureRestrictionGroup(ctx context.Context, guildID, name string) (string, error) {
	chatID, err := parseID(guildID)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			UserID: o.selfID,
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("get bot chat member: %w", err)
	}
	if !permissions.CanRestrict(&member) {
		return "", fmt.Errorf("%w: bot cannot restrict members in chat %d", moderation.ErrActuationDenied, chatID)
	}
	if !permissions.CanDelete(&member) {
		o.logger.WithField("chat_id", chatID).Warn("bot cannot delete messages, violations will stay visible")
	}
	return name, nil
}

func (o *Operations) AddToGroup(ctx context.Context, guildID, userID, _ string) error {
	var until int64
	if o.restrictFor > 0 {
		until = o.now().Add(o.restrictFor).Unix()
	}
	return o.restrict(ctx, guildID, userID, until, chatPermissions(false), "restrict")
}

func (o *Operations) RemoveFromGroup(ctx context.Context, guildID, userID, _ string) error {
	return o.restrict(ctx, guildID, userID, 0, chatPermissions(true), "unrestrict")
}

// Ban is permanent. Telegram keeps no ban reason, so it is only logged.
func (o *Operations) Ban(ctx context.Context, guildID, userID, reason string) error {
	chatID, err := parseID(guildID)
	if err != nil {
		return err
	}
	uid, err := parseID(userID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: uid,
		},
		RevokeMessages: true,
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, "ban")
	}
	o.logger.WithFields(log.Fields{"chat_id": chatID, "user_id": uid, "reason": reason}).Info("banned chat member")
	return nil
}

func (o *Operations) restrict(ctx context.Context, guildID, userID string, until int64, permissions *api.ChatPermissions, operation string) error {
	chatID, err := parseID(guildID)
	if err != nil {
		return err
	}
	uid, err := parseID(userID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: uid,
		},
		UntilDate:   until,
		Permissions: permissions,
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, operation)
	}
	return nil
}

func chatPermissions(allowed bool) *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages:       allowed,
		CanSendAudios:         allowed,
		CanSendDocuments:      allowed,
		CanSendPhotos:         allowed,
		CanSendVideos:         allowed,
		CanSendVideoNotes:     allowed,
		CanSendVoiceNotes:     allowed,
		CanSendPolls:          allowed,
		CanSendOtherMessages:  allowed,
		CanAddWebPagePreviews: allowed,
		CanInviteUsers:        allowed,
	}
}

func withPrivilegeError(err error, operation string) error {
	if strings.Contains(err.Error(), MsgNoPrivileges) || strings.Contains(err.Error(), "Forbidden") {
		return fmt.Errorf("%w: %s: %s", moderation.ErrActuationDenied, operation, err.Error())
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram id %q: %w", s, err)
	}
	return id, nil
}
