package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

type stubBot struct {
	requests  []api.Chattable
	sent      []api.Chattable
	member    api.ChatMember
	memberErr error
	err       error
}

func (b *stubBot) Request(c api.Chattable) (*api.APIResponse, error) {
	b.requests = append(b.requests, c)
	if b.err != nil {
		return nil, b.err
	}
	return &api.APIResponse{Ok: true}, nil
}

func (b *stubBot) Send(c api.Chattable) (api.Message, error) {
	b.sent = append(b.sent, c)
	if b.err != nil {
		return api.Message{}, b.err
	}
	return api.Message{MessageID: 77}, nil
}

func (b *stubBot) GetChatMember(api.GetChatMemberConfig) (api.ChatMember, error) {
	return b.member, b.memberErr
}

func TestOperationsRestrictAndLift(t *testing.T) {
	t.Parallel()

	bot := &stubBot{}
	ops := NewOperations(bot, 1, 20*time.Minute)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ops.now = func() time.Time { return now }

	if err := ops.AddToGroup(context.Background(), "-100", "42", "Muted"); err != nil {
		t.Fatalf("add to group: %v", err)
	}
	if err := ops.RemoveFromGroup(context.Background(), "-100", "42", "Muted"); err != nil {
		t.Fatalf("remove from group: %v", err)
	}
	if len(bot.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(bot.requests))
	}

	restrict, ok := bot.requests[0].(api.RestrictChatMemberConfig)
	if !ok {
		t.Fatalf("unexpected request %T", bot.requests[0])
	}
	if restrict.ChatID != -100 || restrict.UserID != 42 {
		t.Fatalf("unexpected target %d/%d", restrict.ChatID, restrict.UserID)
	}
	if restrict.Permissions.CanSendMessages || restrict.UntilDate != now.Add(20*time.Minute).Unix() {
		t.Fatalf("unexpected restriction %+v", restrict)
	}

	lift := bot.requests[1].(api.RestrictChatMemberConfig)
	if !lift.Permissions.CanSendMessages || lift.UntilDate != 0 {
		t.Fatalf("unexpected lift %+v", lift)
	}
}

func TestOperationsBanIsPermanent(t *testing.T) {
	t.Parallel()

	bot := &stubBot{}
	ops := NewOperations(bot, 1, 0)
	if err := ops.Ban(context.Background(), "-100", "42", "repeated violations"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	ban, ok := bot.requests[0].(api.BanChatMemberConfig)
	if !ok {
		t.Fatalf("unexpected request %T", bot.requests[0])
	}
	if ban.UntilDate != 0 || !ban.RevokeMessages || ban.UserID != 42 {
		t.Fatalf("unexpected ban %+v", ban)
	}
}

func TestOperationsPrivilegeErrors(t *testing.T) {
	t.Parallel()

	bot := &stubBot{err: errors.New("Bad Request: not enough rights to restrict/unrestrict chat member")}
	ops := NewOperations(bot, 1, 0)

	err := ops.AddToGroup(context.Background(), "-100", "42", "Muted")
	if !errors.Is(err, moderation.ErrActuationDenied) {
		t.Fatalf("expected ErrActuationDenied, got %v", err)
	}

	bot.err = errors.New("connection reset")
	err = ops.Ban(context.Background(), "-100", "42", "")
	if err == nil || errors.Is(err, moderation.ErrActuationDenied) {
		t.Fatalf("transport failure reported as denial: %v", err)
	}
}

func TestEnsureRestrictionGroupChecksRights(t *testing.T) {
	t.Parallel()

	bot := &stubBot{member: api.ChatMember{Status: "administrator", CanRestrictMembers: true}}
	ops := NewOperations(bot, 1, 0)
	id, err := ops.EnsureRestrictionGroup(context.Background(), "-100", "Muted")
	if err != nil || id != "Muted" {
		t.Fatalf("EnsureRestrictionGroup = %q, %v", id, err)
	}

	bot.member = api.ChatMember{Status: "member"}
	if _, err := ops.EnsureRestrictionGroup(context.Background(), "-100", "Muted"); !errors.Is(err, moderation.ErrActuationDenied) {
		t.Fatalf("expected ErrActuationDenied, got %v", err)
	}
}

func TestMentionAndSend(t *testing.T) {
	t.Parallel()

	bot := &stubBot{}
	ops := NewOperations(bot, 1, 0)
	ops.RememberUser(&api.User{ID: 42, FirstName: "Tom", LastName: "<script>"})

	mention := ops.Mention("42")
	if !strings.Contains(mention, "tg://user?id=42") || strings.Contains(mention, "<script>") {
		t.Fatalf("unexpected mention %q", mention)
	}
	if got := ops.Mention("7"); !strings.Contains(got, ">user</a>") {
		t.Fatalf("unknown user mention %q", got)
	}

	id, err := ops.SendMessage(context.Background(), "-100", mention+", slow down")
	if err != nil || id != "77" {
		t.Fatalf("SendMessage = %q, %v", id, err)
	}
	msg := bot.sent[0].(api.MessageConfig)
	if msg.ParseMode != api.ModeHTML {
		t.Fatalf("unexpected parse mode %q", msg.ParseMode)
	}
}

func TestInvalidIDs(t *testing.T) {
	t.Parallel()

	ops := NewOperations(&stubBot{}, 1, 0)
	if err := ops.DeleteMessage(context.Background(), "chat", "1"); err == nil {
		t.Fatalf("expected invalid chat id error")
	}
	if err := ops.DeleteMessage(context.Background(), "-100", "x"); err == nil {
		t.Fatalf("expected invalid message id error")
	}
}
