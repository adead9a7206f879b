package telegram

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

func TestToEvent(t *testing.T) {
	t.Parallel()

	msg := &api.Message{
		MessageID: 10,
		From:      &api.User{ID: 42, FirstName: "Tom"},
		Date:      1709294400,
		Text:      "hello",
		Caption:   "world",
	}
	msg.Chat.ID = -100
	msg.Chat.Type = "supergroup"

	ev, ok := ToEvent(msg)
	if !ok {
		t.Fatalf("group message not converted")
	}
	if ev.AuthorID != "42" || ev.GuildID != "-100" || ev.ChannelID != "-100" || ev.MessageID != "10" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Content != "hello world" || ev.CreatedAt.Unix() != 1709294400 {
		t.Fatalf("unexpected content or time %+v", ev)
	}

	private := *msg
	private.Chat.Type = "private"
	if _, ok := ToEvent(&private); ok {
		t.Fatalf("private chat converted")
	}
	anonymous := *msg
	anonymous.From = nil
	if _, ok := ToEvent(&anonymous); ok {
		t.Fatalf("message without author converted")
	}
}

func TestExtractContentIncludesButtons(t *testing.T) {
	t.Parallel()

	msg := &api.Message{
		Text: "great offer",
		ReplyMarkup: &api.InlineKeyboardMarkup{
			InlineKeyboard: [][]api.InlineKeyboardButton{{{Text: "Buy"}, {Text: "Now"}}},
		},
	}
	if got := ExtractContent(msg); got != "great offer Buy Now" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestReceiverStampsLocalReceiveTime(t *testing.T) {
	t.Parallel()

	var events []moderation.Event
	r := NewReceiver(nil, NewOperations(&stubBot{}, 1, 0), func(_ context.Context, ev moderation.Event) {
		events = append(events, ev)
	})
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	received := []time.Time{base.Add(990 * time.Millisecond), base.Add(2 * time.Second)}
	r.now = func() time.Time {
		at := received[0]
		received = received[1:]
		return at
	}

	// The whole-second Dates are 2s apart, while only 1.01s separates the
	// arrivals.
	for i, date := range []int{1709294400, 1709294402} {
		msg := &api.Message{MessageID: i + 1, From: &api.User{ID: 42}, Date: date, Text: "hi"}
		msg.Chat.ID = -100
		msg.Chat.Type = "group"
		r.handle(context.Background(), &api.Update{Message: msg})
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[1].ReceivedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("unexpected receive time %v", events[1].ReceivedAt)
	}

	limiter := moderation.NewRateLimiter(2 * time.Second)
	if !limiter.Admit(events[0].Key(), events[0].ReceivedAt) {
		t.Fatalf("first message rejected")
	}
	if limiter.Admit(events[1].Key(), events[1].ReceivedAt) {
		t.Fatalf("message 1.01s after the previous one admitted")
	}
}
