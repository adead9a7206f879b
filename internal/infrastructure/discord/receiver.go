package discord

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/infra"
	"github.com/iamwavecut/ngmod/internal/moderation"
)

// Sink receives converted inbound messages.
type Sink func(ctx context.Context, ev moderation.Event)

// Receiver holds the gateway connection and forwards guild messages to a sink.
type Receiver struct {
	session *discordgo.Session
	sink    Sink

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	removeHandler func()
	logger        *log.Entry
}

func NewReceiver(session *discordgo.Session, sink Sink) *Receiver {
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	return &Receiver{
		session: session,
		sink:    sink,
		logger:  log.WithField("object", "DiscordReceiver"),
	}
}

func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.removeHandler = r.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		ev, ok := ToEvent(m)
		if !ok {
			return
		}
		ev.ReceivedAt = time.Now()
		infra.Recover("discord message", func() {
			r.sink(r.ctx, ev)
		})
	})
	if err := r.session.Open(); err != nil {
		r.removeHandler()
		r.cancel()
		r.cancel = nil
		return errors.Wrap(err, "open discord gateway")
	}
	if r.session.State != nil && r.session.State.User != nil {
		r.logger.WithField("bot", r.session.State.User.Username).Info("connected to gateway")
	}
	return nil
}

func (r *Receiver) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return nil
	}
	r.removeHandler()
	r.cancel()
	r.cancel = nil
	return errors.Wrap(r.session.Close(), "close discord gateway")
}

// ToEvent converts a guild message. Direct messages are not moderated.
func ToEvent(m *discordgo.MessageCreate) (moderation.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.GuildID == "" {
		return moderation.Event{}, false
	}
	return moderation.Event{
		AuthorID:  m.Author.ID,
		IsBot:     m.Author.Bot,
		Content:   m.Content,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		CreatedAt: m.Timestamp,
	}, true
}
