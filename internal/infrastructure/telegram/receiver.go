package telegram

import (
	"context"
	"strconv"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/infra"
	"github.com/iamwavecut/ngmod/internal/moderation"
)

const pollRetryDelay = 3 * time.Second

// Sink receives converted inbound messages.
type Sink func(ctx context.Context, ev moderation.Event)

// Receiver long-polls the Bot API and forwards group messages to a sink.
type Receiver struct {
	bot  *api.BotAPI
	ops  *Operations
	sink Sink
	now  func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	logger *log.Entry
}

func NewReceiver(bot *api.BotAPI, ops *Operations, sink Sink) *Receiver {
	return &Receiver{
		bot:    bot,
		ops:    ops,
		sink:   sink,
		now:    time.Now,
		logger: log.WithField("object", "TelegramReceiver"),
	}
}

func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done

	go func() {
		defer close(done)
		offset := 0
		for {
			infra.Recover("telegram poll", func() {
				offset = r.poll(runCtx, offset)
			})
			select {
			case <-runCtx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
		}
	}()
	r.logger.WithField("bot", r.bot.Self.UserName).Info("receiving updates")
	return nil
}

func (r *Receiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll consumes updates until polling fails and returns the next offset.
func (r *Receiver) poll(ctx context.Context, offset int) int {
	updateConfig := api.NewUpdate(offset)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message"}
	updates, errs := GetUpdatesChans(ctx, r.bot, updateConfig)

	for {
		select {
		case err, ok := <-errs:
			if ok && !errors.Is(err, context.Canceled) {
				r.logger.WithField("error", err.Error()).Error("bot api get updates error")
			}
			return offset
		case update, ok := <-updates:
			if !ok {
				return offset
			}
			offset = update.UpdateID + 1
			r.handle(ctx, &update)
		}
	}
}

func (r *Receiver) handle(ctx context.Context, u *api.Update) {
	ev, ok := ToEvent(u.Message)
	if !ok {
		return
	}
	ev.ReceivedAt = r.now()
	r.ops.RememberUser(u.Message.From)
	r.sink(ctx, ev)
}

// ToEvent converts a group message. Private chats and service messages without
// an author are not moderated.
func ToEvent(msg *api.Message) (moderation.Event, bool) {
	if msg == nil || msg.From == nil {
		return moderation.Event{}, false
	}
	if msg.Chat.Type != "group" && msg.Chat.Type != "supergroup" {
		return moderation.Event{}, false
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	return moderation.Event{
		AuthorID:  strconv.FormatInt(msg.From.ID, 10),
		IsBot:     msg.From.IsBot,
		Content:   ExtractContent(msg),
		GuildID:   chatID,
		ChannelID: chatID,
		MessageID: strconv.Itoa(msg.MessageID),
		CreatedAt: time.Unix(int64(msg.Date), 0),
	}, true
}

func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error, 1)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}
