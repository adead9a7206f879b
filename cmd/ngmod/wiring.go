package main

import (
	"context"
	"strconv"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/adapters/classifier"
	"github.com/iamwavecut/ngmod/internal/adapters/llm"
	"github.com/iamwavecut/ngmod/internal/adapters/llm/gemini"
	"github.com/iamwavecut/ngmod/internal/adapters/llm/openai"
	"github.com/iamwavecut/ngmod/internal/config"
	"github.com/iamwavecut/ngmod/internal/db/redisstore"
	"github.com/iamwavecut/ngmod/internal/db/sqlite"
	"github.com/iamwavecut/ngmod/internal/infra"
	"github.com/iamwavecut/ngmod/internal/infrastructure/discord"
	"github.com/iamwavecut/ngmod/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngmod/internal/lifecycle"
	"github.com/iamwavecut/ngmod/internal/moderation"
)

type closer func(ctx context.Context) error

func noopCloser(context.Context) error { return nil }

func newStore(ctx context.Context, cfg config.Config) (moderation.StateStore, closer, error) {
	switch cfg.Store.Type {
	case config.StoreSQLite:
		dir, err := infra.WorkDir(cfg.DotPath, "data")
		if err != nil {
			return nil, nil, err
		}
		client, err := sqlite.NewSQLiteClient(ctx, dir, cfg.Store.File)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "sqlite store")
		}
		return client, func(context.Context) error { return client.Close() }, nil
	case config.StoreRedis:
		client, err := redisstore.NewRedisClient(ctx, cfg.Store.RedisURL, cfg.Store.RedisPrefix, cfg.Store.RedisTTL)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "redis store")
		}
		return client, func(context.Context) error { return client.Close() }, nil
	default:
		return moderation.NewMemoryStore(), noopCloser, nil
	}
}

func newScorer(ctx context.Context, cfg config.Config) (moderation.Scorer, closer, error) {
	switch cfg.Classifier.Type {
	case config.ClassifierOpenAI:
		model := openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, log.WithField("object", "OpenAI")).
			WithParameters(llm.ScoringParameters())
		return classifier.NewLLMScorer(model), noopCloser, nil
	case config.ClassifierGemini:
		model, err := gemini.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, log.WithField("object", "Gemini"))
		if err != nil {
			return nil, nil, errors.WithMessage(err, "gemini classifier")
		}
		model = model.WithParameters(llm.ScoringParameters())
		return classifier.NewLLMScorer(model), func(context.Context) error { return model.Close() }, nil
	case config.ClassifierZeroShot:
		modelsDir := cfg.Classifier.ModelsDir
		if modelsDir == "" {
			dir, err := infra.WorkDir(cfg.DotPath, "models")
			if err != nil {
				return nil, nil, err
			}
			modelsDir = dir
		}
		scorer, err := classifier.LoadZeroShot(modelsDir, cfg.Classifier.ZeroShotModel)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "zero-shot classifier")
		}
		return scorer, noopCloser, nil
	default:
		return classifier.NewHTTPScorer(classifier.HTTPConfig{
			URL:          cfg.Classifier.URL,
			APIKey:       cfg.Classifier.APIKey,
			APIKeyHeader: cfg.Classifier.APIKeyHeader,
			MaxRetries:   cfg.Classifier.MaxRetries,
		}), noopCloser, nil
	}
}

type platform struct {
	ops      moderation.Platform
	selfID   string
	receiver func(sink func(ctx context.Context, ev moderation.Event)) lifecycle.Component
}

func newPlatform(cfg config.Config, muteDuration time.Duration) (*platform, error) {
	switch cfg.Platform {
	case config.PlatformDiscord:
		session, err := discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			return nil, errors.Wrap(err, "create discord session")
		}
		me, err := session.User("@me")
		if err != nil {
			return nil, errors.Wrap(err, "resolve discord bot user")
		}
		return &platform{
			ops:    discord.NewOperations(session),
			selfID: me.ID,
			receiver: func(sink func(ctx context.Context, ev moderation.Event)) lifecycle.Component {
				return discord.NewReceiver(session, sink)
			},
		}, nil
	default:
		botAPI, err := api.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return nil, errors.Wrap(err, "initialize bot api")
		}
		if log.Level(cfg.LogLevel) == log.TraceLevel {
			botAPI.Debug = true
		}
		// Telegram restrictions carry their own expiry one minute past the
		// scheduled reversal, so a restart cannot leave a user muted forever.
		ops := telegram.NewOperations(botAPI, botAPI.Self.ID, muteDuration+time.Minute)
		return &platform{
			ops:    ops,
			selfID: strconv.FormatInt(botAPI.Self.ID, 10),
			receiver: func(sink func(ctx context.Context, ev moderation.Event)) lifecycle.Component {
				return telegram.NewReceiver(botAPI, ops, sink)
			},
		}, nil
	}
}
