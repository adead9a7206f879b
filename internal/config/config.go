package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	ClassifierHTTP     = "http"
	ClassifierOpenAI   = "openai"
	ClassifierGemini   = "gemini"
	ClassifierZeroShot = "zeroshot"
)

type (
	Config struct {
		Platform      string `env:"PLATFORM,default=telegram"`
		LogLevel      int    `env:"LOG_LEVEL,default=4"`
		DotPath       string `env:"DOT_PATH,default=~/.ngmod"`
		Workers       int    `env:"WORKERS,default=16"`
		Telegram      Telegram
		Discord       Discord
		Store         Store
		Classifier    Classifier
		LLM           LLM
		Moderation    Moderation
		Observability Observability
	}

	Telegram struct {
		Token string `env:"TELEGRAM_TOKEN"`
	}

	Discord struct {
		Token string `env:"DISCORD_TOKEN"`
	}

	Store struct {
		Type        string        `env:"STORE,default=memory"`
		File        string        `env:"SQLITE_FILE,default=ngmod.db"`
		RedisURL    string        `env:"REDIS_URL,default=redis://localhost:6379/0"`
		RedisPrefix string        `env:"REDIS_PREFIX,default=ngmod/"`
		RedisTTL    time.Duration `env:"REDIS_TTL,default=0"`
	}

	Classifier struct {
		Type          string        `env:"CLASSIFIER,default=http"`
		URL           string        `env:"CLASSIFIER_URL"`
		APIKey        string        `env:"CLASSIFIER_API_KEY"`
		APIKeyHeader  string        `env:"CLASSIFIER_API_KEY_HEADER,default=X-Api-Key"`
		Timeout       time.Duration `env:"CLASSIFIER_TIMEOUT,default=5s"`
		MaxRetries    int           `env:"CLASSIFIER_MAX_RETRIES,default=2"`
		ModelsDir     string        `env:"CLASSIFIER_MODELS_DIR"`
		ZeroShotModel string        `env:"CLASSIFIER_ZEROSHOT_MODEL,default=MoritzLaurer/mDeBERTa-v3-base-mnli-xnli"`
	}

	LLM struct {
		APIKey  string `env:"LLM_API_KEY"`
		Model   string `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string `env:"LLM_API_URL,default=https://api.openai.com/v1"`
	}

	Moderation struct {
		MinMessageInterval time.Duration `env:"MIN_MESSAGE_INTERVAL,default=2s"`
		ToxicityThreshold  float64       `env:"TOXICITY_THRESHOLD,default=0.8"`
		SpamThreshold      float64       `env:"SPAM_THRESHOLD,default=0.75"`
		MuteWarningCount   int           `env:"MUTE_WARNING_COUNT,default=4"`
		BanWarningCount    int           `env:"BAN_WARNING_COUNT,default=5"`
		MuteDuration       time.Duration `env:"MUTE_DURATION,default=15m"`
		RestrictionGroup   string        `env:"RESTRICTION_GROUP,default=Muted"`
		BanReason          string        `env:"BAN_REASON"`
		LadderFile         string        `env:"LADDER_FILE"`
		NoticeTTL          time.Duration `env:"NOTICE_TTL,default=0"`
		MaxEventAge        time.Duration `env:"MAX_EVENT_AGE,default=5m"`
	}

	Observability struct {
		MetricsAddr string `env:"METRICS_ADDR,default=:2112"`
		Tracing     bool   `env:"TRACING,default=false"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := load(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("NG_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	cfg.Platform = strings.ToLower(cfg.Platform)
	cfg.Store.Type = strings.ToLower(cfg.Store.Type)
	cfg.Classifier.Type = strings.ToLower(cfg.Classifier.Type)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements envconfig cannot express.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformTelegram:
		if c.Telegram.Token == "" {
			return fmt.Errorf("NG_TELEGRAM_TOKEN is required for platform %q", c.Platform)
		}
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return fmt.Errorf("NG_DISCORD_TOKEN is required for platform %q", c.Platform)
		}
	default:
		return fmt.Errorf("unknown platform %q", c.Platform)
	}

	switch c.Store.Type {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store %q", c.Store.Type)
	}

	switch c.Classifier.Type {
	case ClassifierHTTP:
		if c.Classifier.URL == "" {
			return fmt.Errorf("NG_CLASSIFIER_URL is required for classifier %q", c.Classifier.Type)
		}
	case ClassifierOpenAI, ClassifierGemini:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("NG_LLM_API_KEY is required for classifier %q", c.Classifier.Type)
		}
	case ClassifierZeroShot:
	default:
		return fmt.Errorf("unknown classifier %q", c.Classifier.Type)
	}

	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive, got %s", c.Classifier.Timeout)
	}
	m := c.Moderation
	if m.MinMessageInterval < 0 {
		return fmt.Errorf("min message interval must not be negative, got %s", m.MinMessageInterval)
	}
	if m.MuteDuration <= 0 {
		return fmt.Errorf("mute duration must be positive, got %s", m.MuteDuration)
	}
	if !unitInterval(m.ToxicityThreshold) || !unitInterval(m.SpamThreshold) {
		return fmt.Errorf("thresholds must be within [0,1], got toxicity %v spam %v", m.ToxicityThreshold, m.SpamThreshold)
	}
	return nil
}

// ModerationSettings translates the config into engine settings, applying
// the ladder file when one is configured.
func (c Config) ModerationSettings() (moderation.Settings, error) {
	m := c.Moderation
	settings := moderation.DefaultSettings()
	settings.MinMessageInterval = m.MinMessageInterval
	settings.Thresholds = moderation.Thresholds{Toxicity: m.ToxicityThreshold, Spam: m.SpamThreshold}
	settings.MuteDuration = m.MuteDuration
	settings.NoticeTTL = m.NoticeTTL
	settings.MaxEventAge = m.MaxEventAge
	if m.RestrictionGroup != "" {
		settings.GroupName = m.RestrictionGroup
	}
	if m.BanReason != "" {
		settings.BanReason = m.BanReason
	}

	ladderCfg := moderation.LadderConfig{MuteAt: m.MuteWarningCount, BanAt: m.BanWarningCount}
	if m.LadderFile != "" {
		file, err := LoadLadderFile(m.LadderFile)
		if err != nil {
			return settings, err
		}
		ladderCfg = file.Apply(ladderCfg)
		if file.SlowDown != "" {
			settings.SlowDownNotice = file.SlowDown
		}
	}
	ladder, err := moderation.NewLadder(ladderCfg)
	if err != nil {
		return settings, fmt.Errorf("build ladder: %w", err)
	}
	settings.Ladder = ladder
	return settings, nil
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}
