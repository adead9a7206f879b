package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

func loadFrom(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadFrom(t, map[string]string{
		"NG_TELEGRAM_TOKEN":  "token",
		"NG_CLASSIFIER_URL":  "http://scorer.local/score",
		"NG_DOT_PATH":        "/var/lib/ngmod",
		"IGNORED_UNPREFIXED": "x",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Platform != PlatformTelegram || cfg.Store.Type != StoreMemory || cfg.Classifier.Type != ClassifierHTTP {
		t.Fatalf("unexpected selection %q %q %q", cfg.Platform, cfg.Store.Type, cfg.Classifier.Type)
	}
	m := cfg.Moderation
	if m.MinMessageInterval != 2*time.Second || m.MuteDuration != 15*time.Minute || m.MuteWarningCount != 4 || m.BanWarningCount != 5 {
		t.Fatalf("unexpected moderation defaults %+v", m)
	}
	if m.ToxicityThreshold != 0.8 || m.SpamThreshold != 0.75 {
		t.Fatalf("unexpected thresholds %v %v", m.ToxicityThreshold, m.SpamThreshold)
	}
	if cfg.Classifier.Timeout != 5*time.Second || cfg.Classifier.APIKeyHeader != "X-Api-Key" {
		t.Fatalf("unexpected classifier defaults %+v", cfg.Classifier)
	}
	if cfg.DotPath != "/var/lib/ngmod" {
		t.Fatalf("unexpected dot path %q", cfg.DotPath)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	t.Parallel()

	cfg, err := loadFrom(t, map[string]string{
		"NG_TELEGRAM_TOKEN": "token",
		"NG_CLASSIFIER":     "zeroshot",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.HasPrefix(cfg.DotPath, "~") || !strings.HasSuffix(cfg.DotPath, ".ngmod") {
		t.Fatalf("dot path not expanded: %q", cfg.DotPath)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing telegram token", map[string]string{"NG_CLASSIFIER": "zeroshot"}, "NG_TELEGRAM_TOKEN"},
		{"missing discord token", map[string]string{"NG_PLATFORM": "discord", "NG_CLASSIFIER": "zeroshot"}, "NG_DISCORD_TOKEN"},
		{"unknown platform", map[string]string{"NG_PLATFORM": "irc"}, "unknown platform"},
		{"unknown store", map[string]string{"NG_TELEGRAM_TOKEN": "t", "NG_CLASSIFIER": "zeroshot", "NG_STORE": "etcd"}, "unknown store"},
		{"http without url", map[string]string{"NG_TELEGRAM_TOKEN": "t"}, "NG_CLASSIFIER_URL"},
		{"llm without key", map[string]string{"NG_TELEGRAM_TOKEN": "t", "NG_CLASSIFIER": "gemini"}, "NG_LLM_API_KEY"},
		{"threshold out of range", map[string]string{"NG_TELEGRAM_TOKEN": "t", "NG_CLASSIFIER": "zeroshot", "NG_SPAM_THRESHOLD": "1.5"}, "thresholds"},
		{"zero mute", map[string]string{"NG_TELEGRAM_TOKEN": "t", "NG_CLASSIFIER": "zeroshot", "NG_MUTE_DURATION": "0s"}, "mute duration"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadFrom(t, tt.env)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestModerationSettingsFromEnv(t *testing.T) {
	t.Parallel()

	cfg, err := loadFrom(t, map[string]string{
		"NG_TELEGRAM_TOKEN":       "t",
		"NG_CLASSIFIER":           "zeroshot",
		"NG_MIN_MESSAGE_INTERVAL": "500ms",
		"NG_MUTE_WARNING_COUNT":   "2",
		"NG_BAN_WARNING_COUNT":    "3",
		"NG_MUTE_DURATION":        "1m",
		"NG_TOXICITY_THRESHOLD":   "0.5",
		"NG_NOTICE_TTL":           "30s",
		"NG_RESTRICTION_GROUP":    "Quiet",
		"NG_BAN_REASON":           "bye",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	settings, err := cfg.ModerationSettings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.MinMessageInterval != 500*time.Millisecond || settings.MuteDuration != time.Minute || settings.NoticeTTL != 30*time.Second {
		t.Fatalf("unexpected durations %+v", settings)
	}
	if settings.GroupName != "Quiet" || settings.BanReason != "bye" || settings.Thresholds.Toxicity != 0.5 {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if settings.Ladder.MuteAt() != 2 || settings.Ladder.BanAt() != 3 {
		t.Fatalf("unexpected ladder %d/%d", settings.Ladder.MuteAt(), settings.Ladder.BanAt())
	}
	if step := settings.Ladder.At(1); step.Kind != moderation.ActionWarn {
		t.Fatalf("expected warning at 1, got %+v", step)
	}
}

func TestModerationSettingsLadderFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ladder.yaml")
	content := `mute_at: 3
ban_at: 4
warnings:
  1: "{{ .mention }}, first."
  2: "{{ .mention }}, last."
slow_down: "{{ .mention }}, easy."
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write ladder: %v", err)
	}
	cfg := Config{Moderation: Moderation{MuteWarningCount: 4, BanWarningCount: 5, MuteDuration: time.Minute, LadderFile: path}}
	settings, err := cfg.ModerationSettings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.Ladder.MuteAt() != 3 || settings.Ladder.BanAt() != 4 {
		t.Fatalf("file counts not applied: %d/%d", settings.Ladder.MuteAt(), settings.Ladder.BanAt())
	}
	if got := settings.Ladder.At(2).Notice; got != "{{ .mention }}, last." {
		t.Fatalf("unexpected notice %q", got)
	}
	if settings.SlowDownNotice != "{{ .mention }}, easy." {
		t.Fatalf("slow down notice not applied: %q", settings.SlowDownNotice)
	}
}

func TestLoadLadderFileRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ladder.yaml")
	if err := os.WriteFile(path, []byte("mute_after: 3\n"), 0o600); err != nil {
		t.Fatalf("write ladder: %v", err)
	}
	if _, err := LoadLadderFile(path); err == nil {
		t.Fatalf("expected strict parse error")
	}
}

func TestModerationSettingsInvalidLadder(t *testing.T) {
	t.Parallel()

	cfg := Config{Moderation: Moderation{MuteWarningCount: 5, BanWarningCount: 5}}
	if _, err := cfg.ModerationSettings(); err == nil {
		t.Fatalf("expected ladder error")
	}
}
