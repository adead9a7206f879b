package moderation

import (
	"strings"
	"testing"
)

func TestDefaultLadderTransitions(t *testing.T) {
	t.Parallel()

	ladder := DefaultLadder()
	tests := []struct {
		count  int
		kind   ActionKind
		notice string
	}{
		{count: 1, kind: ActionWarn, notice: "first warning"},
		{count: 2, kind: ActionWarn, notice: "second warning"},
		{count: 3, kind: ActionWarn, notice: "final warning"},
		{count: 4, kind: ActionMute, notice: "muted"},
		{count: 5, kind: ActionBan, notice: "banned"},
		{count: 6, kind: ActionNone},
		{count: 42, kind: ActionNone},
		{count: 0, kind: ActionNone},
	}

	for _, tt := range tests {
		step := ladder.At(tt.count)
		if step.Kind != tt.kind {
			t.Fatalf("count %d: got %s, want %s", tt.count, step.Kind, tt.kind)
		}
		if step.Count != tt.count {
			t.Fatalf("count %d: step carries count %d", tt.count, step.Count)
		}
		if tt.notice == "" && step.Notice != "" {
			t.Fatalf("count %d: unexpected notice %q", tt.count, step.Notice)
		}
		if !strings.Contains(step.Notice, tt.notice) {
			t.Fatalf("count %d: notice %q does not mention %q", tt.count, step.Notice, tt.notice)
		}
	}
}

func TestLadderNext(t *testing.T) {
	t.Parallel()

	ladder := DefaultLadder()
	next, step := ladder.Next(3)
	if next != 4 || step.Kind != ActionMute {
		t.Fatalf("Next(3) = %d, %s", next, step.Kind)
	}
	next, step = ladder.Next(0)
	if next != 1 || step.Kind != ActionWarn {
		t.Fatalf("Next(0) = %d, %s", next, step.Kind)
	}
}

func TestNewLadderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     LadderConfig
		wantErr bool
	}{
		{name: "defaults", cfg: LadderConfig{}},
		{name: "custom", cfg: LadderConfig{Warnings: map[int]string{1: "careful"}, MuteAt: 2, BanAt: 3}},
		{name: "ban before mute", cfg: LadderConfig{MuteAt: 5, BanAt: 4}, wantErr: true},
		{name: "ban equals mute", cfg: LadderConfig{MuteAt: 3, BanAt: 3}, wantErr: true},
		{name: "negative mute", cfg: LadderConfig{MuteAt: -1, BanAt: 2}, wantErr: true},
		{name: "warning at mute count", cfg: LadderConfig{Warnings: map[int]string{4: "late"}}, wantErr: true},
		{name: "warning at zero", cfg: LadderConfig{Warnings: map[int]string{0: "early"}}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewLadder(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLadder() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCustomLadder(t *testing.T) {
	t.Parallel()

	ladder, err := NewLadder(LadderConfig{
		Warnings:   map[int]string{1: "one", 3: "three"},
		MuteAt:     4,
		BanAt:      7,
		MuteNotice: "quiet",
	})
	if err != nil {
		t.Fatalf("new ladder: %v", err)
	}
	if got := ladder.WarningCounts(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("unexpected warning counts %v", got)
	}
	if step := ladder.At(2); step.Kind != ActionNone {
		t.Fatalf("count without notice should be a no-op, got %s", step.Kind)
	}
	if step := ladder.At(4); step.Notice != "quiet" {
		t.Fatalf("mute notice not overridden: %q", step.Notice)
	}
	if step := ladder.At(5); step.Kind != ActionNone {
		t.Fatalf("count between mute and ban should be a no-op, got %s", step.Kind)
	}
	if step := ladder.At(7); step.Kind != ActionBan || step.Notice != defaultBanNotice {
		t.Fatalf("unexpected ban step %#v", step)
	}
	if ladder.MuteAt() != 4 || ladder.BanAt() != 7 {
		t.Fatalf("unexpected thresholds %d/%d", ladder.MuteAt(), ladder.BanAt())
	}
}
