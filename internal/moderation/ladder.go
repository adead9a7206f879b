package moderation

import (
	"fmt"
	"sort"
)

type ActionKind string

const (
	ActionNone ActionKind = "none"
	ActionWarn ActionKind = "warn"
	ActionMute ActionKind = "mute"
	ActionBan  ActionKind = "ban"
)

const (
	DefaultMuteWarningCount = 4
	DefaultBanWarningCount  = 5

	defaultFirstWarning  = `{{ .mention }}, this is your first warning. Please keep the chat friendly and on topic.`
	defaultSecondWarning = `{{ .mention }}, this is your second warning.`
	defaultFinalWarning  = `{{ .mention }}, this is your third and final warning. The next violation gets you muted.`
	defaultMuteNotice    = `{{ .mention }} has been muted for {{ .duration }}.`
	defaultBanNotice     = `{{ .mention }} has been banned for repeated violations.`
	defaultSlowDown      = `{{ .mention }}, you are sending messages too fast. Please slow down.`
)

// Step is what the ladder prescribes for a given violation count.
type Step struct {
	Kind   ActionKind
	Count  int
	Notice string
}

// Ladder maps the warning count reached after a violation to an action.
type Ladder struct {
	warnings   map[int]string
	muteAt     int
	banAt      int
	muteNotice string
	banNotice  string
}

// LadderConfig describes a ladder. Empty notices fall back to defaults.
type LadderConfig struct {
	Warnings   map[int]string
	MuteAt     int
	BanAt      int
	MuteNotice string
	BanNotice  string
}

func DefaultLadder() Ladder {
	l, _ := NewLadder(LadderConfig{})
	return l
}

func NewLadder(cfg LadderConfig) (Ladder, error) {
	if cfg.MuteAt == 0 {
		cfg.MuteAt = DefaultMuteWarningCount
	}
	if cfg.BanAt == 0 {
		cfg.BanAt = DefaultBanWarningCount
	}
	if cfg.MuteAt < 1 || cfg.BanAt <= cfg.MuteAt {
		return Ladder{}, fmt.Errorf("invalid ladder: mute at %d, ban at %d", cfg.MuteAt, cfg.BanAt)
	}

	warnings := map[int]string{}
	if len(cfg.Warnings) == 0 {
		defaults := []string{defaultFirstWarning, defaultSecondWarning, defaultFinalWarning}
		for i := 1; i < cfg.MuteAt && i <= len(defaults); i++ {
			warnings[i] = defaults[i-1]
		}
	}
	for count, notice := range cfg.Warnings {
		if count < 1 || count >= cfg.MuteAt {
			return Ladder{}, fmt.Errorf("invalid ladder: warning at %d is outside 1..%d", count, cfg.MuteAt-1)
		}
		warnings[count] = notice
	}

	l := Ladder{
		warnings:   warnings,
		muteAt:     cfg.MuteAt,
		banAt:      cfg.BanAt,
		muteNotice: cfg.MuteNotice,
		banNotice:  cfg.BanNotice,
	}
	if l.muteNotice == "" {
		l.muteNotice = defaultMuteNotice
	}
	if l.banNotice == "" {
		l.banNotice = defaultBanNotice
	}
	return l, nil
}

// At returns the step for the count reached after incrementing.
// Counts past the ban threshold yield ActionNone.
func (l Ladder) At(count int) Step {
	switch {
	case count == l.banAt:
		return Step{Kind: ActionBan, Count: count, Notice: l.banNotice}
	case count == l.muteAt:
		return Step{Kind: ActionMute, Count: count, Notice: l.muteNotice}
	case count > 0 && count < l.muteAt:
		if notice, ok := l.warnings[count]; ok {
			return Step{Kind: ActionWarn, Count: count, Notice: notice}
		}
	}
	return Step{Kind: ActionNone, Count: count}
}

// Next is the transition function: from count violations so far, one more
// violation yields the new count and its step.
func (l Ladder) Next(count int) (int, Step) {
	next := count + 1
	return next, l.At(next)
}

func (l Ladder) MuteAt() int { return l.muteAt }
func (l Ladder) BanAt() int  { return l.banAt }

// WarningCounts lists the counts that carry a warning notice, ascending.
func (l Ladder) WarningCounts() []int {
	counts := make([]int, 0, len(l.warnings))
	for c := range l.warnings {
		counts = append(counts, c)
	}
	sort.Ints(counts)
	return counts
}
