package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

// LadderFile is the YAML override for the escalation ladder and its notices.
//
//	mute_at: 4
//	ban_at: 5
//	warnings:
//	  1: "{{ .mention }}, please keep it civil."
//	mute_notice: "{{ .mention }} is muted for {{ .duration }}."
type LadderFile struct {
	MuteAt     int            `yaml:"mute_at"`
	BanAt      int            `yaml:"ban_at"`
	Warnings   map[int]string `yaml:"warnings"`
	MuteNotice string         `yaml:"mute_notice"`
	BanNotice  string         `yaml:"ban_notice"`
	SlowDown   string         `yaml:"slow_down"`
}

func LoadLadderFile(path string) (*LadderFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ladder file: %w", err)
	}
	file := &LadderFile{}
	if err := yaml.UnmarshalStrict(raw, file); err != nil {
		return nil, fmt.Errorf("parse ladder file %s: %w", path, err)
	}
	return file, nil
}

// Apply overlays the non-empty file values onto base.
func (f *LadderFile) Apply(base moderation.LadderConfig) moderation.LadderConfig {
	if f.MuteAt != 0 {
		base.MuteAt = f.MuteAt
	}
	if f.BanAt != 0 {
		base.BanAt = f.BanAt
	}
	if len(f.Warnings) > 0 {
		base.Warnings = f.Warnings
	}
	if f.MuteNotice != "" {
		base.MuteNotice = f.MuteNotice
	}
	if f.BanNotice != "" {
		base.BanNotice = f.BanNotice
	}
	return base
}
