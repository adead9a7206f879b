package moderation

import (
	"context"
)

// Platform is the chat platform as seen by the engine. Every call may fail
// independently; adapters wrap permission and missing-target failures with
// ErrActuationDenied.
type Platform interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// SendMessage posts text and returns the new message ID.
	SendMessage(ctx context.Context, channelID, text string) (string, error)
	// Mention renders a user reference usable inside SendMessage text.
	Mention(userID string) string
	// EnsureRestrictionGroup returns the guild's restriction group ID, creating
	// it with send and react denied on every channel when missing.
	EnsureRestrictionGroup(ctx context.Context, guildID, name string) (string, error)
	AddToGroup(ctx context.Context, guildID, userID, groupID string) error
	RemoveFromGroup(ctx context.Context, guildID, userID, groupID string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
}
