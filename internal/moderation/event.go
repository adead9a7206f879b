package moderation

import (
	"time"
)

// Event is an inbound chat message as delivered by a platform adapter.
type Event struct {
	AuthorID  string
	IsBot     bool
	Content   string
	GuildID   string
	ChannelID string
	MessageID string
	// CreatedAt is the platform timestamp. Telegram reports it in whole
	// seconds, so it only serves the outdated check.
	CreatedAt time.Time
	// ReceivedAt is the local receive time and drives rate limiting.
	// Zero means the orchestrator's clock at handling time.
	ReceivedAt time.Time
}

// Key identifies a user within a guild. All moderation state is scoped by it.
type Key struct {
	GuildID string
	UserID  string
}

func (e Event) Key() Key {
	return Key{GuildID: e.GuildID, UserID: e.AuthorID}
}

func (k Key) String() string {
	return k.GuildID + "/" + k.UserID
}
