package db

import (
	"context"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

// Client is a persistent moderation state backend.
type Client interface {
	moderation.StateStore
	Ping(ctx context.Context) error
	Close() error
}
