package db

import (
	"database/sql"
	"time"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

type (
	// ModerationRecord is the stored form of one user's escalation state.
	// Times are unix nanoseconds.
	ModerationRecord struct {
		GuildID              string         `db:"guild_id"`
		UserID               string         `db:"user_id"`
		WarningCount         int            `db:"warning_count"`
		RestrictionID        sql.NullString `db:"restriction_id"`
		RestrictionGroupID   sql.NullString `db:"restriction_group_id"`
		RestrictionAppliedAt sql.NullInt64  `db:"restriction_applied_at"`
		RestrictionExpiresAt sql.NullInt64  `db:"restriction_expires_at"`
		UpdatedAt            int64          `db:"updated_at"`
	}
)

func (r *ModerationRecord) Key() moderation.Key {
	return moderation.Key{GuildID: r.GuildID, UserID: r.UserID}
}

// Restriction returns the active restriction, nil when there is none.
func (r *ModerationRecord) Restriction() *moderation.Restriction {
	if !r.RestrictionID.Valid {
		return nil
	}
	return &moderation.Restriction{
		ID:        r.RestrictionID.String,
		GroupID:   r.RestrictionGroupID.String,
		AppliedAt: fromNanos(r.RestrictionAppliedAt.Int64),
		ExpiresAt: fromNanos(r.RestrictionExpiresAt.Int64),
	}
}

func (r *ModerationRecord) SetRestriction(restriction *moderation.Restriction) {
	if restriction == nil {
		r.RestrictionID = sql.NullString{}
		r.RestrictionGroupID = sql.NullString{}
		r.RestrictionAppliedAt = sql.NullInt64{}
		r.RestrictionExpiresAt = sql.NullInt64{}
		return
	}
	r.RestrictionID = sql.NullString{String: restriction.ID, Valid: true}
	r.RestrictionGroupID = sql.NullString{String: restriction.GroupID, Valid: true}
	r.RestrictionAppliedAt = sql.NullInt64{Int64: restriction.AppliedAt.UnixNano(), Valid: true}
	r.RestrictionExpiresAt = sql.NullInt64{Int64: restriction.ExpiresAt.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
