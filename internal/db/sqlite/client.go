package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/iamwavecut/ngmod/internal/db"
	"github.com/iamwavecut/ngmod/internal/moderation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
	now   func() time.Time
}

var (
	_ db.Client                    = (*sqliteClient)(nil)
	_ moderation.RestrictionLister = (*sqliteClient)(nil)
)

func NewSQLiteClient(ctx context.Context, dir, file string) (*sqliteClient, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create database dir")
	}
	dsn := filepath.Join(dir, file) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	dbx, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		_ = dbx.Close()
		return nil, errors.Wrap(err, "migrate up")
	}
	if n > 0 {
		log.WithField("object", "sqliteClient").Infof("applied %d migrations!", n)
	}

	return &sqliteClient{db: dbx, now: time.Now}, nil
}

func (s *sqliteClient) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteClient) Close() error {
	return s.db.Close()
}

func (s *sqliteClient) Get(ctx context.Context, key moderation.Key) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `SELECT warning_count FROM moderation_records WHERE guild_id = ? AND user_id = ?`, key.GuildID, key.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get warnings for %s: %w", key, err)
	}
	return count, nil
}

func (s *sqliteClient) RecordViolation(ctx context.Context, key moderation.Key) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO moderation_records (guild_id, user_id, warning_count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
		warning_count = warning_count + 1,
		updated_at = excluded.updated_at
		RETURNING warning_count
	`
	var count int
	if err := s.db.GetContext(ctx, &count, query, key.GuildID, key.UserID, s.now().UnixNano()); err != nil {
		return 0, fmt.Errorf("failed to record violation for %s: %w", key, err)
	}
	return count, nil
}

func (s *sqliteClient) Clear(ctx context.Context, key moderation.Key) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM moderation_records WHERE guild_id = ? AND user_id = ?`, key.GuildID, key.UserID)
	if err != nil {
		return fmt.Errorf("failed to clear record for %s: %w", key, err)
	}
	return nil
}

func (s *sqliteClient) SetRestriction(ctx context.Context, key moderation.Key, restriction moderation.Restriction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record := &db.ModerationRecord{
		GuildID:   key.GuildID,
		UserID:    key.UserID,
		UpdatedAt: s.now().UnixNano(),
	}
	record.SetRestriction(&restriction)

	query := `
		INSERT INTO moderation_records (guild_id, user_id, warning_count, restriction_id, restriction_group_id, restriction_applied_at, restriction_expires_at, updated_at)
		VALUES (:guild_id, :user_id, 0, :restriction_id, :restriction_group_id, :restriction_applied_at, :restriction_expires_at, :updated_at)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
		restriction_id = excluded.restriction_id,
		restriction_group_id = excluded.restriction_group_id,
		restriction_applied_at = excluded.restriction_applied_at,
		restriction_expires_at = excluded.restriction_expires_at,
		updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to set restriction for %s: %w", key, err)
	}
	return nil
}

func (s *sqliteClient) ClearRestriction(ctx context.Context, key moderation.Key, restrictionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		UPDATE moderation_records SET
		restriction_id = NULL,
		restriction_group_id = NULL,
		restriction_applied_at = NULL,
		restriction_expires_at = NULL,
		updated_at = ?
		WHERE guild_id = ? AND user_id = ? AND restriction_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, s.now().UnixNano(), key.GuildID, key.UserID, restrictionID); err != nil {
		return fmt.Errorf("failed to clear restriction for %s: %w", key, err)
	}
	return nil
}

func (s *sqliteClient) Restriction(ctx context.Context, key moderation.Key) (*moderation.Restriction, error) {
	record, err := s.record(ctx, key)
	if err != nil || record == nil {
		return nil, err
	}
	return record.Restriction(), nil
}

// ActiveRestrictions lists every stored restriction, soonest expiry first.
func (s *sqliteClient) ActiveRestrictions(ctx context.Context) ([]moderation.ActiveRestriction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var records []db.ModerationRecord
	err := s.db.SelectContext(ctx, &records, `SELECT * FROM moderation_records WHERE restriction_id IS NOT NULL ORDER BY restriction_expires_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	active := make([]moderation.ActiveRestriction, 0, len(records))
	for i := range records {
		active = append(active, moderation.ActiveRestriction{
			Key:         records[i].Key(),
			Restriction: *records[i].Restriction(),
		})
	}
	return active, nil
}

// Records lists every stored record of a guild.
func (s *sqliteClient) Records(ctx context.Context, guildID string) ([]db.ModerationRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var records []db.ModerationRecord
	err := s.db.SelectContext(ctx, &records, `SELECT * FROM moderation_records WHERE guild_id = ? ORDER BY user_id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of guild %s: %w", guildID, err)
	}
	return records, nil
}

func (s *sqliteClient) record(ctx context.Context, key moderation.Key) (*db.ModerationRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record := &db.ModerationRecord{}
	err := s.db.GetContext(ctx, record, `SELECT * FROM moderation_records WHERE guild_id = ? AND user_id = ?`, key.GuildID, key.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get record for %s: %w", key, err)
	}
	return record, nil
}
