package redisstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iamwavecut/ngmod/internal/db"
	"github.com/iamwavecut/ngmod/internal/moderation"
)

const DefaultPrefix = "ngmod/"

const (
	fieldWarnings   = "warnings"
	fieldID         = "restriction_id"
	fieldGroupID    = "restriction_group_id"
	fieldAppliedAt  = "restriction_applied_at"
	fieldExpiresAt  = "restriction_expires_at"
	recordKeyFormat = "record/"
)

// clearRestriction drops the restriction fields only when the stored id matches.
var clearRestriction = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1], ARGV[3], ARGV[4], ARGV[5])
end
return 0
`)

// redisClient keeps one hash per (guild, user).
type redisClient struct {
	client *redis.Client
	prefix string
	// Records without activity expire after ttl. Zero keeps them forever.
	ttl time.Duration
}

var (
	_ db.Client                    = (*redisClient)(nil)
	_ moderation.RestrictionLister = (*redisClient)(nil)
)

func NewRedisClient(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*redisClient, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return newRedisClient(rdb, prefix, ttl), nil
}

func newRedisClient(rdb *redis.Client, prefix string, ttl time.Duration) *redisClient {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &redisClient{client: rdb, prefix: prefix, ttl: ttl}
}

func (c *redisClient) key(key moderation.Key) string {
	return c.prefix + recordKeyFormat + key.GuildID + "/" + key.UserID
}

func (c *redisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisClient) Close() error {
	return c.client.Close()
}

func (c *redisClient) Get(ctx context.Context, key moderation.Key) (int, error) {
	n, err := c.client.HGet(ctx, c.key(key), fieldWarnings).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "get warnings for %s", key)
	}
	return n, nil
}

func (c *redisClient) RecordViolation(ctx context.Context, key moderation.Key) (int, error) {
	k := c.key(key)
	multi := c.client.TxPipeline()
	incr := multi.HIncrBy(ctx, k, fieldWarnings, 1)
	if c.ttl > 0 {
		multi.Expire(ctx, k, c.ttl)
	}
	if _, err := multi.Exec(ctx); err != nil {
		return 0, errors.Wrapf(err, "record violation for %s", key)
	}
	return int(incr.Val()), nil
}

func (c *redisClient) Clear(ctx context.Context, key moderation.Key) error {
	return errors.Wrapf(c.client.Del(ctx, c.key(key)).Err(), "clear record for %s", key)
}

func (c *redisClient) SetRestriction(ctx context.Context, key moderation.Key, restriction moderation.Restriction) error {
	k := c.key(key)
	multi := c.client.TxPipeline()
	multi.HSetNX(ctx, k, fieldWarnings, 0)
	multi.HSet(ctx, k,
		fieldID, restriction.ID,
		fieldGroupID, restriction.GroupID,
		fieldAppliedAt, restriction.AppliedAt.UnixNano(),
		fieldExpiresAt, restriction.ExpiresAt.UnixNano(),
	)
	if c.ttl > 0 {
		multi.Expire(ctx, k, c.ttl)
	}
	_, err := multi.Exec(ctx)
	return errors.Wrapf(err, "set restriction for %s", key)
}

func (c *redisClient) ClearRestriction(ctx context.Context, key moderation.Key, restrictionID string) error {
	err := clearRestriction.Run(ctx, c.client, []string{c.key(key)},
		fieldID, restrictionID, fieldGroupID, fieldAppliedAt, fieldExpiresAt,
	).Err()
	if err == redis.Nil {
		err = nil
	}
	return errors.Wrapf(err, "clear restriction for %s", key)
}

func (c *redisClient) Restriction(ctx context.Context, key moderation.Key) (*moderation.Restriction, error) {
	values, err := c.client.HGetAll(ctx, c.key(key)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get restriction for %s", key)
	}
	return parseRestriction(values)
}

// ActiveRestrictions scans every record hash and returns those holding a
// restriction, soonest expiry first.
func (c *redisClient) ActiveRestrictions(ctx context.Context) ([]moderation.ActiveRestriction, error) {
	var active []moderation.ActiveRestriction
	iter := c.client.Scan(ctx, 0, c.prefix+recordKeyFormat+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		key, ok := c.parseKey(k)
		if !ok {
			continue
		}
		values, err := c.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "get restriction for %s", key)
		}
		restriction, err := parseRestriction(values)
		if err != nil {
			return nil, errors.Wrapf(err, "parse restriction for %s", key)
		}
		if restriction == nil {
			continue
		}
		active = append(active, moderation.ActiveRestriction{Key: key, Restriction: *restriction})
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan records")
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Restriction.ExpiresAt.Before(active[j].Restriction.ExpiresAt)
	})
	return active, nil
}

func (c *redisClient) parseKey(k string) (moderation.Key, bool) {
	rest, ok := strings.CutPrefix(k, c.prefix+recordKeyFormat)
	if !ok {
		return moderation.Key{}, false
	}
	guild, user, ok := strings.Cut(rest, "/")
	if !ok || guild == "" || user == "" {
		return moderation.Key{}, false
	}
	return moderation.Key{GuildID: guild, UserID: user}, true
}

func parseRestriction(values map[string]string) (*moderation.Restriction, error) {
	id, ok := values[fieldID]
	if !ok || id == "" {
		return nil, nil
	}
	applied, err := strconv.ParseInt(values[fieldAppliedAt], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse applied_at")
	}
	expires, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse expires_at")
	}
	return &moderation.Restriction{
		ID:        id,
		GroupID:   values[fieldGroupID],
		AppliedAt: time.Unix(0, applied).UTC(),
		ExpiresAt: time.Unix(0, expires).UTC(),
	}, nil
}
