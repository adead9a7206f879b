package moderation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMuteDuration         = 15 * time.Minute
	DefaultRestrictionGroupName = "Muted"
	DefaultBanReason            = "Repeated content violations (automated moderation)"
)

type ActuatorConfig struct {
	MuteDuration time.Duration
	GroupName    string
	BanReason    string
}

// Actuation describes what Apply did.
type Actuation struct {
	Kind        ActionKind
	Applied     bool
	Restriction *Restriction
	Err         error
}

// Actuator applies ladder steps against the platform and owns the timed
// reversal of temporary restrictions.
type Actuator struct {
	platform  Platform
	store     StateStore
	scheduler *Scheduler
	config    ActuatorConfig
	now       func() time.Time

	groups   singleflight.Group
	groupsMu sync.RWMutex
	groupIDs map[string]string

	logger *log.Entry
}

func NewActuator(platform Platform, store StateStore, scheduler *Scheduler, config ActuatorConfig, now func() time.Time) *Actuator {
	if config.MuteDuration <= 0 {
		config.MuteDuration = DefaultMuteDuration
	}
	if config.GroupName == "" {
		config.GroupName = DefaultRestrictionGroupName
	}
	if config.BanReason == "" {
		config.BanReason = DefaultBanReason
	}
	if now == nil {
		now = time.Now
	}
	return &Actuator{
		platform:  platform,
		store:     store,
		scheduler: scheduler,
		config:    config,
		now:       now,
		groupIDs:  map[string]string{},
		logger:    log.WithField("object", "Actuator"),
	}
}

// Apply performs the platform side of step for key. Failures are reported in
// the returned Actuation and never retried.
func (a *Actuator) Apply(ctx context.Context, key Key, step Step) Actuation {
	var result Actuation
	switch step.Kind {
	case ActionMute:
		result = a.mute(ctx, key)
	case ActionBan:
		result = a.ban(ctx, key)
	case ActionWarn:
		result = Actuation{Kind: ActionWarn, Applied: true}
	default:
		return Actuation{Kind: ActionNone}
	}
	trace.SpanFromContext(ctx).AddEvent("actuation", trace.WithAttributes(
		attribute.String("kind", string(result.Kind)),
		attribute.Bool("applied", result.Applied),
	))
	return result
}

func (a *Actuator) mute(ctx context.Context, key Key) Actuation {
	entry := a.logger.WithFields(log.Fields{"method": "mute", "guild_id": key.GuildID, "user_id": key.UserID})
	result := Actuation{Kind: ActionMute}

	groupID, err := a.RestrictionGroup(ctx, key.GuildID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to get restriction group")
		result.Err = err
		return result
	}

	if err := a.platform.AddToGroup(ctx, key.GuildID, key.UserID, groupID); err != nil {
		entry.WithField("error", err.Error()).Error("failed to add user to restriction group")
		result.Err = fmt.Errorf("add to restriction group: %w", err)
		return result
	}

	now := a.now()
	restriction := Restriction{
		ID:        uuid.New(),
		GroupID:   groupID,
		AppliedAt: now,
		ExpiresAt: now.Add(a.config.MuteDuration),
	}
	if err := a.store.SetRestriction(ctx, key, restriction); err != nil {
		entry.WithField("error", err.Error()).Error("failed to store restriction")
	}
	a.scheduleReversal(key, restriction)

	entry.WithField("expires_at", restriction.ExpiresAt).Info("user restricted")
	result.Applied = true
	result.Restriction = &restriction
	return result
}

func (a *Actuator) ban(ctx context.Context, key Key) Actuation {
	entry := a.logger.WithFields(log.Fields{"method": "ban", "guild_id": key.GuildID, "user_id": key.UserID})
	result := Actuation{Kind: ActionBan}

	if err := a.platform.Ban(ctx, key.GuildID, key.UserID, a.config.BanReason); err != nil {
		entry.WithField("error", err.Error()).Error("failed to ban user")
		result.Err = fmt.Errorf("ban: %w", err)
	} else {
		result.Applied = true
		entry.Info("user banned")
	}

	// The record goes away even when the ban was refused, so the ladder never
	// sticks past its last step.
	if err := a.store.Clear(ctx, key); err != nil {
		entry.WithField("error", err.Error()).Error("failed to clear moderation record")
		if result.Err == nil {
			result.Err = fmt.Errorf("clear record: %w", err)
		}
	}
	return result
}

// RestrictionGroup returns the guild's group ID, creating it at most once per
// guild even under concurrent first mutes.
func (a *Actuator) RestrictionGroup(ctx context.Context, guildID string) (string, error) {
	a.groupsMu.RLock()
	id, ok := a.groupIDs[guildID]
	a.groupsMu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := a.groups.Do(guildID, func() (interface{}, error) {
		a.groupsMu.RLock()
		id, ok := a.groupIDs[guildID]
		a.groupsMu.RUnlock()
		if ok {
			return id, nil
		}

		id, err := a.platform.EnsureRestrictionGroup(ctx, guildID, a.config.GroupName)
		if err != nil {
			return "", fmt.Errorf("ensure restriction group: %w", err)
		}
		a.groupsMu.Lock()
		a.groupIDs[guildID] = id
		a.groupsMu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Actuator) scheduleReversal(key Key, restriction Restriction) {
	taskKey := TaskKey{User: key, ID: restriction.ID}
	scheduled := a.scheduler.Schedule(taskKey, restriction.ExpiresAt, func(ctx context.Context) {
		a.revert(ctx, key, restriction)
	})
	if !scheduled {
		a.logger.WithFields(log.Fields{
			"guild_id":       key.GuildID,
			"user_id":        key.UserID,
			"restriction_id": restriction.ID,
		}).Warn("scheduler stopped, reversal not scheduled")
	}
}

// ResumeReversals schedules the reversal of every restriction the store still
// holds. Expired ones are lifted right away. Stores without listing support
// are skipped.
func (a *Actuator) ResumeReversals(ctx context.Context) (int, error) {
	lister, ok := a.store.(RestrictionLister)
	if !ok {
		return 0, nil
	}
	active, err := lister.ActiveRestrictions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active restrictions: %w", err)
	}
	for _, ar := range active {
		a.scheduleReversal(ar.Key, ar.Restriction)
	}
	return len(active), nil
}

// revert lifts restriction. Membership removal and the record update happen
// together: the record is cleared only once the platform confirmed removal.
func (a *Actuator) revert(ctx context.Context, key Key, restriction Restriction) {
	entry := a.logger.WithFields(log.Fields{
		"method":         "revert",
		"guild_id":       key.GuildID,
		"user_id":        key.UserID,
		"restriction_id": restriction.ID,
	})

	if err := a.platform.RemoveFromGroup(ctx, key.GuildID, key.UserID, restriction.GroupID); err != nil {
		entry.WithField("error", err.Error()).Error("failed to remove user from restriction group")
		return
	}
	if err := a.store.ClearRestriction(ctx, key, restriction.ID); err != nil {
		entry.WithField("error", err.Error()).Error("failed to clear restriction")
	}
	entry.Info("restriction lifted")
}

// CancelReversal stops a pending reversal without touching the platform.
// Nothing in the message pipeline calls it; it exists for manual overrides.
func (a *Actuator) CancelReversal(key Key, restrictionID string) bool {
	return a.scheduler.Cancel(TaskKey{User: key, ID: restrictionID})
}

// PendingReversals lists scheduled reversals with their due time.
func (a *Actuator) PendingReversals() map[TaskKey]time.Time {
	pending := a.scheduler.Pending()
	for key := range pending {
		if strings.HasPrefix(key.ID, noticeTaskPrefix) {
			delete(pending, key)
		}
	}
	return pending
}

func (a *Actuator) MuteDuration() time.Duration {
	return a.config.MuteDuration
}
