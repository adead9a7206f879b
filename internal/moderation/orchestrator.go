package moderation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Stage string

const (
	StageInit        Stage = "init"
	StageAuthorCheck Stage = "author_check"
	StageRateLimit   Stage = "rate_limit"
	StageClassify    Stage = "classify"
	StageEscalate    Stage = "escalate"

	noticeTaskPrefix   = "notice:"
	limiterSweepPeriod = time.Minute
	tracerName         = "github.com/iamwavecut/ngmod/internal/moderation"
)

// Settings are the user-tunable knobs of the engine.
type Settings struct {
	MinMessageInterval time.Duration
	Thresholds         Thresholds
	Ladder             Ladder
	MuteDuration       time.Duration
	GroupName          string
	BanReason          string
	SlowDownNotice     string
	// NoticeTTL deletes bot notices after the given time. Zero keeps them.
	NoticeTTL time.Duration
	// MaxEventAge skips events older than this. Zero disables the check.
	MaxEventAge time.Duration
	// SelfID is the bot's own user ID on the platform.
	SelfID string
}

func DefaultSettings() Settings {
	return Settings{
		MinMessageInterval: DefaultMinMessageInterval,
		Thresholds:         DefaultThresholds(),
		Ladder:             DefaultLadder(),
		MuteDuration:       DefaultMuteDuration,
		GroupName:          DefaultRestrictionGroupName,
		BanReason:          DefaultBanReason,
		SlowDownNotice:     defaultSlowDown,
		MaxEventAge:        5 * time.Minute,
	}
}

type Dependencies struct {
	Platform   Platform
	Classifier Classifier
	Store      StateStore
	// Optional.
	Recorder  Recorder
	AfterFunc AfterFunc
	Now       func() time.Time
}

// Result reports how far a message travelled through the pipeline and what happened to it.
type Result struct {
	Stage          Stage
	Skipped        bool
	SkipReason     string
	Admitted       bool
	Scores         *Scores
	ClassifierErr  error
	Violation      bool
	MessageDeleted bool
	Warnings       int
	Step           Step
	Actuation      Actuation
	NoticeID       string
}

// Orchestrator runs the per-message moderation pipeline.
type Orchestrator struct {
	settings   Settings
	platform   Platform
	classifier Classifier
	store      StateStore
	limiter    *RateLimiter
	scheduler  *Scheduler
	actuator   *Actuator
	locks      *KeyedMutex
	recorder   Recorder
	now        func() time.Time
	logger     *log.Entry

	mu          sync.Mutex
	started     bool
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

func NewOrchestrator(settings Settings, deps Dependencies) *Orchestrator {
	defaults := DefaultSettings()
	if settings.Ladder.banAt == 0 {
		settings.Ladder = defaults.Ladder
	}
	if settings.MinMessageInterval < 0 {
		settings.MinMessageInterval = 0
	}
	if settings.SlowDownNotice == "" {
		settings.SlowDownNotice = defaults.SlowDownNotice
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	store := deps.Store
	if store == nil {
		store = NewMemoryStore()
	}

	scheduler := NewScheduler(deps.AfterFunc, now)
	actuator := NewActuator(deps.Platform, store, scheduler, ActuatorConfig{
		MuteDuration: settings.MuteDuration,
		GroupName:    settings.GroupName,
		BanReason:    settings.BanReason,
	}, now)

	return &Orchestrator{
		settings:   settings,
		platform:   deps.Platform,
		classifier: deps.Classifier,
		store:      store,
		limiter:    NewRateLimiter(settings.MinMessageInterval),
		scheduler:  scheduler,
		actuator:   actuator,
		locks:      NewKeyedMutex(),
		recorder:   recorder,
		now:        now,
		logger:     log.WithField("object", "Orchestrator"),
	}
}

func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	if err := o.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	resumed, err := o.actuator.ResumeReversals(ctx)
	if err != nil {
		_ = o.scheduler.Stop(ctx)
		return err
	}
	if resumed > 0 {
		o.logger.WithField("restrictions", resumed).Info("resumed pending reversals")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	o.stopSweeper = cancel
	o.sweeperDone = make(chan struct{})
	go o.sweepLimiter(sweepCtx, o.sweeperDone)

	o.started = true
	return nil
}

func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel, done := o.stopSweeper, o.sweeperDone
	o.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.scheduler.Stop(ctx)
}

func (o *Orchestrator) sweepLimiter(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(limiterSweepPeriod)
	defer ticker.Stop()

	retention := o.limiter.MinInterval() * 10
	if retention < limiterSweepPeriod {
		retention = limiterSweepPeriod
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.limiter.Sweep(o.now(), retention); n > 0 {
				o.logger.WithField("dropped", n).Trace("swept idle rate limiter entries")
			}
		}
	}
}

// Handle runs one inbound message through the pipeline. The returned error is
// non-nil only when escalation state could not be read or written.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) (*Result, error) {
	started := o.now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "moderation.Handle")
	span.SetAttributes(
		attribute.String("guild_id", ev.GuildID),
		attribute.String("user_id", ev.AuthorID),
	)
	defer span.End()

	result, err := o.handle(ctx, ev)
	span.SetAttributes(attribute.String("stage", string(result.Stage)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.recorder.Pipeline(result.Stage, o.now().Sub(started))
	return result, err
}

func (o *Orchestrator) handle(ctx context.Context, ev Event) (*Result, error) {
	result := &Result{Stage: StageInit}
	entry := o.logger.WithFields(log.Fields{
		"guild_id":   ev.GuildID,
		"channel_id": ev.ChannelID,
		"user_id":    ev.AuthorID,
	})

	select {
	case <-ctx.Done():
		return result, ctx.Err()
	default:
	}

	now := o.now()
	if o.settings.MaxEventAge > 0 && !ev.CreatedAt.IsZero() && now.Sub(ev.CreatedAt) > o.settings.MaxEventAge {
		result.Skipped = true
		result.SkipReason = "Outdated event"
		return result, nil
	}

	result.Stage = StageAuthorCheck
	if ev.IsBot || (o.settings.SelfID != "" && ev.AuthorID == o.settings.SelfID) {
		result.Skipped = true
		result.SkipReason = "Author is a bot"
		return result, nil
	}
	key := ev.Key()

	result.Stage = StageRateLimit
	at := ev.ReceivedAt
	if at.IsZero() {
		at = now
	}
	if !o.limiter.Admit(key, at) {
		o.recorder.RateLimited()
		entry.Debug("message rate limited")
		result.Skipped = true
		result.SkipReason = "Rate limited"
		result.MessageDeleted = o.deleteMessage(ctx, ev, entry)
		result.NoticeID = o.notify(ctx, ev, o.settings.SlowDownNotice, nil)
		return result, nil
	}
	result.Admitted = true

	result.Stage = StageClassify
	outcome := o.classifier.Classify(ctx, ev.Content)
	if !outcome.OK() {
		// Fail open: an unavailable classifier lets the message through untouched.
		o.recorder.Classified(ClassifiedError)
		entry.WithField("error", outcome.Err.Error()).Warn("classifier unavailable, message passes")
		result.ClassifierErr = outcome.Err
		return result, nil
	}
	scores := outcome.Scores
	result.Scores = &scores
	result.Violation = o.settings.Thresholds.Violates(scores)
	if !result.Violation {
		o.recorder.Classified(ClassifiedClean)
		return result, nil
	}
	o.recorder.Classified(ClassifiedViolation)
	entry = entry.WithFields(log.Fields{"toxicity": scores.Toxicity, "spam": scores.Spam})

	result.Stage = StageEscalate
	result.MessageDeleted = o.deleteMessage(ctx, ev, entry)

	unlock := o.locks.Lock(key)
	count, err := o.store.RecordViolation(ctx, key)
	if err != nil {
		unlock()
		entry.WithField("error", err.Error()).Error("failed to record violation")
		return result, fmt.Errorf("record violation: %w", err)
	}
	step := o.settings.Ladder.At(count)
	actuation := o.actuator.Apply(ctx, key, step)
	unlock()

	result.Warnings = count
	result.Step = step
	result.Actuation = actuation
	if step.Kind != ActionNone {
		o.recorder.Action(step.Kind, actuation.Applied)
	}
	entry.WithFields(log.Fields{
		"warnings": count,
		"action":   step.Kind,
		"applied":  actuation.Applied,
	}).Info("violation escalated")

	// The notice goes out even when the platform refused the action.
	if step.Notice != "" {
		result.NoticeID = o.notify(ctx, ev, step.Notice, map[string]any{
			"count":    count,
			"duration": formatDuration(o.actuator.MuteDuration()),
		})
	}
	return result, nil
}

func (o *Orchestrator) deleteMessage(ctx context.Context, ev Event, entry *log.Entry) bool {
	if ev.MessageID == "" {
		return false
	}
	if err := o.platform.DeleteMessage(ctx, ev.ChannelID, ev.MessageID); err != nil {
		entry.WithField("error", err.Error()).Error("failed to delete message")
		return false
	}
	return true
}

func (o *Orchestrator) notify(ctx context.Context, ev Event, tpl string, vars map[string]any) string {
	data := map[string]any{"mention": o.platform.Mention(ev.AuthorID)}
	for k, v := range vars {
		data[k] = v
	}
	text := tool.ExecTemplate(tpl, data)
	if strings.TrimSpace(text) == "" {
		return ""
	}

	id, err := o.platform.SendMessage(ctx, ev.ChannelID, text)
	if err != nil {
		o.logger.WithField("error", err.Error()).WithField("channel_id", ev.ChannelID).Error("failed to send notice")
		return ""
	}
	if o.settings.NoticeTTL > 0 && id != "" {
		channelID := ev.ChannelID
		scheduled := o.scheduler.Schedule(TaskKey{User: ev.Key(), ID: noticeTaskPrefix + id}, o.now().Add(o.settings.NoticeTTL), func(runCtx context.Context) {
			if err := o.platform.DeleteMessage(runCtx, channelID, id); err != nil {
				o.logger.WithField("error", err.Error()).Debug("failed to delete notice")
			}
		})
		if !scheduled {
			o.logger.WithField("notice_id", id).Debug("scheduler stopped, notice kept")
		}
	}
	return id
}

func (o *Orchestrator) Actuator() *Actuator {
	return o.actuator
}

func (o *Orchestrator) Limiter() *RateLimiter {
	return o.limiter
}

func (o *Orchestrator) Store() StateStore {
	return o.store
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
