package moderation

import (
	"context"
	"sync"
	"time"
)

// Restriction is an active temporary membership in the guild's restriction group.
type Restriction struct {
	ID        string
	GroupID   string
	AppliedAt time.Time
	ExpiresAt time.Time
}

// StateStore holds per-user escalation state. Every method must be
// linearizable per key; calls for different keys must not wait on each other.
type StateStore interface {
	Get(ctx context.Context, key Key) (int, error)
	RecordViolation(ctx context.Context, key Key) (int, error)
	Clear(ctx context.Context, key Key) error
	SetRestriction(ctx context.Context, key Key, restriction Restriction) error
	// ClearRestriction drops the restriction only if its ID matches restrictionID.
	ClearRestriction(ctx context.Context, key Key, restrictionID string) error
	Restriction(ctx context.Context, key Key) (*Restriction, error)
}

// ActiveRestriction is a stored restriction together with its owner.
type ActiveRestriction struct {
	Key         Key
	Restriction Restriction
}

// RestrictionLister is implemented by stores that can enumerate every active
// restriction, so pending reversals survive a restart.
type RestrictionLister interface {
	ActiveRestrictions(ctx context.Context) ([]ActiveRestriction, error)
}

type memoryRecord struct {
	mu          sync.Mutex
	deleted     bool
	warnings    int
	restriction *Restriction
}

// MemoryStore is a process-local StateStore.
type MemoryStore struct {
	records sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (int, error) {
	v, ok := s.records.Load(key)
	if !ok {
		return 0, nil
	}
	rec := v.(*memoryRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return 0, nil
	}
	return rec.warnings, nil
}

func (s *MemoryStore) RecordViolation(ctx context.Context, key Key) (int, error) {
	var count int
	err := s.update(ctx, key, func(rec *memoryRecord) {
		rec.warnings++
		count = rec.warnings
	})
	return count, err
}

func (s *MemoryStore) Clear(_ context.Context, key Key) error {
	v, ok := s.records.Load(key)
	if !ok {
		return nil
	}
	rec := v.(*memoryRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.deleted {
		rec.deleted = true
		s.records.CompareAndDelete(key, rec)
	}
	return nil
}

func (s *MemoryStore) SetRestriction(ctx context.Context, key Key, restriction Restriction) error {
	return s.update(ctx, key, func(rec *memoryRecord) {
		r := restriction
		rec.restriction = &r
	})
}

func (s *MemoryStore) ClearRestriction(_ context.Context, key Key, restrictionID string) error {
	v, ok := s.records.Load(key)
	if !ok {
		return nil
	}
	rec := v.(*memoryRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.deleted && rec.restriction != nil && rec.restriction.ID == restrictionID {
		rec.restriction = nil
	}
	return nil
}

func (s *MemoryStore) Restriction(_ context.Context, key Key) (*Restriction, error) {
	v, ok := s.records.Load(key)
	if !ok {
		return nil, nil
	}
	rec := v.(*memoryRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted || rec.restriction == nil {
		return nil, nil
	}
	r := *rec.restriction
	return &r, nil
}

func (s *MemoryStore) ActiveRestrictions(ctx context.Context) ([]ActiveRestriction, error) {
	var active []ActiveRestriction
	s.records.Range(func(k, v any) bool {
		rec := v.(*memoryRecord)
		rec.mu.Lock()
		if !rec.deleted && rec.restriction != nil {
			active = append(active, ActiveRestriction{Key: k.(Key), Restriction: *rec.restriction})
		}
		rec.mu.Unlock()
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return active, nil
}

// update applies fn to the live record for key, creating it when absent.
// A record deleted concurrently is never resurrected; a fresh one is created instead.
func (s *MemoryStore) update(ctx context.Context, key Key, fn func(rec *memoryRecord)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, _ := s.records.LoadOrStore(key, &memoryRecord{})
		rec := v.(*memoryRecord)
		rec.mu.Lock()
		if rec.deleted {
			rec.mu.Unlock()
			continue
		}
		fn(rec)
		rec.mu.Unlock()
		return nil
	}
}
