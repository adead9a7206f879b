package moderation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type sentMessage struct {
	channelID string
	text      string
}

type fakePlatform struct {
	mu sync.Mutex

	nextID      int
	deleted     []string
	sent        []sentMessage
	ensureCalls map[string]int
	members     map[string]map[string]string
	removed     []string
	bans        []string
	banReasons  []string
	ensureDelay time.Duration
	deleteErr   error
	ensureErr   error
	addErr      error
	removeErr   error
	banErr      error
	sendErr     error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		ensureCalls: map[string]int{},
		members:     map[string]map[string]string{},
	}
}

func (p *fakePlatform) DeleteMessage(_ context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, channelID+":"+messageID)
	return nil
}

func (p *fakePlatform) SendMessage(_ context.Context, channelID, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.nextID++
	p.sent = append(p.sent, sentMessage{channelID: channelID, text: text})
	return fmt.Sprintf("notice-%d", p.nextID), nil
}

func (p *fakePlatform) Mention(userID string) string {
	return "<@" + userID + ">"
}

func (p *fakePlatform) EnsureRestrictionGroup(_ context.Context, guildID, name string) (string, error) {
	if p.ensureDelay > 0 {
		time.Sleep(p.ensureDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureCalls[guildID]++
	if p.ensureErr != nil {
		return "", p.ensureErr
	}
	return guildID + ":" + name, nil
}

func (p *fakePlatform) AddToGroup(_ context.Context, guildID, userID, groupID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addErr != nil {
		return p.addErr
	}
	if p.members[guildID] == nil {
		p.members[guildID] = map[string]string{}
	}
	p.members[guildID][userID] = groupID
	return nil
}

func (p *fakePlatform) RemoveFromGroup(_ context.Context, guildID, userID, groupID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeErr != nil {
		return p.removeErr
	}
	if p.members[guildID][userID] == groupID {
		delete(p.members[guildID], userID)
	}
	p.removed = append(p.removed, guildID+":"+userID)
	return nil
}

func (p *fakePlatform) Ban(_ context.Context, guildID, userID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.banErr != nil {
		return p.banErr
	}
	p.bans = append(p.bans, guildID+":"+userID)
	p.banReasons = append(p.banReasons, reason)
	return nil
}

func (p *fakePlatform) isMember(guildID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.members[guildID][userID]
	return ok
}

func (p *fakePlatform) sentTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		texts = append(texts, m.text)
	}
	return texts
}

func (p *fakePlatform) banCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bans)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClassifier struct {
	mu       sync.Mutex
	calls    int
	classify func(text string) Outcome
}

func (c *fakeClassifier) Classify(_ context.Context, text string) Outcome {
	c.mu.Lock()
	c.calls++
	fn := c.classify
	c.mu.Unlock()
	if fn == nil {
		return Outcome{}
	}
	return fn(text)
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// scoreByPrefix flags "toxic ..." and "spam ..." messages and passes the rest.
func scoreByPrefix(text string) Outcome {
	switch {
	case len(text) >= 5 && text[:5] == "toxic":
		return Outcome{Scores: Scores{Toxicity: 0.9}}
	case len(text) >= 4 && text[:4] == "spam":
		return Outcome{Scores: Scores{Spam: 0.8}}
	default:
		return Outcome{Scores: Scores{Toxicity: 0.1, Spam: 0.1}}
	}
}
