package moderation

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	DefaultToxicityThreshold = 0.8
	DefaultSpamThreshold     = 0.75
	DefaultClassifierTimeout = 5 * time.Second
)

// Scores is a classification result for one message. Both values are in [0,1].
type Scores struct {
	Toxicity float64 `json:"toxicity"`
	Spam     float64 `json:"spam"`
}

// Outcome is either a successful classification or a classifier error.
// Callers decide what an error means; nothing is defaulted here.
type Outcome struct {
	Scores Scores
	Err    error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Classifier is the port to the content scoring service.
type Classifier interface {
	Classify(ctx context.Context, text string) Outcome
}

// Scorer is implemented by scoring backends that report errors the usual way.
type Scorer interface {
	Score(ctx context.Context, text string) (Scores, error)
}

// Thresholds decide whether scores constitute a violation.
type Thresholds struct {
	Toxicity float64
	Spam     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Toxicity: DefaultToxicityThreshold, Spam: DefaultSpamThreshold}
}

// Violates is true when either score is strictly above its threshold.
func (t Thresholds) Violates(s Scores) bool {
	return s.Toxicity > t.Toxicity || s.Spam > t.Spam
}

type timeoutClassifier struct {
	scorer  Scorer
	timeout time.Duration
}

// NewClassifier bounds every call to scorer by timeout and converts failures
// into Outcome errors wrapping ErrClassifierUnavailable.
func NewClassifier(scorer Scorer, timeout time.Duration) Classifier {
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	return &timeoutClassifier{scorer: scorer, timeout: timeout}
}

func (c *timeoutClassifier) Classify(ctx context.Context, text string) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type reply struct {
		scores Scores
		err    error
	}
	ch := make(chan reply, 1)
	go func() {
		scores, err := c.scorer.Score(callCtx, text)
		ch <- reply{scores: scores, err: err}
	}()

	select {
	case <-callCtx.Done():
		return Outcome{Err: fmt.Errorf("%w: %w", ErrClassifierUnavailable, callCtx.Err())}
	case r := <-ch:
		if r.err != nil {
			return Outcome{Err: fmt.Errorf("%w: %w", ErrClassifierUnavailable, r.err)}
		}
		if invalidScore(r.scores.Toxicity) || invalidScore(r.scores.Spam) {
			return Outcome{Err: fmt.Errorf("%w: scores out of range (%v, %v)", ErrClassifierUnavailable, r.scores.Toxicity, r.scores.Spam)}
		}
		return Outcome{Scores: r.scores}
	}
}

func invalidScore(v float64) bool {
	return math.IsNaN(v) || v < 0 || v > 1
}
