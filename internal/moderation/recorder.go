package moderation

import (
	"time"
)

// Recorder receives pipeline measurements. The observability package
// provides the Prometheus implementation.
type Recorder interface {
	RateLimited()
	Classified(outcome string)
	Action(kind ActionKind, applied bool)
	Pipeline(stage Stage, d time.Duration)
}

const (
	ClassifiedClean     = "clean"
	ClassifiedViolation = "violation"
	ClassifiedError     = "error"
)

type nopRecorder struct{}

func (nopRecorder) RateLimited()                  {}
func (nopRecorder) Classified(string)             {}
func (nopRecorder) Action(ActionKind, bool)       {}
func (nopRecorder) Pipeline(Stage, time.Duration) {}
