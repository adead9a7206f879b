package classifier

import (
	"context"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/zeroshotclassifier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

const (
	DefaultZeroShotModel = "MoritzLaurer/mDeBERTa-v3-base-mnli-xnli"

	labelSpam   = "spam"
	labelToxic  = "toxic"
	labelNormal = "normal"
)

// ZeroShotScorer runs a local NLI model and reads the spam and toxic label
// probabilities as scores.
type ZeroShotScorer struct {
	model  zeroshotclassifier.Interface
	params zeroshotclassifier.Parameters
}

// LoadZeroShot downloads and converts the model into modelsDir when missing.
func LoadZeroShot(modelsDir, modelName string) (*ZeroShotScorer, error) {
	if modelName == "" {
		modelName = DefaultZeroShotModel
	}
	// cybertron logs download and conversion progress through zerolog.
	zerolog.SetGlobalLevel(zerologLevel(log.GetLevel()))
	log.WithFields(log.Fields{"object": "ZeroShotScorer", "model": modelName}).Info("loading model")
	m, err := tasks.Load[zeroshotclassifier.Interface](&tasks.Config{
		ModelsDir:           modelsDir,
		ModelName:           modelName,
		DownloadPolicy:      tasks.DownloadMissing,
		ConversionPolicy:    tasks.ConvertMissing,
		ConversionPrecision: tasks.F32,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load zero-shot model %s", modelName)
	}
	return NewZeroShotScorer(m), nil
}

func NewZeroShotScorer(model zeroshotclassifier.Interface) *ZeroShotScorer {
	return &ZeroShotScorer{
		model: model,
		params: zeroshotclassifier.Parameters{
			CandidateLabels:    []string{labelSpam, labelToxic, labelNormal},
			HypothesisTemplate: "This message is {}.",
			MultiLabel:         true,
		},
	}
}

var _ moderation.Scorer = (*ZeroShotScorer)(nil)

func (s *ZeroShotScorer) Score(ctx context.Context, text string) (moderation.Scores, error) {
	result, err := s.model.Classify(ctx, text, s.params)
	if err != nil {
		return moderation.Scores{}, errors.Wrap(err, "zero-shot classify")
	}
	if len(result.Labels) != len(result.Scores) {
		return moderation.Scores{}, errors.Errorf("malformed classification: %d labels, %d scores", len(result.Labels), len(result.Scores))
	}

	var scores moderation.Scores
	for i, label := range result.Labels {
		switch label {
		case labelSpam:
			scores.Spam = result.Scores[i]
		case labelToxic:
			scores.Toxicity = result.Scores[i]
		}
	}
	return scores, nil
}

func zerologLevel(level log.Level) zerolog.Level {
	switch {
	case level >= log.TraceLevel:
		return zerolog.TraceLevel
	case level >= log.DebugLevel:
		return zerolog.DebugLevel
	case level >= log.InfoLevel:
		return zerolog.InfoLevel
	case level >= log.WarnLevel:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
