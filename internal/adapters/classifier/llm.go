package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/adapters"
	"github.com/iamwavecut/ngmod/internal/adapters/llm"
	"github.com/iamwavecut/ngmod/internal/moderation"
)

const scoringPrompt = `You are a chat moderation classifier. Rate the user's message on two independent scales from 0 to 1:
"toxicity" - insults, harassment, hate speech, threats, obscene abuse;
"spam" - advertising, scams, phishing, unsolicited promotion, repeated junk.
Reply with a single JSON object and nothing else, for example {"toxicity": 0.02, "spam": 0.91}.`

// LLMScorer scores messages with a chat completion model.
type LLMScorer struct {
	llm    adapters.LLM
	prompt string
	logger *log.Entry
}

func NewLLMScorer(model adapters.LLM) *LLMScorer {
	return &LLMScorer{
		llm:    model,
		prompt: scoringPrompt,
		logger: log.WithField("object", "LLMScorer"),
	}
}

var _ moderation.Scorer = (*LLMScorer)(nil)

func (s *LLMScorer) Score(ctx context.Context, text string) (moderation.Scores, error) {
	resp, err := s.llm.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: s.prompt},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return moderation.Scores{}, err
	}
	if len(resp.Choices) == 0 {
		return moderation.Scores{}, errors.New("no response choices available")
	}

	content := resp.Choices[0].Message.Content
	scores, err := parseScores(content)
	if err != nil {
		s.logger.WithField("response", content).Debug("unparsable completion")
		return moderation.Scores{}, err
	}
	return scores, nil
}

// parseScores extracts the first JSON object from a model answer, tolerating
// markdown code fences and surrounding chatter.
func parseScores(content string) (moderation.Scores, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return moderation.Scores{}, errors.Errorf("no JSON object in completion %q", content)
	}

	var raw struct {
		Toxicity *float64 `json:"toxicity"`
		Spam     *float64 `json:"spam"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return moderation.Scores{}, errors.Wrap(err, "decode completion")
	}
	if raw.Toxicity == nil || raw.Spam == nil {
		return moderation.Scores{}, errors.Errorf("completion misses a score: %q", content)
	}
	return moderation.Scores{Toxicity: *raw.Toxicity, Spam: *raw.Spam}, nil
}
