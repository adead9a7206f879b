package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

const (
	DefaultAPIKeyHeader = "X-Api-Key"
	maxResponseBytes    = 64 << 10
)

type HTTPConfig struct {
	URL          string
	APIKey       string
	APIKeyHeader string
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Client replaces the retrying client, mostly for tests.
	Client *http.Client
}

// HTTPScorer asks a remote scoring service for toxicity and spam scores.
// Request body is {"text": ...}, the response {"toxicity": x, "spam": y}.
type HTTPScorer struct {
	url    string
	apiKey string
	header string
	client *http.Client
	logger *log.Entry
}

type scoreRequest struct {
	Text string `json:"text"`
}

// LeveledLogrus adapts logrus to retryablehttp. Errors are logged as warnings
// since a failed attempt is usually retried.
type LeveledLogrus struct {
	entry *log.Entry
}

func (l LeveledLogrus) fields(keysAndValues []interface{}) *log.Entry {
	fields := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l LeveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Warn(msg)
}

func (l LeveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Warn(msg)
}

func (l LeveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l LeveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Trace(msg)
}

func NewHTTPScorer(cfg HTTPConfig) *HTTPScorer {
	logger := log.WithField("object", "HTTPScorer")
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}

	client := cfg.Client
	if client == nil {
		retryClient := retryablehttp.NewClient()
		retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
		retryClient.RetryMax = cfg.MaxRetries
		retryClient.RetryWaitMin = cfg.RetryWaitMin
		retryClient.RetryWaitMax = cfg.RetryWaitMax
		if retryClient.RetryWaitMin <= 0 {
			retryClient.RetryWaitMin = 100 * time.Millisecond
		}
		if retryClient.RetryWaitMax <= 0 {
			retryClient.RetryWaitMax = time.Second
		}
		retryClient.Logger = retryablehttp.LeveledLogger(LeveledLogrus{entry: logger})
		client = retryClient.StandardClient()
	}

	return &HTTPScorer{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		header: cfg.APIKeyHeader,
		client: client,
		logger: logger,
	}
}

var _ moderation.Scorer = (*HTTPScorer)(nil)

func (s *HTTPScorer) Score(ctx context.Context, text string) (moderation.Scores, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return moderation.Scores{}, errors.Wrap(err, "marshal score request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return moderation.Scores{}, errors.Wrap(err, "build score request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set(s.header, s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return moderation.Scores{}, errors.Wrap(err, "score request")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return moderation.Scores{}, errors.Wrap(err, "read score response")
	}
	if resp.StatusCode != http.StatusOK {
		return moderation.Scores{}, errors.Errorf("scoring service returned %s", resp.Status)
	}

	var scores moderation.Scores
	if err := json.Unmarshal(payload, &scores); err != nil {
		return moderation.Scores{}, errors.Wrap(err, "decode score response")
	}
	s.logger.WithFields(log.Fields{"toxicity": scores.Toxicity, "spam": scores.Spam}).Trace("scored")
	return scores, nil
}
