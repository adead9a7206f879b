package llm

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MIMETypeJSON = "application/json"
	MIMETypeText = "text/plain"
)

type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
}

type ChatCompletionChoice struct {
	Message ChatCompletionMessage `json:"message"`
}

// GenerationParameters tune sampling. Zero values are replaced by backend defaults.
type GenerationParameters struct {
	Temperature      float32
	TopK             int32
	TopP             float32
	MaxOutputTokens  int32
	ResponseMIMEType string
}

// Scoring parameters keep the answers deterministic and short.
func ScoringParameters() *GenerationParameters {
	return &GenerationParameters{
		Temperature:      0,
		TopK:             1,
		TopP:             1,
		MaxOutputTokens:  64,
		ResponseMIMEType: MIMETypeJSON,
	}
}
