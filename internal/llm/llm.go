package llm

import (
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/chatkeep/chatkeep/internal/config"
)

// NewClient creates an OpenAI-compatible client. BaseURL switches between
// providers (any endpoint speaking the chat-completions protocol works); the
// configured timeout bounds every model call end to end.
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return openai.NewClientWithConfig(clientConfig)
}
