// Package conversation builds the message sequence handed to the model.
//
// The durable store is authoritative: a client-supplied history is only a
// hint, used when the store has nothing for the session or cannot be read.
// A front end that lost its local state therefore converges back to the
// durable history instead of overwriting it.
package conversation

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/chatkeep/chatkeep/internal/history"
	"github.com/chatkeep/chatkeep/internal/logger"
)

// Assembler combines the system prompt, a session's history, and the new user
// message into a single ordered message list.
type Assembler struct {
	store        history.Store
	systemPrompt string
}

// NewAssembler creates an Assembler reading history from store. systemPrompt
// may be empty, in which case no system message is emitted.
func NewAssembler(store history.Store, systemPrompt string) *Assembler {
	return &Assembler{store: store, systemPrompt: systemPrompt}
}

// Assemble returns the model input for one request: system prompt first (when
// configured), then the conversation so far, then userMessage as the final
// user message. A store read failure degrades to the hint with a warning; it
// never fails the request.
func (a *Assembler) Assemble(ctx context.Context, sessionID string, hint []history.Turn, userMessage string) []openai.ChatCompletionMessage {
	turns, err := a.store.List(ctx, sessionID)
	if err != nil {
		logger.L.Warn("history unavailable, falling back to client-provided history",
			"session_id", sessionID, "error", err)
		turns = hint
	} else if len(turns) == 0 {
		turns = hint
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+2)
	if a.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.systemPrompt,
		})
	}
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})
}
