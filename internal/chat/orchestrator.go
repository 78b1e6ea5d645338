// Package chat orchestrates a single conversational exchange: validate the
// request, assemble the model input, call the external model, persist the
// user/assistant turn pair, and return the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/chatkeep/chatkeep/internal/config"
	"github.com/chatkeep/chatkeep/internal/conversation"
	"github.com/chatkeep/chatkeep/internal/history"
	"github.com/chatkeep/chatkeep/internal/llm"
	"github.com/chatkeep/chatkeep/internal/logger"
)

// ErrUpstreamModel marks a failed or unusable model response. When Respond
// returns it, nothing was persisted.
var ErrUpstreamModel = errors.New("chat: upstream model failure")

// FSM states
type FSMState stateless.State

var (
	StateValidating FSMState = "Validating"
	StateAssembling FSMState = "Assembling"
	StateInferring  FSMState = "Inferring"
	StatePersisting FSMState = "Persisting"
	StateDone       FSMState = "Done"   // Terminal: reply produced
	StateFailed     FSMState = "Failed" // Terminal: nothing persisted
)

// FSM triggers
type FSMTrigger stateless.Trigger

var (
	TriggerStart          FSMTrigger = "Start"
	TriggerValidated      FSMTrigger = "Validated"
	TriggerAssembled      FSMTrigger = "Assembled"
	TriggerModelResponded FSMTrigger = "ModelResponded"
	TriggerPersisted      FSMTrigger = "Persisted"
	TriggerFailed         FSMTrigger = "Failed"
)

// Orchestrator handles chat requests. It is safe for concurrent use: each
// request runs its own state machine and all shared dependencies are
// concurrency-safe.
type Orchestrator struct {
	llmClient llm.Client
	assembler *conversation.Assembler
	store     history.Store
	cfg       config.LLMConfig

	// onPersistFailure observes best-effort persistence failures. The
	// request still completes; this is the hook that keeps those failures
	// visible.
	onPersistFailure func(sessionID string, err error)
}

// New creates an Orchestrator.
func New(llmClient llm.Client, assembler *conversation.Assembler, store history.Store, cfg config.LLMConfig) *Orchestrator {
	return &Orchestrator{
		llmClient: llmClient,
		assembler: assembler,
		store:     store,
		cfg:       cfg,
		onPersistFailure: func(sessionID string, err error) {
			logger.L.Warn("history write failed, reply returned anyway",
				"session_id", sessionID, "error", err)
		},
	}
}

// Respond runs one exchange for sessionID and returns the assistant turn.
//
// The request moves through Validating, Assembling, Inferring, Persisting and
// Done. Validation and model failures land in Failed and persist nothing.
// Persistence failures after a successful model call do not fail the request:
// they go through the persistence-failure hook and the reply is returned
// regardless, because availability of the answer outranks history durability
// here. hint is the client-supplied history copy, used only when the durable
// store has nothing for the session.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, userMessage string, hint []history.Turn) (history.Turn, error) {
	type fsmContext struct {
		messages  []openai.ChatCompletionMessage
		reply     string
		assistant history.Turn
		lastError error
	}
	fsmCtx := &fsmContext{}

	fsm := stateless.NewStateMachine(StateValidating)

	fsm.Configure(StateValidating).
		PermitReentry(TriggerStart).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if sessionID == "" {
				fsmCtx.lastError = fmt.Errorf("%w: empty session id", history.ErrInvalidArgument)
				return fsm.FireCtx(ctx, TriggerFailed)
			}
			if userMessage == "" {
				fsmCtx.lastError = fmt.Errorf("%w: empty message", history.ErrInvalidArgument)
				return fsm.FireCtx(ctx, TriggerFailed)
			}
			return fsm.FireCtx(ctx, TriggerValidated)
		}).
		Permit(TriggerValidated, StateAssembling).
		Permit(TriggerFailed, StateFailed)

	fsm.Configure(StateAssembling).
		OnEntry(func(ctx context.Context, _ ...any) error {
			fsmCtx.messages = o.assembler.Assemble(ctx, sessionID, hint, userMessage)
			logger.L.Debug("model input assembled",
				"session_id", sessionID, "messages", len(fsmCtx.messages))
			return fsm.FireCtx(ctx, TriggerAssembled)
		}).
		Permit(TriggerAssembled, StateInferring)

	fsm.Configure(StateInferring).
		OnEntry(func(ctx context.Context, _ ...any) error {
			resp, err := o.llmClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       o.cfg.Model,
				Messages:    fsmCtx.messages,
				MaxTokens:   o.cfg.MaxTokens,
				Temperature: o.cfg.Temperature,
			})
			if err != nil {
				logger.L.Error("model call failed", "session_id", sessionID, "error", err)
				fsmCtx.lastError = fmt.Errorf("%w: %v", ErrUpstreamModel, err)
				return fsm.FireCtx(ctx, TriggerFailed)
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
				fsmCtx.lastError = fmt.Errorf("%w: empty completion", ErrUpstreamModel)
				return fsm.FireCtx(ctx, TriggerFailed)
			}
			fsmCtx.reply = resp.Choices[0].Message.Content
			return fsm.FireCtx(ctx, TriggerModelResponded)
		}).
		Permit(TriggerModelResponded, StatePersisting).
		Permit(TriggerFailed, StateFailed)

	fsm.Configure(StatePersisting).
		OnEntry(func(ctx context.Context, _ ...any) error {
			// Once inference succeeded the pair must be persisted even if
			// the caller already disconnected, so the appends run detached
			// from caller cancellation. The assistant turn is only written
			// after the user turn: a reply without its question never lands.
			detached := context.WithoutCancel(ctx)

			if _, err := o.store.Append(detached, sessionID, history.RoleUser, userMessage); err != nil {
				o.onPersistFailure(sessionID, fmt.Errorf("append user turn: %w", err))
				fsmCtx.assistant = o.unsavedAssistantTurn(sessionID, fsmCtx.reply)
				return fsm.FireCtx(ctx, TriggerPersisted)
			}

			saved, err := o.store.Append(detached, sessionID, history.RoleAssistant, fsmCtx.reply)
			if err != nil {
				o.onPersistFailure(sessionID, fmt.Errorf("append assistant turn: %w", err))
				fsmCtx.assistant = o.unsavedAssistantTurn(sessionID, fsmCtx.reply)
				return fsm.FireCtx(ctx, TriggerPersisted)
			}

			fsmCtx.assistant = saved
			return fsm.FireCtx(ctx, TriggerPersisted)
		}).
		Permit(TriggerPersisted, StateDone)

	fsm.Configure(StateDone).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.L.Debug("chat exchange complete", "session_id", sessionID)
			return nil
		})

	fsm.Configure(StateFailed).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if fsmCtx.lastError == nil {
				fsmCtx.lastError = errors.New("chat: request failed without a recorded error")
			}
			return nil
		})

	if err := fsm.FireCtx(ctx, TriggerStart); err != nil {
		return history.Turn{}, fmt.Errorf("chat: state machine: %w", err)
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return history.Turn{}, fmt.Errorf("chat: state machine: %w", err)
	}

	switch state {
	case StateDone:
		return fsmCtx.assistant, nil
	case StateFailed:
		return history.Turn{}, fsmCtx.lastError
	default:
		return history.Turn{}, fmt.Errorf("chat: request ended in unexpected state %v", state)
	}
}

// unsavedAssistantTurn builds the reply turn returned when persistence failed:
// same shape as a stored turn, just never durably written.
func (o *Orchestrator) unsavedAssistantTurn(sessionID, reply string) history.Turn {
	return history.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      history.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}
