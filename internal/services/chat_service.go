// Package services – ChatService
//
// ChatService runs one chat turn: it persists the user's message, builds the
// completion request from the stored history, asks the provider for a reply
// and persists that reply. A user has at most one turn in flight; a second
// Send while the first is Sending or AwaitingReply fails with ErrTurnInFlight.
//
// Completion failures never fail the turn. The caller gets a localized
// fallback reply instead, and that fallback is not written to the log, so it
// is never replayed to the model as something it said.
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tbourn/study-mentor-backend/internal/chatctx"
	"github.com/tbourn/study-mentor-backend/internal/domain"
	"github.com/tbourn/study-mentor-backend/internal/llm"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TurnState is the position of a user's current chat turn.
type TurnState int

const (
	Idle TurnState = iota
	Sending
	AwaitingReply
	Failed
)

func (s TurnState) String() string {
	switch s {
	case Sending:
		return "sending"
	case AwaitingReply:
		return "awaiting_reply"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Conversation is the chat log contract ChatService depends on.
type Conversation interface {
	Append(ctx context.Context, userID string, role domain.Role, content string) (string, error)
	Load(ctx context.Context, userID string) ([]domain.Message, error)
}

// TurnResult describes a finished turn.
type TurnResult struct {
	UserMessageID  string
	Reply          string
	ReplyMessageID string // empty when the reply was not persisted
	Fallback       bool   // Reply is a substituted apology
	ReplyPersisted bool
	// Cause is the completion or persistence error behind a fallback or an
	// unpersisted reply.
	Cause error
}

// ChatService orchestrates chat turns.
type ChatService struct {
	Store        Conversation
	LLM          llm.Client
	SystemPrompt string
	Builder      chatctx.Builder
	Fallback     Fallback

	// MaxPromptRunes caps a single user message. Zero disables the cap.
	MaxPromptRunes int

	mu     sync.Mutex
	states map[string]TurnState
}

// NewChatService constructs a ChatService with Brazilian Portuguese fallbacks.
func NewChatService(store Conversation, client llm.Client, systemPrompt string) *ChatService {
	return &ChatService{
		Store:          store,
		LLM:            client,
		SystemPrompt:   systemPrompt,
		Fallback:       FallbackFor("pt-BR"),
		MaxPromptRunes: 4000,
		states:         map[string]TurnState{},
	}
}

// State reports the user's current turn state.
func (s *ChatService) State(userID string) TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[userID]
}

// Send runs one chat turn for userID. It returns an error only when the
// input is rejected, another turn is in flight, or the history or the user's
// message could not be read or written.
func (s *ChatService) Send(ctx context.Context, userID, text string) (TurnResult, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("prompt.runes", utf8.RuneCountInString(text)),
		),
	)
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(text) > s.MaxPromptRunes {
		return TurnResult{}, ErrTooLong
	}

	if !s.begin(userID) {
		return TurnResult{}, ErrTurnInFlight
	}
	defer s.setState(userID, Idle)

	lg := logFrom(ctx)

	history, err := s.Store.Load(ctx, userID)
	if err != nil {
		lg.Error().Err(err).Str("op", "chat.load").Str("user_id", userID).Msg("loading history failed")
		span.RecordError(err)
		return TurnResult{}, err
	}
	userMsgID, err := s.Store.Append(ctx, userID, domain.RoleUser, text)
	if err != nil {
		lg.Error().Err(err).Str("op", "chat.append_user").Str("user_id", userID).Msg("persisting user message failed")
		span.RecordError(err)
		return TurnResult{}, err
	}
	res := TurnResult{UserMessageID: userMsgID}

	req, err := s.Builder.Build(history, text)
	if err != nil {
		s.setState(userID, Failed)
		completionRequests.WithLabelValues("too_large").Inc()
		lg.Warn().Err(err).Str("user_id", userID).Int("history", len(history)).Msg("context too large; replying with fallback")
		res.Reply, res.Fallback, res.Cause = s.Fallback.TooLarge, true, fmt.Errorf("%w: %w", ErrCompletion, err)
		return res, nil
	}
	if !chatctx.Alternates(req.Prior) {
		lg.Warn().Str("user_id", userID).Int("turns", len(req.Prior)).Msg("history does not alternate user/assistant; sending as stored")
	}

	s.setState(userID, AwaitingReply)
	start := time.Now()
	reply, err := s.LLM.Complete(ctx, s.SystemPrompt, req)
	completionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.setState(userID, Failed)
		completionRequests.WithLabelValues("error").Inc()
		lg.Warn().Err(err).Str("user_id", userID).Msg("completion failed; replying with fallback")
		span.RecordError(err)
		res.Reply, res.Fallback, res.Cause = s.Fallback.Completion, true, fmt.Errorf("%w: %w", ErrCompletion, err)
		return res, nil
	}
	completionRequests.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.String("llm.model", reply.Model),
		attribute.Int("llm.prompt_tokens", reply.PromptTokens),
		attribute.Int("llm.completion_tokens", reply.CompletionTokens),
	)

	res.Reply = reply.Text
	replyID, err := s.Store.Append(ctx, userID, domain.RoleAssistant, reply.Text)
	if err != nil {
		lg.Error().Err(err).Str("op", "chat.append_reply").Str("user_id", userID).Msg("persisting assistant reply failed")
		span.RecordError(err)
		res.Cause = err
		return res, nil
	}
	res.ReplyMessageID, res.ReplyPersisted = replyID, true
	return res, nil
}

// begin moves userID from Idle (or Failed) to Sending. It reports false when
// a turn is already in flight.
func (s *ChatService) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = map[string]TurnState{}
	}
	switch s.states[userID] {
	case Sending, AwaitingReply:
		return false
	}
	s.states[userID] = Sending
	return true
}

func (s *ChatService) setState(userID string, st TurnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == Idle {
		delete(s.states, userID)
		return
	}
	s.states[userID] = st
}
