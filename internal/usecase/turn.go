// Package usecase sequences conversational turns: it owns the placeholder
// message lifecycle, the per-conversation turn token, outcome classification
// and the interview question progression. All remote failures end up as
// state mutations plus a turn event; nothing here is fatal.
package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"interview-agent/internal/domain"
	"interview-agent/internal/store"
	"interview-agent/internal/stream"
)

const (
	defaultTemperature = 0.5
	defaultMaxTokens   = 1024

	chatPlaceholderText = "..."
	chatFailedText      = "Error: the assistant request failed."
)

// AssistantClient issues chat calls against the language-model gateway.
type AssistantClient interface {
	StreamChat(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int) (io.ReadCloser, error)
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error)
}

// InterviewClient fetches questions and grades candidate answers.
type InterviewClient interface {
	Questions(ctx context.Context, years int, language string) ([]domain.Question, error)
	Grade(ctx context.Context, question, answer string) (domain.Grade, error)
}

// Archiver records grading outcomes out-of-band. Archive failures never fail
// a turn.
type Archiver interface {
	SaveGradedAnswer(ctx context.Context, conversationID string, index int, q domain.Question, answered int) error
}

// Speaker receives the first paragraph of a streamed response as soon as it
// is detected, e.g. to begin speech synthesis early.
type Speaker func(text string)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Service is the turn controller. One instance serves any number of
// conversations; at most one turn may be in flight per conversation.
type Service struct {
	store     *store.Store
	assistant AssistantClient
	interview InterviewClient
	archive   Archiver
	events    *Broadcaster
	speaker   Speaker
	logger    *slog.Logger

	temperature float64
	maxTokens   int
	minCut      int
	maxCut      int
}

type Option func(*Service)

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archive = a }
}

func WithEvents(b *Broadcaster) Option {
	return func(s *Service) { s.events = b }
}

func WithSpeaker(sp Speaker) Option {
	return func(s *Service) { s.speaker = sp }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSampling overrides the completion sampling parameters.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(s *Service) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// WithParagraphWindow overrides the first-paragraph cut thresholds.
func WithParagraphWindow(minCut, maxCut int) Option {
	return func(s *Service) {
		s.minCut = minCut
		s.maxCut = maxCut
	}
}

// NewService creates a turn controller over the given store and clients.
func NewService(st *store.Store, assistant AssistantClient, interview InterviewClient, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if assistant == nil {
		return nil, errors.New("usecase: assistant client must not be nil")
	}
	if interview == nil {
		return nil, errors.New("usecase: interview client must not be nil")
	}
	s := &Service{
		store:       st,
		assistant:   assistant,
		interview:   interview,
		logger:      slog.Default(),
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateConversation registers a new conversation for the given experience
// level and purpose.
func (s *Service) CreateConversation(modelID, purposeID string) (domain.Conversation, error) {
	if modelID == "" {
		modelID = domain.DefaultLevelID
	}
	if purposeID == "" {
		purposeID = domain.DefaultPurposeID
	}
	if _, ok := domain.Levels[modelID]; !ok {
		return domain.Conversation{}, newError(ErrorInvalidInput, "unknown_level", nil)
	}
	if _, ok := domain.Purposes[purposeID]; !ok {
		return domain.Conversation{}, newError(ErrorInvalidInput, "unknown_purpose", nil)
	}
	return s.store.CreateConversation(modelID, purposeID), nil
}

// Conversation returns a snapshot of the identified conversation.
func (s *Service) Conversation(id string) (domain.Conversation, bool) {
	return s.store.Conversation(id)
}

// Cancel aborts the conversation's in-flight turn, if any. Idempotent.
func (s *Service) Cancel(conversationID string) {
	s.store.CancelTyping(conversationID)
}

// RunChat executes one streamed chat turn: append the user's message, splice
// the system message, stream the assistant reply into a placeholder entry.
func (s *Service) RunChat(ctx context.Context, conversationID, userText string) error {
	conv, err := s.beginTurn(conversationID)
	if err != nil {
		return err
	}

	history := conv.Messages
	if strings.TrimSpace(userText) != "" {
		userMsg := domain.NewMessage(domain.RoleUser, userText)
		userMsg.PurposeID = conv.PurposeID
		s.store.AppendMessage(conversationID, userMsg)
		history = append(history, userMsg)
	}
	history = s.spliceSystemMessage(conversationID, conv.PurposeID, history)

	placeholder := s.appendPlaceholder(conversationID, chatPlaceholderText, "", history[0].PurposeID)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.store.StartTyping(conversationID, cancel)
	defer s.endTurn(conversationID, placeholder.ID)

	dec := &stream.Decoder{
		MinCut: s.minCut,
		MaxCut: s.maxCut,
		OnHeader: func(h stream.Header) {
			s.store.EditMessage(conversationID, placeholder.ID, store.MessageUpdate{OriginModel: &h.Model}, false)
		},
		OnText: func(text string) {
			s.store.EditMessage(conversationID, placeholder.ID, store.MessageUpdate{Text: &text}, false)
		},
	}
	if s.speaker != nil {
		dec.OnFirstParagraph = func(p string) { s.speaker(p) }
	}

	model := conv.ModelID
	if model == "" {
		model = domain.DefaultLevelID
	}
	body, err := s.assistant.StreamChat(turnCtx, model, toChatMessages(history), s.temperature, s.maxTokens)
	if err != nil {
		if s.cancelled(turnCtx, err, conversationID) {
			return nil
		}
		return s.failTurn(conversationID, placeholder.ID, chatFailedText, "chat_request_error", err)
	}
	err = dec.Run(turnCtx, body)
	_ = body.Close()
	if err != nil {
		if s.cancelled(turnCtx, err, conversationID) {
			return nil
		}
		return s.failTurn(conversationID, placeholder.ID, chatFailedText, "chat_stream_error", err)
	}

	s.publish(TurnCompleted, conversationID, "", "")
	s.maybeAutoTitle(ctx, conversationID)
	return nil
}

// beginTurn snapshots the conversation and enforces the single-active-turn
// invariant.
func (s *Service) beginTurn(conversationID string) (domain.Conversation, error) {
	conv, ok := s.store.Conversation(conversationID)
	if !ok {
		return domain.Conversation{}, newError(ErrorInvalidInput, "unknown_conversation", nil)
	}
	if s.store.Typing(conversationID) {
		return domain.Conversation{}, newError(ErrorTurnActive, "turn_in_flight", nil)
	}
	return conv, nil
}

// spliceSystemMessage moves the system message to position 0, rebuilding its
// text from the conversation purpose unless the user edited it.
func (s *Service) spliceSystemMessage(conversationID, purposeID string, history []domain.Message) []domain.Message {
	var sys domain.Message
	idx := -1
	for i, m := range history {
		if m.Role == domain.RoleSystem {
			idx = i
			break
		}
	}
	if idx >= 0 {
		sys = history[idx]
		history = append(history[:idx:idx], history[idx+1:]...)
	} else {
		sys = domain.NewMessage(domain.RoleSystem, "")
	}
	if sys.Updated.IsZero() {
		purpose := domain.PurposeOrDefault(purposeID)
		sys.PurposeID = purposeID
		sys.Text = strings.ReplaceAll(purpose.SystemMessage,
			"{{Today}}", time.Now().UTC().Format("2006-01-02"))
	}
	history = append([]domain.Message{sys}, history...)
	s.store.SetMessages(conversationID, history)
	return history
}

func (s *Service) appendPlaceholder(conversationID, text, originModel, purposeID string) domain.Message {
	msg := domain.NewMessage(domain.RoleAssistant, text)
	msg.Typing = true
	msg.OriginModel = originModel
	msg.PurposeID = purposeID
	s.store.AppendMessage(conversationID, msg)
	return msg
}

// endTurn clears the placeholder's typing flag and releases the turn token.
// Safe to call more than once.
func (s *Service) endTurn(conversationID, messageID string) {
	typing := false
	s.store.EditMessage(conversationID, messageID, store.MessageUpdate{Typing: &typing}, false)
	s.store.StartTyping(conversationID, nil)
}

// cancelled reports whether the turn was aborted, publishing the cancelled
// event when it was. Partial text already applied stays in place.
func (s *Service) cancelled(turnCtx context.Context, err error, conversationID string) bool {
	if turnCtx.Err() == nil && !errors.Is(err, context.Canceled) {
		return false
	}
	s.publish(TurnCancelled, conversationID, "", "")
	return true
}

// failTurn writes a user-visible failure message, publishes the failed event
// and returns the classified error.
func (s *Service) failTurn(conversationID, messageID, text, reason string, err error) error {
	s.store.EditMessage(conversationID, messageID, store.MessageUpdate{Text: &text}, false)

	code := upstreamCode(err)
	s.publish(TurnFailed, conversationID, code, reason)
	return newError(code, reason, err)
}

// upstreamCode maps a transport failure onto the error taxonomy.
func upstreamCode(err error) ErrorCode {
	var coder httpStatusCoder
	if errors.As(err, &coder) && coder.HTTPStatusCode() == 429 {
		return ErrorRateLimited
	}
	return ErrorUpstream
}

func (s *Service) publish(evtType EventType, conversationID string, code ErrorCode, reason string) {
	if evtType == TurnFailed {
		s.logger.Warn("turn failed", "conversation_id", conversationID, "reason", reason)
	} else {
		s.logger.Debug("turn finished", "conversation_id", conversationID, "type", string(evtType))
	}
	if s.events != nil {
		s.events.Publish(Event{
			ConversationID: conversationID,
			Type:           evtType,
			Code:           code,
			Reason:         reason,
		})
	}
}

func toChatMessages(history []domain.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, domain.ChatMessage{Role: string(m.Role), Content: m.Text})
	}
	return out
}
