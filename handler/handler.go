// Package handler adapts API Gateway events to the turn controller. It is
// presentation glue: it never sees errors from remote calls directly, only
// the turn controller's classified outcomes and store snapshots.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"interview-agent/internal/domain"
	"interview-agent/internal/usecase"
)

// TurnService is the turn-initiation surface exposed to the UI layer.
type TurnService interface {
	CreateConversation(modelID, purposeID string) (domain.Conversation, error)
	Conversation(id string) (domain.Conversation, bool)
	RunChat(ctx context.Context, conversationID, text string) error
	StartInterview(ctx context.Context, conversationID string) error
	SubmitAnswer(ctx context.Context, conversationID, answer string) error
	Restart(ctx context.Context, conversationID string, history []domain.Message) error
	Cancel(conversationID string)
}

type Handler struct {
	svc TurnService
}

func NewHandler(svc TurnService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: turn service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

type createRequest struct {
	Model   string `json:"model"`
	Purpose string `json:"purpose"`
}

type turnRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

type restartRequest struct {
	ConversationID string           `json:"conversationId"`
	History        []historyMessage `json:"history"`
}

type historyMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type messageResponse struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Text        string `json:"text"`
	Typing      bool   `json:"typing"`
	OriginModel string `json:"originModel,omitempty"`
	PurposeID   string `json:"purposeId,omitempty"`
}

type questionResponse struct {
	Question         string      `json:"question"`
	Score            json.Number `json:"score,omitempty"`
	ScoreDescription string      `json:"scoreDescription,omitempty"`
	Graded           bool        `json:"graded"`
}

type conversationResponse struct {
	ID            string             `json:"id"`
	Model         string             `json:"model"`
	Purpose       string             `json:"purpose"`
	AutoTitle     string             `json:"autoTitle,omitempty"`
	UserTitle     string             `json:"userTitle,omitempty"`
	QuestionIndex int                `json:"currentQuestionIndex"`
	Messages      []messageResponse  `json:"messages"`
	Questions     []questionResponse `json:"questions"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes one API Gateway request.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	switch {
	case event.HTTPMethod == http.MethodPost && event.Path == "/conversations":
		return h.handleCreate(corrID, event.Body), nil
	case event.HTTPMethod == http.MethodGet && strings.HasPrefix(event.Path, "/conversations/"):
		return h.handleGet(corrID, strings.TrimPrefix(event.Path, "/conversations/")), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/chat":
		return h.handleTurn(ctx, corrID, event.Body, h.svc.RunChat), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/interview/start":
		return h.handleTurn(ctx, corrID, event.Body, func(ctx context.Context, id, _ string) error {
			return h.svc.StartInterview(ctx, id)
		}), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/interview/answer":
		return h.handleTurn(ctx, corrID, event.Body, h.svc.SubmitAnswer), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/interview/restart":
		return h.handleRestart(ctx, corrID, event.Body), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/turns/cancel":
		return h.handleCancel(corrID, event.Body), nil
	default:
		return respondError(corrID, http.StatusNotFound, errorResponse{Error: "NOT_FOUND"}), nil
	}
}

func (h *Handler) handleCreate(corrID, body string) events.APIGatewayProxyResponse {
	var req createRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
	}
	conv, err := h.svc.CreateConversation(req.Model, req.Purpose)
	if err != nil {
		return respondTurnError(corrID, err)
	}
	return respond(corrID, http.StatusCreated, toConversationResponse(conv))
}

func (h *Handler) handleGet(corrID, id string) events.APIGatewayProxyResponse {
	conv, ok := h.svc.Conversation(id)
	if !ok {
		return respondError(corrID, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "unknown_conversation"})
	}
	return respond(corrID, http.StatusOK, toConversationResponse(conv))
}

func (h *Handler) handleTurn(ctx context.Context, corrID, body string, run func(ctx context.Context, conversationID, text string) error) events.APIGatewayProxyResponse {
	var req turnRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
	}
	if err := run(ctx, req.ConversationID, req.Text); err != nil {
		return respondTurnError(corrID, err)
	}
	return h.respondConversation(corrID, req.ConversationID)
}

func (h *Handler) handleRestart(ctx context.Context, corrID, body string) events.APIGatewayProxyResponse {
	var req restartRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
	}
	history := make([]domain.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, domain.NewMessage(domain.Role(m.Role), m.Text))
	}
	if err := h.svc.Restart(ctx, req.ConversationID, history); err != nil {
		return respondTurnError(corrID, err)
	}
	return h.respondConversation(corrID, req.ConversationID)
}

func (h *Handler) handleCancel(corrID, body string) events.APIGatewayProxyResponse {
	var req turnRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
	}
	h.svc.Cancel(req.ConversationID)
	return respond(corrID, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *Handler) respondConversation(corrID, id string) events.APIGatewayProxyResponse {
	conv, ok := h.svc.Conversation(id)
	if !ok {
		return respondError(corrID, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "unknown_conversation"})
	}
	return respond(corrID, http.StatusOK, toConversationResponse(conv))
}

func toConversationResponse(conv domain.Conversation) conversationResponse {
	out := conversationResponse{
		ID:            conv.ID,
		Model:         conv.ModelID,
		Purpose:       conv.PurposeID,
		AutoTitle:     conv.AutoTitle,
		UserTitle:     conv.UserTitle,
		QuestionIndex: conv.QuestionIndex,
		Messages:      make([]messageResponse, 0, len(conv.Messages)),
		Questions:     make([]questionResponse, 0, len(conv.Questions)),
	}
	for _, m := range conv.Messages {
		out.Messages = append(out.Messages, messageResponse{
			ID:          m.ID,
			Role:        string(m.Role),
			Text:        m.Text,
			Typing:      m.Typing,
			OriginModel: m.OriginModel,
			PurposeID:   m.PurposeID,
		})
	}
	for _, q := range conv.Questions {
		out.Questions = append(out.Questions, questionResponse{
			Question:         q.Question,
			Score:            q.Score,
			ScoreDescription: q.ScoreDescription,
			Graded:           q.Graded,
		})
	}
	return out
}

func respondTurnError(corrID string, err error) events.APIGatewayProxyResponse {
	var turnErr *usecase.Error
	if !errors.As(err, &turnErr) {
		return respondError(corrID, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	status := http.StatusInternalServerError
	switch turnErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorTurnActive:
		status = http.StatusConflict
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	return respondError(corrID, status, errorResponse{Error: string(turnErr.Code), Reason: turnErr.Reason})
}

func respond(corrID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return respondError(corrID, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(raw),
	}
}

func respondError(corrID string, status int, body errorResponse) events.APIGatewayProxyResponse {
	raw, _ := json.Marshal(body)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(raw),
	}
}

func responseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
