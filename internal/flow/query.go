package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const noAnswerMessage = "I'm sorry, I couldn't find an answer to that. Could you rephrase your question?"

// QueryBackend answers general questions.
type QueryBackend interface {
	Query(ctx context.Context, req backend.QueryRequest) (*backend.QueryResponse, error)
}

// QueryHandler handles the general query flow with one round trip per turn.
type QueryHandler struct {
	backend QueryBackend
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(b QueryBackend) *QueryHandler {
	return &QueryHandler{backend: b}
}

// Handle implements Handler.
func (h *QueryHandler) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	resp, err := h.backend.Query(ctx, backend.QueryRequest{UserID: fc.UserID, UserRoles: fc.Roles, Query: utterance})
	if err != nil {
		slog.Error("QueryHandler.Handle: query failed", "session", fc.SessionID, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if !resp.OK() {
		msg := resp.Message
		if msg == "" {
			msg = noAnswerMessage
		}
		return models.ErrorResult(msg)
	}
	if resp.Data.Answer == "" {
		return models.TextResult(noAnswerMessage)
	}
	return models.FlowResult{Message: models.BotMessage{
		Text:         resp.Data.Answer,
		References:   resp.Data.References,
		TraceQueries: resp.Data.MongoDBQuery,
	}}
}
