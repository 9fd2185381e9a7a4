package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const (
	successMark = "✅"
	failureMark = "❌"
)

// HasCompletionMarker reports whether a free-form answer confirms success (a check mark plus
// "successfully") or reports a failure (a cross mark). Either one closes the flow.
func HasCompletionMarker(answer string) bool {
	if strings.Contains(answer, successMark) && strings.Contains(strings.ToLower(answer), "successfully") {
		return true
	}
	return strings.Contains(answer, failureMark)
}

// ChatBackend is the generic chat endpoint.
type ChatBackend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
}

// LeaveHandler relays leave application turns to the chat endpoint.
type LeaveHandler struct {
	backend ChatBackend
}

// NewLeaveHandler creates a LeaveHandler.
func NewLeaveHandler(b ChatBackend) *LeaveHandler {
	return &LeaveHandler{backend: b}
}

// Handle implements Handler.
func (h *LeaveHandler) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	resp, err := h.backend.Chat(ctx, backend.ChatRequest{
		SessionID: fc.SessionID,
		Query:     utterance,
		Flow:      string(models.FlowLeave),
		UserID:    fc.UserID,
	})
	if err != nil {
		slog.Error("LeaveHandler.Handle: chat failed", "session", fc.SessionID, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if !resp.OK() {
		return models.ErrorResult(resp.FailureText(GenericErrorMessage))
	}
	answer := resp.Data.Text()
	result := models.TextResult(answer)
	if HasCompletionMarker(answer) {
		slog.Debug("LeaveHandler.Handle: completion marker found, scheduling exit", "session", fc.SessionID)
		result.Directives.ScheduleExit = true
	}
	return result
}

// AssignmentBackend is the assignment endpoint.
type AssignmentBackend interface {
	Assignment(ctx context.Context, tenant models.Tenant, req backend.AssignmentRequest) (*backend.ChatResponse, error)
}

// AssignmentHandler relays assignment turns and passes backend flow-control signals through untouched.
type AssignmentHandler struct {
	backend AssignmentBackend
}

// NewAssignmentHandler creates an AssignmentHandler.
func NewAssignmentHandler(b AssignmentBackend) *AssignmentHandler {
	return &AssignmentHandler{backend: b}
}

// Handle implements Handler.
func (h *AssignmentHandler) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	resp, err := h.backend.Assignment(ctx, fc.Tenant, backend.AssignmentRequest{
		SessionID:    fc.SessionID,
		Query:        utterance,
		UserID:       fc.UserID,
		IsVoiceInput: fc.Voice,
	})
	if err != nil {
		slog.Error("AssignmentHandler.Handle: assignment call failed", "session", fc.SessionID, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if !resp.OK() {
		return models.ErrorResult(resp.FailureText(GenericErrorMessage))
	}
	answer := resp.Data.Text()
	result := models.TextResult(answer)
	if s := resp.Data.Signals(); !s.Empty() {
		result.Message.Signals = &s
	}
	if HasCompletionMarker(answer) {
		result.Directives.ScheduleExit = true
	}
	return result
}
