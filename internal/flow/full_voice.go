package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const fullVoiceStartMessage = "Full voice attendance started. Tell me the class, section, date and the students' attendance."

// FullVoiceBackend is the continuous full voice attendance endpoint.
type FullVoiceBackend interface {
	FullVoiceStart(ctx context.Context, sessionID string) (*backend.ChatResponse, error)
	FullVoiceContinue(ctx context.Context, sessionID, voiceText string) (*backend.ChatResponse, error)
}

// FullVoiceHandler relays transcribed speech to the backend, which decides when enough
// information has accumulated. Step progression follows the server responses.
type FullVoiceHandler struct {
	backend FullVoiceBackend
	tuning  *TuningStore
}

// NewFullVoiceHandler creates a FullVoiceHandler.
func NewFullVoiceHandler(b FullVoiceBackend, tuning *TuningStore) *FullVoiceHandler {
	return &FullVoiceHandler{backend: b, tuning: tuning}
}

// Handle implements Handler. The begin signal is sent when the flow is entered without a
// pending class descriptor; every later turn continues the server-side session.
func (h *FullVoiceHandler) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	autoSubmit := h.tuning.Get().FullVoiceAutoSubmit
	pending := fc.State.PendingClassInfo()

	if pending == nil && fc.State.ActiveFlow != models.FlowFullVoiceAttendance {
		resp, err := h.backend.FullVoiceStart(ctx, fc.SessionID)
		if err != nil {
			slog.Error("FullVoiceHandler.Handle: start failed", "session", fc.SessionID, "error", err)
			return models.ErrorResult(GenericErrorMessage)
		}
		if !resp.OK() {
			return models.ErrorResult(resp.FailureText(GenericErrorMessage))
		}
		slog.Info("FullVoiceHandler.Handle: full voice session started", "session", fc.SessionID)
		result := h.fromResponse(resp, pending)
		if result.Message.Text == "" {
			result.Message.Text = fullVoiceStartMessage
		}
		result.Message.AutoSubmitAfter = autoSubmit
		return result
	}

	resp, err := h.backend.FullVoiceContinue(ctx, fc.SessionID, utterance)
	if err != nil {
		slog.Error("FullVoiceHandler.Handle: continue failed", "session", fc.SessionID, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if !resp.OK() {
		return models.ErrorResult(resp.FailureText(GenericErrorMessage))
	}
	result := h.fromResponse(resp, pending)
	if len(result.Message.Rows) == 0 {
		result.Message.AutoSubmitAfter = autoSubmit
	}
	return result
}

func (h *FullVoiceHandler) fromResponse(resp *backend.ChatResponse, pending *models.ClassDescriptor) models.FlowResult {
	var class *models.ClassDescriptor
	if resp.Data.ClassInfo != nil && resp.Data.ClassInfo.Complete() {
		c := resp.Data.ClassInfo.Normalized()
		class = &c
	} else if pending != nil {
		class = pending
	}

	answer := resp.Data.Text()
	rows := resp.Data.AttendanceSummary
	if len(rows) == 0 {
		rows = ParseAttendanceTable(answer)
	}
	var result models.FlowResult
	switch {
	case len(rows) > 0:
		var c models.ClassDescriptor
		if class != nil {
			c = *class
		}
		result = completedResult(c, rows, answer)
	default:
		result = models.FlowResult{Message: models.BotMessage{Text: answer, ClassInfo: class}}
		if class != nil && pending == nil {
			next := models.StudentDetailsStep(*class)
			result.Directives.Step = &next
		}
	}
	if s := resp.Data.Signals(); !s.Empty() {
		result.Message.Signals = &s
	}
	return result
}
