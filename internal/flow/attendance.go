package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const (
	classInfoClarification = "I couldn't identify the class details. Please tell me the class, section and date, for example: \"Class 6 A for today\"."
	studentDetailsPrompt   = "Please share the student attendance details, for example: \"All present except Ravi and Meena\"."
)

// AttendanceBackend is the set of endpoints used by the two-step attendance flows.
type AttendanceBackend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
	VoiceClassInfo(ctx context.Context, sessionID, voiceText string) (*backend.ChatResponse, error)
	VoiceAttendance(ctx context.Context, sessionID, voiceText string, class models.ClassDescriptor) (*backend.ChatResponse, error)
}

// AttendanceHandler runs the class_info then student_details protocol.
// The voice variant calls the voice endpoints with the same step semantics.
type AttendanceHandler struct {
	backend AttendanceBackend
	voice   bool
}

// NewAttendanceHandler creates the text attendance handler.
func NewAttendanceHandler(b AttendanceBackend) *AttendanceHandler {
	return &AttendanceHandler{backend: b}
}

// NewVoiceAttendanceHandler creates the voice attendance handler.
func NewVoiceAttendanceHandler(b AttendanceBackend) *AttendanceHandler {
	return &AttendanceHandler{backend: b, voice: true}
}

func (h *AttendanceHandler) flowID() models.FlowID {
	if h.voice {
		return models.FlowVoiceAttendance
	}
	return models.FlowAttendance
}

// Handle implements Handler.
func (h *AttendanceHandler) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	step := fc.State.Attendance
	switch step.Kind() {
	case models.StepStudentDetails:
		c, _ := step.Class()
		return h.studentDetails(ctx, utterance, fc, c)
	case models.StepCompleted:
		c, _ := step.Class()
		return completedReminder(c, fc.State.AttendanceRows)
	default:
		return h.classInfo(ctx, utterance, fc)
	}
}

func (h *AttendanceHandler) classInfo(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	var (
		resp *backend.ChatResponse
		err  error
	)
	if h.voice {
		resp, err = h.backend.VoiceClassInfo(ctx, fc.SessionID, utterance)
	} else {
		resp, err = h.backend.Chat(ctx, backend.ChatRequest{
			SessionID: fc.SessionID,
			Query:     utterance,
			Flow:      string(h.flowID()),
			Step:      string(models.StepClassInfo),
			UserID:    fc.UserID,
		})
	}
	if err != nil {
		slog.Error("AttendanceHandler.classInfo: extraction call failed", "session", fc.SessionID, "voice", h.voice, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if !resp.OK() {
		return models.ErrorResult(resp.FailureText(GenericErrorMessage))
	}

	class, source, ok := ExtractClassInfo(resp.Data.ClassInfo, resp.Data.Text(), utterance)
	if !ok {
		slog.Debug("AttendanceHandler.classInfo: class info incomplete", "session", fc.SessionID)
		return models.TextResult(classInfoClarification)
	}
	slog.Info("AttendanceHandler.classInfo: class info extracted", "session", fc.SessionID, "source", source, "class", class.Class, "section", class.Section)

	next := models.StudentDetailsStep(class)
	return models.FlowResult{
		Message: models.BotMessage{
			Text:      fmt.Sprintf("Got it: %s. %s", class, studentDetailsPrompt),
			ClassInfo: &class,
		},
		Directives: models.Directives{Step: &next},
	}
}

func (h *AttendanceHandler) studentDetails(ctx context.Context, utterance string, fc FlowContext, class models.ClassDescriptor) models.FlowResult {
	var (
		resp *backend.ChatResponse
		err  error
	)
	if h.voice {
		resp, err = h.backend.VoiceAttendance(ctx, fc.SessionID, utterance, class)
	} else {
		resp, err = h.backend.Chat(ctx, backend.ChatRequest{
			SessionID: fc.SessionID,
			Query:     utterance,
			Flow:      string(h.flowID()),
			Step:      string(models.StepStudentDetails),
			ClassInfo: &class,
			UserID:    fc.UserID,
		})
	}
	if err != nil {
		slog.Error("AttendanceHandler.studentDetails: verification call failed", "session", fc.SessionID, "voice", h.voice, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if !resp.OK() {
		return models.ErrorResult(resp.FailureText(GenericErrorMessage))
	}

	answer := resp.Data.Text()
	rows := resp.Data.AttendanceSummary
	if table := ParseAttendanceTable(answer); len(table) > 0 {
		rows = table
	}
	if len(rows) == 0 {
		if answer == "" {
			answer = studentDetailsPrompt
		}
		return models.TextResult(answer)
	}
	return completedResult(class, rows, answer)
}

// completedResult builds the result that moves an episode to completed with commit actions.
func completedResult(class models.ClassDescriptor, rows []models.AttendanceRow, answer string) models.FlowResult {
	if answer == "" {
		answer = fmt.Sprintf("Attendance for %s is ready for review.", class)
	}
	next := models.CompletedStep(class)
	rows = models.CloneRows(rows)
	return models.FlowResult{
		Message: models.BotMessage{
			Text:      answer,
			ClassInfo: &class,
			Rows:      rows,
			Actions:   models.CommitActions(),
		},
		Directives: models.Directives{Step: &next, Rows: models.CloneRows(rows), UpdateRows: true},
	}
}

func completedReminder(class models.ClassDescriptor, rows []models.AttendanceRow) models.FlowResult {
	return models.FlowResult{Message: models.BotMessage{
		Text:      fmt.Sprintf("Attendance for %s is ready. Please approve, reject or edit it.", class),
		ClassInfo: &class,
		Rows:      models.CloneRows(rows),
		Actions:   models.CommitActions(),
	}}
}
