package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/flow"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const (
	nothingToCommitMessage = "There is no attendance data to %s. Please mark attendance first."
	missingClassForImage   = "Please tell me the class, section and date before uploading the attendance register."
)

// Approve commits the reconciled attendance data and ends the episode.
func (c *Controller) Approve(ctx context.Context, sessionID string, req models.CommitRequest) (Reply, error) {
	return c.commit(ctx, sessionID, req, true)
}

// Reject rejects the reconciled attendance data and returns the episode to class_info.
func (c *Controller) Reject(ctx context.Context, sessionID string, req models.CommitRequest) (Reply, error) {
	return c.commit(ctx, sessionID, req, false)
}

func (c *Controller) commit(ctx context.Context, sessionID string, req models.CommitRequest, approve bool) (Reply, error) {
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer s.release()

	verb := "reject"
	if approve {
		verb = "approve"
	}

	snap, err := c.store.GetAttendanceSnapshot(ctx, sessionID)
	if err != nil {
		slog.Warn("Controller.commit: failed to read attendance snapshot", "session", sessionID, "error", err)
	}

	s.mu.Lock()
	state := s.rec.State
	in := flow.ReconcileInput{
		EditingTurnIndex: state.EditingTurnIndex,
		LiveRows:         models.CloneRows(state.AttendanceRows),
		LiveClass:        state.PendingClassInfo(),
		Log:              append([]models.Turn(nil), s.log...),
		HintTurnIndex:    req.TurnIndex,
		Snapshot:         snap,
	}
	activeFlow := state.ActiveFlow
	s.mu.Unlock()

	rec, err := flow.ReconcileAttendance(in)
	if errors.Is(err, models.ErrNoAttendanceData) {
		slog.Info("Controller.commit: nothing to commit", "session", sessionID, "action", verb)
		s.mu.Lock()
		defer s.mu.Unlock()
		return c.botReply(ctx, s, activeFlow, models.BotMessage{Text: fmt.Sprintf(nothingToCommitMessage, verb)}, nil), nil
	}
	slog.Debug("Controller.commit: reconciled", "session", sessionID, "source", rec.Source, "rows", len(rec.Rows), "turn", rec.TurnIndex)

	body := backend.AttendanceCommitRequest{SessionID: sessionID, ClassInfo: rec.Class, AttendanceData: rec.Rows}
	var resp *backend.StatusResponse
	if approve {
		resp, err = c.backend.ApproveAttendance(ctx, body)
	} else {
		resp, err = c.backend.RejectAttendance(ctx, body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		slog.Error("Controller.commit: backend call failed", "session", sessionID, "action", verb, "error", err)
		return c.botReply(ctx, s, activeFlow, models.BotMessage{Text: flow.GenericErrorMessage, IsError: true}, nil), nil
	}
	if !resp.OK() {
		msg := resp.Message
		if msg == "" {
			msg = flow.GenericErrorMessage
		}
		return c.botReply(ctx, s, activeFlow, models.BotMessage{Text: msg, IsError: true}, nil), nil
	}

	var text string
	if approve {
		s.rec.State.ResetEpisode()
		s.rec.State.ActiveFlow = models.FlowQuery
		text = fmt.Sprintf("✅ Attendance for %s approved successfully.", rec.Class)
	} else {
		s.rec.State.ResetEpisode()
		text = fmt.Sprintf("Attendance for %s was rejected. Please share the class, section and date to start again.", rec.Class)
	}
	if resp.Message != "" {
		text = resp.Message
	}
	slog.Info("Controller.commit: attendance committed", "session", sessionID, "action", verb, "class", rec.Class.String(), "rows", len(rec.Rows), "source", rec.Source)
	return c.botReply(ctx, s, s.rec.State.ActiveFlow, models.BotMessage{Text: text}, nil), nil
}

// BeginEdit copies the rows of a completed attendance turn into the live list for editing.
func (c *Controller) BeginEdit(ctx context.Context, sessionID string, req models.EditRequest) (models.ConversationState, error) {
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return models.ConversationState{}, err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := findTurn(s.log, req.TurnIndex)
	if !ok {
		return models.ConversationState{}, models.ErrInvalidTurnIndex
	}
	if !t.IsBot() || len(t.Reply.Rows) == 0 || !t.Reply.HasCommitActions() {
		return models.ConversationState{}, models.ErrNotEditable
	}
	if st := s.rec.State; !st.ActiveFlow.CollectsAttendance() || st.Attendance.Kind() != models.StepCompleted {
		slog.Warn("Controller.BeginEdit: no completed attendance episode", "session", sessionID, "flow", st.ActiveFlow, "step", st.Attendance.Kind())
		return models.ConversationState{}, models.ErrNotEditable
	}
	idx := t.Index
	s.rec.State.AttendanceRows = models.CloneRows(t.Reply.Rows)
	s.rec.State.EditingTurnIndex = &idx
	c.persist(ctx, s)
	slog.Info("Controller.BeginEdit: editing attendance", "session", sessionID, "turn", idx, "rows", len(t.Reply.Rows))
	return s.rec.State.Clone(), nil
}

// UpdateRow changes the status of one row of the table being edited.
func (c *Controller) UpdateRow(ctx context.Context, sessionID string, row int, req models.RowUpdateRequest) (models.ConversationState, error) {
	status, ok := models.ParseAttendanceStatus(req.AttendanceStatus)
	if !ok {
		return models.ConversationState{}, models.ErrInvalidStatus
	}
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return models.ConversationState{}, err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.State.EditingTurnIndex == nil {
		return models.ConversationState{}, models.ErrNotEditing
	}
	if row < 0 || row >= len(s.rec.State.AttendanceRows) {
		return models.ConversationState{}, models.ErrInvalidRowIndex
	}
	s.rec.State.AttendanceRows[row].AttendanceStatus = status
	c.persist(ctx, s)
	return s.rec.State.Clone(), nil
}

// SaveEdit writes the edited rows back to their turn and to the session snapshot.
func (c *Controller) SaveEdit(ctx context.Context, sessionID string) (models.ConversationState, error) {
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return models.ConversationState{}, err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()

	editing := s.rec.State.EditingTurnIndex
	if editing == nil {
		return models.ConversationState{}, models.ErrNotEditing
	}
	rows := models.CloneRows(s.rec.State.AttendanceRows)
	class := models.ClassDescriptor{}
	if p := s.rec.State.PendingClassInfo(); p != nil {
		class = *p
	}

	for i := range s.log {
		if s.log[i].Index != *editing || !s.log[i].IsBot() {
			continue
		}
		reply := *s.log[i].Reply
		reply.Rows = models.CloneRows(rows)
		s.log[i].Reply = &reply
		if reply.ClassInfo != nil {
			class = *reply.ClassInfo
		}
		if err := c.store.UpdateTurn(ctx, sessionID, s.log[i]); err != nil {
			slog.Warn("Controller.SaveEdit: failed to persist edited turn", "session", sessionID, "turn", *editing, "error", err)
		}
		break
	}

	snap := models.AttendanceSnapshot{Rows: rows, ClassInfo: class, SavedAt: time.Now()}
	if err := c.store.SaveAttendanceSnapshot(ctx, sessionID, snap); err != nil {
		slog.Warn("Controller.SaveEdit: failed to save attendance snapshot", "session", sessionID, "error", err)
	}
	s.rec.State.EditingTurnIndex = nil
	c.persist(ctx, s)
	slog.Info("Controller.SaveEdit: attendance edits saved", "session", sessionID, "rows", len(rows))
	return s.rec.State.Clone(), nil
}

// CancelEdit discards the edits and restores the rows of the edited turn.
func (c *Controller) CancelEdit(ctx context.Context, sessionID string) (models.ConversationState, error) {
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return models.ConversationState{}, err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()

	editing := s.rec.State.EditingTurnIndex
	if editing == nil {
		return models.ConversationState{}, models.ErrNotEditing
	}
	if t, ok := findTurn(s.log, *editing); ok && t.IsBot() {
		s.rec.State.AttendanceRows = models.CloneRows(t.Reply.Rows)
	}
	s.rec.State.EditingTurnIndex = nil
	c.persist(ctx, s)
	return s.rec.State.Clone(), nil
}

// UploadAttendanceImage relays an attendance register photo. The class descriptor is the supplied
// one when complete, otherwise the pending one.
func (c *Controller) UploadAttendanceImage(ctx context.Context, sessionID, fileName string, data []byte, class *models.ClassDescriptor) (Reply, error) {
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer s.release()

	s.mu.Lock()
	c.appendTurn(ctx, s, models.Turn{Role: models.RoleUser, Text: "[image] " + fileName, Flow: s.rec.State.ActiveFlow})
	var desc *models.ClassDescriptor
	if class != nil && class.Complete() {
		n := class.Normalized()
		desc = &n
	} else {
		desc = s.rec.State.PendingClassInfo()
	}
	if desc == nil {
		defer s.mu.Unlock()
		return c.botReply(ctx, s, s.rec.State.ActiveFlow, models.BotMessage{Text: missingClassForImage}, nil), nil
	}
	cd := *desc
	s.mu.Unlock()

	resp, err := c.backend.AttendanceImage(ctx, backend.ImageUpload{SessionID: sessionID, FileName: fileName, Data: data, ClassInfo: cd})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		slog.Error("Controller.UploadAttendanceImage: upload failed", "session", sessionID, "error", err)
		return c.botReply(ctx, s, s.rec.State.ActiveFlow, models.BotMessage{Text: flow.GenericErrorMessage, IsError: true}, nil), nil
	}
	result := flow.ImageAttendanceResult(resp, cd)

	if result.Message.IsError {
		return c.botReply(ctx, s, s.rec.State.ActiveFlow, result.Message, nil), nil
	}
	if !s.rec.State.ActiveFlow.IsStepped() {
		s.rec.State.ResetEpisode()
		s.rec.State.ResetFlowCaches()
		s.rec.State.ActiveFlow = models.FlowAttendance
	}
	if d := result.Directives.Step; d != nil && d.Kind() == models.StepStudentDetails && s.rec.State.Attendance.Kind() == models.StepCompleted {
		// the image could not be read, so the finished table is dropped and typed details are collected again
		slog.Info("Controller.UploadAttendanceImage: reopening student details", "session", sessionID)
		s.rec.State.Attendance = *d
		s.rec.State.AttendanceRows = nil
		s.rec.State.EditingTurnIndex = nil
		result.Directives.Step = nil
	}
	if s.rec.State.Attendance.Kind() == models.StepClassInfo && result.Directives.Step == nil && !result.Message.IsError {
		next := models.StudentDetailsStep(cd)
		result.Directives.Step = &next
	}
	applyDirectives(&s.rec.State, result.Directives, sessionID)
	slog.Info("Controller.UploadAttendanceImage: image processed", "session", sessionID, "rows", len(result.Message.Rows), "step", s.rec.State.Attendance.Kind())
	return c.botReply(ctx, s, s.rec.State.ActiveFlow, result.Message, nil), nil
}

// UploadFile relays a generic file to the upload endpoint.
func (c *Controller) UploadFile(ctx context.Context, sessionID, fileName string, data []byte) (Reply, error) {
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer s.release()

	s.mu.Lock()
	c.appendTurn(ctx, s, models.Turn{Role: models.RoleUser, Text: "[file] " + fileName, Flow: s.rec.State.ActiveFlow})
	s.mu.Unlock()

	resp, err := c.backend.UploadFile(ctx, backend.FileUpload{SessionID: sessionID, FileName: fileName, Data: data})

	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.BotMessage{}
	switch {
	case err != nil:
		slog.Error("Controller.UploadFile: upload failed", "session", sessionID, "error", err)
		msg = models.BotMessage{Text: flow.GenericErrorMessage, IsError: true}
	case resp.Message == "":
		msg.Text = fmt.Sprintf("Uploaded %s.", fileName)
	default:
		msg.Text = resp.Message
	}
	return c.botReply(ctx, s, s.rec.State.ActiveFlow, msg, nil), nil
}

// SelectClassSection stores the selection and immediately reports its course progress.
func (c *Controller) SelectClassSection(ctx context.Context, sessionID string, req models.ClassSectionSelectRequest) (Reply, error) {
	if c.progress == nil {
		return Reply{}, fmt.Errorf("course progress is not configured")
	}
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer s.release()

	s.mu.Lock()
	section, ok := flow.FindClassSection(s.rec.State.ClassSections, req.ClassSectionID)
	if !ok {
		s.mu.Unlock()
		return Reply{}, models.ErrUnknownClassGroup
	}
	c.appendTurn(ctx, s, models.Turn{Role: models.RoleUser, Text: section.Label(), Flow: models.FlowCourseProgress})
	fc := s.flowContext(s.rec.State.Clone(), false, nil)
	s.mu.Unlock()

	result := c.progress.Progress(ctx, fc, section)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.State.ActiveFlow = models.FlowCourseProgress
	applyDirectives(&s.rec.State, result.Directives, sessionID)
	return c.botReply(ctx, s, models.FlowCourseProgress, result.Message, nil), nil
}

// DecideLeave approves or rejects a pending leave request and drops it from the cache.
func (c *Controller) DecideLeave(ctx context.Context, sessionID, requestID string, approve bool, req models.LeaveDecisionRequest) (Reply, error) {
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer s.release()

	s.mu.Lock()
	tenant := s.rec.Tenant
	s.mu.Unlock()

	resp, err := c.backend.DecideLeave(ctx, tenant, requestID, approve, strings.TrimSpace(req.Reason))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		slog.Error("Controller.DecideLeave: decision failed", "session", sessionID, "request", requestID, "error", err)
		return c.botReply(ctx, s, models.FlowLeaveApproval, models.BotMessage{Text: flow.GenericErrorMessage, IsError: true}, nil), nil
	}
	if !resp.OK() {
		msg := resp.Message
		if msg == "" {
			msg = flow.GenericErrorMessage
		}
		return c.botReply(ctx, s, models.FlowLeaveApproval, models.BotMessage{Text: msg, IsError: true}, nil), nil
	}

	remaining := s.rec.State.LeaveApprovalRequests[:0:0]
	for _, r := range s.rec.State.LeaveApprovalRequests {
		if r.ID != requestID {
			remaining = append(remaining, r)
		}
	}
	s.rec.State.LeaveApprovalRequests = remaining

	text := resp.Message
	if text == "" {
		if approve {
			text = "✅ Leave request approved successfully."
		} else {
			text = "Leave request rejected."
		}
	}
	slog.Info("Controller.DecideLeave: leave decided", "session", sessionID, "request", requestID, "approve", approve, "remaining", len(remaining))
	return c.botReply(ctx, s, models.FlowLeaveApproval, models.BotMessage{Text: text, LeaveRequests: remaining}, nil), nil
}

// Speak synthesizes text and returns the drained audio payload.
func (c *Controller) Speak(ctx context.Context, req models.SpeechRequest) ([]byte, error) {
	if c.speaker == nil {
		return nil, ErrSpeechUnavailable
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, models.ErrEmptyUtterance
	}
	return c.speaker.Speech(ctx, req.Text)
}

func findTurn(log []models.Turn, index int) (models.Turn, bool) {
	for _, t := range log {
		if t.Index == index {
			return t, true
		}
	}
	return models.Turn{}, false
}
