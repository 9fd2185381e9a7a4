package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// HandleTurn processes one user utterance and returns the bot turn it produced.
func (c *Controller) HandleTurn(ctx context.Context, sessionID string, req models.TurnRequest) (Reply, error) {
	if err := req.Validate(); err != nil {
		return Reply{}, err
	}
	s, err := c.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	handedOver := false
	defer func() {
		if !handedOver {
			s.release()
		}
	}()

	s.mu.Lock()
	state := s.rec.State.Clone()
	userIdx := len(s.log)
	s.log = append(s.log, models.Turn{Index: userIdx, Role: models.RoleUser, Text: req.Text, Flow: state.ActiveFlow, Voice: req.Voice, CreatedAt: time.Now()})
	userID, roles := s.rec.UserID, append([]string(nil), s.rec.Roles...)
	s.mu.Unlock()

	slog.Debug("Controller.HandleTurn: turn received", "session", sessionID, "activeFlow", state.ActiveFlow, "textLen", len(req.Text), "voice", req.Voice)
	decision := c.router.Route(ctx, req.Text, state, userID, roles)

	s.mu.Lock()
	s.log[userIdx].Classification = decision.Classification
	userTurn := s.log[userIdx]
	if err := c.store.AppendTurn(ctx, sessionID, userTurn); err != nil {
		slog.Warn("Controller.HandleTurn: failed to persist user turn", "session", sessionID, "error", err)
	}

	if decision.TargetFlow == models.FlowNone {
		previous := s.rec.State.ActiveFlow
		s.rec.State = models.NewConversationState()
		slog.Info("Controller.HandleTurn: flow exited", "session", sessionID, "flow", previous)
		reply := c.botReply(ctx, s, models.FlowQuery, models.BotMessage{
			Text: fmt.Sprintf("Exited the %s flow. How can I help you?", previous.DisplayName()),
		}, nil)
		s.mu.Unlock()
		return reply, nil
	}

	target := decision.TargetFlow
	work := s.rec.State.Clone()
	switch {
	case target != work.ActiveFlow:
		slog.Info("Controller.HandleTurn: switching flow", "session", sessionID, "from", work.ActiveFlow, "to", target)
		work.ResetEpisode()
		work.ResetFlowCaches()
	case target.CollectsAttendance() && work.Attendance.Kind() == models.StepCompleted && decision.Classification != nil:
		// a freshly classified request in a finished episode starts a new one
		slog.Info("Controller.HandleTurn: starting new attendance episode", "session", sessionID, "flow", target)
		work.ResetEpisode()
		work.ActiveFlow = models.FlowNone
	}
	fc := s.flowContext(work.Clone(), req.Voice, decision.Classification)
	s.mu.Unlock()

	result := c.dispatcher.Dispatch(ctx, target, req.Text, fc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Message.IsError {
		// failed turns leave the flow, the step and any pending episode untouched
		slog.Warn("Controller.HandleTurn: flow returned an error, keeping state", "session", sessionID, "flow", target, "activeFlow", s.rec.State.ActiveFlow)
		return c.botReply(ctx, s, s.rec.State.ActiveFlow, result.Message, decision.Classification), nil
	}
	work.ActiveFlow = target
	applyDirectives(&work, result.Directives, sessionID)
	s.rec.State = work
	reply := c.botReply(ctx, s, target, result.Message, decision.Classification)

	if result.Directives.ScheduleExit {
		handedOver = c.scheduleExit(s)
	}
	return reply, nil
}

// applyDirectives interprets a flow result's directives against state.
func applyDirectives(state *models.ConversationState, d models.Directives, sessionID string) {
	if d.Flow != nil {
		state.ActiveFlow = *d.Flow
	}
	if d.Step != nil {
		if d.Step.Rank() < state.Attendance.Rank() {
			slog.Warn("Controller.applyDirectives: ignoring backward step", "session", sessionID, "from", state.Attendance.Kind(), "to", d.Step.Kind())
		} else {
			state.Attendance = *d.Step
		}
	}
	if d.UpdateRows {
		state.AttendanceRows = models.CloneRows(d.Rows)
	}
	if d.ClassSections != nil {
		state.ClassSections = append([]models.ClassSection(nil), d.ClassSections...)
	}
	if d.ClearSelection {
		state.SelectedClassSection = nil
	}
	if d.SelectedClassSection != nil {
		sel := *d.SelectedClassSection
		state.SelectedClassSection = &sel
	}
	if d.UpdateLeaveRequests {
		state.LeaveApprovalRequests = append([]models.LeaveRequest(nil), d.LeaveRequests...)
		state.LeaveRequestsLoaded = true
	}
}

// scheduleExit arranges the delayed return to the query flow. The session stays busy until the
// exit runs. It reports whether the busy flag was handed over to the timer. Must be called with
// s.mu held.
func (c *Controller) scheduleExit(s *session) bool {
	delay := c.tuning.Get().AutoExitDelay
	id, err := c.timer.ScheduleAfter(delay, func() { c.autoExit(s) })
	if err != nil {
		slog.Error("Controller.scheduleExit: failed to schedule, exiting now", "session", s.rec.ID, "error", err)
		s.rec.State = models.NewConversationState()
		c.persist(context.Background(), s)
		return false
	}
	s.exitTimerID = id
	slog.Debug("Controller.scheduleExit: exit scheduled", "session", s.rec.ID, "delay", delay)
	return true
}

func (c *Controller) autoExit(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.rec.State.ActiveFlow
	s.rec.State.ActiveFlow = models.FlowQuery
	s.rec.State.ResetEpisode()
	s.rec.State.ResetFlowCaches()
	s.exitTimerID = ""
	s.busy = false
	c.persist(context.Background(), s)
	slog.Info("Controller.autoExit: flow closed", "session", s.rec.ID, "flow", previous)
}
