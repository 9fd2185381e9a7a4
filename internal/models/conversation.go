// Package models defines turn, classification and flow result types.
package models

import (
	"encoding/json"
	"time"
)

// ClassificationResult is the classifier's verdict for one utterance.
type ClassificationResult struct {
	Flow       string         `json:"flow"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities,omitempty"`
}

// RoutingDecision is the router's output for one turn.
type RoutingDecision struct {
	TargetFlow     FlowID                `json:"target_flow"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	ShouldClassify bool                  `json:"should_classify"`
}

// FlowSignals are backend flow-control hints relayed to the UI without interpretation.
type FlowSignals struct {
	KeepListening   *bool           `json:"keep_listening,omitempty"`
	FlowStatus      string          `json:"flow_status,omitempty"`
	FieldsRemaining json.RawMessage `json:"fields_remaining,omitempty"`
	PlayAudio       *bool           `json:"play_audio,omitempty"`
}

// Empty reports whether no signal was set.
func (s FlowSignals) Empty() bool {
	return s.KeepListening == nil && s.FlowStatus == "" && len(s.FieldsRemaining) == 0 && s.PlayAudio == nil
}

// CourseProgressSummary summarizes subject progress for a class section.
type CourseProgressSummary struct {
	ClassSection ClassSection   `json:"class_section"`
	Subjects     int            `json:"subjects"`
	ByStatus     map[string]int `json:"by_status"`
}

// BotMessage is the payload displayed for one bot turn.
type BotMessage struct {
	Text            string                 `json:"text"`
	IsError         bool                   `json:"is_error,omitempty"`
	References      []json.RawMessage      `json:"references,omitempty"`
	TraceQueries    []json.RawMessage      `json:"trace_queries,omitempty"`
	ClassInfo       *ClassDescriptor       `json:"class_info,omitempty"`
	Rows            []AttendanceRow        `json:"rows,omitempty"`
	Actions         []ActionKind           `json:"actions,omitempty"`
	ClassSections   []ClassSection         `json:"class_sections,omitempty"`
	LeaveRequests   []LeaveRequest         `json:"leave_requests,omitempty"`
	CourseProgress  *CourseProgressSummary `json:"course_progress,omitempty"`
	Signals         *FlowSignals           `json:"signals,omitempty"`
	AutoSubmitAfter time.Duration          `json:"auto_submit_after,omitempty"`
}

// HasCommitActions reports whether the message offers approve/reject affordances.
func (m BotMessage) HasCommitActions() bool {
	for _, a := range m.Actions {
		if a == ActionApprove || a == ActionReject {
			return true
		}
	}
	return false
}

// Directives are the only channel through which a flow handler requests state changes.
type Directives struct {
	Step                 *AttendanceStep `json:"step,omitempty"`
	Rows                 []AttendanceRow `json:"rows,omitempty"`
	UpdateRows           bool            `json:"update_rows,omitempty"`
	Flow                 *FlowID         `json:"flow,omitempty"`
	ScheduleExit         bool            `json:"schedule_exit,omitempty"`
	ClassSections        []ClassSection  `json:"class_sections,omitempty"`
	SelectedClassSection *ClassSection   `json:"selected_class_section,omitempty"`
	ClearSelection       bool            `json:"clear_selection,omitempty"`
	LeaveRequests        []LeaveRequest  `json:"leave_requests,omitempty"`
	UpdateLeaveRequests  bool            `json:"update_leave_requests,omitempty"`
}

// FlowResult is the normalized output of every flow handler.
type FlowResult struct {
	Message    BotMessage `json:"message"`
	Directives Directives `json:"directives"`
}

// TextResult builds a FlowResult carrying only a text message.
func TextResult(text string) FlowResult {
	return FlowResult{Message: BotMessage{Text: text}}
}

// ErrorResult builds a FlowResult carrying an error message and no directives.
func ErrorResult(text string) FlowResult {
	return FlowResult{Message: BotMessage{Text: text, IsError: true}}
}

// Turn is one entry of the conversation log.
type Turn struct {
	Index          int                   `json:"index"`
	Role           Role                  `json:"role"`
	Text           string                `json:"text"`
	Flow           FlowID                `json:"flow,omitempty"`
	Voice          bool                  `json:"voice,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Reply          *BotMessage           `json:"reply,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// IsBot reports whether the turn was produced by the assistant.
func (t Turn) IsBot() bool {
	return t.Role == RoleBot && t.Reply != nil
}
