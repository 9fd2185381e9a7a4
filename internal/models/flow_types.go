// Package models defines flow type definitions shared by the router, handlers and controller.
package models

import "strings"

// FlowID identifies one task flow a conversation can be in.
type FlowID string

// Flow identifier constants.
const (
	FlowNone                FlowID = "none"
	FlowQuery               FlowID = "query"
	FlowAttendance          FlowID = "attendance"
	FlowVoiceAttendance     FlowID = "voice_attendance"
	FlowFullVoiceAttendance FlowID = "full_voice_attendance"
	FlowLeave               FlowID = "leave"
	FlowLeaveApproval       FlowID = "leave_approval"
	FlowAssignment          FlowID = "assignment"
	FlowCourseProgress      FlowID = "course_progress"
)

// AllFlows lists every flow identifier in declaration order.
var AllFlows = []FlowID{
	FlowNone,
	FlowQuery,
	FlowAttendance,
	FlowVoiceAttendance,
	FlowFullVoiceAttendance,
	FlowLeave,
	FlowLeaveApproval,
	FlowAssignment,
	FlowCourseProgress,
}

// ParseFlowID converts a label into a FlowID. Labels are matched case-insensitively.
func ParseFlowID(label string) (FlowID, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, f := range AllFlows {
		if string(f) == label {
			return f, true
		}
	}
	return "", false
}

// IsIdle reports whether the flow is one of the resting flows (none or query).
func (f FlowID) IsIdle() bool {
	return f == FlowNone || f == FlowQuery || f == ""
}

// IsStepped reports whether the flow is driven by the local attendance step machine.
func (f FlowID) IsStepped() bool {
	return f == FlowAttendance || f == FlowVoiceAttendance
}

// CollectsAttendance reports whether the flow produces attendance rows.
func (f FlowID) CollectsAttendance() bool {
	return f.IsStepped() || f == FlowFullVoiceAttendance
}

// DisplayName returns a human readable flow name used in bot messages.
func (f FlowID) DisplayName() string {
	switch f {
	case FlowQuery:
		return "general query"
	case FlowAttendance:
		return "attendance"
	case FlowVoiceAttendance:
		return "voice attendance"
	case FlowFullVoiceAttendance:
		return "full voice attendance"
	case FlowLeave:
		return "leave application"
	case FlowLeaveApproval:
		return "leave approval"
	case FlowAssignment:
		return "assignment"
	case FlowCourseProgress:
		return "course progress"
	default:
		return string(f)
	}
}

// StepKind represents a step within the attendance flows.
type StepKind string

// Attendance step constants.
const (
	StepClassInfo      StepKind = "class_info"
	StepStudentDetails StepKind = "student_details"
	StepCompleted      StepKind = "completed"
)

// ActionKind names a commit affordance attached to a bot message.
type ActionKind string

// Commit affordances offered once attendance rows exist.
const (
	ActionApprove ActionKind = "approve"
	ActionReject  ActionKind = "reject"
	ActionEdit    ActionKind = "edit"
)

// CommitActions is the set of affordances attached to a completed attendance message.
func CommitActions() []ActionKind {
	return []ActionKind{ActionApprove, ActionReject, ActionEdit}
}

// Role identifies who produced a turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)
