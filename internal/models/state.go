// Package models defines conversation state structures for ClassAssist sessions.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ClassDescriptor identifies one attendance episode. All fields are free text.
type ClassDescriptor struct {
	Class   string `json:"class_"`
	Section string `json:"section"`
	Date    string `json:"date"`
}

// Complete reports whether all three fields are present.
func (c ClassDescriptor) Complete() bool {
	return strings.TrimSpace(c.Class) != "" && strings.TrimSpace(c.Section) != "" && strings.TrimSpace(c.Date) != ""
}

// Normalized trims all fields and upper-cases class and section.
// Dates keep their original casing so that spelled-out months stay readable.
func (c ClassDescriptor) Normalized() ClassDescriptor {
	return ClassDescriptor{
		Class:   strings.ToUpper(strings.TrimSpace(c.Class)),
		Section: strings.ToUpper(strings.TrimSpace(c.Section)),
		Date:    strings.TrimSpace(c.Date),
	}
}

func (c ClassDescriptor) String() string {
	return fmt.Sprintf("Class %s-%s on %s", c.Class, c.Section, c.Date)
}

// AttendanceStatus is the per-student attendance mark.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "Present"
	StatusAbsent  AttendanceStatus = "Absent"
)

// ParseAttendanceStatus accepts present/absent (and p/a) case-insensitively.
func ParseAttendanceStatus(s string) (AttendanceStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "present", "p":
		return StatusPresent, true
	case "absent", "a":
		return StatusAbsent, true
	default:
		return "", false
	}
}

// AttendanceRow is one student's attendance entry. Duplicate names are legal.
type AttendanceRow struct {
	StudentName      string           `json:"student_name"`
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
}

// CloneRows returns a copy of rows so that callers cannot alias another owner's slice.
func CloneRows(rows []AttendanceRow) []AttendanceRow {
	if rows == nil {
		return nil
	}
	out := make([]AttendanceRow, len(rows))
	copy(out, rows)
	return out
}

// AttendanceStep is the attendance step together with the payload that step requires.
// The student_details and completed steps always carry a class descriptor.
type AttendanceStep struct {
	kind  StepKind
	class ClassDescriptor
}

// ClassInfoStep is the initial step of an attendance episode.
func ClassInfoStep() AttendanceStep {
	return AttendanceStep{kind: StepClassInfo}
}

// StudentDetailsStep is the step waiting for student details of the given class.
func StudentDetailsStep(c ClassDescriptor) AttendanceStep {
	return AttendanceStep{kind: StepStudentDetails, class: c}
}

// CompletedStep is the step where rows for the given class have been collected.
func CompletedStep(c ClassDescriptor) AttendanceStep {
	return AttendanceStep{kind: StepCompleted, class: c}
}

// Kind returns the step kind. The zero value reports class_info.
func (s AttendanceStep) Kind() StepKind {
	if s.kind == "" {
		return StepClassInfo
	}
	return s.kind
}

// Class returns the class descriptor carried by the step, if any.
func (s AttendanceStep) Class() (ClassDescriptor, bool) {
	if s.Kind() == StepClassInfo {
		return ClassDescriptor{}, false
	}
	return s.class, true
}

// Rank orders steps so that forward-only transitions can be checked.
func (s AttendanceStep) Rank() int {
	switch s.Kind() {
	case StepStudentDetails:
		return 1
	case StepCompleted:
		return 2
	default:
		return 0
	}
}

type attendanceStepJSON struct {
	Kind  StepKind         `json:"kind"`
	Class *ClassDescriptor `json:"class,omitempty"`
}

// MarshalJSON encodes the step as {"kind": ..., "class": ...}.
func (s AttendanceStep) MarshalJSON() ([]byte, error) {
	out := attendanceStepJSON{Kind: s.Kind()}
	if c, ok := s.Class(); ok {
		out.Class = &c
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a step and rejects steps that lack their required descriptor.
func (s *AttendanceStep) UnmarshalJSON(data []byte) error {
	var in attendanceStepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "", StepClassInfo:
		*s = ClassInfoStep()
	case StepStudentDetails, StepCompleted:
		if in.Class == nil {
			return fmt.Errorf("attendance step %q requires a class descriptor", in.Kind)
		}
		*s = AttendanceStep{kind: in.Kind, class: *in.Class}
	default:
		return fmt.Errorf("unknown attendance step %q", in.Kind)
	}
	return nil
}

// ClassSection is one selectable class/section for the course progress flow.
type ClassSection struct {
	ID      string `json:"id"`
	Class   string `json:"class_"`
	Section string `json:"section"`
	Name    string `json:"name,omitempty"`
}

// Label returns the display label of the class section.
func (c ClassSection) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.TrimSpace(c.Class + " " + c.Section)
}

// LeaveRequest is one pending leave request awaiting approval.
type LeaveRequest struct {
	ID            string `json:"id"`
	ApplicantName string `json:"applicant_name"`
	LeaveType     string `json:"leave_type,omitempty"`
	FromDate      string `json:"from_date,omitempty"`
	ToDate        string `json:"to_date,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ConversationState is the mutable per-session state owned by the controller.
type ConversationState struct {
	ActiveFlow            FlowID          `json:"active_flow"`
	Attendance            AttendanceStep  `json:"attendance_step"`
	AttendanceRows        []AttendanceRow `json:"attendance_rows,omitempty"`
	EditingTurnIndex      *int            `json:"editing_turn_index,omitempty"`
	ClassSections         []ClassSection  `json:"class_sections,omitempty"`
	SelectedClassSection  *ClassSection   `json:"selected_class_section,omitempty"`
	LeaveApprovalRequests []LeaveRequest  `json:"leave_approval_requests,omitempty"`
	LeaveRequestsLoaded   bool            `json:"leave_requests_loaded,omitempty"`
}

// NewConversationState returns the default state used on session start and flow exit.
func NewConversationState() ConversationState {
	return ConversationState{
		ActiveFlow: FlowQuery,
		Attendance: ClassInfoStep(),
	}
}

// PendingClassInfo returns the class descriptor of the current attendance episode, if any.
func (s ConversationState) PendingClassInfo() *ClassDescriptor {
	c, ok := s.Attendance.Class()
	if !ok {
		return nil
	}
	return &c
}

// ResetEpisode clears the attendance episode: step, rows and edit marker.
func (s *ConversationState) ResetEpisode() {
	s.Attendance = ClassInfoStep()
	s.AttendanceRows = nil
	s.EditingTurnIndex = nil
}

// ResetFlowCaches clears caches that belong to the course progress and leave approval flows.
func (s *ConversationState) ResetFlowCaches() {
	s.ClassSections = nil
	s.SelectedClassSection = nil
	s.LeaveApprovalRequests = nil
	s.LeaveRequestsLoaded = false
}

// Clone returns a deep copy of the state.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.AttendanceRows = CloneRows(s.AttendanceRows)
	if s.EditingTurnIndex != nil {
		idx := *s.EditingTurnIndex
		out.EditingTurnIndex = &idx
	}
	if s.ClassSections != nil {
		out.ClassSections = append([]ClassSection(nil), s.ClassSections...)
	}
	if s.SelectedClassSection != nil {
		cs := *s.SelectedClassSection
		out.SelectedClassSection = &cs
	}
	if s.LeaveApprovalRequests != nil {
		out.LeaveApprovalRequests = append([]LeaveRequest(nil), s.LeaveApprovalRequests...)
	}
	return out
}

// AttendanceSnapshot is the session-scoped copy written by the most recent manual save.
type AttendanceSnapshot struct {
	Rows      []AttendanceRow `json:"rows"`
	ClassInfo ClassDescriptor `json:"class_info"`
	SavedAt   time.Time       `json:"saved_at"`
}

// Tenant carries the bearer token and tenant headers forwarded to ERP endpoints.
type Tenant struct {
	Token           string `json:"token,omitempty"`
	AcademicSession string `json:"academic_session,omitempty"`
	BranchToken     string `json:"branch_token,omitempty"`
}

// SessionRecord is the persisted form of one conversation session.
type SessionRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Roles     []string          `json:"roles,omitempty"`
	Tenant    Tenant            `json:"tenant"`
	State     ConversationState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
