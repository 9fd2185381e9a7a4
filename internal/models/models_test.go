package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestClassDescriptorNormalized(t *testing.T) {
	c := ClassDescriptor{Class: " nursery ", Section: "b", Date: "5 August 2025 "}
	got := c.Normalized()
	want := ClassDescriptor{Class: "NURSERY", Section: "B", Date: "5 August 2025"}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if !got.Complete() {
		t.Error("expected normalized descriptor to be complete")
	}
	if (ClassDescriptor{Class: "6", Section: "A"}).Complete() {
		t.Error("descriptor without date should not be complete")
	}
}

func TestAttendanceStepCarriesClass(t *testing.T) {
	var zero AttendanceStep
	if zero.Kind() != StepClassInfo {
		t.Errorf("zero step should be class_info, got %s", zero.Kind())
	}
	if _, ok := zero.Class(); ok {
		t.Error("class_info step should not carry a class")
	}

	c := ClassDescriptor{Class: "6", Section: "A", Date: "2025-01-15"}
	step := StudentDetailsStep(c)
	got, ok := step.Class()
	if !ok || got != c {
		t.Errorf("expected student_details to carry %+v, got %+v (ok=%v)", c, got, ok)
	}
	if CompletedStep(c).Rank() <= step.Rank() {
		t.Error("completed should rank after student_details")
	}
}

func TestAttendanceStepJSONRoundTrip(t *testing.T) {
	c := ClassDescriptor{Class: "6", Section: "A", Date: "2025-01-15"}
	data, err := json.Marshal(CompletedStep(c))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded AttendanceStep
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Kind() != StepCompleted {
		t.Errorf("expected completed, got %s", decoded.Kind())
	}
	if got, _ := decoded.Class(); got != c {
		t.Errorf("expected class %+v, got %+v", c, got)
	}
}

func TestAttendanceStepRejectsMissingClass(t *testing.T) {
	var s AttendanceStep
	err := json.Unmarshal([]byte(`{"kind":"student_details"}`), &s)
	if err == nil || !strings.Contains(err.Error(), "requires a class descriptor") {
		t.Errorf("expected missing descriptor error, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &s); err == nil {
		t.Error("expected error for unknown step")
	}
}

func TestConversationStateResetAndClone(t *testing.T) {
	idx := 3
	s := NewConversationState()
	s.ActiveFlow = FlowAttendance
	s.Attendance = CompletedStep(ClassDescriptor{Class: "6", Section: "A", Date: "today"})
	s.AttendanceRows = []AttendanceRow{{StudentName: "Asha", AttendanceStatus: StatusPresent}}
	s.EditingTurnIndex = &idx

	clone := s.Clone()
	clone.AttendanceRows[0].AttendanceStatus = StatusAbsent
	*clone.EditingTurnIndex = 9
	if s.AttendanceRows[0].AttendanceStatus != StatusPresent || *s.EditingTurnIndex != 3 {
		t.Error("clone must not alias the original state")
	}

	s.ResetEpisode()
	if s.Attendance.Kind() != StepClassInfo || s.AttendanceRows != nil || s.EditingTurnIndex != nil {
		t.Errorf("episode not reset: %+v", s)
	}
	if s.PendingClassInfo() != nil {
		t.Error("pending class info should be cleared by reset")
	}
}

func TestParseFlowID(t *testing.T) {
	tests := []struct {
		label string
		want  FlowID
		ok    bool
	}{
		{"attendance", FlowAttendance, true},
		{" Leave_Approval ", FlowLeaveApproval, true},
		{"assignment_create", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFlowID(tt.label)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFlowID(%q) = %q, %v; want %q, %v", tt.label, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseAttendanceStatus(t *testing.T) {
	if s, ok := ParseAttendanceStatus("present"); !ok || s != StatusPresent {
		t.Errorf("expected Present, got %q", s)
	}
	if s, ok := ParseAttendanceStatus(" A "); !ok || s != StatusAbsent {
		t.Errorf("expected Absent, got %q", s)
	}
	if _, ok := ParseAttendanceStatus("late"); ok {
		t.Error("late is not a valid status")
	}
}

func TestRequestValidation(t *testing.T) {
	start := StartSessionRequest{}
	if err := start.Validate(); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	turn := TurnRequest{Text: strings.Repeat("x", MaxUtteranceLength+1)}
	if err := turn.Validate(); !errors.Is(err, ErrUtteranceTooLong) {
		t.Errorf("expected ErrUtteranceTooLong, got %v", err)
	}
	turn = TurnRequest{Text: "   "}
	if err := turn.Validate(); !errors.Is(err, ErrEmptyUtterance) {
		t.Errorf("expected ErrEmptyUtterance, got %v", err)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	resp := SuccessWithMessage("done", map[string]int{"n": 1})
	if resp.Status != string(APIStatusOK) || resp.Message != "done" || resp.Result == nil {
		t.Errorf("unexpected success response: %+v", resp)
	}
	errResp := Error("bad")
	if errResp.Status != string(APIStatusError) || errResp.Message != "bad" {
		t.Errorf("unexpected error response: %+v", errResp)
	}
}
