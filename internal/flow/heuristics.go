package flow

import (
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

func normalizeUtterance(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

func containsExact(set []string, msg string) bool {
	for _, k := range set {
		if strings.ToLower(k) == msg {
			return true
		}
	}
	return false
}

// IsExitCommand reports whether msg is exactly one of the exit keywords, ignoring case.
func (t Tuning) IsExitCommand(msg string) bool {
	return containsExact(t.ExitKeywords, normalizeUtterance(msg))
}

// LooksLikeNewRequest reports whether msg contains a flow-initiating phrase.
func (t Tuning) LooksLikeNewRequest(msg string) bool {
	m := normalizeUtterance(msg)
	for _, p := range t.NewRequestPhrases {
		if p != "" && strings.Contains(m, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// IsSimpleResponse reports whether msg is a short acknowledgement or category answer.
func (t Tuning) IsSimpleResponse(msg string) bool {
	return containsExact(t.SimpleResponses, normalizeUtterance(msg))
}

// ShouldStayInFlow reports whether msg continues the active flow instead of being reclassified.
// The conditions short-circuit; any one is sufficient.
func (t Tuning) ShouldStayInFlow(state models.ConversationState, msg string) bool {
	flow := state.ActiveFlow

	// Mid-episode attendance waiting for student details of a known class.
	if flow.IsStepped() && state.Attendance.Kind() == models.StepStudentDetails && state.PendingClassInfo() != nil {
		return true
	}
	if (flow == models.FlowLeave || flow == models.FlowAssignment) && !t.LooksLikeNewRequest(msg) {
		return true
	}
	if t.IsSimpleResponse(msg) && !flow.IsIdle() {
		return true
	}
	if !flow.IsIdle() && utf8.RuneCountInString(strings.TrimSpace(msg)) < t.ShortMessageLimit && !t.LooksLikeNewRequest(msg) {
		return true
	}
	return false
}
