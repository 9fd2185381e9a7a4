package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

func stateIn(flow models.FlowID) models.ConversationState {
	s := models.NewConversationState()
	s.ActiveFlow = flow
	return s
}

func TestHeuristics(t *testing.T) {
	tu := DefaultTuning()

	if !tu.IsExitCommand("  EXIT ") || !tu.IsExitCommand("done") {
		t.Error("expected exit keywords to match case-insensitively")
	}
	if tu.IsExitCommand("exit please") {
		t.Error("exit match must be exact")
	}
	if !tu.LooksLikeNewRequest("Please MARK ATTENDANCE for class 5") {
		t.Error("expected new request phrase to match as a substring")
	}
	if !tu.IsSimpleResponse("Yes") || tu.IsSimpleResponse("yes please") {
		t.Error("simple response must be an exact match")
	}
}

func TestShouldStayInFlow(t *testing.T) {
	tu := DefaultTuning()
	long := "I would like to understand how the fee structure differs between the primary and secondary wings of the school"

	details := stateIn(models.FlowAttendance)
	details.Attendance = models.StudentDetailsStep(models.ClassDescriptor{Class: "6", Section: "A", Date: "today"})

	tests := []struct {
		name  string
		state models.ConversationState
		msg   string
		want  bool
	}{
		{"student details step stays even for new request", details, "mark attendance for everyone present", true},
		{"leave continues", stateIn(models.FlowLeave), long, true},
		{"leave broken by new request", stateIn(models.FlowLeave), "show me the timetable for today and also tomorrow please thanks a lot", false},
		{"simple response in active flow", stateIn(models.FlowCourseProgress), "yes", true},
		{"simple response in query", stateIn(models.FlowQuery), "yes", false},
		{"short message in active flow", stateIn(models.FlowLeaveApproval), "the second one", true},
		{"long message in active flow", stateIn(models.FlowLeaveApproval), long, false},
		{"none flow never stays", stateIn(models.FlowNone), "ok", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tu.ShouldStayInFlow(tt.state, tt.msg); got != tt.want {
				t.Errorf("ShouldStayInFlow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouteExitCommand(t *testing.T) {
	fc := &fakeClassifier{result: models.ClassificationResult{Flow: "leave", Confidence: 0.9}}
	r := NewRouter(fc, NewTuningStore(DefaultTuning()))

	s := stateIn(models.FlowAttendance)
	s.Attendance = models.StudentDetailsStep(models.ClassDescriptor{Class: "6", Section: "A", Date: "today"})
	d := r.Route(context.Background(), "Cancel", s, "u1", nil)
	if d.TargetFlow != models.FlowNone || d.ShouldClassify || d.Classification != nil {
		t.Errorf("expected exit decision, got %+v", d)
	}
	if fc.Calls() != 0 {
		t.Errorf("classifier must not run on exit, got %d calls", fc.Calls())
	}

	// Exit keyword in an idle flow is classified like any other utterance.
	d = r.Route(context.Background(), "stop", stateIn(models.FlowQuery), "u1", nil)
	if !d.ShouldClassify {
		t.Error("expected classification for exit keyword outside an active flow")
	}
}

func TestRouteStayInFlowSkipsClassifier(t *testing.T) {
	fc := &fakeClassifier{result: models.ClassificationResult{Flow: "query", Confidence: 0.9}}
	r := NewRouter(fc, NewTuningStore(DefaultTuning()))

	for _, msg := range []string{"yes", "sick", "from monday to wednesday"} {
		d := r.Route(context.Background(), msg, stateIn(models.FlowLeave), "u1", nil)
		if d.TargetFlow != models.FlowLeave || d.ShouldClassify {
			t.Errorf("%q: expected to stay in leave, got %+v", msg, d)
		}
	}
	if fc.Calls() != 0 {
		t.Errorf("expected zero classifier calls, got %d", fc.Calls())
	}
}

func TestRouteLowConfidenceOverride(t *testing.T) {
	fc := &fakeClassifier{result: models.ClassificationResult{Flow: "assignment", Confidence: 0.1}}
	r := NewRouter(fc, NewTuningStore(DefaultTuning()))

	d := r.Route(context.Background(), "create assignment for class 7", stateIn(models.FlowQuery), "u1", []string{"teacher"})
	if d.TargetFlow != models.FlowQuery {
		t.Errorf("expected query, got %s", d.TargetFlow)
	}
	if d.Classification == nil || d.Classification.Flow != "assignment" || !d.ShouldClassify {
		t.Errorf("expected original classification to be reported, got %+v", d)
	}
}

func TestRouteLabelAliases(t *testing.T) {
	fc := &fakeClassifier{result: models.ClassificationResult{Flow: "assignment_submit", Confidence: 0.7}}
	r := NewRouter(fc, NewTuningStore(DefaultTuning()))
	d := r.Route(context.Background(), "submit assignment", stateIn(models.FlowQuery), "u1", nil)
	if d.TargetFlow != models.FlowAssignment {
		t.Errorf("expected assignment, got %s", d.TargetFlow)
	}

	if got := CanonicalFlow("weather"); got != models.FlowQuery {
		t.Errorf("unknown label should map to query, got %s", got)
	}
	if got := CanonicalFlow("none"); got != models.FlowQuery {
		t.Errorf("none label should map to query, got %s", got)
	}
}

func TestRouteAutoRoutingDisabled(t *testing.T) {
	tu := DefaultTuning()
	tu.AutoRouting = false
	fc := &fakeClassifier{result: models.ClassificationResult{Flow: "leave", Confidence: 0.9}}
	r := NewRouter(fc, NewTuningStore(tu))

	d := r.Route(context.Background(), "apply leave for tomorrow because I am travelling to my hometown", stateIn(models.FlowCourseProgress), "u1", nil)
	if d.TargetFlow != models.FlowCourseProgress || d.ShouldClassify || fc.Calls() != 0 {
		t.Errorf("expected active flow without classification, got %+v (calls=%d)", d, fc.Calls())
	}
}
