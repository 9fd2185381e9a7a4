package messaging

import (
	"strings"
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

func TestRenderBotMessage_AttendanceTable(t *testing.T) {
	msg := models.BotMessage{
		Text:      "Attendance is ready for review.",
		ClassInfo: &models.ClassDescriptor{Class: "5", Section: "A", Date: "2025-07-01"},
		Rows: []models.AttendanceRow{
			{StudentName: "Asha", AttendanceStatus: models.StatusPresent},
			{StudentName: "Ravi", AttendanceStatus: models.StatusAbsent},
		},
		Actions: models.CommitActions(),
	}

	got := RenderBotMessage(msg)
	for _, want := range []string{
		"Attendance is ready for review.",
		"*Class 5-A on 2025-07-01*",
		"1. Asha - Present",
		"2. Ravi - Absent",
		"Present: 1/2",
		commitHint,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered message missing %q:\n%s", want, got)
		}
	}
}

func TestRenderBotMessage_PlainText(t *testing.T) {
	if got := RenderBotMessage(models.BotMessage{Text: "  Hello  "}); got != "Hello" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderBotMessage_Lists(t *testing.T) {
	msg := models.BotMessage{
		Text:          "Pick one",
		ClassSections: []models.ClassSection{{ID: "1", Class: "5", Section: "A", Name: "5-A"}},
		LeaveRequests: []models.LeaveRequest{{ID: "L1", ApplicantName: "Meena", LeaveType: "Sick", FromDate: "2025-07-01", ToDate: "2025-07-02", Reason: "fever"}},
		CourseProgress: &models.CourseProgressSummary{
			ClassSection: models.ClassSection{Name: "5-A"},
			Subjects:     3,
			ByStatus:     map[string]int{"Pending": 1, "Completed": 2},
		},
	}
	got := RenderBotMessage(msg)
	for _, want := range []string{"1. 5-A", "- Meena: Sick, 2025-07-01 to 2025-07-02 (fever)", "*5-A*: 3 subjects", "- Completed: 2\n- Pending: 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered message missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, commitHint) {
		t.Error("commit hint rendered without rows")
	}
}
