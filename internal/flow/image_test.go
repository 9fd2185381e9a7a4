package flow

import (
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

func TestImageAttendanceResult(t *testing.T) {
	class := models.ClassDescriptor{Class: "6", Section: "A", Date: "2025-08-05"}

	t.Run("degraded vision", func(t *testing.T) {
		resp := &backend.ChatResponse{Status: "error", Message: "A vision-capable model is not configured"}
		res := ImageAttendanceResult(resp, class)
		if res.Message.IsError || res.Message.Text != imageFallbackPrompt {
			t.Errorf("expected fallback prompt, got %+v", res.Message)
		}
		if res.Directives.Step == nil || res.Directives.Step.Kind() != models.StepStudentDetails {
			t.Error("expected student_details step")
		}
	})

	t.Run("rows complete the episode", func(t *testing.T) {
		resp := chatOK(backend.ChatData{Answer: "Register read", AttendanceSummary: []models.AttendanceRow{
			{StudentName: "Asha", AttendanceStatus: models.StatusPresent},
			{StudentName: "Ravi", AttendanceStatus: models.StatusAbsent},
		}})
		res := ImageAttendanceResult(resp, class)
		if res.Directives.Step == nil || res.Directives.Step.Kind() != models.StepCompleted {
			t.Fatalf("expected completed step, got %+v", res.Directives)
		}
		if len(res.Directives.Rows) != 2 || !res.Message.HasCommitActions() {
			t.Errorf("expected rows with commit actions, got %+v", res.Message)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		res := ImageAttendanceResult(chatOK(backend.ChatData{}), class)
		if res.Directives.Step != nil || res.Message.Text != imageNoRowsMessage {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("unsuccessful", func(t *testing.T) {
		res := ImageAttendanceResult(&backend.ChatResponse{Status: "error", Message: "file too large"}, class)
		if !res.Message.IsError || res.Message.Text != "file too large" {
			t.Errorf("expected backend message, got %+v", res.Message)
		}
	})
}
