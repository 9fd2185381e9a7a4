package flow

import (
	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const (
	imageFallbackPrompt = "I can't read attendance registers from images right now. Please type the attendance details instead, for example: \"All present except Ravi\"."
	imageNoRowsMessage  = "I couldn't find any student attendance in that image. Please try a clearer photo or type the details."
)

// ImageAttendanceResult converts a process-attendance-image response for the given class into a
// FlowResult. The degraded vision response becomes a text-entry prompt that keeps the episode in
// student_details.
func ImageAttendanceResult(resp *backend.ChatResponse, class models.ClassDescriptor) models.FlowResult {
	text := resp.FailureText("")
	if backend.IsDegradedVisionResponse(text) || backend.IsDegradedVisionResponse(resp.Data.Text()) {
		next := models.StudentDetailsStep(class)
		return models.FlowResult{
			Message:    models.BotMessage{Text: imageFallbackPrompt, ClassInfo: &class},
			Directives: models.Directives{Step: &next},
		}
	}
	if !resp.OK() {
		return models.ErrorResult(resp.FailureText(GenericErrorMessage))
	}

	if resp.Data.ClassInfo != nil && resp.Data.ClassInfo.Complete() {
		class = resp.Data.ClassInfo.Normalized()
	}
	answer := resp.Data.Text()
	rows := ParseAttendanceTable(answer)
	if len(rows) == 0 {
		rows = resp.Data.AttendanceSummary
	}
	if len(rows) == 0 {
		if answer == "" {
			answer = imageNoRowsMessage
		}
		return models.TextResult(answer)
	}
	return completedResult(class, rows, answer)
}
