package messaging

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// commitHint tells channel users how to act on a completed attendance table.
const commitHint = "Reply *approve* to submit this attendance or *reject* to discard it."

// RenderBotMessage turns a bot message into plain chat text. Tables, option lists and
// summaries that a UI would draw are written out line by line.
func RenderBotMessage(msg models.BotMessage) string {
	var blocks []string
	if text := strings.TrimSpace(msg.Text); text != "" {
		blocks = append(blocks, text)
	}

	if len(msg.Rows) > 0 {
		var b strings.Builder
		if msg.ClassInfo != nil {
			fmt.Fprintf(&b, "*%s*\n", msg.ClassInfo.String())
		}
		present := 0
		for i, row := range msg.Rows {
			if row.AttendanceStatus == models.StatusPresent {
				present++
			}
			fmt.Fprintf(&b, "%d. %s - %s\n", i+1, row.StudentName, row.AttendanceStatus)
		}
		fmt.Fprintf(&b, "Present: %d/%d", present, len(msg.Rows))
		blocks = append(blocks, b.String())
	}

	if len(msg.ClassSections) > 0 {
		var b strings.Builder
		for i, cs := range msg.ClassSections {
			fmt.Fprintf(&b, "%d. %s\n", i+1, cs.Label())
		}
		b.WriteString("Reply with a class section to see its progress.")
		blocks = append(blocks, b.String())
	}

	if len(msg.LeaveRequests) > 0 {
		lines := make([]string, 0, len(msg.LeaveRequests))
		for _, lr := range msg.LeaveRequests {
			line := fmt.Sprintf("- %s: %s, %s to %s", lr.ApplicantName, lr.LeaveType, lr.FromDate, lr.ToDate)
			if lr.Reason != "" {
				line += fmt.Sprintf(" (%s)", lr.Reason)
			}
			lines = append(lines, line)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	if p := msg.CourseProgress; p != nil {
		lines := []string{fmt.Sprintf("*%s*: %d subjects", p.ClassSection.Label(), p.Subjects)}
		for _, status := range slices.Sorted(maps.Keys(p.ByStatus)) {
			lines = append(lines, fmt.Sprintf("- %s: %d", status, p.ByStatus[status]))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	if msg.HasCommitActions() && len(msg.Rows) > 0 {
		blocks = append(blocks, commitHint)
	}
	return strings.Join(blocks, "\n\n")
}
