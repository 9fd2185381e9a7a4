package flow

import (
	"strings"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

const (
	headerStudentName      = "student name"
	headerAttendanceStatus = "attendance status"
)

// ParseAttendanceTable extracts rows from a Markdown table whose header contains
// "Student Name" and "Attendance Status" cells. Cell values are kept verbatim after trimming.
// It returns nil when no such table is found.
func ParseAttendanceTable(text string) []models.AttendanceRow {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "|") {
			continue
		}
		nameCol, statusCol := -1, -1
		for j, cell := range splitTableCells(line) {
			switch strings.ToLower(cell) {
			case headerStudentName:
				nameCol = j
			case headerAttendanceStatus:
				statusCol = j
			}
		}
		if nameCol < 0 || statusCol < 0 {
			continue
		}
		return parseTableBody(lines[i+1:], nameCol, statusCol)
	}
	return nil
}

func parseTableBody(lines []string, nameCol, statusCol int) []models.AttendanceRow {
	var rows []models.AttendanceRow
	for _, line := range lines {
		if !strings.Contains(line, "|") {
			if strings.TrimSpace(line) == "" && len(rows) == 0 {
				continue
			}
			break
		}
		cells := splitTableCells(line)
		if isSeparatorRow(cells) {
			continue
		}
		if nameCol >= len(cells) || statusCol >= len(cells) {
			continue
		}
		name := cells[nameCol]
		if name == "" {
			continue
		}
		rows = append(rows, models.AttendanceRow{
			StudentName:      name,
			AttendanceStatus: models.AttendanceStatus(cells[statusCol]),
		})
	}
	return rows
}

func splitTableCells(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}
