package flow

import (
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

func TestParseAttendanceTable(t *testing.T) {
	answer := `Here is the attendance I recorded:

| Student Name | Attendance Status |
|--------------|:-----------------:|
|  Asha Rao    | Present           |
| Ravi Kumar | Absent |

Please review before approving.`

	rows := ParseAttendanceTable(answer)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	want := []models.AttendanceRow{
		{StudentName: "Asha Rao", AttendanceStatus: "Present"},
		{StudentName: "Ravi Kumar", AttendanceStatus: "Absent"},
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, want[i], rows[i])
		}
	}
}

func TestParseAttendanceTableColumnOrderAndDuplicates(t *testing.T) {
	answer := "| # | Attendance Status | Student Name |\n| --- | --- | --- |\n| 1 | Present | Asha |\n| 2 | Present | Asha |"
	rows := ParseAttendanceTable(answer)
	if len(rows) != 2 || rows[0].StudentName != "Asha" || rows[1].StudentName != "Asha" {
		t.Errorf("expected duplicate names preserved positionally, got %+v", rows)
	}
}

func TestParseAttendanceTableMissingHeader(t *testing.T) {
	if rows := ParseAttendanceTable("| Name | Status |\n|---|---|\n| Asha | Present |"); rows != nil {
		t.Errorf("expected no rows without the expected header, got %+v", rows)
	}
	if rows := ParseAttendanceTable("All present"); rows != nil {
		t.Errorf("expected no rows for plain text, got %+v", rows)
	}
}
