package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

var (
	classA   = models.ClassDescriptor{Class: "6", Section: "A", Date: "2025-01-15"}
	classB   = models.ClassDescriptor{Class: "7", Section: "B", Date: "2025-01-16"}
	liveRows = []models.AttendanceRow{{StudentName: "Asha", AttendanceStatus: models.StatusAbsent}}
	oldRows  = []models.AttendanceRow{
		{StudentName: "Asha", AttendanceStatus: models.StatusPresent},
		{StudentName: "Ravi", AttendanceStatus: models.StatusPresent},
	}
)

func botTurn(index int, msg models.BotMessage) models.Turn {
	return models.Turn{Index: index, Role: models.RoleBot, Reply: &msg}
}

func userTurn(index int, text string) models.Turn {
	return models.Turn{Index: index, Role: models.RoleUser, Text: text}
}

func intPtr(i int) *int { return &i }

func TestReconcileLiveEditWins(t *testing.T) {
	in := ReconcileInput{
		EditingTurnIndex: intPtr(1),
		LiveRows:         liveRows,
		LiveClass:        &classA,
		Log: []models.Turn{
			userTurn(0, "class 7 b"),
			botTurn(1, models.BotMessage{Rows: oldRows, ClassInfo: &classB, Actions: models.CommitActions()}),
		},
	}
	got, err := ReconcileAttendance(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Source != SourceLiveEdit || len(got.Rows) != 1 || got.Rows[0].AttendanceStatus != models.StatusAbsent {
		t.Errorf("expected live edited rows, got %+v", got)
	}
	if got.Class != classA {
		t.Errorf("expected live class, got %+v", got.Class)
	}
}

func TestReconcileLiveEditFallsBackToEditedTurnClass(t *testing.T) {
	in := ReconcileInput{
		EditingTurnIndex: intPtr(1),
		LiveRows:         liveRows,
		Log: []models.Turn{
			userTurn(0, "class 7 b"),
			botTurn(1, models.BotMessage{Rows: oldRows, ClassInfo: &classB, Actions: models.CommitActions()}),
		},
	}
	got, err := ReconcileAttendance(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Source != SourceLiveEdit || got.Class != classB {
		t.Errorf("expected live rows with the edited turn's class, got %+v", got)
	}
}

func TestReconcileNewestMessageRows(t *testing.T) {
	in := ReconcileInput{
		LiveRows:  liveRows,
		LiveClass: &classA,
		Log: []models.Turn{
			botTurn(0, models.BotMessage{Rows: liveRows, ClassInfo: &classA}),
			userTurn(1, "again"),
			botTurn(2, models.BotMessage{Rows: oldRows}),
			botTurn(3, models.BotMessage{Text: "ok"}),
		},
	}
	got, err := ReconcileAttendance(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Source != SourceLatestRows || got.TurnIndex != 2 || len(got.Rows) != 2 {
		t.Errorf("expected rows of turn 2, got %+v", got)
	}
	if got.Class != classA {
		t.Errorf("expected live class fallback, got %+v", got.Class)
	}
}

func TestReconcileAffordanceTurnUsesLiveRows(t *testing.T) {
	in := ReconcileInput{
		LiveRows:  liveRows,
		LiveClass: &classB,
		Log:       []models.Turn{botTurn(0, models.BotMessage{Text: "ready", Actions: models.CommitActions()})},
	}
	got, err := ReconcileAttendance(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Source != SourceAffordanceTurn || got.Class != classB || len(got.Rows) != 1 {
		t.Errorf("expected affordance turn with live rows, got %+v", got)
	}
}

func TestReconcileLiveRowsAndSnapshot(t *testing.T) {
	got, err := ReconcileAttendance(ReconcileInput{LiveRows: liveRows})
	if err != nil || got.Source != SourceLiveRows {
		t.Errorf("expected live rows, got %+v, %v", got, err)
	}

	snap := &models.AttendanceSnapshot{Rows: oldRows, ClassInfo: classB, SavedAt: time.Now()}
	got, err = ReconcileAttendance(ReconcileInput{Snapshot: snap})
	if err != nil || got.Source != SourceSnapshot || got.Class != classB || len(got.Rows) != 2 {
		t.Errorf("expected snapshot, got %+v, %v", got, err)
	}
}

func TestReconcileExhaustion(t *testing.T) {
	in := ReconcileInput{
		Log:           []models.Turn{userTurn(0, "hi"), botTurn(1, models.BotMessage{Text: "hello"})},
		HintTurnIndex: intPtr(1),
		Snapshot:      &models.AttendanceSnapshot{},
	}
	_, err := ReconcileAttendance(in)
	if !errors.Is(err, models.ErrNoAttendanceData) {
		t.Errorf("expected ErrNoAttendanceData, got %v", err)
	}
}

func TestReconcileDoesNotAliasInputs(t *testing.T) {
	rows := models.CloneRows(liveRows)
	got, err := ReconcileAttendance(ReconcileInput{LiveRows: rows})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.Rows[0].StudentName = "changed"
	if rows[0].StudentName != "Asha" {
		t.Error("reconciliation must copy rows")
	}
}
