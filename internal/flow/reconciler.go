package flow

import (
	"github.com/BTreeMap/ClassAssist/internal/models"
)

// ReconcileSource names the priority rule that produced a reconciliation.
type ReconcileSource string

const (
	SourceLiveEdit       ReconcileSource = "live_edit"
	SourceLatestRows     ReconcileSource = "latest_rows"
	SourceAffordanceTurn ReconcileSource = "affordance_turn"
	SourceHintedTurn     ReconcileSource = "hinted_turn"
	SourceLiveRows       ReconcileSource = "live_rows"
	SourceSnapshot       ReconcileSource = "snapshot"
)

// ReconcileInput is an immutable view of every candidate attendance source.
type ReconcileInput struct {
	EditingTurnIndex *int
	LiveRows         []models.AttendanceRow
	LiveClass        *models.ClassDescriptor
	Log              []models.Turn
	HintTurnIndex    *int
	Snapshot         *models.AttendanceSnapshot
}

// Reconciliation is the authoritative attendance data set chosen for a commit.
type Reconciliation struct {
	Rows      []models.AttendanceRow
	Class     models.ClassDescriptor
	Source    ReconcileSource
	TurnIndex int
}

// ReconcileAttendance picks the rows and class descriptor to commit. Sources are tried in strict
// priority order and the first non-empty one wins:
//
//  1. the live rows while a turn is being edited, with the edited turn's class when no live one is set
//  2. the newest bot turn carrying rows
//  3. the newest bot turn carrying commit actions (its rows, else the live rows)
//  4. the hinted turn, if it carries rows
//  5. the live rows
//  6. the manually saved snapshot
//
// models.ErrNoAttendanceData is returned when every source is empty.
func ReconcileAttendance(in ReconcileInput) (Reconciliation, error) {
	live := func(src ReconcileSource, turnIndex int) Reconciliation {
		return Reconciliation{Rows: models.CloneRows(in.LiveRows), Class: liveClass(in), Source: src, TurnIndex: turnIndex}
	}

	if in.EditingTurnIndex != nil && len(in.LiveRows) > 0 {
		rec := live(SourceLiveEdit, *in.EditingTurnIndex)
		if !rec.Class.Complete() {
			if t, ok := turnAt(in.Log, *in.EditingTurnIndex); ok && t.IsBot() && t.Reply.ClassInfo != nil {
				rec.Class = *t.Reply.ClassInfo
			}
		}
		return rec, nil
	}

	for i := len(in.Log) - 1; i >= 0; i-- {
		t := in.Log[i]
		if t.IsBot() && len(t.Reply.Rows) > 0 {
			return fromTurn(in, t, SourceLatestRows), nil
		}
	}

	for i := len(in.Log) - 1; i >= 0; i-- {
		t := in.Log[i]
		if !t.IsBot() || !t.Reply.HasCommitActions() {
			continue
		}
		if len(t.Reply.Rows) > 0 {
			return fromTurn(in, t, SourceAffordanceTurn), nil
		}
		if len(in.LiveRows) > 0 {
			return live(SourceAffordanceTurn, t.Index), nil
		}
		break
	}

	if in.HintTurnIndex != nil {
		if t, ok := turnAt(in.Log, *in.HintTurnIndex); ok && t.IsBot() && len(t.Reply.Rows) > 0 {
			return fromTurn(in, t, SourceHintedTurn), nil
		}
	}

	if len(in.LiveRows) > 0 {
		return live(SourceLiveRows, -1), nil
	}

	if in.Snapshot != nil && len(in.Snapshot.Rows) > 0 {
		return Reconciliation{
			Rows:      models.CloneRows(in.Snapshot.Rows),
			Class:     in.Snapshot.ClassInfo,
			Source:    SourceSnapshot,
			TurnIndex: -1,
		}, nil
	}

	return Reconciliation{}, models.ErrNoAttendanceData
}

func liveClass(in ReconcileInput) models.ClassDescriptor {
	if in.LiveClass != nil {
		return *in.LiveClass
	}
	return models.ClassDescriptor{}
}

func fromTurn(in ReconcileInput, t models.Turn, src ReconcileSource) Reconciliation {
	class := liveClass(in)
	if t.Reply.ClassInfo != nil {
		class = *t.Reply.ClassInfo
	}
	return Reconciliation{Rows: models.CloneRows(t.Reply.Rows), Class: class, Source: src, TurnIndex: t.Index}
}

// turnAt finds the turn with the given index. Turn indexes are positions in the log.
func turnAt(log []models.Turn, index int) (models.Turn, bool) {
	if index >= 0 && index < len(log) && log[index].Index == index {
		return log[index], true
	}
	for _, t := range log {
		if t.Index == index {
			return t, true
		}
	}
	return models.Turn{}, false
}
