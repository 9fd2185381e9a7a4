package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/controller"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

func newQueryBackend() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /classify-query", BackendJSON(map[string]any{
		"status": "success",
		"data":   map[string]any{"flow": "query", "confidence": 0.93, "entities": map[string]any{}},
	}))
	mux.HandleFunc("POST /query-handler", BackendJSON(map[string]any{
		"status": "success",
		"data":   map[string]any{"answer": "There are 32 students in 5-A."},
	}))
	return mux
}

func TestEndToEnd_QueryTurn(t *testing.T) {
	stack := NewTestStack(t, newQueryBackend())

	code, env := stack.DoJSON(t, http.MethodPost, "/sessions", models.StartSessionRequest{UserID: "teacher-1", Roles: []string{"teacher"}})
	AssertHTTPStatus(t, http.StatusCreated, code, "start session")
	var view models.SessionView
	DecodeResult(t, env, &view)
	if view.ID == "" || view.State.ActiveFlow != models.FlowQuery {
		t.Fatalf("session view = %+v", view)
	}

	code, env = stack.DoJSON(t, http.MethodPost, "/sessions/"+view.ID+"/turns", models.TurnRequest{Text: "how many students are in 5-A?"})
	AssertHTTPStatus(t, http.StatusOK, code, "turn")
	var reply controller.Reply
	DecodeResult(t, env, &reply)
	if !strings.Contains(reply.Turn.Text, "32 students") || reply.Turn.Role != models.RoleBot {
		t.Fatalf("reply = %+v", reply.Turn)
	}
	if reply.Turn.Classification == nil || reply.Turn.Classification.Flow != "query" {
		t.Errorf("classification = %+v", reply.Turn.Classification)
	}

	turns, err := stack.Store.ListTurns(t.Context(), view.ID)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != models.RoleUser || turns[1].Role != models.RoleBot {
		t.Fatalf("persisted turns = %+v", turns)
	}
}

func TestEndToEnd_UnknownSessionAndNothingToApprove(t *testing.T) {
	stack := NewTestStack(t, newQueryBackend())

	code, _ := stack.DoJSON(t, http.MethodGet, "/sessions/does-not-exist", nil)
	AssertHTTPStatus(t, http.StatusNotFound, code, "unknown session")

	_, env := stack.DoJSON(t, http.MethodPost, "/sessions", models.StartSessionRequest{UserID: "teacher-1"})
	var view models.SessionView
	DecodeResult(t, env, &view)

	code, env = stack.DoJSON(t, http.MethodPost, "/sessions/"+view.ID+"/attendance/approve", nil)
	AssertHTTPStatus(t, http.StatusOK, code, "approve")
	var reply controller.Reply
	DecodeResult(t, env, &reply)
	if !strings.Contains(reply.Turn.Text, "no attendance data") {
		t.Errorf("approve reply = %q", reply.Turn.Text)
	}
}
