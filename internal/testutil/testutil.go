// Package testutil wires the full ClassAssist stack against a fake backend for end-to-end tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/api"
	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/controller"
	"github.com/BTreeMap/ClassAssist/internal/flow"
	"github.com/BTreeMap/ClassAssist/internal/models"
	"github.com/BTreeMap/ClassAssist/internal/store"
)

// Stack is a running API server in front of a real Controller.
type Stack struct {
	Server     *httptest.Server
	Backend    *httptest.Server
	Controller *controller.Controller
	Store      *store.InMemoryStore
	Timer      *flow.MockTimer
}

// NewTestStack starts backendHandler as the remote backend and serves the API over it. Both
// servers are closed when the test ends.
func NewTestStack(t *testing.T, backendHandler http.Handler) *Stack {
	t.Helper()
	be := httptest.NewServer(backendHandler)
	t.Cleanup(be.Close)

	client, err := backend.NewClient(backend.WithBaseURL(be.URL), backend.WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("backend.NewClient: %v", err)
	}
	tuning := flow.NewTuningStore(flow.DefaultTuning())
	timer := flow.NewMockTimer()
	st := store.NewInMemoryStore()
	dispatcher := flow.NewDefaultDispatcher(client, tuning)
	ctrl := controller.NewController(st, flow.NewRouter(client, tuning), dispatcher, client,
		controller.WithTimer(timer),
		controller.WithTuning(tuning),
		controller.WithSectionProgress(flow.NewCourseProgressHandler(client)),
		controller.WithSpeaker(client),
	)

	srv := httptest.NewServer(api.NewServer(ctrl))
	t.Cleanup(srv.Close)
	return &Stack{Server: srv, Backend: be, Controller: ctrl, Store: st, Timer: timer}
}

// DoJSON sends body as JSON to the stack and decodes the envelope.
func (s *Stack) DoJSON(t *testing.T, method, path string, body interface{}) (int, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.Server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: invalid JSON envelope: %v", method, path, err)
	}
	return resp.StatusCode, env
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeResult re-decodes an envelope's result into target.
func DecodeResult(t *testing.T, env models.APIResponse, target interface{}) {
	t.Helper()
	data, err := json.Marshal(env.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
}

// BackendJSON returns a handler that answers every request with v as JSON.
func BackendJSON(v interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
}
