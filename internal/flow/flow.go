// Package flow implements conversation routing and the task flow handlers of ClassAssist.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// GenericErrorMessage is shown when an endpoint call fails at the transport or parse level.
const GenericErrorMessage = "Sorry, there was an error processing your request. Please try again."

// FlowContext is the read-only snapshot a handler receives for one turn.
type FlowContext struct {
	SessionID      string
	UserID         string
	Roles          []string
	Tenant         models.Tenant
	State          models.ConversationState
	Voice          bool
	Classification *models.ClassificationResult
}

// Handler runs one turn of a task flow. Failures are reported inside the returned FlowResult.
type Handler interface {
	Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, utterance string, fc FlowContext) models.FlowResult

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	return f(ctx, utterance, fc)
}

// Dispatcher maps flow identifiers to handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.FlowID]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[models.FlowID]Handler)}
}

// Register associates a flow with a handler.
func (d *Dispatcher) Register(id models.FlowID, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[id] = h
}

// Get retrieves the handler registered for a flow.
func (d *Dispatcher) Get(id models.FlowID) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[id]
	return h, ok
}

// Dispatch runs the handler for id. Flows without a handler (none included) fall back to query.
// A panicking handler is converted into an error result.
func (d *Dispatcher) Dispatch(ctx context.Context, id models.FlowID, utterance string, fc FlowContext) (result models.FlowResult) {
	h, ok := d.Get(id)
	if !ok {
		slog.Debug("Dispatcher.Dispatch: no handler, falling back to query", "flow", id)
		h, ok = d.Get(models.FlowQuery)
	}
	if !ok {
		slog.Error("Dispatcher.Dispatch: no handler registered", "flow", id)
		return models.ErrorResult(fmt.Sprintf("%s: %s", models.ErrUnknownFlow, id))
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.Dispatch: handler panicked", "flow", id, "panic", r)
			result = models.ErrorResult(GenericErrorMessage)
		}
	}()
	return h.Handle(ctx, utterance, fc)
}

// Backend is the union of the endpoints used by the built-in handlers.
type Backend interface {
	QueryBackend
	AttendanceBackend
	FullVoiceBackend
	AssignmentBackend
	CourseProgressBackend
	LeaveApprovalBackend
}

// NewDefaultDispatcher registers the built-in handler of every task flow.
func NewDefaultDispatcher(b Backend, tuning *TuningStore) *Dispatcher {
	d := NewDispatcher()
	d.Register(models.FlowQuery, NewQueryHandler(b))
	d.Register(models.FlowAttendance, NewAttendanceHandler(b))
	d.Register(models.FlowVoiceAttendance, NewVoiceAttendanceHandler(b))
	d.Register(models.FlowFullVoiceAttendance, NewFullVoiceHandler(b, tuning))
	d.Register(models.FlowLeave, NewLeaveHandler(b))
	d.Register(models.FlowAssignment, NewAssignmentHandler(b))
	d.Register(models.FlowCourseProgress, NewCourseProgressHandler(b))
	d.Register(models.FlowLeaveApproval, NewLeaveApprovalHandler(b))
	return d
}
