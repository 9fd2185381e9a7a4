package flow

import (
	"context"
	"errors"
	"sync"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

var errTransport = errors.New("connection refused")

// fakeClassifier returns a fixed result and counts calls.
type fakeClassifier struct {
	mu     sync.Mutex
	result models.ClassificationResult
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, utterance, userID string, roles []string) models.ClassificationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeBackend implements Backend with overridable functions. Unset functions return errTransport.
type fakeBackend struct {
	query           func(backend.QueryRequest) (*backend.QueryResponse, error)
	chat            func(backend.ChatRequest) (*backend.ChatResponse, error)
	voiceClassInfo  func(sessionID, text string) (*backend.ChatResponse, error)
	voiceAttendance func(sessionID, text string, c models.ClassDescriptor) (*backend.ChatResponse, error)
	fullStart       func(sessionID string) (*backend.ChatResponse, error)
	fullContinue    func(sessionID, text string) (*backend.ChatResponse, error)
	assignment      func(models.Tenant, backend.AssignmentRequest) (*backend.ChatResponse, error)
	sections        func(models.Tenant, string) (*backend.ClassSectionsResponse, error)
	progress        func(models.Tenant, models.ClassSection) (*backend.CourseProgressResponse, error)
	pendingLeave    func(models.Tenant, string) (*backend.LeaveRequestsResponse, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeBackend) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeBackend) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) Query(ctx context.Context, req backend.QueryRequest) (*backend.QueryResponse, error) {
	f.count("query")
	if f.query == nil {
		return nil, errTransport
	}
	return f.query(req)
}

func (f *fakeBackend) Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	f.count("chat")
	if f.chat == nil {
		return nil, errTransport
	}
	return f.chat(req)
}

func (f *fakeBackend) VoiceClassInfo(ctx context.Context, sessionID, voiceText string) (*backend.ChatResponse, error) {
	f.count("voiceClassInfo")
	if f.voiceClassInfo == nil {
		return nil, errTransport
	}
	return f.voiceClassInfo(sessionID, voiceText)
}

func (f *fakeBackend) VoiceAttendance(ctx context.Context, sessionID, voiceText string, c models.ClassDescriptor) (*backend.ChatResponse, error) {
	f.count("voiceAttendance")
	if f.voiceAttendance == nil {
		return nil, errTransport
	}
	return f.voiceAttendance(sessionID, voiceText, c)
}

func (f *fakeBackend) FullVoiceStart(ctx context.Context, sessionID string) (*backend.ChatResponse, error) {
	f.count("fullStart")
	if f.fullStart == nil {
		return nil, errTransport
	}
	return f.fullStart(sessionID)
}

func (f *fakeBackend) FullVoiceContinue(ctx context.Context, sessionID, voiceText string) (*backend.ChatResponse, error) {
	f.count("fullContinue")
	if f.fullContinue == nil {
		return nil, errTransport
	}
	return f.fullContinue(sessionID, voiceText)
}

func (f *fakeBackend) Assignment(ctx context.Context, tenant models.Tenant, req backend.AssignmentRequest) (*backend.ChatResponse, error) {
	f.count("assignment")
	if f.assignment == nil {
		return nil, errTransport
	}
	return f.assignment(tenant, req)
}

func (f *fakeBackend) ClassSections(ctx context.Context, tenant models.Tenant, userID string) (*backend.ClassSectionsResponse, error) {
	f.count("sections")
	if f.sections == nil {
		return nil, errTransport
	}
	return f.sections(tenant, userID)
}

func (f *fakeBackend) CourseProgress(ctx context.Context, tenant models.Tenant, section models.ClassSection) (*backend.CourseProgressResponse, error) {
	f.count("progress")
	if f.progress == nil {
		return nil, errTransport
	}
	return f.progress(tenant, section)
}

func (f *fakeBackend) PendingLeaveRequests(ctx context.Context, tenant models.Tenant, userID string) (*backend.LeaveRequestsResponse, error) {
	f.count("pendingLeave")
	if f.pendingLeave == nil {
		return nil, errTransport
	}
	return f.pendingLeave(tenant, userID)
}

func chatOK(data backend.ChatData) *backend.ChatResponse {
	return &backend.ChatResponse{Status: backend.StatusSuccess, Data: data}
}

func boolPtr(b bool) *bool { return &b }
