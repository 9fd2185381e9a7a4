// Package backend provides an HTTP client for the remote AI and ERP endpoints used by ClassAssist.
//
// Every call is a JSON (or multipart) POST. ERP endpoints additionally receive a bearer token and
// the academic_session and branch_token tenant headers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// Default configuration values.
const (
	DefaultTimeout         = 60 * time.Second
	DefaultAcademicSession = "2025-26"
	DefaultBranchToken     = "default-branch"

	// FallbackFlow and FallbackConfidence are returned when classification fails.
	FallbackFlow       = "query"
	FallbackConfidence = 0.8
)

// Endpoint paths, relative to the base URL.
const (
	PathClassify              = "/classify-query"
	PathQuery                 = "/query-handler"
	PathChat                  = "/chat"
	PathVoiceClassInfo        = "/process-voice-class-info"
	PathVoiceAttendance       = "/process-voice-attendance"
	PathFullVoiceStart        = "/full-voice-attendance/start"
	PathFullVoiceContinue     = "/full-voice-attendance/continue"
	PathAttendanceImage       = "/process-attendance-image"
	PathUploadFile            = "/upload-file"
	PathApproveAttendance     = "/approve-attendance"
	PathRejectAttendance      = "/reject-attendance"
	PathLeavePending          = "/leave-approval/pending"
	PathLeaveApproval         = "/leave-approval"
	PathAssignment            = "/assignment"
	PathCourseClassSections   = "/course-progress/class-sections"
	PathCourseProgress        = "/course-progress"
	PathTextToSpeech          = "/text-to-speech"
	headerAcademicSession     = "academic_session"
	headerBranchToken         = "branch_token"
	maxErrorBodyBytes         = 4096
	degradedVisionModelMarker = "vision-capable model"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

// Opts holds configuration options for the backend client.
type Opts struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	TenantDefaults models.Tenant
	HTTPClient     *http.Client
}

// Option defines a configuration option for the backend client.
type Option func(*Opts)

// WithBaseURL sets the base URL of the backend.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAPIKey sets the service API key sent when a session carries no bearer token.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithTenantDefaults sets the tenant header fallbacks.
func WithTenantDefaults(t models.Tenant) Option {
	return func(o *Opts) { o.TenantDefaults = t }
}

// WithHTTPClient injects an HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the backend endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	tenant     models.Tenant
	httpClient *http.Client
}

// NewClient creates a backend client. BACKEND_URL and BACKEND_API_KEY are used when not set via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("BACKEND_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("BACKEND_API_KEY")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL must be provided")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TenantDefaults.AcademicSession == "" {
		cfg.TenantDefaults.AcademicSession = DefaultAcademicSession
	}
	if cfg.TenantDefaults.BranchToken == "" {
		cfg.TenantDefaults.BranchToken = DefaultBranchToken
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("Client.NewClient: backend client configured", "baseURL", cfg.BaseURL, "apiKey_set", cfg.APIKey != "", "timeout", cfg.Timeout)
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		tenant:     cfg.TenantDefaults,
		httpClient: hc,
	}, nil
}

// --- Classification and query ---

// Classify calls classify-query. It never fails: any transport, parse or status failure yields
// the fallback {query, 0.8, {}} classification.
func (c *Client) Classify(ctx context.Context, utterance, userID string, roles []string) models.ClassificationResult {
	fallback := models.ClassificationResult{Flow: FallbackFlow, Confidence: FallbackConfidence, Entities: map[string]any{}}
	var resp ClassifyResponse
	req := ClassifyRequest{Query: utterance, UserID: userID, UserRoles: nonNilRoles(roles)}
	if err := c.postJSON(ctx, PathClassify, nil, req, &resp); err != nil {
		slog.Warn("Client.Classify: classification failed, using fallback", "error", err)
		return fallback
	}
	if resp.Status != StatusSuccess || strings.TrimSpace(resp.Data.Flow) == "" {
		slog.Warn("Client.Classify: unsuccessful classification, using fallback", "status", resp.Status)
		return fallback
	}
	entities := resp.Data.Entities
	if entities == nil {
		entities = map[string]any{}
	}
	return models.ClassificationResult{Flow: resp.Data.Flow, Confidence: resp.Data.Confidence, Entities: entities}
}

// Query calls query-handler.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	req.UserRoles = nonNilRoles(req.UserRoles)
	var resp QueryResponse
	if err := c.postJSON(ctx, PathQuery, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat calls the generic chat endpoint.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.postJSON(ctx, PathChat, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Voice attendance ---

// VoiceClassInfo calls process-voice-class-info.
func (c *Client) VoiceClassInfo(ctx context.Context, sessionID, voiceText string) (*ChatResponse, error) {
	body := map[string]any{"session_id": sessionID, "voice_text": voiceText}
	var resp ChatResponse
	if err := c.postJSON(ctx, PathVoiceClassInfo, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VoiceAttendance calls process-voice-attendance with the pending class descriptor.
func (c *Client) VoiceAttendance(ctx context.Context, sessionID, voiceText string, class models.ClassDescriptor) (*ChatResponse, error) {
	body := map[string]any{"session_id": sessionID, "voice_text": voiceText, "class_info": class}
	var resp ChatResponse
	if err := c.postJSON(ctx, PathVoiceAttendance, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FullVoiceStart issues the begin signal of the full voice attendance endpoint.
func (c *Client) FullVoiceStart(ctx context.Context, sessionID string) (*ChatResponse, error) {
	body := map[string]any{"session_id": sessionID}
	var resp ChatResponse
	if err := c.postJSON(ctx, PathFullVoiceStart, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FullVoiceContinue streams transcribed text to the full voice attendance endpoint.
func (c *Client) FullVoiceContinue(ctx context.Context, sessionID, voiceText string) (*ChatResponse, error) {
	body := map[string]any{"session_id": sessionID, "voice_text": voiceText}
	var resp ChatResponse
	if err := c.postJSON(ctx, PathFullVoiceContinue, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Uploads ---

// IsDegradedVisionResponse reports whether the message is the known "no vision-capable model" response.
func IsDegradedVisionResponse(msg string) bool {
	return strings.Contains(strings.ToLower(msg), degradedVisionModelMarker)
}

// AttendanceImage uploads an attendance sheet image for OCR.
func (c *Client) AttendanceImage(ctx context.Context, up ImageUpload) (*ChatResponse, error) {
	fields := map[string]string{
		"session_id": up.SessionID,
		"class_":     up.ClassInfo.Class,
		"section":    up.ClassInfo.Section,
		"date":       up.ClassInfo.Date,
	}
	var resp ChatResponse
	if err := c.postMultipart(ctx, PathAttendanceImage, fields, up.FileName, up.Data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadFile relays a generic file upload.
func (c *Client) UploadFile(ctx context.Context, up FileUpload) (*UploadResponse, error) {
	var resp UploadResponse
	if err := c.postMultipart(ctx, PathUploadFile, map[string]string{"session_id": up.SessionID}, up.FileName, up.Data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Attendance commit ---

// ApproveAttendance submits the reconciled attendance rows.
func (c *Client) ApproveAttendance(ctx context.Context, req AttendanceCommitRequest) (*StatusResponse, error) {
	return c.commit(ctx, PathApproveAttendance, req)
}

// RejectAttendance discards the reconciled attendance rows on the backend.
func (c *Client) RejectAttendance(ctx context.Context, req AttendanceCommitRequest) (*StatusResponse, error) {
	return c.commit(ctx, PathRejectAttendance, req)
}

func (c *Client) commit(ctx context.Context, path string, req AttendanceCommitRequest) (*StatusResponse, error) {
	if req.AttendanceData == nil {
		req.AttendanceData = []models.AttendanceRow{}
	}
	var resp StatusResponse
	if err := c.postJSON(ctx, path, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- ERP endpoints (tenant headers) ---

// Assignment calls the assignment endpoint.
func (c *Client) Assignment(ctx context.Context, tenant models.Tenant, req AssignmentRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.postJSON(ctx, PathAssignment, &tenant, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PendingLeaveRequests fetches the leave requests awaiting approval.
func (c *Client) PendingLeaveRequests(ctx context.Context, tenant models.Tenant, userID string) (*LeaveRequestsResponse, error) {
	var resp LeaveRequestsResponse
	if err := c.postJSON(ctx, PathLeavePending, &tenant, map[string]string{"user_id": userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecideLeave approves or rejects one leave request.
func (c *Client) DecideLeave(ctx context.Context, tenant models.Tenant, requestID string, approve bool, reason string) (*StatusResponse, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	path := fmt.Sprintf("%s/%s/%s", PathLeaveApproval, url.PathEscape(requestID), action)
	var resp StatusResponse
	if err := c.postJSON(ctx, path, &tenant, LeaveDecision{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClassSections fetches the selectable class sections for course progress.
func (c *Client) ClassSections(ctx context.Context, tenant models.Tenant, userID string) (*ClassSectionsResponse, error) {
	var resp ClassSectionsResponse
	if err := c.postJSON(ctx, PathCourseClassSections, &tenant, map[string]string{"user_id": userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CourseProgress fetches subject progress for one class section.
func (c *Client) CourseProgress(ctx context.Context, tenant models.Tenant, section models.ClassSection) (*CourseProgressResponse, error) {
	body := map[string]string{"class_section_id": section.ID, "class_": section.Class, "section": section.Section}
	var resp CourseProgressResponse
	if err := c.postJSON(ctx, PathCourseProgress, &tenant, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Speech ---

// Speech requests synthesized speech and drains the streamed payload fully before returning it.
func (c *Client) Speech(ctx context.Context, text string) ([]byte, error) {
	data, err := json.Marshal(SpeechRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathTextToSpeech, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, nil)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(PathTextToSpeech, resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech payload: %w", err)
	}
	slog.Debug("Client.Speech: speech payload received", "bytes", len(audio))
	return audio, nil
}

// --- HTTP helpers ---

// authorize sets the bearer token and, when tenant is non-nil, the tenant headers.
func (c *Client) authorize(req *http.Request, tenant *models.Tenant) {
	token := c.apiKey
	if tenant != nil && tenant.Token != "" {
		token = tenant.Token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenant == nil {
		return
	}
	academic := tenant.AcademicSession
	if academic == "" {
		academic = c.tenant.AcademicSession
	}
	branch := tenant.BranchToken
	if branch == "" {
		branch = c.tenant.BranchToken
	}
	req.Header.Set(headerAcademicSession, academic)
	req.Header.Set(headerBranchToken, branch)
}

func (c *Client) postJSON(ctx context.Context, path string, tenant *models.Tenant, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req, tenant)
	return c.do(req, path, out)
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, fileName string, file []byte, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if fileName == "" {
		fileName = "upload"
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(file); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req, nil)
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	start := time.Now()
	slog.Debug("Client.do: calling backend", "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("Client.do: transport failure", "path", path, "error", err)
		return fmt.Errorf("backend %s request failed: %w", path, err)
	}
	defer resp.Body.Close()
	slog.Debug("Client.do: backend responded", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func parseError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body)), Path: path}
}

func nonNilRoles(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
