package backend

import (
	"encoding/json"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// StatusSuccess is the status value of a semantically successful backend response.
const StatusSuccess = "success"

// ClassifyRequest is the body of the classify-query endpoint.
type ClassifyRequest struct {
	Query     string   `json:"query"`
	UserID    string   `json:"user_id"`
	UserRoles []string `json:"user_roles"`
}

// ClassifyResponse is the response of the classify-query endpoint.
type ClassifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		Flow       string         `json:"flow"`
		Confidence float64        `json:"confidence"`
		Entities   map[string]any `json:"entities"`
	} `json:"data"`
}

// QueryRequest is the body of the query-handler endpoint.
type QueryRequest struct {
	UserID    string   `json:"user_id"`
	UserRoles []string `json:"user_roles"`
	Query     string   `json:"query"`
}

// QueryResponse is the response of the query-handler endpoint.
type QueryResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Answer       string            `json:"answer"`
		References   []json.RawMessage `json:"references"`
		MongoDBQuery []json.RawMessage `json:"mongodbquery"`
	} `json:"data"`
}

// OK reports whether the response status is success.
func (r *QueryResponse) OK() bool { return r != nil && r.Status == StatusSuccess }

// ChatRequest is the body of the generic chat endpoint. Step-specific fields are optional.
type ChatRequest struct {
	SessionID string                  `json:"session_id"`
	Query     string                  `json:"query"`
	Flow      string                  `json:"flow,omitempty"`
	Step      string                  `json:"step,omitempty"`
	ClassInfo *models.ClassDescriptor `json:"class_info,omitempty"`
	UserID    string                  `json:"user_id,omitempty"`
}

// ChatData is the data block shared by chat, voice, full voice, image and assignment responses.
type ChatData struct {
	Answer            string                  `json:"answer"`
	Message           string                  `json:"message"`
	ClassInfo         *models.ClassDescriptor `json:"class_info,omitempty"`
	AttendanceSummary []models.AttendanceRow  `json:"attendance_summary,omitempty"`
	VoiceProcessed    bool                    `json:"voice_processed,omitempty"`
	OCRText           string                  `json:"ocr_text,omitempty"`
	BulkAttendance    bool                    `json:"bulkattandance,omitempty"`
	FinishCollecting  bool                    `json:"finish_collecting,omitempty"`
	KeepListening     *bool                   `json:"keep_listening,omitempty"`
	FlowStatus        string                  `json:"flow_status,omitempty"`
	FieldsRemaining   json.RawMessage         `json:"fields_remaining,omitempty"`
	PlayAudio         *bool                   `json:"play_audio,omitempty"`
}

// Text returns the answer, falling back to the message field.
func (d ChatData) Text() string {
	if d.Answer != "" {
		return d.Answer
	}
	return d.Message
}

// Signals extracts the flow-control signals carried by the data block.
func (d ChatData) Signals() models.FlowSignals {
	return models.FlowSignals{
		KeepListening:   d.KeepListening,
		FlowStatus:      d.FlowStatus,
		FieldsRemaining: d.FieldsRemaining,
		PlayAudio:       d.PlayAudio,
	}
}

// ChatResponse is the envelope returned by chat-like endpoints.
type ChatResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Data    ChatData `json:"data"`
}

// OK reports whether the response status is success.
func (r *ChatResponse) OK() bool { return r != nil && r.Status == StatusSuccess }

// FailureText returns the backend-provided message for an unsuccessful response.
func (r *ChatResponse) FailureText(fallback string) string {
	if r == nil {
		return fallback
	}
	if r.Message != "" {
		return r.Message
	}
	if t := r.Data.Text(); t != "" {
		return t
	}
	return fallback
}

// AssignmentRequest is the body of the assignment endpoint.
type AssignmentRequest struct {
	SessionID    string `json:"session_id"`
	Query        string `json:"query"`
	UserID       string `json:"user_id,omitempty"`
	IsVoiceInput bool   `json:"is_voice_input"`
}

// ImageUpload is the multipart payload for process-attendance-image.
type ImageUpload struct {
	SessionID string
	FileName  string
	Data      []byte
	ClassInfo models.ClassDescriptor
}

// FileUpload is the multipart payload for upload-file.
type FileUpload struct {
	SessionID string
	FileName  string
	Data      []byte
}

// UploadResponse is the generic response of upload-file.
type UploadResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// AttendanceCommitRequest is the body of approve-attendance and reject-attendance.
type AttendanceCommitRequest struct {
	SessionID      string                 `json:"session_id"`
	ClassInfo      models.ClassDescriptor `json:"class_info"`
	AttendanceData []models.AttendanceRow `json:"attendance_data"`
}

// StatusResponse is a minimal {status, message} envelope.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the response status is success.
func (r *StatusResponse) OK() bool { return r != nil && r.Status == StatusSuccess }

// LeaveRequestsResponse lists pending leave requests.
type LeaveRequestsResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
	Data    []models.LeaveRequest `json:"data"`
}

// LeaveDecision is the body of a leave approval decision.
type LeaveDecision struct {
	Reason string `json:"reason,omitempty"`
}

// ClassSectionsResponse lists class sections for course progress.
type ClassSectionsResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
	Data    []models.ClassSection `json:"data"`
}

// SubjectProgress is the progress of one subject in a class section.
type SubjectProgress struct {
	Subject         string `json:"subject"`
	Status          string `json:"status"`
	CompletedTopics int    `json:"completed_topics"`
	TotalTopics     int    `json:"total_topics"`
}

// CourseProgressResponse is the progress report for one class section.
type CourseProgressResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    []SubjectProgress `json:"data"`
}

// SpeechRequest is the body of the text-to-speech endpoint.
type SpeechRequest struct {
	Text string `json:"text"`
}
