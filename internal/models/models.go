// Package models defines the core data structures for ClassAssist.
//
// It includes conversation state, turn and flow result types shared across modules,
// the API request payloads and the standard API response envelope.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxUtteranceLength defines the maximum allowed length of a single user turn
	MaxUtteranceLength = 4096
	// MaxRolesCount defines the maximum number of roles a session may carry
	MaxRolesCount = 16
)

// Error variables for better error handling and testability
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrTurnInFlight      = errors.New("a turn is already being processed for this session")
	ErrNoAttendanceData  = errors.New("no attendance data found")
	ErrUnknownFlow       = errors.New("no handler registered for flow")
	ErrInvalidTurnIndex  = errors.New("invalid turn index")
	ErrNotEditable       = errors.New("attendance can only be edited once it is completed")
	ErrNotEditing        = errors.New("no attendance table is being edited")
	ErrInvalidRowIndex   = errors.New("invalid attendance row index")
	ErrInvalidStatus     = errors.New("attendance status must be Present or Absent")
	ErrEmptyUtterance    = errors.New("text cannot be empty")
	ErrUtteranceTooLong  = errors.New("text exceeds maximum length")
	ErrEmptyUserID       = errors.New("user_id is required")
	ErrTooManyRoles      = errors.New("too many roles")
	ErrUnknownClassGroup = errors.New("unknown class section")
)

// StartSessionRequest is the payload for starting a conversation session.
type StartSessionRequest struct {
	UserID          string   `json:"user_id"`
	Roles           []string `json:"roles,omitempty"`
	Token           string   `json:"token,omitempty"`
	AcademicSession string   `json:"academic_session,omitempty"`
	BranchToken     string   `json:"branch_token,omitempty"`
}

// Validate validates a StartSessionRequest.
func (r *StartSessionRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(r.Roles) > MaxRolesCount {
		return ErrTooManyRoles
	}
	return nil
}

// TurnRequest is the payload for submitting one user turn.
type TurnRequest struct {
	Text  string `json:"text"`
	Voice bool   `json:"voice,omitempty"`
}

// Validate validates a TurnRequest.
func (r *TurnRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyUtterance
	}
	if len(r.Text) > MaxUtteranceLength {
		return ErrUtteranceTooLong
	}
	return nil
}

// CommitRequest is the payload for approve/reject actions.
type CommitRequest struct {
	TurnIndex *int `json:"turn_index,omitempty"`
}

// EditRequest selects the turn whose table is edited.
type EditRequest struct {
	TurnIndex int `json:"turn_index"`
}

// RowUpdateRequest changes the status of one row of the table being edited.
type RowUpdateRequest struct {
	AttendanceStatus string `json:"attendance_status"`
}

// ClassSectionSelectRequest selects a class section for the course progress flow.
type ClassSectionSelectRequest struct {
	ClassSectionID string `json:"class_section_id"`
}

// LeaveDecisionRequest carries an optional reason for a leave decision.
type LeaveDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SpeechRequest is the payload for speech synthesis.
type SpeechRequest struct {
	Text string `json:"text"`
}

// SessionView is the API representation of a session.
type SessionView struct {
	ID     string            `json:"id"`
	UserID string            `json:"user_id"`
	Roles  []string          `json:"roles,omitempty"`
	State  ConversationState `json:"state"`
	Turns  []Turn            `json:"turns,omitempty"`
	Busy   bool              `json:"busy"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
