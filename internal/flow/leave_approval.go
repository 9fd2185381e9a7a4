package flow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

// UseButtonsMessage is the reply once pending leave requests are loaded.
const UseButtonsMessage = "Please use the buttons above to approve or reject the pending leave requests."

// LeaveApprovalBackend fetches pending leave requests.
type LeaveApprovalBackend interface {
	PendingLeaveRequests(ctx context.Context, tenant models.Tenant, userID string) (*backend.LeaveRequestsResponse, error)
}

// LeaveApprovalHandler fills the pending-request cache once. Free text is not reprocessed afterwards;
// decisions go through the explicit approve and reject actions.
type LeaveApprovalHandler struct {
	backend LeaveApprovalBackend
	group   singleflight.Group
}

// NewLeaveApprovalHandler creates a LeaveApprovalHandler.
func NewLeaveApprovalHandler(b LeaveApprovalBackend) *LeaveApprovalHandler {
	return &LeaveApprovalHandler{backend: b}
}

// Handle implements Handler.
func (h *LeaveApprovalHandler) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	if fc.State.LeaveRequestsLoaded {
		return models.TextResult(UseButtonsMessage)
	}

	v, err, shared := h.group.Do(fc.UserID+"|"+fc.Tenant.BranchToken, func() (interface{}, error) {
		resp, err := h.backend.PendingLeaveRequests(ctx, fc.Tenant, fc.UserID)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		slog.Error("LeaveApprovalHandler.Handle: fetch failed", "session", fc.SessionID, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	resp := v.(*backend.LeaveRequestsResponse)
	slog.Debug("LeaveApprovalHandler.Handle: pending requests fetched", "session", fc.SessionID, "count", len(resp.Data), "shared", shared)
	if resp.Status != backend.StatusSuccess {
		msg := resp.Message
		if msg == "" {
			msg = GenericErrorMessage
		}
		return models.ErrorResult(msg)
	}

	requests := append([]models.LeaveRequest{}, resp.Data...)
	text := "There are no pending leave requests."
	if len(requests) > 0 {
		text = fmt.Sprintf("You have %d pending leave request(s). Use the buttons to approve or reject each one.", len(requests))
	}
	return models.FlowResult{
		Message:    models.BotMessage{Text: text, LeaveRequests: requests},
		Directives: models.Directives{LeaveRequests: requests, UpdateLeaveRequests: true},
	}
}
