package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

// CourseProgressBackend lists class sections and their subject progress.
type CourseProgressBackend interface {
	ClassSections(ctx context.Context, tenant models.Tenant, userID string) (*backend.ClassSectionsResponse, error)
	CourseProgress(ctx context.Context, tenant models.Tenant, section models.ClassSection) (*backend.CourseProgressResponse, error)
}

// SectionProgress runs the progress phase for an explicitly selected class section.
type SectionProgress interface {
	Progress(ctx context.Context, fc FlowContext, section models.ClassSection) models.FlowResult
}

// CourseProgressHandler first caches the class sections, then reports progress for a selection.
type CourseProgressHandler struct {
	backend CourseProgressBackend
}

// NewCourseProgressHandler creates a CourseProgressHandler.
func NewCourseProgressHandler(b CourseProgressBackend) *CourseProgressHandler {
	return &CourseProgressHandler{backend: b}
}

// Handle implements Handler.
func (h *CourseProgressHandler) Handle(ctx context.Context, utterance string, fc FlowContext) models.FlowResult {
	sections := fc.State.ClassSections
	if len(sections) == 0 {
		return h.loadSections(ctx, fc)
	}
	if s, ok := MatchClassSection(sections, utterance); ok {
		return h.Progress(ctx, fc, s)
	}
	if fc.State.SelectedClassSection != nil {
		return h.Progress(ctx, fc, *fc.State.SelectedClassSection)
	}
	return models.FlowResult{Message: models.BotMessage{
		Text:          "Please select a class section to view its course progress.",
		ClassSections: sections,
	}}
}

func (h *CourseProgressHandler) loadSections(ctx context.Context, fc FlowContext) models.FlowResult {
	resp, err := h.backend.ClassSections(ctx, fc.Tenant, fc.UserID)
	if err != nil {
		slog.Error("CourseProgressHandler.loadSections: fetch failed", "session", fc.SessionID, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if resp.Status != backend.StatusSuccess {
		msg := resp.Message
		if msg == "" {
			msg = GenericErrorMessage
		}
		return models.ErrorResult(msg)
	}
	if len(resp.Data) == 0 {
		return models.TextResult("No class sections are assigned to you.")
	}
	slog.Debug("CourseProgressHandler.loadSections: sections cached", "session", fc.SessionID, "count", len(resp.Data))
	return models.FlowResult{
		Message: models.BotMessage{
			Text:          "Please select a class section to view its course progress.",
			ClassSections: resp.Data,
		},
		Directives: models.Directives{ClassSections: resp.Data},
	}
}

// Progress fetches and summarizes the progress of one class section and records it as the selection.
func (h *CourseProgressHandler) Progress(ctx context.Context, fc FlowContext, section models.ClassSection) models.FlowResult {
	resp, err := h.backend.CourseProgress(ctx, fc.Tenant, section)
	if err != nil {
		slog.Error("CourseProgressHandler.Progress: fetch failed", "session", fc.SessionID, "section", section.ID, "error", err)
		return models.ErrorResult(GenericErrorMessage)
	}
	if resp.Status != backend.StatusSuccess {
		msg := resp.Message
		if msg == "" {
			msg = GenericErrorMessage
		}
		return models.ErrorResult(msg)
	}

	summary := SummarizeProgress(section, resp.Data)
	selected := section
	return models.FlowResult{
		Message: models.BotMessage{
			Text:           formatProgress(summary),
			CourseProgress: &summary,
		},
		Directives: models.Directives{SelectedClassSection: &selected},
	}
}

// SummarizeProgress counts subjects per status.
func SummarizeProgress(section models.ClassSection, subjects []backend.SubjectProgress) models.CourseProgressSummary {
	by := make(map[string]int)
	for _, s := range subjects {
		status := strings.TrimSpace(s.Status)
		if status == "" {
			status = "unknown"
		}
		by[status]++
	}
	return models.CourseProgressSummary{ClassSection: section, Subjects: len(subjects), ByStatus: by}
}

func formatProgress(s models.CourseProgressSummary) string {
	if s.Subjects == 0 {
		return fmt.Sprintf("No course progress has been recorded for %s yet.", s.ClassSection.Label())
	}
	statuses := make([]string, 0, len(s.ByStatus))
	for k := range s.ByStatus {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, k := range statuses {
		parts = append(parts, fmt.Sprintf("%d %s", s.ByStatus[k], k))
	}
	return fmt.Sprintf("Course progress for %s: %d subjects (%s).", s.ClassSection.Label(), s.Subjects, strings.Join(parts, ", "))
}

// MatchClassSection finds the section whose ID or label equals the utterance, ignoring case.
func MatchClassSection(sections []models.ClassSection, utterance string) (models.ClassSection, bool) {
	u := strings.ToLower(strings.TrimSpace(utterance))
	if u == "" {
		return models.ClassSection{}, false
	}
	for _, s := range sections {
		if strings.ToLower(s.ID) == u || strings.ToLower(s.Label()) == u {
			return s, true
		}
	}
	return models.ClassSection{}, false
}

// FindClassSection looks a section up by ID.
func FindClassSection(sections []models.ClassSection, id string) (models.ClassSection, bool) {
	for _, s := range sections {
		if s.ID == id {
			return s, true
		}
	}
	return models.ClassSection{}, false
}
