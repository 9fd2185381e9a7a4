package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// Classifier returns a flow label for an utterance. Implementations must never fail;
// transport or parse failures are reported as a fallback classification.
type Classifier interface {
	Classify(ctx context.Context, utterance, userID string, roles []string) models.ClassificationResult
}

// labelAliases maps backend-specific sub-labels onto canonical flow identifiers.
var labelAliases = map[string]models.FlowID{
	"assignment_create": models.FlowAssignment,
	"assignment_submit": models.FlowAssignment,
}

// CanonicalFlow maps a classifier label onto a FlowID. Unknown labels and "none" become query.
func CanonicalFlow(label string) models.FlowID {
	l := strings.ToLower(strings.TrimSpace(label))
	if f, ok := labelAliases[l]; ok {
		return f
	}
	f, ok := models.ParseFlowID(l)
	if !ok || f == models.FlowNone {
		return models.FlowQuery
	}
	return f
}

// Router combines the continuity heuristics, the classifier and the confidence threshold.
type Router struct {
	classifier Classifier
	tuning     *TuningStore
}

// NewRouter creates a Router.
func NewRouter(classifier Classifier, tuning *TuningStore) *Router {
	return &Router{classifier: classifier, tuning: tuning}
}

// Route decides which flow owns the utterance.
func (r *Router) Route(ctx context.Context, utterance string, state models.ConversationState, userID string, roles []string) models.RoutingDecision {
	t := r.tuning.Get()
	active := state.ActiveFlow

	if t.IsExitCommand(utterance) && !active.IsIdle() {
		slog.Debug("Router.Route: exit command", "activeFlow", active)
		return models.RoutingDecision{TargetFlow: models.FlowNone}
	}
	if !t.AutoRouting {
		return models.RoutingDecision{TargetFlow: active}
	}
	if t.ShouldStayInFlow(state, utterance) {
		slog.Debug("Router.Route: staying in flow", "activeFlow", active)
		return models.RoutingDecision{TargetFlow: active}
	}

	result := r.classifier.Classify(ctx, utterance, userID, roles)
	target := CanonicalFlow(result.Flow)
	if result.Confidence < t.ConfidenceThreshold {
		slog.Debug("Router.Route: low confidence, routing to query", "label", result.Flow, "confidence", result.Confidence)
		target = models.FlowQuery
	}
	slog.Debug("Router.Route: classified", "label", result.Flow, "confidence", result.Confidence, "target", target)
	return models.RoutingDecision{TargetFlow: target, Classification: &result, ShouldClassify: true}
}
