// Package controller implements the ClassAssist orchestrator.
//
// The Controller owns every session's ConversationState. For each user turn it records the
// turn, routes it, dispatches it to a flow handler and applies the returned directives. It also
// runs the commit actions (approve, reject, edit) and the upload, selection and decision relays.
// Work on one session is serialized: a second operation while one is in flight fails with
// models.ErrTurnInFlight.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/flow"
	"github.com/BTreeMap/ClassAssist/internal/models"
	"github.com/BTreeMap/ClassAssist/internal/store"
)

// ErrSpeechUnavailable is returned by Speak when no synthesizer is configured.
var ErrSpeechUnavailable = errors.New("speech synthesis is not configured")

// Backend is the set of endpoints the Controller calls directly, outside the flow handlers.
type Backend interface {
	ApproveAttendance(ctx context.Context, req backend.AttendanceCommitRequest) (*backend.StatusResponse, error)
	RejectAttendance(ctx context.Context, req backend.AttendanceCommitRequest) (*backend.StatusResponse, error)
	AttendanceImage(ctx context.Context, up backend.ImageUpload) (*backend.ChatResponse, error)
	UploadFile(ctx context.Context, up backend.FileUpload) (*backend.UploadResponse, error)
	DecideLeave(ctx context.Context, tenant models.Tenant, requestID string, approve bool, reason string) (*backend.StatusResponse, error)
}

// Speaker synthesizes speech and returns the fully drained audio payload.
type Speaker interface {
	Speech(ctx context.Context, text string) ([]byte, error)
}

// Opts holds optional collaborators of the Controller.
type Opts struct {
	Timer    flow.Timer
	Tuning   *flow.TuningStore
	Progress flow.SectionProgress
	Speaker  Speaker
}

// Option defines a configuration option for the Controller.
type Option func(*Opts)

// WithTimer sets the timer used for delayed flow exits.
func WithTimer(t flow.Timer) Option {
	return func(o *Opts) { o.Timer = t }
}

// WithTuning sets the tuning store that provides the auto-exit delay.
func WithTuning(t *flow.TuningStore) Option {
	return func(o *Opts) { o.Tuning = t }
}

// WithSectionProgress sets the handler used when a class section is selected explicitly.
func WithSectionProgress(p flow.SectionProgress) Option {
	return func(o *Opts) { o.Progress = p }
}

// WithSpeaker sets the speech synthesizer.
func WithSpeaker(s Speaker) Option {
	return func(o *Opts) { o.Speaker = s }
}

// Reply is the outcome of an operation that produced a bot turn.
type Reply struct {
	Turn  models.Turn              `json:"turn"`
	State models.ConversationState `json:"state"`
}

type session struct {
	mu          sync.Mutex
	rec         models.SessionRecord
	log         []models.Turn
	busy        bool
	exitTimerID string
}

// Controller is the top-level turn handler.
type Controller struct {
	store      store.SessionStore
	router     *flow.Router
	dispatcher *flow.Dispatcher
	backend    Backend
	timer      flow.Timer
	tuning     *flow.TuningStore
	progress   flow.SectionProgress
	speaker    Speaker

	mu       sync.Mutex
	sessions map[string]*session
}

// NewController creates a Controller.
func NewController(st store.SessionStore, router *flow.Router, dispatcher *flow.Dispatcher, b Backend, opts ...Option) *Controller {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timer == nil {
		cfg.Timer = flow.NewSimpleTimer()
	}
	if cfg.Tuning == nil {
		cfg.Tuning = flow.NewTuningStore(flow.DefaultTuning())
	}
	return &Controller{
		store:      st,
		router:     router,
		dispatcher: dispatcher,
		backend:    b,
		timer:      cfg.Timer,
		tuning:     cfg.Tuning,
		progress:   cfg.Progress,
		speaker:    cfg.Speaker,
		sessions:   make(map[string]*session),
	}
}

// StartSession creates a new session in the query flow.
func (c *Controller) StartSession(ctx context.Context, req models.StartSessionRequest) (models.SessionView, error) {
	if err := req.Validate(); err != nil {
		return models.SessionView{}, err
	}
	now := time.Now()
	s := &session{rec: models.SessionRecord{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Roles:  append([]string(nil), req.Roles...),
		Tenant: models.Tenant{
			Token:           req.Token,
			AcademicSession: req.AcademicSession,
			BranchToken:     req.BranchToken,
		},
		State:     models.NewConversationState(),
		CreatedAt: now,
		UpdatedAt: now,
	}}

	c.mu.Lock()
	c.sessions[s.rec.ID] = s
	c.mu.Unlock()

	if err := c.store.SaveSession(ctx, s.rec); err != nil {
		slog.Warn("Controller.StartSession: failed to persist session", "session", s.rec.ID, "error", err)
	}
	slog.Info("Controller.StartSession: session started", "session", s.rec.ID, "userID", req.UserID, "roles", len(req.Roles))
	return s.view(), nil
}

// Session returns the current view of a session.
func (c *Controller) Session(ctx context.Context, id string) (models.SessionView, error) {
	s, err := c.lookup(ctx, id)
	if err != nil {
		return models.SessionView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

// EndSession drops a session and its persisted data.
func (c *Controller) EndSession(ctx context.Context, id string) error {
	s, err := c.lookup(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.exitTimerID != "" {
		c.timer.Cancel(s.exitTimerID)
		s.exitTimerID = ""
	}
	s.mu.Unlock()

	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()

	if err := c.store.DeleteSession(ctx, id); err != nil {
		slog.Warn("Controller.EndSession: failed to delete persisted session", "session", id, "error", err)
	}
	slog.Info("Controller.EndSession: session ended", "session", id)
	return nil
}

// lookup finds a live session, restoring it from the store on a miss.
func (c *Controller) lookup(ctx context.Context, id string) (*session, error) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if ok {
		return s, nil
	}

	rec, err := c.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		slog.Error("Controller.lookup: failed to load session", "session", id, "error", err)
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	log, err := c.store.ListTurns(ctx, id)
	if err != nil {
		slog.Warn("Controller.lookup: failed to load turns", "session", id, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[id]; ok {
		return s, nil
	}
	s = &session{rec: *rec, log: log}
	c.sessions[id] = s
	slog.Info("Controller.lookup: session restored", "session", id, "turns", len(log))
	return s, nil
}

// acquire marks the session busy. The caller must call release unless the busy flag is handed
// over to a scheduled exit.
func (c *Controller) acquire(ctx context.Context, id string) (*session, error) {
	s, err := c.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		slog.Warn("Controller.acquire: session busy", "session", id)
		return nil, models.ErrTurnInFlight
	}
	s.busy = true
	return s, nil
}

func (s *session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *session) view() models.SessionView {
	return models.SessionView{
		ID:     s.rec.ID,
		UserID: s.rec.UserID,
		Roles:  append([]string(nil), s.rec.Roles...),
		State:  s.rec.State.Clone(),
		Turns:  append([]models.Turn(nil), s.log...),
		Busy:   s.busy,
	}
}

func (s *session) flowContext(state models.ConversationState, voice bool, cls *models.ClassificationResult) flow.FlowContext {
	return flow.FlowContext{
		SessionID:      s.rec.ID,
		UserID:         s.rec.UserID,
		Roles:          append([]string(nil), s.rec.Roles...),
		Tenant:         s.rec.Tenant,
		State:          state,
		Voice:          voice,
		Classification: cls,
	}
}

// appendTurn adds a turn to the in-memory log and persists it. Must be called with s.mu held.
func (c *Controller) appendTurn(ctx context.Context, s *session, t models.Turn) models.Turn {
	t.Index = len(s.log)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.log = append(s.log, t)
	if err := c.store.AppendTurn(ctx, s.rec.ID, t); err != nil {
		slog.Warn("Controller.appendTurn: failed to persist turn", "session", s.rec.ID, "index", t.Index, "error", err)
	}
	return t
}

// persist saves the session record. Must be called with s.mu held.
func (c *Controller) persist(ctx context.Context, s *session) {
	s.rec.UpdatedAt = time.Now()
	if err := c.store.SaveSession(ctx, s.rec); err != nil {
		slog.Warn("Controller.persist: failed to persist session", "session", s.rec.ID, "error", err)
	}
}

// botReply appends a bot turn for msg and persists the session. Must be called with s.mu held.
func (c *Controller) botReply(ctx context.Context, s *session, f models.FlowID, msg models.BotMessage, cls *models.ClassificationResult) Reply {
	reply := msg
	t := c.appendTurn(ctx, s, models.Turn{
		Role:           models.RoleBot,
		Text:           msg.Text,
		Flow:           f,
		Classification: cls,
		Reply:          &reply,
	})
	c.persist(ctx, s)
	return Reply{Turn: t, State: s.rec.State.Clone()}
}
