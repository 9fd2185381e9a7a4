// Package api exposes the ClassAssist HTTP surface used by the chat UI.
//
// It serves session lifecycle, conversation turns, attendance commit and edit actions, uploads,
// course progress selection, leave decisions, speech synthesis and the Twilio inbound webhook.
// Every JSON response uses the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/ClassAssist/internal/controller"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const (
	// DefaultAddr is the default listen address
	DefaultAddr = ":8080"
	// DefaultMaxUploadBytes caps multipart uploads
	DefaultMaxUploadBytes = 20 << 20
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Conversations is the Controller surface served over HTTP.
type Conversations interface {
	StartSession(ctx context.Context, req models.StartSessionRequest) (models.SessionView, error)
	Session(ctx context.Context, id string) (models.SessionView, error)
	EndSession(ctx context.Context, id string) error
	HandleTurn(ctx context.Context, sessionID string, req models.TurnRequest) (controller.Reply, error)
	Approve(ctx context.Context, sessionID string, req models.CommitRequest) (controller.Reply, error)
	Reject(ctx context.Context, sessionID string, req models.CommitRequest) (controller.Reply, error)
	BeginEdit(ctx context.Context, sessionID string, req models.EditRequest) (models.ConversationState, error)
	UpdateRow(ctx context.Context, sessionID string, row int, req models.RowUpdateRequest) (models.ConversationState, error)
	SaveEdit(ctx context.Context, sessionID string) (models.ConversationState, error)
	CancelEdit(ctx context.Context, sessionID string) (models.ConversationState, error)
	UploadAttendanceImage(ctx context.Context, sessionID, fileName string, data []byte, class *models.ClassDescriptor) (controller.Reply, error)
	UploadFile(ctx context.Context, sessionID, fileName string, data []byte) (controller.Reply, error)
	SelectClassSection(ctx context.Context, sessionID string, req models.ClassSectionSelectRequest) (controller.Reply, error)
	DecideLeave(ctx context.Context, sessionID, requestID string, approve bool, req models.LeaveDecisionRequest) (controller.Reply, error)
	Speak(ctx context.Context, req models.SpeechRequest) ([]byte, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	TwilioWebhook  http.HandlerFunc
	MaxUploadBytes int64
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook mounts the Twilio inbound webhook handler at POST /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithMaxUploadBytes sets the largest accepted multipart upload.
func WithMaxUploadBytes(n int64) Option {
	return func(o *Opts) { o.MaxUploadBytes = n }
}

// Server serves the HTTP API.
type Server struct {
	conv Conversations
	cfg  Opts
	mux  *http.ServeMux
}

// NewServer creates a Server backed by conv.
func NewServer(conv Conversations, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, MaxUploadBytes: DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{conv: conv, cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.healthHandler)

	s.mux.HandleFunc("POST /sessions", s.startSessionHandler)
	s.mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.endSessionHandler)
	s.mux.HandleFunc("POST /sessions/{id}/turns", s.turnHandler)

	s.mux.HandleFunc("POST /sessions/{id}/attendance/approve", s.commitHandler(true))
	s.mux.HandleFunc("POST /sessions/{id}/attendance/reject", s.commitHandler(false))
	s.mux.HandleFunc("POST /sessions/{id}/attendance/edit", s.beginEditHandler)
	s.mux.HandleFunc("PUT /sessions/{id}/attendance/rows/{row}", s.updateRowHandler)
	s.mux.HandleFunc("POST /sessions/{id}/attendance/save", s.saveEditHandler)
	s.mux.HandleFunc("POST /sessions/{id}/attendance/cancel", s.cancelEditHandler)
	s.mux.HandleFunc("POST /sessions/{id}/attendance/image", s.attendanceImageHandler)
	s.mux.HandleFunc("POST /sessions/{id}/files", s.uploadFileHandler)

	s.mux.HandleFunc("POST /sessions/{id}/course-progress/select", s.selectClassSectionHandler)
	s.mux.HandleFunc("POST /sessions/{id}/leave-requests/{requestID}/{decision}", s.leaveDecisionHandler)

	s.mux.HandleFunc("POST /speech", s.speechHandler)
	if s.cfg.TwilioWebhook != nil {
		s.mux.HandleFunc("POST /twilio/webhook", s.cfg.TwilioWebhook)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: listening", "addr", s.cfg.Addr, "twilioWebhook", s.cfg.TwilioWebhook != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
