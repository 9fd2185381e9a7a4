package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/controller"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

const (
	// DefaultBusyRetries is how often a turn is retried while the sender's session is busy
	DefaultBusyRetries = 3
	// DefaultBusyRetryDelay is the pause between busy retries
	DefaultBusyRetryDelay = 2 * time.Second

	errorMessage = "⚠️ Something went wrong while processing your message. Please try again."
	busyMessage  = "⏳ Still working on your previous message. Please try again in a moment."
)

// Conversations is the part of the Controller a chat channel drives.
type Conversations interface {
	StartSession(ctx context.Context, req models.StartSessionRequest) (models.SessionView, error)
	Session(ctx context.Context, id string) (models.SessionView, error)
	HandleTurn(ctx context.Context, sessionID string, req models.TurnRequest) (controller.Reply, error)
	Approve(ctx context.Context, sessionID string, req models.CommitRequest) (controller.Reply, error)
	Reject(ctx context.Context, sessionID string, req models.CommitRequest) (controller.Reply, error)
}

// ResponseHandlerOpts holds configuration of the ResponseHandler.
type ResponseHandlerOpts struct {
	Template       models.StartSessionRequest
	BusyRetries    int
	BusyRetryDelay time.Duration
}

// ResponseHandlerOption defines a configuration option for the ResponseHandler.
type ResponseHandlerOption func(*ResponseHandlerOpts)

// WithSessionTemplate sets the roles and tenant used for sessions opened by channel users. The
// user id is always the sender's phone number.
func WithSessionTemplate(t models.StartSessionRequest) ResponseHandlerOption {
	return func(o *ResponseHandlerOpts) { o.Template = t }
}

// WithBusyRetry sets how often and how far apart a turn is retried while the session is busy.
func WithBusyRetry(retries int, delay time.Duration) ResponseHandlerOption {
	return func(o *ResponseHandlerOpts) {
		o.BusyRetries = retries
		o.BusyRetryDelay = delay
	}
}

// ResponseHandler maps each chat sender to a conversation session and relays their messages as
// turns. Messages from one sender are handled in order.
type ResponseHandler struct {
	msgService Service
	conv       Conversations
	cfg        ResponseHandlerOpts

	mu       sync.Mutex
	sessions map[string]string
	senders  map[string]*sync.Mutex
	wg       sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler relaying msgService traffic into conv.
func NewResponseHandler(msgService Service, conv Conversations, opts ...ResponseHandlerOption) *ResponseHandler {
	cfg := ResponseHandlerOpts{BusyRetries: DefaultBusyRetries, BusyRetryDelay: DefaultBusyRetryDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ResponseHandler{
		msgService: msgService,
		conv:       conv,
		cfg:        cfg,
		sessions:   make(map[string]string),
		senders:    make(map[string]*sync.Mutex),
	}
}

// SessionFor returns the session currently bound to sender, if any.
func (rh *ResponseHandler) SessionFor(sender string) (string, bool) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	id, ok := rh.sessions[sender]
	return id, ok
}

// ProcessResponse handles one inbound message and sends the bot's reply back to the sender.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Warn("ResponseHandler.ProcessResponse: invalid sender", "from", response.From, "error", err)
		return fmt.Errorf("invalid sender: %w", err)
	}
	text := strings.TrimSpace(response.Body)
	if text == "" {
		return nil
	}

	lock := rh.senderLock(from)
	lock.Lock()
	defer lock.Unlock()

	reply, err := rh.respond(ctx, from, text)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: turn failed", "from", from, "error", err)
		body := errorMessage
		if errors.Is(err, models.ErrTurnInFlight) {
			body = busyMessage
		}
		if sendErr := rh.msgService.SendMessage(ctx, from, body); sendErr != nil {
			slog.Error("ResponseHandler.ProcessResponse: failed to send error message", "from", from, "error", sendErr)
		}
		return err
	}

	body := reply.Turn.Text
	if reply.Turn.Reply != nil {
		body = RenderBotMessage(*reply.Turn.Reply)
	}
	if body == "" {
		return nil
	}
	if err := rh.msgService.SendMessage(ctx, from, body); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	slog.Info("ResponseHandler.ProcessResponse: reply sent", "from", from, "flow", reply.Turn.Flow)
	return nil
}

// respond runs the message against the sender's session, retrying while the session is busy.
func (rh *ResponseHandler) respond(ctx context.Context, from, text string) (controller.Reply, error) {
	id, view, err := rh.session(ctx, from)
	if err != nil {
		return controller.Reply{}, err
	}

	for attempt := 0; ; attempt++ {
		var reply controller.Reply
		switch commitKeyword(text, view.State) {
		case models.ActionApprove:
			reply, err = rh.conv.Approve(ctx, id, models.CommitRequest{})
		case models.ActionReject:
			reply, err = rh.conv.Reject(ctx, id, models.CommitRequest{})
		default:
			reply, err = rh.conv.HandleTurn(ctx, id, models.TurnRequest{Text: text})
		}
		if !errors.Is(err, models.ErrTurnInFlight) || attempt >= rh.cfg.BusyRetries {
			return reply, err
		}
		slog.Debug("ResponseHandler.respond: session busy, retrying", "from", from, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return controller.Reply{}, ctx.Err()
		case <-time.After(rh.cfg.BusyRetryDelay):
		}
		if view, err = rh.conv.Session(ctx, id); err != nil {
			return controller.Reply{}, err
		}
	}
}

// session returns the sender's live session, starting a new one when none exists or the old one
// has ended.
func (rh *ResponseHandler) session(ctx context.Context, from string) (string, models.SessionView, error) {
	if id, ok := rh.SessionFor(from); ok {
		view, err := rh.conv.Session(ctx, id)
		if err == nil {
			return id, view, nil
		}
		if !errors.Is(err, models.ErrSessionNotFound) {
			return "", models.SessionView{}, err
		}
		slog.Info("ResponseHandler.session: session gone, starting a new one", "from", from, "session", id)
	}

	req := rh.cfg.Template
	req.UserID = from
	req.Roles = append([]string(nil), rh.cfg.Template.Roles...)
	view, err := rh.conv.StartSession(ctx, req)
	if err != nil {
		return "", models.SessionView{}, fmt.Errorf("start session: %w", err)
	}
	rh.mu.Lock()
	rh.sessions[from] = view.ID
	rh.mu.Unlock()
	slog.Info("ResponseHandler.session: session started for sender", "from", from, "session", view.ID)
	return view.ID, view, nil
}

// commitKeyword recognizes a bare approve/reject reply to a completed attendance table.
func commitKeyword(text string, state models.ConversationState) models.ActionKind {
	if !state.ActiveFlow.CollectsAttendance() || state.Attendance.Kind() != models.StepCompleted {
		return ""
	}
	switch kw := models.ActionKind(strings.ToLower(strings.Trim(text, " .!*"))); kw {
	case models.ActionApprove, models.ActionReject:
		return kw
	}
	return ""
}

func (rh *ResponseHandler) senderLock(from string) *sync.Mutex {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	l, ok := rh.senders[from]
	if !ok {
		l = &sync.Mutex{}
		rh.senders[from] = l
	}
	return l
}

// Start consumes inbound messages and receipts until ctx is cancelled or the service closes its
// channels. Each message is handled on its own goroutine.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler.Start: processing inbound messages")
	responses := rh.msgService.Responses()
	receipts := rh.msgService.Receipts()

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer slog.Info("ResponseHandler.Start: stopped")
		for responses != nil || receipts != nil {
			select {
			case resp, ok := <-responses:
				if !ok {
					responses = nil
					continue
				}
				rh.wg.Add(1)
				go func() {
					defer rh.wg.Done()
					if err := rh.ProcessResponse(ctx, resp); err != nil {
						slog.Error("ResponseHandler.Start: failed to process message", "from", resp.From, "error", err)
					}
				}()
			case r, ok := <-receipts:
				if !ok {
					receipts = nil
					continue
				}
				slog.Debug("ResponseHandler.Start: receipt", "to", r.To, "status", r.Status)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the processing loop and all in-flight messages are done.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}
