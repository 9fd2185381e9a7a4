package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

var (
	_ Service = (*WhatsAppService)(nil)
	_ Service = (*TwilioService)(nil)
)

type sentMessage struct {
	To   string
	Body string
}

// fakeSender records outbound messages and captures the registered event handler.
type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	err     error
	handler func(evt interface{})
}

func (f *fakeSender) SendMessage(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{To: to, Body: body})
	return nil
}

func (f *fakeSender) AddEventHandler(fn func(evt interface{})) {
	f.handler = fn
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"whatsapp:+15551234567", "15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("canonicalizePhone(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWhatsAppService_SendMessageEmitsReceipt(t *testing.T) {
	sender := &fakeSender{}
	svc := NewWhatsAppService(sender)

	if err := svc.SendMessage(context.Background(), "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := sender.messages(); len(got) != 1 || got[0].To != "15551234567" {
		t.Fatalf("sent = %+v", got)
	}
	select {
	case r := <-svc.Receipts():
		if r.To != "15551234567" || r.Status != models.MessageStatusSent {
			t.Errorf("receipt = %+v", r)
		}
	default:
		t.Fatal("expected a receipt")
	}
}

func TestWhatsAppService_SendFailureEmitsFailedReceipt(t *testing.T) {
	sender := &fakeSender{err: errors.New("offline")}
	svc := NewWhatsAppService(sender)

	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); err == nil {
		t.Fatal("expected error")
	}
	if r := <-svc.Receipts(); r.Status != models.MessageStatusFailed {
		t.Errorf("receipt status = %s", r.Status)
	}
}

func TestWhatsAppService_InboundEvents(t *testing.T) {
	sender := &fakeSender{}
	svc := NewWhatsAppService(sender)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sender.handler == nil {
		t.Fatal("event handler not registered")
	}

	text := "mark attendance"
	now := time.Now()
	msg := func(fromMe, group bool) *events.Message {
		return &events.Message{
			Info: types.MessageInfo{
				MessageSource: types.MessageSource{
					Sender:   types.NewJID("15551234567", types.DefaultUserServer),
					IsFromMe: fromMe,
					IsGroup:  group,
				},
				Timestamp: now,
			},
			Message: &waE2E.Message{Conversation: &text},
		}
	}

	sender.handler(msg(true, false))
	sender.handler(msg(false, true))
	sender.handler(msg(false, false))
	sender.handler(&events.Receipt{
		MessageSource: types.MessageSource{Sender: types.NewJID("15551234567", types.DefaultUserServer)},
		Type:          events.ReceiptTypeRead,
		Timestamp:     now,
	})

	select {
	case r := <-svc.Responses():
		if r.From != "15551234567" || r.Body != text || r.Time != now.Unix() {
			t.Errorf("response = %+v", r)
		}
	default:
		t.Fatal("expected one inbound response")
	}
	select {
	case r := <-svc.Responses():
		t.Fatalf("unexpected extra response %+v", r)
	default:
	}
	if r := <-svc.Receipts(); r.Status != models.MessageStatusRead {
		t.Errorf("receipt = %+v", r)
	}
}

func TestWhatsAppService_StopClosesChannels(t *testing.T) {
	svc := NewWhatsAppService(&fakeSender{})
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("receipts channel still open")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("responses channel still open")
	}
	if err := svc.SendMessage(context.Background(), "15551234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("SendMessage after Stop = %v", err)
	}
}
