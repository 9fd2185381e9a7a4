package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

const testWebhookURL = "https://classassist.example.com/twilio/webhook"

// twilioSignature computes the X-Twilio-Signature for a form POST.
func twilioSignature(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := fullURL
	for _, k := range keys {
		payload += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookRequest(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(TwilioSignatureHeader, signature)
	}
	return req
}

func TestTwilioWebhook_EmitsResponse(t *testing.T) {
	svc := NewTwilioService(&fakeSender{})
	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"hello"}}

	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, webhookRequest(form, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	select {
	case r := <-svc.Responses():
		if r.From != "15551234567" || r.Body != "hello" {
			t.Errorf("response = %+v", r)
		}
	default:
		t.Fatal("expected inbound response")
	}
}

func TestTwilioWebhook_MissingFields(t *testing.T) {
	svc := NewTwilioService(&fakeSender{})
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, webhookRequest(url.Values{"From": {"+15551234567"}}, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTwilioWebhook_Signature(t *testing.T) {
	const token = "secret-token"
	svc := NewTwilioService(&fakeSender{}, WithWebhookAuthToken(token), WithWebhookURL(testWebhookURL))
	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"mark attendance"}, "MessageSid": {"SM1"}}

	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, webhookRequest(form, "bogus"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad signature status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, webhookRequest(form, twilioSignature(token, testWebhookURL, form)))
	if rec.Code != http.StatusOK {
		t.Fatalf("good signature status = %d body=%s", rec.Code, rec.Body.String())
	}
	if r := <-svc.Responses(); r.Body != "mark attendance" {
		t.Errorf("response = %+v", r)
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	sender := &fakeSender{}
	svc := NewTwilioService(sender)
	if err := svc.SendMessage(t.Context(), "whatsapp:+15551234567", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := sender.messages(); len(got) != 1 || got[0].To != "15551234567" {
		t.Fatalf("sent = %+v", got)
	}
	if err := svc.SendMessage(t.Context(), "12", "hi"); err == nil {
		t.Fatal("expected invalid recipient error")
	}
}
