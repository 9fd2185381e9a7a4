package genai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(WithAPIKey("test"), WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   DefaultModel,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without API key")
	}
}

func TestClassifyParsesVerdict(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completion(`{"flow":"attendance","confidence":0.93,"entities":[{"name":"class","value":"5"}]}`))
	})

	got := c.Classify(context.Background(), "mark attendance for class 5", "u1", []string{"teacher"})
	if got.Flow != "attendance" || got.Confidence != 0.93 {
		t.Errorf("unexpected classification %+v", got)
	}
	if got.Entities["class"] != "5" {
		t.Errorf("expected class entity, got %v", got.Entities)
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("expected json_schema response format, got %v", body["response_format"])
	}
}

func TestClassifyFailsOpen(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
		},
		"malformed verdict": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(completion("not json"))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			got := newTestClient(t, h).Classify(context.Background(), "hello", "u1", nil)
			if got.Flow != FallbackFlow || got.Confidence != FallbackConfidence || got.Entities == nil || len(got.Entities) != 0 {
				t.Errorf("expected fallback, got %+v", got)
			}
		})
	}
}

func TestSpeechDrainsPayload(t *testing.T) {
	payload := strings.Repeat("mp3", 10000)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, payload)
	})

	audio, err := c.Speech(context.Background(), "Attendance saved")
	if err != nil {
		t.Fatalf("Speech failed: %v", err)
	}
	if string(audio) != payload {
		t.Errorf("expected %d bytes, got %d", len(payload), len(audio))
	}
	if _, err := c.Speech(context.Background(), "  "); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestSpeechTruncatesOnRuneBoundary(t *testing.T) {
	var input string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		input = body.Input
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "mp3")
	})

	// the two-byte prefix puts the byte limit inside a three-byte rune
	text := "ab" + strings.Repeat("उ", MaxSpeechInput)
	if _, err := c.Speech(context.Background(), text); err != nil {
		t.Fatalf("Speech failed: %v", err)
	}
	if !utf8.ValidString(input) || len(input) > MaxSpeechInput || len(input) < MaxSpeechInput-2 {
		t.Errorf("expected valid UTF-8 of at most %d bytes, got %d bytes valid=%v", MaxSpeechInput, len(input), utf8.ValidString(input))
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
	}
	for _, tt := range tests {
		if got := truncateUTF8(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
