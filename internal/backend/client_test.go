package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(WithBaseURL(srv.URL), WithAPIKey("svc-key"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when base URL is missing")
	}
}

func TestClassifySuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathClassify {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if req.Query != "mark attendance" || req.UserID != "u1" || len(req.UserRoles) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"status":"success","data":{"flow":"attendance","confidence":0.93,"entities":{"class":"6"}}}`))
	})
	got := c.Classify(context.Background(), "mark attendance", "u1", []string{"teacher"})
	if got.Flow != "attendance" || got.Confidence != 0.93 || got.Entities["class"] != "6" {
		t.Errorf("unexpected classification %+v", got)
	}
}

func TestClassifyFailsOpen(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{not json`)) }},
		{"status error", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"error","data":{"flow":"leave","confidence":0.9}}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.h)
			got := c.Classify(context.Background(), "hello", "u1", nil)
			if got.Flow != FallbackFlow || got.Confidence != FallbackConfidence || got.Entities == nil {
				t.Errorf("expected fallback, got %+v", got)
			}
		})
	}
}

func TestTenantHeaders(t *testing.T) {
	var gotAuth, gotAcademic, gotBranch string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAcademic = r.Header.Get("academic_session")
		gotBranch = r.Header.Get("branch_token")
		w.Write([]byte(`{"status":"success","data":[]}`))
	})

	if _, err := c.ClassSections(context.Background(), models.Tenant{Token: "user-token"}, "u1"); err != nil {
		t.Fatalf("ClassSections failed: %v", err)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("expected user bearer token, got %q", gotAuth)
	}
	if gotAcademic != DefaultAcademicSession || gotBranch != DefaultBranchToken {
		t.Errorf("expected default tenant headers, got %q %q", gotAcademic, gotBranch)
	}

	if _, err := c.ClassSections(context.Background(), models.Tenant{AcademicSession: "2024-25", BranchToken: "north"}, "u1"); err != nil {
		t.Fatalf("ClassSections failed: %v", err)
	}
	if gotAuth != "Bearer svc-key" || gotAcademic != "2024-25" || gotBranch != "north" {
		t.Errorf("unexpected headers %q %q %q", gotAuth, gotAcademic, gotBranch)
	}
}

func TestAPIErrorOnNon2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})
	_, err := c.Chat(context.Background(), ChatRequest{SessionID: "s", Query: "q"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Body != "upstream down" || apiErr.Path != PathChat {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
}

func TestAttendanceImageMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart failed: %v", err)
		}
		if r.FormValue("class_") != "6" || r.FormValue("section") != "A" || r.FormValue("session_id") != "s1" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file: %v", err)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "png-bytes" {
			t.Errorf("unexpected file content %q", data)
		}
		w.Write([]byte(`{"status":"success","data":{"message":"ok","attendance_summary":[{"student_name":"Asha","attendance_status":"Present"}]}}`))
	})
	resp, err := c.AttendanceImage(context.Background(), ImageUpload{
		SessionID: "s1",
		FileName:  "sheet.png",
		Data:      []byte("png-bytes"),
		ClassInfo: models.ClassDescriptor{Class: "6", Section: "A", Date: "2025-01-15"},
	})
	if err != nil {
		t.Fatalf("AttendanceImage failed: %v", err)
	}
	if !resp.OK() || len(resp.Data.AttendanceSummary) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSpeechDrainsPayload(t *testing.T) {
	payload := strings.Repeat("a", 100000)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			io.WriteString(w, payload[i*10000:(i+1)*10000])
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	audio, err := c.Speech(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speech failed: %v", err)
	}
	if len(audio) != len(payload) {
		t.Errorf("expected %d bytes, got %d", len(payload), len(audio))
	}
}

func TestDecideLeavePath(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"status":"success"}`))
	})
	resp, err := c.DecideLeave(context.Background(), models.Tenant{}, "42", true, "")
	if err != nil || !resp.OK() {
		t.Fatalf("DecideLeave failed: %v %+v", err, resp)
	}
	if gotPath != "/leave-approval/42/approve" {
		t.Errorf("unexpected path %s", gotPath)
	}
}

func TestIsDegradedVisionResponse(t *testing.T) {
	if !IsDegradedVisionResponse("Please configure a Vision-Capable Model to process images") {
		t.Error("expected degraded response to be detected")
	}
	if IsDegradedVisionResponse("Attendance extracted") {
		t.Error("unexpected detection")
	}
}
