package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Martian-dev/gmail-mirror/internal/auth"
	"github.com/Martian-dev/gmail-mirror/internal/logging"
)

type recordingHandler struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bodies = append(h.bodies, string(raw))
	return h.err
}

type stubVerifier struct {
	allow bool
}

func (v stubVerifier) VerifyRequest(*http.Request) (*auth.PushIdentity, error) {
	if !v.allow {
		return nil, errors.New("bad token")
	}
	return &auth.PushIdentity{Email: "push@example.iam.gserviceaccount.com"}, nil
}

func TestIndex(t *testing.T) {
	s := New(Options{}, &recordingHandler{}, logging.Discard())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "[mirror] Server: Wed, 01 May 2024") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestGmailWebhookAlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
	}{
		{"handled", nil},
		{"handler error", errors.New("malformed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{err: tt.handlerErr}
			s := New(Options{}, h, logging.Discard())

			req := httptest.NewRequest(http.MethodPost, "/gmail-webhook", strings.NewReader(`{"message":{}}`))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if strings.TrimSpace(rec.Body.String()) != `{"ok":1}` {
				t.Errorf("body = %q", rec.Body.String())
			}
			if len(h.bodies) != 1 || h.bodies[0] != `{"message":{}}` {
				t.Errorf("handler got %v", h.bodies)
			}
		})
	}
}

func TestGmailWebhookVerification(t *testing.T) {
	tests := []struct {
		name       string
		allow      bool
		wantStatus int
		wantCalls  int
	}{
		{"verified", true, http.StatusOK, 1},
		{"rejected", false, http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			s := New(Options{Verifier: stubVerifier{allow: tt.allow}}, h, logging.Discard())

			req := httptest.NewRequest(http.MethodPost, "/gmail-webhook", strings.NewReader(`{}`))
			req.Header.Set("Authorization", "Bearer token")
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if len(h.bodies) != tt.wantCalls {
				t.Errorf("handler calls = %d, want %d", len(h.bodies), tt.wantCalls)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := New(Options{}, &recordingHandler{}, logging.Discard())

	req := httptest.NewRequest(http.MethodOptions, "/gmail-webhook", nil)
	req.Header.Set("Origin", "https://console.cloud.google.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
