package email

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

func mustEmail(t *testing.T, s string) domain.EmailAddress {
	t.Helper()
	addr, err := domain.ParseEmail(s)
	if err != nil {
		t.Fatalf("ParseEmail(%q): %v", s, err)
	}
	return addr
}

func TestClient_Send_PostsExpectedPayload(t *testing.T) {
	var gotPath, gotToken, gotContentType string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Server-Token")
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, mustEmail(t, "sender@example.com"), "secret-token", time.Second)
	err := c.Send(context.Background(), mustEmail(t, "jane@example.com"), "Hello", "<p>hi</p>", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/email" {
		t.Fatalf("path = %q, want /email", gotPath)
	}
	if gotToken != "secret-token" {
		t.Fatalf("X-Server-Token = %q", gotToken)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q", gotContentType)
	}

	want := map[string]string{
		"From":     "sender@example.com",
		"To":       "jane@example.com",
		"Subject":  "Hello",
		"HtmlBody": "<p>hi</p>",
		"TextBody": "hi",
	}
	for k, v := range want {
		if gotBody[k] != v {
			t.Fatalf("payload[%s] = %q, want %q (full: %v)", k, gotBody[k], v, gotBody)
		}
	}
}

func TestClient_Send_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, mustEmail(t, "sender@example.com"), "tok", time.Second)
	if err := c.Send(context.Background(), mustEmail(t, "jane@example.com"), "s", "h", "t"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestClient_Send_TimeoutIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, mustEmail(t, "sender@example.com"), "tok", 50*time.Millisecond)
	if err := c.Send(context.Background(), mustEmail(t, "jane@example.com"), "s", "h", "t"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestClient_Send_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, mustEmail(t, "sender@example.com"), "tok", time.Second)
	if err := c.Send(ctx, mustEmail(t, "jane@example.com"), "s", "h", "t"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
