package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/email" {
			t.Errorf("expected /v1/email, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer gw-token" {
			t.Errorf("missing gateway auth")
		}
		var email Email
		if err := json.NewDecoder(r.Body).Decode(&email); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if email.To != "user@example.com" || email.Subject != "Import complete" {
			t.Errorf("unexpected email: %+v", email)
		}
		w.Write([]byte(`{"ok": true, "id": "msg-1"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "gw-token", discardLogger())
	err := c.SendEmail(context.Background(), Email{To: "user@example.com", Subject: "Import complete", Text: "done"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendPush(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/push" {
			t.Errorf("expected /v1/push, got %s", r.URL.Path)
		}
		var push Push
		json.NewDecoder(r.Body).Decode(&push)
		if len(push.Tokens) != 2 || push.Title != "Import finished" {
			t.Errorf("unexpected push: %+v", push)
		}
		w.Write([]byte(`{"ok": true, "id": "push-1"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", discardLogger())
	err := c.SendPush(context.Background(), Push{Tokens: []string{"a", "b"}, Title: "Import finished", Body: "3 of 4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSend_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok": false, "error": "invalid_recipient"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", discardLogger())
	ctx := context.Background()

	if err := c.SendEmail(ctx, Email{To: "x@example.com"}); err == nil {
		t.Error("expected gateway error")
	}
	if err := c.SendEmail(ctx, Email{}); err == nil {
		t.Error("expected error for missing recipient")
	}
	if err := c.SendPush(ctx, Push{Title: "t"}); err == nil {
		t.Error("expected error for missing tokens")
	}
}

func TestSend_UnparseableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", discardLogger())
	if err := c.SendPush(context.Background(), Push{Tokens: []string{"a"}}); err == nil {
		t.Error("expected parse error")
	}
}

func TestLog(t *testing.T) {
	l := NewLog(discardLogger())
	if err := l.SendEmail(context.Background(), Email{To: "a"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := l.SendPush(context.Background(), Push{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
