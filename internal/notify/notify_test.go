package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flightline/flightline/internal/config"
)

func TestItemCompletedNoWebhook(t *testing.T) {
	svc := NewService(config.NotifyConfig{})
	if svc.Active() {
		t.Error("service without webhook should be inactive")
	}
	if err := svc.ItemCompleted(context.Background(), "bd-1", 0); err != nil {
		t.Errorf("inactive ItemCompleted returned error: %v", err)
	}
}

func TestItemCompleted(t *testing.T) {
	var payload struct {
		Text string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	svc := NewService(config.NotifyConfig{SlackWebhookURL: srv.URL})
	if !svc.Active() {
		t.Fatal("service should be active")
	}
	if err := svc.ItemCompleted(context.Background(), "bd-12", 0); err != nil {
		t.Fatalf("ItemCompleted: %v", err)
	}
	if !strings.Contains(payload.Text, "bd-12") || !strings.Contains(payload.Text, "completed") {
		t.Errorf("unexpected notice text: %q", payload.Text)
	}

	if err := svc.ItemCompleted(context.Background(), "bd-13", 2); err != nil {
		t.Fatalf("ItemCompleted nonzero: %v", err)
	}
	if !strings.Contains(payload.Text, "exit code 2") {
		t.Errorf("nonzero notice should mention exit code: %q", payload.Text)
	}
}

func TestItemCompletedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(config.NotifyConfig{SlackWebhookURL: srv.URL})
	err := svc.ItemCompleted(context.Background(), "bd-1", 0)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "post completion notice") {
		t.Errorf("unexpected error: %v", err)
	}
}
