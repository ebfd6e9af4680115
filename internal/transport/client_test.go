package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/circuitbreaker"
	"github.com/disparo-io/disparo/internal/db"
)

func TestChatID(t *testing.T) {
	if got := ChatID("5511999990000"); got != "5511999990000@s.whatsapp.net" {
		t.Fatalf("ChatID = %q", got)
	}
}

func TestSessionResolution(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/main" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"status": "CONNECTED", "user_id": "5511888@s.whatsapp.net"})
	}))
	defer srv.Close()

	m := NewManager(Config{BaseURL: srv.URL, Token: "secret"}, nil, zap.NewNop())

	session, err := m.Session(context.Background(), &db.Whatsapp{ID: 1, Session: "main"})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !session.Connected() {
		t.Fatalf("session not connected: %+v", session)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestSessionWithoutIdentityNotConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "CONNECTED", "user_id": ""})
	}))
	defer srv.Close()

	m := NewManager(Config{BaseURL: srv.URL}, nil, zap.NewNop())
	session, err := m.Session(context.Background(), &db.Whatsapp{Session: "main"})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if session.Connected() {
		t.Fatal("session without user id must not count as connected")
	}
}

func TestSendText(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/sessions/main" {
			json.NewEncoder(w).Encode(map[string]string{"status": "CONNECTED", "user_id": "x"})
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions/main/messages" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(Config{BaseURL: srv.URL}, nil, zap.NewNop())
	session, err := m.Session(context.Background(), &db.Whatsapp{Session: "main"})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	if err := session.SendText(context.Background(), "5511999990000@s.whatsapp.net", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got.ChatID != "5511999990000@s.whatsapp.net" || got.Text != "hello" {
		t.Fatalf("request = %+v", got)
	}
}

func TestSendErrorSurfacesGatewayBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/sessions/main" {
			json.NewEncoder(w).Encode(map[string]string{"status": "CONNECTED", "user_id": "x"})
			return
		}
		http.Error(w, "session busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewManager(Config{BaseURL: srv.URL}, nil, zap.NewNop())
	session, err := m.Session(context.Background(), &db.Whatsapp{Session: "main"})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	err = session.SendText(context.Background(), "x@s.whatsapp.net", "hello")
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestSendFailsFastWhenCircuitOpen(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/sessions/main" {
			json.NewEncoder(w).Encode(map[string]string{"status": "CONNECTED", "user_id": "x"})
			return
		}
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "gateway",
		MaxFailures: 2,
	}, zap.NewNop())
	m := NewManager(Config{BaseURL: srv.URL}, breaker, zap.NewNop())
	session, err := m.Session(context.Background(), &db.Whatsapp{Session: "main"})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		session.SendText(ctx, "x@s.whatsapp.net", "hello")
	}

	if calls > 2 {
		t.Fatalf("gateway hit %d times, want at most 2 before the circuit opens", calls)
	}
}
