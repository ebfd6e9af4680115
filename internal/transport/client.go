// Package transport talks to the external WhatsApp gateway that owns the
// actual device sessions. The pipeline only supplies raw numbers and message
// bodies; session auth, media upload and the wire protocol live in the
// gateway.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/circuitbreaker"
	"github.com/disparo-io/disparo/internal/db"
)

// ErrNotConnected indicates a session without an authenticated identity; jobs
// abort without retry, since a disconnected device will not recover by
// retrying a single message.
var ErrNotConnected = errors.New("whatsapp session not connected")

// Config holds gateway connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Manager resolves sending connections to live gateway sessions.
type Manager struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewManager creates a gateway client. All sends pass through the circuit
// breaker so a dead gateway fails fast instead of eating the dispatch
// schedule.
func NewManager(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Manager {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Manager{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Session describes a resolved gateway session.
type Session struct {
	m      *Manager
	Name   string `json:"name"`
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

// Connected reports whether the session has an authenticated identity.
func (s *Session) Connected() bool {
	return s.Status == "CONNECTED" && s.UserID != ""
}

// Session resolves a whatsapp connection row to its gateway session.
func (m *Manager) Session(ctx context.Context, conn *db.Whatsapp) (*Session, error) {
	var session Session
	if err := m.get(ctx, fmt.Sprintf("/api/sessions/%s", conn.Session), &session); err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", conn.Session, err)
	}
	session.m = m
	session.Name = conn.Session
	return &session, nil
}

// ChatID builds the recipient address for a raw phone number.
func ChatID(number string) string {
	return number + "@s.whatsapp.net"
}

type sendRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text,omitempty"`

	Kind     string `json:"kind,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// SendText sends a plain text message.
func (s *Session) SendText(ctx context.Context, chatID, body string) error {
	return s.m.post(ctx, fmt.Sprintf("/api/sessions/%s/messages", s.Name), sendRequest{
		ChatID: chatID,
		Text:   body,
	})
}

// SendMedia sends one media message built by MessageOptions.
func (s *Session) SendMedia(ctx context.Context, chatID string, opts MediaOptions) error {
	return s.m.post(ctx, fmt.Sprintf("/api/sessions/%s/messages", s.Name), sendRequest{
		ChatID:   chatID,
		Kind:     opts.Kind,
		Caption:  opts.Caption,
		FileName: opts.FileName,
		MimeType: opts.MimeType,
		Data:     opts.Data,
	})
}

func (m *Manager) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return m.do(req, out)
}

func (m *Manager) post(ctx context.Context, path string, body any) error {
	if m.breaker != nil && !m.breaker.Allow() {
		m.logger.Warn("gateway circuit open, failing fast", zap.String("path", path))
		return fmt.Errorf("%w: gateway unavailable", circuitbreaker.ErrCircuitOpen)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	err = m.do(req, nil)
	if m.breaker != nil {
		if err != nil {
			m.breaker.RecordFailure()
		} else {
			m.breaker.RecordSuccess()
		}
	}
	return err
}

func (m *Manager) do(req *http.Request, out any) error {
	if m.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
