// Package notify delivers user-facing email and push messages through the
// notification gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type Push struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *Client) SendEmail(ctx context.Context, email Email) error {
	if email.To == "" {
		return fmt.Errorf("send email: no recipient")
	}
	id, err := c.post(ctx, "/v1/email", email)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	c.logger.Info("email sent", "id", id, "subject", email.Subject)
	return nil
}

func (c *Client) SendPush(ctx context.Context, push Push) error {
	if len(push.Tokens) == 0 {
		return fmt.Errorf("send push: no device tokens")
	}
	id, err := c.post(ctx, "/v1/push", push)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	c.logger.Info("push sent", "id", id, "devices", len(push.Tokens))
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var gwResp struct {
		OK    bool   `json:"ok"`
		ID    string `json:"id"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &gwResp); err != nil {
		return "", fmt.Errorf("parse gateway response (status %d): %w", resp.StatusCode, err)
	}
	if !gwResp.OK {
		return "", fmt.Errorf("gateway error %d: %s", resp.StatusCode, gwResp.Error)
	}
	return gwResp.ID, nil
}

// Log writes messages to the logger instead of delivering them. Used by
// local runs that have no gateway.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) SendEmail(_ context.Context, email Email) error {
	l.logger.Info("email", "to", email.To, "subject", email.Subject, "text", email.Text)
	return nil
}

func (l *Log) SendPush(_ context.Context, push Push) error {
	l.logger.Info("push", "devices", len(push.Tokens), "title", push.Title, "body", push.Body)
	return nil
}
