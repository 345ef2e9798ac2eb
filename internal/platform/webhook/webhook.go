// Package webhook pushes queue change events to external HTTP endpoints,
// such as a ward display board or a paging integration. Each POST carries an
// HMAC-SHA256 signature of the body.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/platform/notify"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	EventIDHeader   = "X-Webhook-Event-ID"

	defaultLogSize = 100
)

// Endpoint is a delivery target. Events holds kind patterns such as
// "session.completed", "session.*" or "*"; empty means every kind.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

// Payload is the JSON body of every delivery.
type Payload struct {
	ID        string      `json:"id"`
	Kind      notify.Kind `json:"kind"`
	Origin    string      `json:"origin,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Attempt records one POST to one endpoint.
type Attempt struct {
	EventID    string        `json:"event_id"`
	Kind       notify.Kind   `json:"kind"`
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}

func (a Attempt) Succeeded() bool { return a.Error == "" }

// Sink implements notify.Sink over a fixed set of endpoints and keeps a
// bounded log of recent attempts.
type Sink struct {
	endpoints []Endpoint
	client    *http.Client

	mu      sync.Mutex
	log     []Attempt
	logSize int
}

type Option func(*Sink)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

func WithLogSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.logSize = n
		}
	}
}

func NewSink(endpoints []Endpoint, opts ...Option) (*Sink, error) {
	for _, ep := range endpoints {
		if err := validateURL(ep.URL); err != nil {
			return nil, fmt.Errorf("webhook %q: %w", ep.URL, err)
		}
	}
	s := &Sink{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 5 * time.Second},
		logSize:   defaultLogSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload. A "sha256="
// prefix, as sent in SignatureHeader, is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// kindMatches reports whether kind satisfies pattern: exact, "*", a
// "prefix.*" or a "*.suffix" wildcard.
func kindMatches(pattern string, kind notify.Kind) bool {
	k := string(kind)
	switch {
	case pattern == "*" || pattern == k:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(k, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(k, pattern[1:])
	}
	return false
}

func (ep Endpoint) wants(kind notify.Kind) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, p := range ep.Events {
		if kindMatches(p, kind) {
			return true
		}
	}
	return false
}

func (s *Sink) Name() string { return "webhook" }

// Deliver posts ev to every endpoint that wants it. Failures are collected
// and returned together after all endpoints were tried.
func (s *Sink) Deliver(ctx context.Context, ev notify.Event) error {
	p := Payload{
		ID:        uuid.NewString(),
		Kind:      ev.Kind,
		Origin:    ev.Origin,
		Timestamp: ev.Timestamp,
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var errs []error
	for _, ep := range s.endpoints {
		if !ep.wants(ev.Kind) {
			continue
		}
		a := s.post(ctx, ep, p, body)
		s.record(a)
		if !a.Succeeded() {
			errs = append(errs, fmt.Errorf("%s: %s", ep.URL, a.Error))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) post(ctx context.Context, ep Endpoint, p Payload, body []byte) Attempt {
	now := time.Now()
	a := Attempt{EventID: p.ID, Kind: p.Kind, URL: ep.URL, At: now}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		a.Error = err.Error()
		return a
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventIDHeader, p.ID)
	req.Header.Set(TimestampHeader, now.UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+SignPayload(body, ep.Secret))
	}

	resp, err := s.client.Do(req)
	a.Duration = time.Since(now)
	if err != nil {
		a.Error = err.Error()
		return a
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	a.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return a
}

func (s *Sink) record(a Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, a)
	if over := len(s.log) - s.logSize; over > 0 {
		s.log = append(s.log[:0:0], s.log[over:]...)
	}
}

// Attempts returns recent attempts, newest first.
func (s *Sink) Attempts() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attempt, len(s.log))
	for i, a := range s.log {
		out[len(s.log)-1-i] = a
	}
	return out
}
