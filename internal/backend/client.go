// Package backend is the REST transport to the commerce backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxResponseBody = 4 << 20 // 4MB

	RequestIDHeader      = "X-Request-ID"
	IdempotencyKeyHeader = "Idempotency-Key"
)

// Request describes one backend call. It holds no live state so it can be
// replayed after a token refresh.
type Request struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// TracerProvider and Propagators default to the otel globals.
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker[*response]
	log        logrus.FieldLogger
}

type response struct {
	status int
	body   []byte
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	log = log.WithField("component", "backend")
	breaker := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "commerce-backend",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up says nothing about backend health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	})

	var traceOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		traceOpts = append(traceOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.Propagators != nil {
		traceOpts = append(traceOpts, otelhttp.WithPropagators(cfg.Propagators))
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(base, traceOpts...),
		},
		timeout: timeout,
		breaker: breaker,
		log:     log,
	}
}

// Do sends req, attaching accessToken as a bearer token when it is not empty,
// and decodes a successful JSON body into out (which may be nil).
//
// Non-2xx answers come back as *domain.APIError; transport failures, timeouts
// and an open breaker as *domain.NetworkError.
func (c *Client) Do(ctx context.Context, req Request, accessToken string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := req.Method + " " + req.Path
	httpReq, err := c.newHTTPRequest(ctx, req, accessToken)
	if err != nil {
		return err
	}
	requestID := httpReq.Header.Get(RequestIDHeader)

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(httpReq, req.Path)
	})
	if err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			c.log.WithFields(logrus.Fields{"request_id": requestID, "op": op, "status": apiErr.StatusCode}).
				Warn("backend server error")
			return apiErr
		}
		c.log.WithFields(logrus.Fields{"request_id": requestID, "op": op}).WithError(err).
			Warn("backend call failed")
		return &domain.NetworkError{Op: op, Err: err}
	}

	if resp.status < 200 || resp.status >= 300 {
		return &domain.APIError{
			StatusCode: resp.status,
			Message:    extractMessage(resp.body),
			Path:       req.Path,
		}
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request, accessToken string) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyKeyHeader, req.IdempotencyKey)
	}
	httpReq.Header.Set(RequestIDHeader, uuid.NewString())
	return httpReq, nil
}

func (c *Client) roundTrip(httpReq *http.Request, path string) (*response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	r := &response{status: resp.StatusCode, body: body}
	if resp.StatusCode >= http.StatusInternalServerError {
		return r, &domain.APIError{
			StatusCode: resp.StatusCode,
			Message:    extractMessage(body),
			Path:       path,
		}
	}
	return r, nil
}

// extractMessage pulls a human readable reason out of an error body. It
// understands {"detail": ...}, {"error": ...}, {"message": ...} and field
// error maps such as {"code": ["Invalid coupon."]}.
func extractMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		if body[0] == '<' || len(body) > 200 {
			return ""
		}
		return string(body)
	}

	for _, key := range []string{"detail", "error", "message", "non_field_errors"} {
		if raw, ok := fields[key]; ok {
			if msg := firstString(raw); msg != "" {
				return msg
			}
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msg := firstString(fields[k]); msg != "" {
			return msg
		}
	}
	return ""
}

func firstString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
