// Package supabase provides a client for Supabase (PostgREST + GoTrue admin).
// The same client backs the central registry and every tenant store.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("supabase")

// ClientConfig identifies one Supabase project and the keys used against it.
type ClientConfig struct {
	Name      string // used in errors and logs
	BaseURL   string
	APIKey    string // sent as the apikey header
	BearerKey string // sent as Authorization: Bearer; defaults to APIKey
}

// Client wraps HTTP calls to one Supabase project.
type Client struct {
	httpClient *http.Client
	name       string
	baseURL    string
	apiKey     string
	bearerKey  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	limiter    *rate.Limiter
	bulkhead   *resilience.Bulkhead
	logger     *zap.Logger
}

// NewClient creates a Supabase client. limiter and bulkhead may be nil.
func NewClient(httpClient *http.Client, cc ClientConfig, cb *gobreaker.CircuitBreaker, cfg resilience.Config, limiter *rate.Limiter, bulkhead *resilience.Bulkhead, logger *zap.Logger) *Client {
	bearer := cc.BearerKey
	if bearer == "" {
		bearer = cc.APIKey
	}
	return &Client{
		httpClient: httpClient,
		name:       cc.Name,
		baseURL:    strings.TrimRight(cc.BaseURL, "/"),
		apiKey:     cc.APIKey,
		bearerKey:  bearer,
		cb:         cb,
		cfg:        cfg,
		limiter:    limiter,
		bulkhead:   bulkhead,
		logger:     logger.With(zap.String("site", cc.Name)),
	}
}

// Name returns the project name the client was created for.
func (c *Client) Name() string {
	return c.name
}

// APIError is a non-2xx answer from PostgREST or GoTrue.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		if e.Code != "" {
			return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Status)
		}
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// Postgres / PostgREST codes for a missing relation or column.
const (
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
	codeSchemaCacheMiss = "PGRST205"
)

// isMissingTable reports the "relation does not exist" class of error.
func isMissingTable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == codeUndefinedTable || apiErr.Code == codeSchemaCacheMiss {
		return true
	}
	if apiErr.Code == codeUndefinedColumn {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return apiErr.Status == http.StatusNotFound ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "could not find the table")
}

// isMissingColumn reports an unknown column in select, filter or order.
func isMissingColumn(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeUndefinedColumn
}

// isClientError reports 4xx answers other than rate limiting; retrying them
// cannot help and they must not trip the breaker.
func isClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.Status >= 400 && apiErr.Status < 500 &&
		apiErr.Status != http.StatusTooManyRequests && apiErr.Status != http.StatusRequestTimeout
}

// IgnoreForBreaker is the breaker filter for tenant clients.
func IgnoreForBreaker(err error) bool {
	return isClientError(err)
}

// request is one HTTP exchange against the project.
type request struct {
	method string
	path   string // relative to the base URL, e.g. "rest/v1/users"
	query  url.Values
	body   any
	prefer string
}

// do executes req once: pacing, bulkhead, auth headers, error decoding.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.bulkhead != nil {
		if err := c.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.bulkhead.Release()
	}

	u := fmt.Sprintf("%s/%s", c.baseURL, req.path)
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var reader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, reader)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, err
	}

	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.bearerKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp.StatusCode, body)
		level := c.logger.Warn
		if isMissingTable(apiErr) {
			level = c.logger.Debug
		}
		level("supabase: non-2xx response",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
			zap.String("body", string(body)),
		)
		return nil, apiErr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

// execute runs req behind the circuit breaker with retries. Client errors
// are not retried.
func (c *Client) execute(ctx context.Context, req request) ([]byte, error) {
	var body []byte
	call := func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			b, err := c.do(ctx, req)
			if err != nil {
				if isClientError(err) {
					return resilience.Permanent(err)
				}
				return err
			}
			body = b
			return nil
		})
	}

	var err error
	if c.cb != nil {
		_, err = c.cb.Execute(call)
	} else {
		_, err = call()
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &domain.ErrCircuitOpen{Service: "supabase/" + c.name}
	}
	return body, err
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Body: string(body)}
	var payload struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error"`
		Details string `json:"details"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Code != nil {
			apiErr.Code = fmt.Sprint(payload.Code)
		}
		apiErr.Details = payload.Details
		apiErr.Hint = payload.Hint
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Msg != "":
			apiErr.Message = payload.Msg
		default:
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
