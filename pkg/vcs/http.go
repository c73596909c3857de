package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/logging"
)

const maxResponseBytes = 10 << 20

// RetryPolicy configures exponential backoff for transient failures.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
	}
}

// Authorizer adds credentials to an outgoing request.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, req *http.Request) error

func (f AuthorizerFunc) Authorize(ctx context.Context, req *http.Request) error {
	return f(ctx, req)
}

// HeaderToken sets header name to value on every request. Empty values add
// nothing.
func HeaderToken(name, value string) Authorizer {
	return AuthorizerFunc(func(_ context.Context, req *http.Request) error {
		if value != "" {
			req.Header.Set(name, value)
		}
		return nil
	})
}

// BearerToken sets "Authorization: Bearer {token}".
func BearerToken(token string) Authorizer {
	if token == "" {
		return HeaderToken("Authorization", "")
	}
	return HeaderToken("Authorization", "Bearer "+token)
}

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryPolicy
	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64
	Burst             int
	// Header is sent with every request.
	Header http.Header
	Auth   Authorizer
	Logger *zap.Logger
	// Client overrides the underlying http.Client; Timeout is ignored when set.
	Client *http.Client
}

// HTTPClient is a JSON REST client with retries and rate limiting.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	retry   RetryPolicy
	limiter *rate.Limiter
	header  http.Header
	auth    Authorizer
	logger  *zap.Logger
	retries *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient creates a client. Zero retry fields take their defaults.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	retry := opts.Retry
	def := DefaultRetryPolicy()
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = def.InitialBackoff
	}
	if retry.MaxBackoff <= 0 {
		retry.MaxBackoff = def.MaxBackoff
	}
	if retry.Multiplier < 1 {
		retry.Multiplier = def.Multiplier
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	auth := opts.Auth
	if auth == nil {
		auth = HeaderToken("", "")
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		retry:   retry,
		limiter: limiter,
		header:  opts.Header.Clone(),
		auth:    auth,
		logger:  logging.ForCategory(opts.Logger, logging.CategoryNetwork),
		retries: logging.ForCategory(opts.Logger, logging.CategoryRetry),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Request is one logical API call. Retries resend the same body.
type Request struct {
	Method string
	// Path is appended to the base URL and may contain escaped segments.
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// NoAuth skips the client's Authorizer.
	NoAuth bool
}

// APIError is a non-2xx response.
type APIError struct {
	Method      string
	Path        string
	StatusCode  int
	Message     string
	RequestID   string
	RateLimited bool
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Retryable reports whether the response is worth retrying.
func (e *APIError) Retryable() bool {
	return e.RateLimited || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// StatusCode returns the HTTP status of the APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err carries a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// JSON performs req and decodes a JSON response into out. A nil out
// discards the body.
func (c *HTTPClient) JSON(ctx context.Context, req Request, out any) error {
	body, err := c.Raw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeGateway, "decode response").
			WithContext("method", req.Method).
			WithContext("path", req.Path)
	}
	return nil
}

// Raw performs req and returns the response body. Transient failures are
// retried per the client's RetryPolicy; the final failure is a structured
// error wrapping *APIError when the server answered.
func (c *HTTPClient) Raw(ctx context.Context, req Request) ([]byte, error) {
	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeInternal, "encode request body")
		}
		payload = data
	}
	requestID := uuid.NewString()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		attempts++
		body, err := c.do(ctx, req, payload, requestID)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == c.retry.MaxRetries {
			break
		}

		var apiErr *APIError
		isAPI := stderrors.As(err, &apiErr)
		if isAPI && !apiErr.Retryable() {
			break
		}

		delay := c.backoff(attempt)
		if isAPI && apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
			if delay > c.retry.MaxBackoff {
				delay = c.retry.MaxBackoff
			}
		}

		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.String("request_id", requestID),
		}
		if isAPI {
			fields = append(fields, zap.Int("status", apiErr.StatusCode))
		} else {
			fields = append(fields, zap.Error(err))
		}
		c.retries.Info("retrying gateway request", fields...)

		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return nil, c.classify(req, lastErr, attempts)
}

func (c *HTTPClient) do(ctx context.Context, req Request, payload []byte, requestID string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-Request-Id", requestID)
	if !req.NoAuth {
		if err := c.auth.Authorize(ctx, httpReq); err != nil {
			return nil, err
		}
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("gateway response",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, c.parseError(req, resp, data, requestID)
}

func (c *HTTPClient) parseError(req Request, resp *http.Response, body []byte, requestID string) *APIError {
	apiErr := &APIError{
		Method:     req.Method,
		Path:       req.Path,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.Status, body),
		RequestID:  requestID,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
	}

	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		apiErr.RateLimited = true
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			wait := time.Unix(reset, 0).Sub(c.now())
			if wait < time.Second {
				wait = time.Second
			}
			apiErr.RetryAfter = wait
		} else if apiErr.RetryAfter == 0 {
			apiErr.RetryAfter = time.Second
		}
	}
	return apiErr
}

func (c *HTTPClient) classify(req Request, err error, attempts int) error {
	code := apierrors.ErrCodeGateway
	retryable := false
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		retryable = apiErr.Retryable()
		switch {
		case apiErr.RateLimited || apiErr.StatusCode == http.StatusTooManyRequests:
			code = apierrors.ErrCodeGatewayRateLimit
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			code = apierrors.ErrCodeGatewayAuth
		}
	}

	wrapped := apierrors.Wrap(err, code, fmt.Sprintf("%s %s failed", req.Method, req.Path)).
		WithRetryable(retryable).
		WithContext("attempts", attempts)
	if apiErr != nil {
		wrapped = wrapped.WithContext("status", apiErr.StatusCode)
	}
	return wrapped
}

// backoff is the jittered delay before retry number attempt+1.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	delay := float64(c.retry.InitialBackoff)
	for i := 0; i < attempt; i++ {
		delay *= c.retry.Multiplier
	}
	if delay > float64(c.retry.MaxBackoff) {
		delay = float64(c.retry.MaxBackoff)
	}
	// Spread over [0.75, 1.25) of the nominal delay.
	return time.Duration(delay*0.75 + rand.Float64()*delay*0.5)
}

func errorMessage(status string, body []byte) string {
	var parsed struct {
		Message any    `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch m := parsed.Message.(type) {
		case string:
			if m != "" {
				return m
			}
		case nil:
		default:
			return fmt.Sprint(m)
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return status
	}
	if len(raw) > 500 {
		raw = raw[:500] + "..."
	}
	return fmt.Sprintf("%s (raw: %s)", status, raw)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
