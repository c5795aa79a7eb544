package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/coregrid/go-resilience/logger"
	"github.com/coregrid/go-resilience/resilience"
)

var (
	Version = "dev"
	Commit  = "unknown"

	tracer = otel.Tracer("github.com/coregrid/go-resilience/api")
)

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 30 * time.Second
)

// Client is a JSON-over-HTTP API client. Transport failures and upstream
// status codes are classified into error kinds at this boundary and requests
// are executed through a retry policy and a per-client circuit breaker (one
// breaker per protected endpoint, shared by every call).
type Client struct {
	ctx     context.Context
	baseURL string
	token   string
	client  *http.Client
	logger  logger.Logger
	policy  resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy overrides the client's retry policy.
func WithRetryPolicy(policy resilience.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithBreaker shares an existing circuit breaker with the client, for callers
// that protect one endpoint behind several clients.
func WithBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// New creates an API client for baseURL. The default policy is the protocol
// preset (chatty query endpoints); the breaker opens after 5 consecutive
// failures and probes again after 30 seconds.
func New(ctx context.Context, logger logger.Logger, baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		ctx:     ctx,
		logger:  logger,
		baseURL: baseURL,
		token:   token,
		client:  http.DefaultClient,
		policy:  resilience.ProtocolRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(defaultFailureThreshold, defaultRecoveryTimeout, resilience.WithName(breakerName(baseURL)))
	}
	return c
}

// Breaker returns the client's circuit breaker, mainly for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// UserAgent returns the User-Agent header sent with every request.
func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "coregrid API Client/" + Version + " (" + gitSHA + ")"
}

// Response is the standard envelope the upstream API wraps errors in.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Do sends a request and decodes the JSON response into response (which may
// be nil). Retryable failures (timeouts, connection resets, 5xx, 429) are
// retried under the client's policy; everything passes through the client's
// circuit breaker, so a persistently failing endpoint is rejected fast with
// resilience.ErrCircuitOpen instead of piling on.
func (c *Client) Do(method, pathParam string, payload any, response any) error {
	u, err := c.resolveURL(pathParam)
	if err != nil {
		return err
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return &Error{URL: u.String(), Method: method, Kind: resilience.KindValidation, Err: errors.Wrap(err, "error marshalling payload")}
		}
	}

	requestID := uuid.NewString()
	ctx, span := tracer.Start(c.ctx, "api.Do", trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", u.String()),
		attribute.String("request.id", requestID),
	))
	defer span.End()

	c.logger.Trace("sending request: %s %s", method, u.String())

	attempt := 0
	respBody, err := resilience.DoWithBreaker(ctx, c.policy, c.breaker, "api."+method, func() ([]byte, error) {
		attempt++
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))
		return c.doOnce(ctx, method, u, body, requestID, span)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			return &Error{URL: u.String(), Method: method, Kind: resilience.KindUnknown, Err: errors.Wrap(err, "error JSON decoding response")}
		}
	}
	return nil
}

// doOnce performs a single attempt. Each attempt builds a fresh request so
// the body is rewindable across retries.
func (c *Client) doOnce(ctx context.Context, method string, u *url.URL, body []byte, requestID string, span trace.Span) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{URL: u.String(), Method: method, Kind: resilience.KindValidation, Err: errors.Wrap(err, "error creating request")}
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		kind := KindForTransportError(err)
		c.logger.Trace("transport error (%s): %v", kind, err)
		return nil, &Error{URL: u.String(), Method: method, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("response status: %s", resp.Status)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	var traceID string
	if resp.Header != nil {
		traceID = resp.Header.Get("traceparent")
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: u.String(), Method: method, Status: resp.StatusCode, Kind: KindForTransportError(err), Err: errors.Wrap(err, "error reading response body"), TraceID: traceID}
	}

	if resp.StatusCode > 299 {
		kind := KindForStatus(resp.StatusCode)
		message := "request failed with status (" + resp.Status + ")"
		if strings.Contains(resp.Header.Get("content-type"), "application/json") {
			var envelope Response
			if json.Unmarshal(respBody, &envelope) == nil && envelope.Message != "" {
				message = envelope.Message
			}
		}
		return nil, &Error{
			URL:     u.String(),
			Method:  method,
			Status:  resp.StatusCode,
			Body:    string(respBody),
			Kind:    kind,
			Err:     errors.Newf("%s", message),
			TraceID: traceID,
		}
	}

	return respBody, nil
}

func (c *Client) resolveURL(pathParam string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &Error{URL: c.baseURL, Kind: resilience.KindValidation, Err: errors.Wrap(err, "error parsing base url")}
	}

	if i := strings.Index(pathParam, "?"); i != -1 {
		u.RawQuery = pathParam[i+1:]
		pathParam = pathParam[:i]
	}

	basePath := u.Path
	switch {
	case pathParam == "":
		u.Path = basePath
	case basePath == "" || basePath == "/":
		u.Path = pathParam
	default:
		u.Path = path.Join(basePath, pathParam)
	}
	return u, nil
}

func breakerName(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return baseURL
}
