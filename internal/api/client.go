// Package api is the REST access layer for the proxy dashboard backend.
//
// Every call is bound by a timeout and every failure is returned as *Error
// with one of four kinds (network, timeout, server, parse), so callers never
// branch on transport detail.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/reqcontext"
)

const (
	// DefaultTimeout bounds every REST call.
	DefaultTimeout = 30 * time.Second

	// APIPrefix is the common path prefix of the REST surface.
	APIPrefix = "/api/v1"

	userAgent    = "dashsync/1.0"
	maxBodyBytes = 32 << 20
)

// Observer receives one notification per completed call. route is the path
// template (e.g. "/endpoints/{name}/priority"), kind is empty on success.
type Observer interface {
	ObserveRequest(method, route string, status int, kind Kind, duration time.Duration)
}

// Tracer opens a span around each call.
type Tracer interface {
	TraceRequest(ctx context.Context, method, route string) (context.Context, trace.Span)
}

// Client provides access to the dashboard REST API
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.SugaredLogger
	observer   Observer
	tracer     Tracer
}

// NewClient creates a REST client for baseURL. A non-positive timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		// The per-call context carries the deadline.
		httpClient: &http.Client{Timeout: 0},
		logger:     logger,
	}
}

// SetObserver installs a call observer (metrics).
func (c *Client) SetObserver(observer Observer) {
	c.observer = observer
}

// SetTracer installs a call tracer.
func (c *Client) SetTracer(tracer Tracer) {
	c.tracer = tracer
}

// SetHTTPClient replaces the underlying transport client.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// BaseURL returns the backend base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Timeout returns the per-call deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// call describes one REST request.
type call struct {
	method string
	route  string // template used for logs and metrics
	path   string // concrete path below APIPrefix
	query  url.Values
	body   interface{}
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}

	rel, err := url.Parse(APIPrefix + path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}

	u := base.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// do executes the call and decodes a successful JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, cl call, out interface{}) error {
	op := cl.method + " " + APIPrefix + cl.path
	start := time.Now()

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.TraceRequest(ctx, cl.method, cl.route)
		defer span.End()
	}

	status, err := c.execute(ctx, cl, op, out)

	duration := time.Since(start)
	kind := KindOf(err)
	if c.observer != nil {
		c.observer.ObserveRequest(cl.method, cl.route, status, kind, duration)
	}
	if span != nil && span.IsRecording() {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil {
			span.SetAttributes(attribute.String("error.kind", string(kind)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if err != nil {
		c.logger.Debugw("REST call failed",
			"op", op,
			"status", status,
			"kind", kind,
			"duration", duration,
			"error", err)
		return err
	}

	c.logger.Debugw("REST call completed",
		"op", op,
		"status", status,
		"duration", duration)
	return nil
}

func (c *Client) execute(ctx context.Context, cl call, op string, out interface{}) (int, error) {
	target, err := c.buildURL(cl.path, cl.query)
	if err != nil {
		return 0, &Error{Kind: KindNetwork, Op: op, Message: err.Error(), Err: err}
	}

	var body io.Reader = http.NoBody
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return 0, &Error{Kind: KindParse, Op: op, Message: "failed to encode request body", Err: err}
		}
		body = bytes.NewReader(payload)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, cl.method, target, body)
	if err != nil {
		return 0, &Error{Kind: KindNetwork, Op: op, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(reqcontext.RequestIDHeader, reqcontext.RequestID(ctx))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, c.transportError(callCtx, op, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(op, resp, data, readErr)
	}

	if readErr != nil {
		if isTimeout(callCtx, readErr) {
			return resp.StatusCode, &Error{Kind: KindTimeout, Op: op, Status: resp.StatusCode, Message: msgTimeout, Err: readErr}
		}
		return resp.StatusCode, &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Message: "failed to read response body", Err: readErr}
	}

	// 2xx responses may still report failure in-band.
	if success := gjson.GetBytes(data, "success"); success.Exists() && success.Type == gjson.False {
		return resp.StatusCode, &Error{
			Kind:    KindServer,
			Op:      op,
			Status:  resp.StatusCode,
			Message: firstNonEmpty(gjson.GetBytes(data, "error").String(), gjson.GetBytes(data, "message").String(), msgServerError),
		}
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, &Error{Kind: KindParse, Op: op, Status: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	return resp.StatusCode, nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if isTimeout(ctx, err) {
		return &Error{Kind: KindTimeout, Op: op, Message: msgTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Op: op, Message: msgNetworkError, Err: err}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusError shapes a non-2xx response. The message comes from the JSON
// body's "message" then "error" field; an unreadable body falls back to the
// status line.
func statusError(op string, resp *http.Response, data []byte, readErr error) error {
	apiErr := &Error{
		Kind:    KindServer,
		Op:      op,
		Status:  resp.StatusCode,
		Message: msgServerError,
	}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if readErr != nil || json.Unmarshal(data, &body) != nil {
		apiErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		return apiErr
	}

	apiErr.Message = firstNonEmpty(body.Message, body.Error, msgServerError)
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// escape encodes a single path segment.
func escape(segment string) string {
	return url.PathEscape(segment)
}
