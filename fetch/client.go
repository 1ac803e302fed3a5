package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaborage/proxyfetch/logger"
)

// errAttemptTimeout is the cancellation cause set by the per-attempt timer.
var errAttemptTimeout = errors.New("attempt timed out")

// timer is the handle returned by afterFunc.
type timer interface {
	Stop() bool
}

func afterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// client implements the Fetcher interface
type client struct {
	httpClient           *nethttp.Client
	logger               logger.Logger
	config               *Config
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	limiter              *rate.Limiter
	newRequestID         func() string
	callCount            atomic.Int64

	// afterFunc arms the per-attempt timer and sleep waits between attempts.
	afterFunc func(time.Duration, func()) timer
	sleep     func(context.Context, time.Duration) error
}

// NewFetcher creates a fetcher with default configuration
func NewFetcher(log logger.Logger) Fetcher {
	return NewBuilder(log).Build()
}

// Builder provides a fluent interface for configuring the fetcher
type Builder struct {
	config       *Config
	logger       logger.Logger
	httpClient   *nethttp.Client
	transport    nethttp.RoundTripper
	limiter      *rate.Limiter
	newRequestID func() string
}

// NewBuilder creates a new fetcher builder
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		config: &Config{
			Budget:               DefaultBudget(),
			RequestInterceptors:  []RequestInterceptor{},
			ResponseInterceptors: []ResponseInterceptor{},
			DefaultHeaders:       make(map[string]string),
			RequestIDHeader:      HeaderXRequestID,
		},
		logger: log,
	}
}

// WithHTTPClient sets the underlying HTTP client. Its Timeout should stay
// zero so that requests with CallerOwnsCancellation are not cut short.
func (b *Builder) WithHTTPClient(hc *nethttp.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithTransport sets the transport of the underlying HTTP client
func (b *Builder) WithTransport(rt nethttp.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithBudget sets the budget used by the convenience methods
func (b *Builder) WithBudget(budget Budget) *Builder {
	b.config.Budget = budget
	return b
}

// WithBasicAuth sets basic authentication credentials
func (b *Builder) WithBasicAuth(username, password string) *Builder {
	b.config.BasicAuth = &BasicAuth{
		Username: username,
		Password: password,
	}
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithRequestIDHeader sets the header carrying the request ID. An empty name
// disables request IDs.
func (b *Builder) WithRequestIDHeader(name string) *Builder {
	b.config.RequestIDHeader = name
	return b
}

// WithRequestIDGenerator replaces the UUID generator used when the context
// carries no request ID.
func (b *Builder) WithRequestIDGenerator(generate func() string) *Builder {
	b.newRequestID = generate
	return b
}

// WithRateLimit waits on a token bucket before every attempt.
func (b *Builder) WithRateLimit(limit rate.Limit, burst int) *Builder {
	b.limiter = rate.NewLimiter(limit, burst)
	return b
}

// Build creates the fetcher with the configured options
func (b *Builder) Build() Fetcher {
	return b.build()
}

func (b *Builder) build() *client {
	hc := b.httpClient
	if hc == nil {
		hc = &nethttp.Client{}
	}
	if b.transport != nil {
		clone := *hc
		clone.Transport = b.transport
		hc = &clone
	}

	return &client{
		httpClient:           hc,
		logger:               b.logger,
		config:               b.config,
		requestInterceptors:  b.config.RequestInterceptors,
		responseInterceptors: b.config.ResponseInterceptors,
		limiter:              b.limiter,
		newRequestID:         b.newRequestID,
		afterFunc:            afterFunc,
		sleep:                sleepContext,
	}
}

// Get fetches rawURL with GET and the configured budget
func (c *client) Get(ctx context.Context, rawURL string) *Outcome {
	return c.Fetch(ctx, &Request{Method: nethttp.MethodGet, URL: rawURL}, c.config.Budget)
}

// Fetch runs up to budget.Attempts attempts against req.URL. 2xx and 404
// responses end the loop; every other result is logged and retried after
// budget.Delay.
func (c *client) Fetch(ctx context.Context, req *Request, budget Budget) *Outcome {
	start := time.Now()
	callCount := c.callCount.Add(1)

	if err := validateInput(req, budget); err != nil {
		c.logger.Warn().Err(err).Msg("Fetch rejected")
		outcome := failureOutcome(err.Error(), err)
		outcome.Stats = Stats{ElapsedTime: time.Since(start), CallCount: callCount}
		return outcome
	}

	requestID := ""
	if c.config.RequestIDHeader != "" {
		requestID = ensureRequestID(ctx, c.newRequestID)
	}
	protocol, via := req.route()

	var lastErr error
	attempts := 0
	for attempts < budget.Attempts {
		attempts++

		outcome, err := c.attempt(ctx, req, budget, requestID, protocol, attempts)
		if err == nil {
			outcome.Stats = Stats{
				ElapsedTime: time.Since(start),
				Attempts:    attempts,
				CallCount:   callCount,
				Proxy:       via,
			}
			c.logResponse(outcome)
			return outcome
		}

		lastErr = err
		c.logFailure(attempts, err, req.URL, via)

		if attempts < budget.Attempts {
			if werr := c.sleep(ctx, budget.Delay); werr != nil {
				lastErr = werr
				break
			}
		}
	}

	msg := fmt.Sprintf("[FATAL] Failed to fetch %s after %d attempts.", req.URL, budget.Attempts)
	c.logger.Error().
		Str("url", req.URL).
		Str("proxy", via).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Fetch exhausted")

	outcome := failureOutcome(msg, NewExhaustedError(msg, lastErr))
	outcome.Stats = Stats{
		ElapsedTime: time.Since(start),
		Attempts:    attempts,
		CallCount:   callCount,
		Proxy:       via,
	}
	return outcome
}

// attempt issues one request. A nil error means the outcome is terminal
// (2xx or 404); any error is a retryable failure.
func (c *client) attempt(ctx context.Context, req *Request, budget Budget, requestID, protocol string, number int) (*Outcome, error) {
	ctx, span := startAttemptSpan(ctx, req, number, protocol)
	attemptCtx, release := c.attemptContext(ctx, req.Cancellation, budget.Timeout)
	defer release()

	started := time.Now()
	outcome, err := c.roundTrip(attemptCtx, req, requestID, budget.Timeout)
	status := attemptStatus(outcome, err)
	recordAttempt(ctx, protocol, status, time.Since(started), err)
	endAttemptSpan(span, status, err)
	return outcome, err
}

// attemptContext derives the context of one attempt. When the fetcher owns
// the timeout a timer cancels it; release stops the timer.
func (c *client) attemptContext(ctx context.Context, owner Cancellation, timeout time.Duration) (context.Context, func()) {
	if owner == CallerOwnsCancellation || timeout <= 0 {
		return ctx, func() {}
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	t := c.afterFunc(timeout, func() { cancel(errAttemptTimeout) })
	return attemptCtx, func() {
		t.Stop()
		cancel(nil)
	}
}

func (c *client) roundTrip(ctx context.Context, req *Request, requestID string, timeout time.Duration) (*Outcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.transportError(ctx, "rate limiter wait failed", err, timeout)
		}
	}

	httpReq, err := c.buildRequest(ctx, req, requestID)
	if err != nil {
		return nil, err
	}
	c.logRequest(httpReq, req)

	httpResp, err := c.httpClientFor(req).Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, "request execution failed", err, timeout)
	}
	return c.buildResponse(ctx, httpReq, httpResp, timeout)
}

// httpClientFor returns the client bound to the transport of req.
func (c *client) httpClientFor(req *Request) *nethttp.Client {
	if req.Transport == nil {
		return c.httpClient
	}
	hc := *c.httpClient
	hc.Transport = req.Transport
	return &hc
}

// transportError classifies a failure that produced no response.
func (c *client) transportError(ctx context.Context, message string, err error, timeout time.Duration) ClientError {
	if errors.Is(context.Cause(ctx), errAttemptTimeout) {
		return NewTimeoutError("attempt cancelled", timeout, err)
	}
	if isTimeout(err) {
		return NewTimeoutError(message, 0, err)
	}
	return NewNetworkError(message, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// buildRequest constructs an *http.Request, applies headers/auth, and runs request interceptors.
func (c *client) buildRequest(ctx context.Context, req *Request, requestID string) (*nethttp.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, req.method(), req.URL, body)
	if err != nil {
		return nil, NewNetworkError("failed to create HTTP request", err)
	}

	c.applyHeaders(httpReq, req, requestID)
	c.applyAuth(httpReq, req)
	injectTraceContext(ctx, httpReq.Header)

	if err := c.runRequestInterceptors(ctx, httpReq); err != nil {
		return nil, NewInterceptorError("request interceptor failed", "request", err)
	}
	return httpReq, nil
}

// buildResponse runs response interceptors, reads the body and classifies the status.
func (c *client) buildResponse(ctx context.Context, httpReq *nethttp.Request, httpResp *nethttp.Response, timeout time.Duration) (*Outcome, error) {
	defer httpResp.Body.Close()

	if err := c.runResponseInterceptors(ctx, httpReq, httpResp); err != nil {
		return nil, NewInterceptorError("response interceptor failed", "response", err)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, "failed to read response body", err, timeout)
	}

	code := httpResp.StatusCode
	if !IsSuccessStatus(code) && code != nethttp.StatusNotFound {
		return nil, NewStatusError(code, statusText(httpResp), httpResp.Header.Get("Server"))
	}

	return &Outcome{
		Data:       respBody,
		Headers:    httpResp.Header,
		Status:     code,
		StatusText: statusText(httpResp),
		OK:         IsSuccessStatus(code),
	}, nil
}

// statusText strips the numeric code from resp.Status.
func statusText(resp *nethttp.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return nethttp.StatusText(resp.StatusCode)
	}
	return text
}

func attemptStatus(outcome *Outcome, err error) int {
	if outcome != nil {
		return outcome.Status
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode()
	}
	return 0
}

// applyHeaders applies headers to the HTTP request
func (c *client) applyHeaders(httpReq *nethttp.Request, req *Request, requestID string) {
	// Apply default headers first
	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}

	// Apply request-specific headers (these override defaults)
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if requestID != "" && httpReq.Header.Get(c.config.RequestIDHeader) == "" {
		httpReq.Header.Set(c.config.RequestIDHeader, requestID)
	}

	// Set Content-Type if not already set and body is present
	if httpReq.Header.Get("Content-Type") == "" && req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
}

// applyAuth applies authentication to the HTTP request
func (c *client) applyAuth(httpReq *nethttp.Request, req *Request) {
	// Request-specific auth takes precedence
	auth := req.Auth
	if auth == nil {
		auth = c.config.BasicAuth
	}

	if auth != nil {
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	}
}

// runRequestInterceptors executes all request interceptors
func (c *client) runRequestInterceptors(ctx context.Context, req *nethttp.Request) error {
	for _, interceptor := range c.requestInterceptors {
		if err := interceptor(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// runResponseInterceptors executes all response interceptors
func (c *client) runResponseInterceptors(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error {
	for _, interceptor := range c.responseInterceptors {
		if err := interceptor(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

// logRequest logs the outgoing attempt
func (c *client) logRequest(httpReq *nethttp.Request, req *Request) {
	logEvent := c.logger.Debug().
		Str("direction", "outbound").
		Str("method", httpReq.Method).
		Str("url", req.URL).
		Str("cancellation", req.Cancellation.String())

	if len(req.Headers) > 0 {
		logEvent = logEvent.Interface("headers", req.Headers)
	}

	if len(req.Body) > 0 {
		logEvent = logEvent.Bytes("body", req.Body)
	}

	logEvent.Msg("Fetch request")
}

// logResponse logs a terminal response
func (c *client) logResponse(outcome *Outcome) {
	c.logger.Debug().
		Str("direction", "inbound").
		Int("status", outcome.Status).
		Bool("ok", outcome.OK).
		Int("attempts", outcome.Stats.Attempts).
		Dur("elapsed", outcome.Stats.ElapsedTime).
		Int64("call_count", outcome.Stats.CallCount).
		Msg("Fetch response")
}

// logFailure emits the diagnostic line for a failed attempt
func (c *client) logFailure(attempt int, err error, rawURL, via string) {
	logEvent := c.logger.Warn().
		Int("attempt", attempt).
		Str("url", rawURL).
		Err(err)

	if via != "" {
		logEvent = logEvent.Str("proxy", via)
	}

	logEvent.Msgf("Attempt %d failed", attempt)
}

// failureOutcome is the uniform result for a fetch that produced no usable
// response: status 500, no data and fresh empty headers.
func failureOutcome(message string, err error) *Outcome {
	return &Outcome{
		Headers:    nethttp.Header{},
		Status:     nethttp.StatusInternalServerError,
		StatusText: message,
		Err:        err,
	}
}

// validateInput rejects requests that cannot be sent.
func validateInput(req *Request, budget Budget) error {
	if req == nil {
		return NewValidationError("request cannot be nil", "request")
	}
	if req.URL == "" {
		return NewValidationError("URL cannot be empty", "url")
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return NewValidationError("URL must be an absolute http or https URL", "url")
	}
	return validateBudget(budget)
}
