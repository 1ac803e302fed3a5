package fetch

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gaborage/proxyfetch/proxy"
)

const (
	// DefaultAttempts is the default number of attempts per endpoint
	DefaultAttempts = 3

	// DefaultDelay is the default pause between failed attempts
	DefaultDelay = 1500 * time.Millisecond

	// DefaultTimeout is the default per-attempt timeout
	DefaultTimeout = 30 * time.Second
)

// Fetcher issues a request against a single endpoint, retrying transient
// failures within the given budget. Fetch never returns nil.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request, budget Budget) *Outcome
	Get(ctx context.Context, url string) *Outcome
}

// ProxyFetcher routes a request through an ordered list of proxies until
// one of them produces a successful outcome.
type ProxyFetcher interface {
	Fetch(ctx context.Context, req *Request, proxies []proxy.Descriptor, budget Budget) *Outcome
}

// Budget bounds the work spent on a single endpoint.
type Budget struct {
	// Attempts is the maximum number of requests issued (at least 1)
	Attempts int `validate:"min=1"`
	// Delay is the pause after each failed attempt except the last
	Delay time.Duration `validate:"min=0"`
	// Timeout cancels an attempt the fetcher owns. Zero disables the timer
	// instead of cancelling the attempt at once.
	Timeout time.Duration `validate:"min=0"`
}

// DefaultBudget returns 3 attempts, 1.5s delay and a 30s timeout.
func DefaultBudget() Budget {
	return Budget{
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
		Timeout:  DefaultTimeout,
	}
}

// Cancellation selects who is responsible for aborting an attempt.
type Cancellation int

const (
	// ComponentOwnsTimeout arms a timer per attempt that cancels it after
	// Budget.Timeout. This is the zero value.
	ComponentOwnsTimeout Cancellation = iota
	// CallerOwnsCancellation leaves cancellation to the caller's context;
	// no timer is armed.
	CallerOwnsCancellation
)

func (c Cancellation) String() string {
	switch c {
	case ComponentOwnsTimeout:
		return "component"
	case CallerOwnsCancellation:
		return "caller"
	default:
		return "unknown"
	}
}

// Request represents an HTTP request with all necessary data
type Request struct {
	// Method defaults to GET
	Method       string
	URL          string
	Headers      map[string]string
	Body         []byte
	Auth         *BasicAuth
	Cancellation Cancellation
	// Transport overrides the fetcher's transport for this request.
	// The proxy fallback sets it to the adapter of the current proxy.
	Transport nethttp.RoundTripper

	via *proxy.Descriptor
}

func (r *Request) method() string {
	if r.Method == "" {
		return nethttp.MethodGet
	}
	return r.Method
}

// throughProxy returns a shallow copy of r sent through rt, the transport of d.
func (r *Request) throughProxy(d proxy.Descriptor, rt nethttp.RoundTripper) *Request {
	clone := *r
	clone.Transport = rt
	clone.via = &d
	return &clone
}

// route returns the metric label and redacted address of the proxy the
// request goes through.
func (r *Request) route() (protocol, via string) {
	if r.via == nil {
		return directProtocol, ""
	}
	return string(r.via.Protocol), r.via.String()
}

// Outcome is the uniform result of a fetch. OK is true only for 2xx
// statuses; a false OK carries either Err or a 404 status.
type Outcome struct {
	Data       []byte
	Headers    nethttp.Header
	Status     int
	StatusText string
	OK         bool
	Err        error
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	// Attempts is the number of requests actually issued, summed over every
	// proxy a fallback tried
	Attempts int
	// CallCount is the fetcher-wide sequence number of this call
	CallCount int64
	// Proxy is the redacted proxy that produced the outcome, empty for direct
	Proxy string
}

// ErrNoData is returned by Decode when the outcome carries no body.
var ErrNoData = errors.New("fetch: outcome has no data")

// Decode unmarshals the JSON body of o into T. It does not look at OK.
func Decode[T any](o *Outcome) (T, error) {
	var v T
	if o == nil || o.Data == nil {
		return v, ErrNoData
	}
	if err := json.Unmarshal(o.Data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// RequestInterceptor is called before sending each attempt
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving each response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the fetcher configuration
type Config struct {
	Budget               Budget
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	BasicAuth            *BasicAuth
	DefaultHeaders       map[string]string
	RequestIDHeader      string
}
