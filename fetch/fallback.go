package fetch

import (
	"context"
	"fmt"
	nethttp "net/http"
	"sync/atomic"
	"time"

	"github.com/gaborage/proxyfetch/logger"
	"github.com/gaborage/proxyfetch/proxy"
)

// NotFoundPolicy decides what a 404 received through a proxy means.
type NotFoundPolicy int

const (
	// NotFoundContinue treats a proxy's 404 like a failure and moves on to
	// the next proxy. This is the default.
	NotFoundContinue NotFoundPolicy = iota
	// NotFoundTerminal returns the 404 outcome as soon as a proxy yields it.
	NotFoundTerminal
)

// AdapterFactory builds the transport for one proxy. A returned transport
// implementing CloseIdleConnections is drained once the proxy is done.
type AdapterFactory func(d proxy.Descriptor) (nethttp.RoundTripper, error)

// DefaultAdapterFactory builds transports with proxy.NewAdapter.
func DefaultAdapterFactory(d proxy.Descriptor) (nethttp.RoundTripper, error) {
	adapter, err := proxy.NewAdapter(d)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// FallbackOption configures a ProxyFallback
type FallbackOption func(*ProxyFallback)

// WithNotFoundPolicy sets how a 404 from a proxy is handled
func WithNotFoundPolicy(policy NotFoundPolicy) FallbackOption {
	return func(f *ProxyFallback) {
		f.notFound = policy
	}
}

// WithAdapterFactory replaces proxy.NewAdapter as the transport constructor
func WithAdapterFactory(factory AdapterFactory) FallbackOption {
	return func(f *ProxyFallback) {
		if factory != nil {
			f.newAdapter = factory
		}
	}
}

// ProxyFallback runs the retry loop of a Fetcher through each proxy in turn
// and returns the first successful outcome.
type ProxyFallback struct {
	fetcher    Fetcher
	logger     logger.Logger
	notFound   NotFoundPolicy
	newAdapter AdapterFactory
	callCount  atomic.Int64
}

var _ ProxyFetcher = (*ProxyFallback)(nil)

// NewProxyFallback wraps fetcher with proxy fallback.
func NewProxyFallback(fetcher Fetcher, log logger.Logger, opts ...FallbackOption) *ProxyFallback {
	if log == nil {
		log = logger.Nop()
	}
	f := &ProxyFallback{
		fetcher:    fetcher,
		logger:     log,
		notFound:   NotFoundContinue,
		newAdapter: DefaultAdapterFactory,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch tries req through each proxy in order with the full budget per proxy.
// With no proxies the call is delegated to the wrapped fetcher unchanged.
func (f *ProxyFallback) Fetch(ctx context.Context, req *Request, proxies []proxy.Descriptor, budget Budget) *Outcome {
	if len(proxies) == 0 {
		return f.fetcher.Fetch(ctx, req, budget)
	}

	start := time.Now()
	callCount := f.callCount.Add(1)

	if err := validateInput(req, budget); err != nil {
		f.logger.Warn().Err(err).Msg("Proxy fetch rejected")
		outcome := failureOutcome(err.Error(), err)
		outcome.Stats = Stats{ElapsedTime: time.Since(start), CallCount: callCount}
		return outcome
	}

	var lastErr error
	attempts := 0
	for i, d := range proxies {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		outcome := f.fetchVia(ctx, req, d, budget)
		attempts += outcome.Stats.Attempts

		if outcome.OK || (outcome.Err == nil && f.notFound == NotFoundTerminal) {
			outcome.Stats = Stats{
				ElapsedTime: time.Since(start),
				Attempts:    attempts,
				CallCount:   callCount,
				Proxy:       outcome.Stats.Proxy,
			}
			return outcome
		}

		lastErr = outcome.Err
		if lastErr == nil {
			lastErr = NewStatusError(outcome.Status, outcome.StatusText, outcome.Headers.Get("Server"))
		}
		recordFallback(ctx, string(d.Protocol), lastErr)

		f.logger.Warn().
			Str("proxy", d.String()).
			Int("proxy_index", i+1).
			Int("remaining", len(proxies)-i-1).
			Err(lastErr).
			Msg("Proxy failed")
	}

	msg := fmt.Sprintf("[FATAL] Failed to fetch %s after %d attempts and %d proxies.", req.URL, budget.Attempts, len(proxies))
	f.logger.Error().
		Str("url", req.URL).
		Int("proxies", len(proxies)).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Proxy fetch exhausted")

	outcome := failureOutcome(msg, NewExhaustedError(msg, lastErr))
	outcome.Stats = Stats{
		ElapsedTime: time.Since(start),
		Attempts:    attempts,
		CallCount:   callCount,
	}
	return outcome
}

// fetchVia runs the retry loop through d. No request is sent when the
// transport for d cannot be built.
func (f *ProxyFallback) fetchVia(ctx context.Context, req *Request, d proxy.Descriptor, budget Budget) *Outcome {
	rt, err := f.newAdapter(d)
	if err != nil {
		perr := NewProxyError(d.String(), err)
		return failureOutcome(perr.Error(), perr)
	}
	defer closeIdleConnections(rt)

	return f.fetcher.Fetch(ctx, req.throughProxy(d, rt), budget)
}

func closeIdleConnections(rt nethttp.RoundTripper) {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if c, ok := rt.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}
