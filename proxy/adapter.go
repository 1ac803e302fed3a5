package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrUnsupportedProtocol is returned by NewAdapter for protocols it cannot dial.
var ErrUnsupportedProtocol = errors.New("unsupported proxy protocol")

const (
	dialTimeout         = 30 * time.Second
	keepAlive           = 30 * time.Second
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// Adapter is an http.RoundTripper that sends every request through one proxy.
// HTTP proxies get a transport per target scheme; SOCKS proxies share one
// transport for both.
type Adapter struct {
	descriptor  Descriptor
	httpTarget  *http.Transport
	httpsTarget *http.Transport
}

var _ http.RoundTripper = (*Adapter)(nil)

// NewAdapter builds the transports for d. It fails with ErrUnsupportedProtocol
// for unknown protocols and with a validation error for a bad address.
func NewAdapter(d Descriptor) (*Adapter, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	switch d.Protocol {
	case ProtocolHTTP, ProtocolHTTPS:
		// https labels a proxy that tunnels TLS targets; the proxy itself is
		// always spoken to in plain HTTP.
		u := d.URL()
		u.Scheme = string(ProtocolHTTP)
		proxyURL := http.ProxyURL(u)
		httpTarget := newTransport()
		httpTarget.Proxy = proxyURL
		httpsTarget := newTransport()
		httpsTarget.Proxy = proxyURL
		return &Adapter{descriptor: d, httpTarget: httpTarget, httpsTarget: httpsTarget}, nil

	case ProtocolSOCKS5:
		dial, err := socks5Dialer(d)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", d, err)
		}
		t := newTransport()
		t.DialContext = dial
		return &Adapter{descriptor: d, httpTarget: t, httpsTarget: t}, nil

	case ProtocolSOCKS4:
		t := newTransport()
		t.DialContext = socks4Dialer(d)
		return &Adapter{descriptor: d, httpTarget: t, httpsTarget: t}, nil

	default:
		return nil, fmt.Errorf("%w %q for %s", ErrUnsupportedProtocol, d.Protocol, d.Address())
	}
}

// Descriptor returns the proxy this adapter dials.
func (a *Adapter) Descriptor() Descriptor {
	return a.descriptor
}

// RoundTrip routes req to the transport serving its scheme.
func (a *Adapter) RoundTrip(req *http.Request) (*http.Response, error) {
	switch req.URL.Scheme {
	case "http":
		return a.httpTarget.RoundTrip(req)
	case "https":
		return a.httpsTarget.RoundTrip(req)
	default:
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, fmt.Errorf("proxy %s: unsupported target scheme %q", a.descriptor, req.URL.Scheme)
	}
}

// CloseIdleConnections releases pooled connections to the proxy.
func (a *Adapter) CloseIdleConnections() {
	a.httpTarget.CloseIdleConnections()
	if a.httpsTarget != a.httpTarget {
		a.httpsTarget.CloseIdleConnections()
	}
}

// newTransport returns a transport with the same defaults as
// http.DefaultTransport but without environment proxy lookup.
func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}
}
