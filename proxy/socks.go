package proxy

import (
	"context"
	"errors"
	"net"
	"net/url"

	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"
)

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

var errNoContextDialer = errors.New("dialer does not support contexts")

// socks5Dialer dials through a SOCKS5 server, authenticating with
// username/password when both are set.
func socks5Dialer(d Descriptor) (dialContextFunc, error) {
	var auth *xproxy.Auth
	if _, ok := d.Credentials(); ok {
		auth = &xproxy.Auth{User: d.Username, Password: d.Password}
	}

	forward := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}
	dialer, err := xproxy.SOCKS5("tcp", d.Address(), auth, forward)
	if err != nil {
		return nil, err
	}

	cd, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, errNoContextDialer
	}
	return cd.DialContext, nil
}

// socks4Dialer dials through a SOCKS4 server. SOCKS4 has no password
// authentication; the username is only carried in the dial URI.
func socks4Dialer(d Descriptor) dialContextFunc {
	u := &url.URL{
		Scheme:   string(ProtocolSOCKS4),
		Host:     d.Address(),
		RawQuery: url.Values{"timeout": {dialTimeout.String()}}.Encode(),
	}
	if _, ok := d.Credentials(); ok {
		u.User = url.User(d.Username)
	}
	return withContext(socks.Dial(u.String()))
}

// withContext adapts a blocking dial function so that it returns once ctx is
// done. A connection that completes after cancellation is closed.
func withContext(dial func(network, addr string) (net.Conn, error)) dialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		type result struct {
			conn net.Conn
			err  error
		}
		done := make(chan result, 1)
		go func() {
			conn, err := dial(network, addr)
			done <- result{conn: conn, err: err}
		}()

		select {
		case r := <-done:
			return r.conn, r.err
		case <-ctx.Done():
			go func() {
				if r := <-done; r.conn != nil {
					_ = r.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}
