// Package proxy describes upstream proxy servers and builds HTTP transports
// that route requests through them.
//
// Supported protocols:
//   - http, https: forward proxying for http:// targets and CONNECT
//     tunnelling for https:// targets, each on its own transport. Both reach
//     the proxy over plain TCP; https only marks it as able to tunnel TLS.
//   - socks5: golang.org/x/net/proxy dialer, optional username/password
//   - socks4: h12.io/socks dialer, username sent as the SOCKS4 user id
//
// Anything else parses as ProtocolUnknown and NewAdapter rejects it with
// ErrUnsupportedProtocol.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Protocol identifies how a proxy server is spoken to.
type Protocol string

const (
	ProtocolHTTP    Protocol = "http"
	ProtocolHTTPS   Protocol = "https"
	ProtocolSOCKS4  Protocol = "socks4"
	ProtocolSOCKS5  Protocol = "socks5"
	ProtocolUnknown Protocol = "unknown"
)

// ParseProtocol maps s case-insensitively onto a known Protocol.
// Unrecognised values yield ProtocolUnknown.
func ParseProtocol(s string) Protocol {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolSOCKS4, ProtocolSOCKS5:
		return p
	default:
		return ProtocolUnknown
	}
}

// IsHTTP reports whether p is spoken over HTTP (plain or TLS).
func (p Protocol) IsHTTP() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

// IsSOCKS reports whether p is a SOCKS version.
func (p Protocol) IsSOCKS() bool {
	return p == ProtocolSOCKS4 || p == ProtocolSOCKS5
}

// Descriptor identifies one proxy server. It is an immutable value supplied
// by the caller and only read while fetching.
type Descriptor struct {
	Host     string   `koanf:"host" json:"host" yaml:"host" validate:"required"`
	Port     int      `koanf:"port" json:"port" yaml:"port" validate:"min=1,max=65535"`
	Protocol Protocol `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Username string   `koanf:"username" json:"username,omitempty" yaml:"username,omitempty"`
	Password string   `koanf:"password" json:"password,omitempty" yaml:"password,omitempty"`
}

// Address returns host:port, bracketing IPv6 hosts.
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Credentials returns the proxy user info. Credentials are all-or-nothing:
// ok is false unless both username and password are set.
func (d Descriptor) Credentials() (user *url.Userinfo, ok bool) {
	if d.Username == "" || d.Password == "" {
		return nil, false
	}
	return url.UserPassword(d.Username, d.Password), true
}

// URL renders the descriptor as protocol://[user:pass@]host:port.
func (d Descriptor) URL() *url.URL {
	u := &url.URL{Scheme: string(d.Protocol), Host: d.Address()}
	if user, ok := d.Credentials(); ok {
		u.User = user
	}
	return u
}

// String renders the descriptor URL with the password redacted.
func (d Descriptor) String() string {
	return d.URL().Redacted()
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func descriptorValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the address fields only. NewAdapter reports unsupported
// protocols.
func (d Descriptor) Validate() error {
	if err := descriptorValidator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid proxy %s: field %s failed %q (value %v)", d.Address(), fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid proxy %s: %w", d.Address(), err)
	}
	return nil
}

// ParseURL builds a Descriptor from protocol://[user:pass@]host:port.
func ParseURL(raw string) (Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Host == "" {
		return Descriptor{}, fmt.Errorf("parse proxy url %q: missing host", raw)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse proxy url %q: invalid port %q", u.Redacted(), u.Port())
	}

	d := Descriptor{
		Host:     u.Hostname(),
		Port:     port,
		Protocol: ParseProtocol(u.Scheme),
	}
	if u.User != nil {
		d.Username = u.User.Username()
		d.Password, _ = u.User.Password()
	}
	return d, d.Validate()
}
