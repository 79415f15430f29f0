package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teranos/croplink/errors"
)

// Options configures outbound request guarding.
type Options struct {
	Timeout time.Duration

	// AllowPrivateHosts disables loopback and private-range blocking.
	// Only for local agent endpoints and tests.
	AllowPrivateHosts bool

	// Default: 10
	MaxRedirects int

	// Default: http, https
	AllowedSchemes []string
}

// SaferClient is the http.Client used for scheduled pulls and agent calls.
// Source configs carry arbitrary URLs, so every request and redirect is
// checked against the scheme allowlist and, unless disabled, private ranges.
type SaferClient struct {
	*http.Client
	allowedSchemes    []string
	allowPrivateHosts bool
	maxRedirects      int
}

// NewSaferClient creates a client that blocks private addresses.
func NewSaferClient(timeout time.Duration) *SaferClient {
	return New(Options{Timeout: timeout})
}

// New creates a client from opts.
func New(opts Options) *SaferClient {
	c := &SaferClient{
		Client:            &http.Client{Timeout: opts.Timeout},
		allowedSchemes:    opts.AllowedSchemes,
		allowPrivateHosts: opts.AllowPrivateHosts,
		maxRedirects:      opts.MaxRedirects,
	}
	if len(c.allowedSchemes) == 0 {
		c.allowedSchemes = []string{"http", "https"}
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = 10
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if !c.allowPrivateHosts {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		c.Transport = &http.Transport{
			// Checked at dial time as well so DNS rebinding cannot slip through
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				if len(ips) == 0 {
					return nil, errors.Newf("no addresses for host %q", host)
				}
				for _, ip := range ips {
					if isPrivateAddr(ip) {
						return nil, errors.Newf("private IP address blocked: %s", ip)
					}
				}
				return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
			},
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return c
}

// WrapClient wraps an existing http.Client with private hosts allowed.
// Only use this in tests that talk to httptest servers on localhost.
func WrapClient(client *http.Client) *SaferClient {
	return &SaferClient{
		Client:            client,
		allowedSchemes:    []string{"http", "https"},
		allowPrivateHosts: true,
		maxRedirects:      10,
	}
}

func (c *SaferClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(c.allowedSchemes, scheme) {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// http://evil.com@localhost/
	if u.User != nil {
		return errors.New("URL contains userinfo (potential SSRF attempt)")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.allowPrivateHosts {
		return nil
	}
	if isLocalhost(hostname) {
		return errors.New("localhost access blocked")
	}
	if ip, err := netip.ParseAddr(hostname); err == nil && isPrivateAddr(ip) {
		return errors.Newf("private IP address blocked: %s", hostname)
	}
	return nil
}

// ValidateURL parses and checks a URL before a request is built.
func (c *SaferClient) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do executes req after validating its URL.
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked by SSRF protection")
	}
	return c.Client.Do(req)
}

// Get is Do for a plain GET.
func (c *SaferClient) Get(raw string) (*http.Response, error) {
	if _, err := c.ValidateURL(raw); err != nil {
		return nil, err
	}
	return c.Client.Get(raw)
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fec0::/10"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func isPrivateAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
