package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSaferClient(t *testing.T) {
	client := NewSaferClient(30 * time.Second)

	assert.Equal(t, 30*time.Second, client.Timeout)
	assert.Equal(t, 10, client.maxRedirects)
	assert.False(t, client.allowPrivateHosts)
	assert.Equal(t, []string{"http", "https"}, client.allowedSchemes)
}

func TestValidateURL(t *testing.T) {
	client := NewSaferClient(30 * time.Second)

	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{name: "https pull endpoint", url: "https://weather.example.com/v1/forecast?region=R-12"},
		{name: "http allowed", url: "http://example.com"},
		{name: "file scheme", url: "file:///etc/passwd", errContains: "scheme"},
		{name: "gopher scheme", url: "gopher://example.com", errContains: "scheme"},
		{name: "localhost", url: "http://localhost/admin", errContains: "localhost"},
		{name: "localhost subdomain", url: "http://admin.localhost/", errContains: "localhost"},
		{name: "trailing dot localhost", url: "http://localhost./", errContains: "localhost"},
		{name: "loopback", url: "http://127.0.0.1/", errContains: "private IP"},
		{name: "rfc1918 10/8", url: "http://10.0.0.1/", errContains: "private IP"},
		{name: "rfc1918 192.168/16", url: "http://192.168.1.1/", errContains: "private IP"},
		{name: "rfc1918 172.16/12", url: "http://172.16.0.1/", errContains: "private IP"},
		{name: "cloud metadata", url: "http://169.254.169.254/metadata", errContains: "private IP"},
		{name: "ipv6 loopback", url: "http://[::1]/", errContains: "private IP"},
		{name: "ipv6 unique local", url: "http://[fd00::1]/", errContains: "private IP"},
		{name: "ipv4 mapped loopback", url: "http://[::ffff:127.0.0.1]/", errContains: "private IP"},
		{name: "userinfo confusion", url: "http://evil.com@localhost/", errContains: "userinfo"},
		{name: "missing host", url: "http:///path", errContains: "hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestAllowPrivateHosts(t *testing.T) {
	client := New(Options{Timeout: time.Second, AllowPrivateHosts: true})

	_, err := client.ValidateURL("http://127.0.0.1:11434/v1/chat/completions")
	assert.NoError(t, err)

	_, err = client.ValidateURL("ftp://127.0.0.1/")
	assert.Error(t, err, "scheme allowlist still applies")
}

func TestIsPrivateAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"8.8.8.8":              false,
		"2606:4700:4700::1111": false,
		"100.64.1.1":           true,
		"0.0.0.0":              true,
		"224.0.0.1":            true,
		"fe80::1":              true,
		"2001:db8::1":          true,
		"::":                   true,
	} {
		assert.Equal(t, want, isPrivateAddr(netip.MustParseAddr(addr)), addr)
	}
}

func TestDoBlocksBeforeDialing(t *testing.T) {
	client := NewSaferClient(time.Second)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSRF")
}

func TestRedirectToPrivateHostBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data", http.StatusFound)
	}))
	defer server.Close()

	client := NewSaferClient(2 * time.Second)
	// Dial the loopback test server directly; redirect checks stay on
	client.Transport = http.DefaultTransport

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	_, err = client.Client.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect blocked")
}

func TestTooManyRedirects(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/again", http.StatusFound)
	}))
	defer server.Close()

	client := New(Options{Timeout: 2 * time.Second, AllowPrivateHosts: true, MaxRedirects: 3})

	_, err := client.Get(server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 3 redirects")
}

func TestWrapClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := WrapClient(&http.Client{Timeout: time.Second})
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
