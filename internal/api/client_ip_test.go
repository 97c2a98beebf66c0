package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storefront/internal/config"
)

// resolverFromConfig builds the resolver the way NewServer does, from the
// server.trusted_proxies list of a YAML config.
func resolverFromConfig(t *testing.T, proxies string) *ClientIPResolver {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  base_url: "http://api.test"
  trusted_proxies: ` + proxies + `
auth:
  access_token_secret: "access-secret-access-secret-access-secret"
  refresh_token_secret: "refresh-secret-refresh-secret-refresh-secret"
email:
  smtp:
    host: "localhost"
    port: 1025
    from: "no-reply@example.com"
`))
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	resolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		t.Fatalf("NewClientIPResolver() error = %v", err)
	}
	return resolver
}

func TestClientIPResolverTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		proxies string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "no_proxies_ignores_headers",
			proxies: "[]",
			remote:  "203.0.113.7:43210",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.5", "X-Real-IP": "198.51.100.6"},
			want:    "203.0.113.7",
		},
		{
			name:    "cidr_trusts_forwarded_for",
			proxies: `["10.0.0.0/8"]`,
			remote:  "10.20.30.40:5000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.8, 10.20.30.40"},
			want:    "198.51.100.8",
		},
		{
			name:    "peer_outside_cidr_is_not_believed",
			proxies: `["10.0.0.0/8"]`,
			remote:  "11.0.0.1:5000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.8"},
			want:    "11.0.0.1",
		},
		{
			name:    "second_entry_in_list_is_trusted",
			proxies: `["10.0.0.0/8", "172.30.0.10"]`,
			remote:  "172.30.0.10:12345",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.9"},
			want:    "198.51.100.9",
		},
		{
			name:    "single_host_entry_excludes_neighbour",
			proxies: `["172.30.0.10"]`,
			remote:  "172.30.0.11:12345",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.9"},
			want:    "172.30.0.11",
		},
		{
			name:    "garbage_forwarded_for_falls_back_to_real_ip",
			proxies: `["172.30.0.0/24"]`,
			remote:  "172.30.0.10:12345",
			headers: map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "198.51.100.10"},
			want:    "198.51.100.10",
		},
		{
			name:    "trusted_proxy_without_headers_is_the_client",
			proxies: `["172.30.0.0/24"]`,
			remote:  "172.30.0.10:12345",
			want:    "172.30.0.10",
		},
		{
			name:    "ipv6_proxy_range",
			proxies: `["fd00::/8"]`,
			remote:  "[fd12::1]:443",
			headers: map[string]string{"X-Forwarded-For": "[2001:db8::7]:5000"},
			want:    "2001:db8::7",
		},
		{
			name:    "ipv4_mapped_peer_matches_ipv4_range",
			proxies: `["10.0.0.0/8"]`,
			remote:  "[::ffff:10.1.2.3]:8080",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.11"},
			want:    "198.51.100.11",
		},
		{
			name:    "blank_entries_are_skipped",
			proxies: `["", " "]`,
			remote:  "203.0.113.7:43210",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.5"},
			want:    "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := resolverFromConfig(t, tt.proxies)

			req := httptest.NewRequest(http.MethodGet, "http://api.test/api/v1/categories", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := resolver.Resolve(req); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewServerRejectsInvalidTrustedProxy(t *testing.T) {
	_, err := buildTestServer(t, withTrustedProxies("10.0.0.0/99"))
	if err == nil {
		t.Fatal("NewServer() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "10.0.0.0/99") {
		t.Fatalf("error = %v, want it to name the bad entry", err)
	}
}

func TestLoginRateLimitFollowsForwardedClient(t *testing.T) {
	s := newTestServer(t, withTrustedProxies("10.0.0.0/8"))

	login := func(remote, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login/credential",
			strings.NewReader(`{"email":"nobody@example.com","password":"wrong-password"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwardedFor)
		return s.do(t, req).Code
	}

	for i := range 10 {
		if code := login("10.0.0.2:5000", "198.51.100.1"); code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited early", i)
		}
	}
	if code := login("10.0.0.3:5000", "198.51.100.1"); code != http.StatusTooManyRequests {
		t.Fatalf("same client through another proxy status = %d, want 429", code)
	}
	if code := login("10.0.0.2:5000", "198.51.100.2"); code == http.StatusTooManyRequests {
		t.Fatal("other client behind the proxy was limited")
	}

	// An untrusted peer cannot spread its budget by rotating the header.
	for i := range 10 {
		if code := login("203.0.113.9:5000", fmt.Sprintf("198.51.100.%d", 20+i)); code == http.StatusTooManyRequests {
			t.Fatalf("untrusted request %d limited early", i)
		}
	}
	if code := login("203.0.113.9:5000", "198.51.100.3"); code != http.StatusTooManyRequests {
		t.Fatalf("untrusted peer status = %d, want 429", code)
	}
}
