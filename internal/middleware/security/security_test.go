package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractClientIP(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.7:5000", "", "", "203.0.113.7"},
		{"untrusted peer ignores forwarding", "203.0.113.7:5000", "198.51.100.1", "", "203.0.113.7"},
		{"trusted proxy", "10.0.0.2:80", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"real ip fallback", "127.0.0.1:80", "garbage", "198.51.100.9", "198.51.100.9"},
		{"no port", "192.168.1.4", "", "", "192.168.1.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := d.ExtractClientIP(r); got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
	if d.GetMetrics().SpoofedForwarding != 1 {
		t.Fatalf("expected one spoofed forwarding attempt, got %+v", d.GetMetrics())
	}
	if err := d.AddTrustedProxy("not-a-cidr"); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		method string
		target string
		want   bool
	}{
		{http.MethodGet, "/budgets?period=2024-03", false},
		{http.MethodGet, "/calendar?q=caff%C3%A8", false},
		{http.MethodGet, "/.git/config", true},
		{http.MethodGet, "/calendar?q=1%20UNION%20SELECT%20x", true},
		{"TRACE", "/budgets", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.target, nil)
		if got := d.DetectSuspiciousRequest(r); got != tt.want {
			t.Errorf("%s %s: suspicious = %v, want %v", tt.method, tt.target, got, tt.want)
		}
	}
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("Content-Security-Policy") == "" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing headers: %v", rr.Header())
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must only be sent over TLS")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("hsts = %q", got)
	}
}
