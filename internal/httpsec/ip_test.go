package httpsec

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		forwardedFor      string
		realIP            string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.10:54321",
			want:       "203.0.113.10",
		},
		{
			name:       "bare remote addr",
			remoteAddr: "203.0.113.10",
			want:       "203.0.113.10",
		},
		{
			name:         "forwarded-for ignored without trust",
			remoteAddr:   "10.0.0.1:443",
			forwardedFor: "203.0.113.10",
			want:         "10.0.0.1",
		},
		{
			name:         "forwarded-for honored with trust",
			remoteAddr:   "10.0.0.1:443",
			forwardedFor: "203.0.113.10",
			trustProxy:   true,
			want:         "203.0.113.10",
		},
		{
			name:         "forwarded-for chain one proxy",
			remoteAddr:   "10.0.0.1:443",
			forwardedFor: "203.0.113.10, 10.0.0.1",
			trustProxy:   true,
			want:         "203.0.113.10",
		},
		{
			name:              "forwarded-for chain two proxies",
			remoteAddr:        "10.0.0.1:443",
			forwardedFor:      "203.0.113.10, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.10",
		},
		{
			name:              "proxy count exceeds chain",
			remoteAddr:        "10.0.0.1:443",
			forwardedFor:      "203.0.113.10",
			trustProxy:        true,
			trustedProxyCount: 5,
			want:              "203.0.113.10",
		},
		{
			name:         "spoofed client entry beyond trusted chain",
			remoteAddr:   "10.0.0.1:443",
			forwardedFor: "6.6.6.6, 203.0.113.10, 10.0.0.1",
			trustProxy:   true,
			want:         "203.0.113.10",
		},
		{
			name:         "garbage forwarded-for falls back",
			remoteAddr:   "10.0.0.1:443",
			forwardedFor: "not-an-ip",
			trustProxy:   true,
			want:         "10.0.0.1",
		},
		{
			name:       "real-ip honored with trust",
			remoteAddr: "10.0.0.1:443",
			realIP:     "203.0.113.10",
			trustProxy: true,
			want:       "203.0.113.10",
		},
		{
			name:         "forwarded-for beats real-ip",
			remoteAddr:   "10.0.0.1:443",
			forwardedFor: "203.0.113.10",
			realIP:       "192.0.2.5",
			trustProxy:   true,
			want:         "203.0.113.10",
		},
		{
			name:         "ipv6 client",
			remoteAddr:   "[2001:db8::1]:443",
			forwardedFor: "2001:db8::2",
			trustProxy:   true,
			want:         "2001:db8::2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/login", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := ClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w)

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if got := w.Header().Get("Cache-Control"); got == "" {
		t.Error("Cache-Control not set")
	}
}
