// Package httpsec provides HTTP-boundary helpers for the defense layer:
// client IP extraction, security response headers, and request IDs.
package httpsec

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the real client IP address from the request.
// X-Forwarded-For and X-Real-IP are honored only when trustProxy is set;
// spoofable headers from untrusted clients would otherwise let an attacker
// rotate identities under the rate limiter.
//
// X-Forwarded-For format is "client, proxy1, proxy2, ...". The rightmost
// entries belong to proxies we control; trustedProxyCount says how many.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := fromRealIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return fromRemoteAddr(r.RemoteAddr)
}

func fromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	idx := clientIPIndex(len(ips), trustedProxyCount)
	candidate := strings.TrimSpace(ips[idx])

	if net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}

// clientIPIndex locates the client entry in the X-Forwarded-For list:
// len(ips) - trustedProxyCount - 1, clamped to the leftmost entry.
// A zero proxy count assumes one trusted proxy.
func clientIPIndex(count, trustedProxyCount int) int {
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}
	idx := count - trustedProxyCount - 1
	if idx < 0 {
		return 0
	}
	return idx
}

func fromRealIP(header string) string {
	candidate := strings.TrimSpace(header)
	if candidate != "" && net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}

func fromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		// RemoteAddr may already be a bare IP (e.g. in tests)
		if net.ParseIP(remoteAddr) != nil {
			return remoteAddr
		}
		return ""
	}
	return host
}
