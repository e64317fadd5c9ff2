package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"ballotbox/pkg/requestcontext"
)

// DefaultTrustedProxies covers a reverse proxy on the same host.
var DefaultTrustedProxies = []string{"127.0.0.1/32", "::1/128"}

var defaultResolver = mustResolver(DefaultTrustedProxies)

// Resolver picks the client address for a request. Forwarding headers are
// read only when the direct peer is a trusted proxy. X-Forwarded-For is then
// walked right to left and the first untrusted hop is the client; entries to
// its left were written by the client and are ignored.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver accepts CIDRs or bare addresses. An empty list trusts nobody,
// so only the socket peer is ever used.
func NewResolver(trustedProxies []string) (*Resolver, error) {
	res := &Resolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			addr, addrErr := netip.ParseAddr(raw)
			if addrErr != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			addr = addr.Unmap()
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		res.trusted = append(res.trusted, prefix.Masked())
	}
	return res, nil
}

func mustResolver(trustedProxies []string) *Resolver {
	res, err := NewResolver(trustedProxies)
	if err != nil {
		panic(err)
	}
	return res
}

// Middleware extracts client IP address and User-Agent from the request
// and adds them to the context for use by handlers and services.
// This middleware should be applied early in the chain.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), res.ClientIP(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the address of the client that opened the request.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := peerAddr(r.RemoteAddr)
	if !res.isTrusted(peer) {
		if peer == "" {
			return "unknown"
		}
		return peer
	}

	if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			if !res.isTrusted(hops[i]) {
				return hops[i]
			}
		}
		// Every hop is one of ours: the request started inside.
		return hops[0]
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (res *Resolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range res.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// forwardedHops flattens repeated X-Forwarded-For headers in order.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

// ClientMetadata is Resolver.Middleware trusting only DefaultTrustedProxies.
func ClientMetadata(next http.Handler) http.Handler {
	return defaultResolver.Middleware(next)
}

// ClientIPFromRequest is Resolver.ClientIP trusting only DefaultTrustedProxies.
func ClientIPFromRequest(r *http.Request) string {
	return defaultResolver.ClientIP(r)
}
