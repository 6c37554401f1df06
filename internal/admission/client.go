package admission

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP is a best-effort caller address: the first X-Forwarded-For entry,
// else the host part of RemoteAddr. It is spoofable when the service is not
// behind a proxy that overwrites the header.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}

// OriginPolicy decides whether a declared Origin may call the service.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy builds a policy from a configured list. A "*" entry
// switches to allow-all mode; other entries are matched exactly, ignoring a
// trailing slash and case.
func NewOriginPolicy(origins []string) OriginPolicy {
	p := OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		if o == "*" {
			p.allowAll = true
			continue
		}
		p.allowed[o] = struct{}{}
	}
	return p
}

// AllowAll reports whether the policy is in allow-all mode.
func (p OriginPolicy) AllowAll() bool { return p.allowAll }

// Allowed reports whether origin may call. An empty origin is only allowed
// in allow-all mode.
func (p OriginPolicy) Allowed(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.allowed[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}
