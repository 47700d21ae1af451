package httpapi

import (
	"net/http"
	"slices"
	"strings"
)

// CORSPolicy answers browser preflight requests and stamps allow-origin
// headers on cross-origin responses. Credentialed requests require the origin
// to be echoed back, so a wildcard policy still reflects the caller's origin
// instead of sending a literal asterisk.
type CORSPolicy struct {
	origins  []string
	allowAll bool
}

// NewCORSPolicy builds a policy from an origin allowlist. A "*" entry allows
// every origin.
func NewCORSPolicy(origins []string) *CORSPolicy {
	p := &CORSPolicy{}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			p.allowAll = true
			continue
		}
		p.origins = append(p.origins, origin)
	}
	return p
}

func (p *CORSPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	return slices.Contains(p.origins, origin)
}

// Wrap installs the policy around next.
func (p *CORSPolicy) Wrap(next http.Handler) http.Handler {
	if p == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Add("Vary", "Origin")
		allowed := p.allows(origin)
		if preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""; preflight {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", r.Header.Get("Access-Control-Request-Method"))
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		next.ServeHTTP(w, r)
	})
}
