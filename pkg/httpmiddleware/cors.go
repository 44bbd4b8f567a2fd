package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// CORSConfig describes which browser origins may call the storefront API.
type CORSConfig struct {
	// AllowOrigins is matched case-insensitively. Empty or "*" admits any origin.
	AllowOrigins []string
	// AllowMethods defaults to defaultCORSMethods.
	AllowMethods []string
	// AllowHeaders, when empty, mirrors Access-Control-Request-Headers.
	AllowHeaders  []string
	ExposeHeaders []string
	// AllowCredentials forces the concrete origin to be echoed instead of "*".
	AllowCredentials bool
	// MaxAge is in seconds. Zero omits the header, negative sends "0".
	MaxAge int
}

// corsPolicy is CORSConfig with header values precomputed.
type corsPolicy struct {
	any         bool
	mirror      bool
	origins     map[string]string
	methods     string
	headers     string
	expose      string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	p := corsPolicy{
		any:         len(cfg.AllowOrigins) == 0,
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.any = true
			break
		}
		p.origins[strings.ToLower(o)] = o
	}
	if p.any && p.credentials {
		p.any, p.mirror = false, true
	}
	if p.methods == "" {
		p.methods = defaultCORSMethods
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// origin resolves the Access-Control-Allow-Origin value, "" when refused.
func (p corsPolicy) origin(requested string) string {
	switch {
	case p.mirror:
		return requested
	case p.any:
		return "*"
	}
	return p.origins[strings.ToLower(requested)]
}

func (p corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allow string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	if allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", p.methods)
		if headers := p.headers; headers != "" {
			h.Set("Access-Control-Allow-Headers", headers)
		} else if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
			h.Set("Access-Control-Allow-Headers", requested)
		}
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p corsPolicy) actual(w http.ResponseWriter, allow string) {
	h := w.Header()
	if !p.any {
		h.Add("Vary", "Origin")
	}
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.expose != "" {
		h.Set("Access-Control-Expose-Headers", p.expose)
	}
}

// CORS answers preflights itself and decorates other cross-origin responses.
// Refused origins get no CORS headers and are otherwise served normally.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := r.Header.Get("Origin")
			if requested == "" {
				if !p.any {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allow := p.origin(requested)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allow)
				return
			}
			p.actual(w, allow)
			next.ServeHTTP(w, r)
		})
	}
}
