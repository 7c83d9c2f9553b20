package contract

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	AllowOrigins     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // seconds
}

// CORS returns middleware that handles Cross-Origin Resource Sharing for the
// operations of spec. Preflight requests are answered with the methods the
// spec declares for the requested path, and 404 when it declares none.
// If no config is provided, permissive defaults are used.
func CORS(spec *Spec, cfg ...CORSConfig) Middleware {
	c := CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}
	if len(cfg) > 0 {
		c = cfg[0]
	}

	headers := strings.Join(c.AllowHeaders, ", ")
	expose := strings.Join(c.ExposeHeaders, ", ")
	maxAge := ""
	if c.MaxAge > 0 {
		maxAge = strconv.Itoa(c.MaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if allowed := allowOrigin(c.AllowOrigins, origin); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
			}
			if expose != "" {
				w.Header().Set("Access-Control-Expose-Headers", expose)
			}
			if c.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}

			methods := spec.Methods(r.URL.EscapedPath())
			if len(methods) == 0 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if maxAge != "" {
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func allowOrigin(allowed []string, origin string) string {
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return o
		}
	}
	return ""
}
