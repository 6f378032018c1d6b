package gateway

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/edupath/authsync"
	"github.com/edupath/authsync/errors"
	"google.golang.org/grpc/codes"
)

func init() {
	authsync.RegisterConfigKeys(
		authsync.ConfigKeyInfo{
			Key:         "gateway.security.xFrameOptions",
			Description: "X-Frame-Options header: DENY, SAMEORIGIN or empty to omit",
			Type:        "string",
			Default:     string(XFrameOptionsDeny),
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.security.hstsExpiration",
			Description: "max-age of the Strict-Transport-Security header, 0 to omit",
			Type:        "duration",
			Default:     "0s",
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.security.hstsIncludeSubdomains",
			Description: "Add includeSubDomains to the HSTS header",
			Type:        "bool",
			Default:     false,
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.security.corsOrigins",
			Description: "Origins allowed to call the gateway from a browser",
			Type:        "[]string",
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.security.corsMaxAge",
			Description: "How long browsers may cache a CORS preflight",
			Type:        "duration",
			Default:     "1h",
		},
	)
}

type XFrameOptions string

const (
	XFrameOptionsNone       XFrameOptions = ""
	XFrameOptionsDeny       XFrameOptions = "DENY"
	XFrameOptionsSameOrigin XFrameOptions = "SAMEORIGIN"
)

// ErrBadHSTSExpiration is returned when preload is requested with an
// expiration shorter than the one year preload lists require.
var ErrBadHSTSExpiration = errors.NewC("gateway: HSTS preload requires expiration of at least 1 year", codes.FailedPrecondition)

// SecurityHeaders are set on every gateway response.
type SecurityHeaders struct {
	XFrameOptions XFrameOptions

	HSTSExpiration        time.Duration
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	// CORS is always sent with credentials allowed, the session rides on a
	// cookie.
	CORSOrigins       []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	CORSExposeHeaders []string
	CORSMaxAge        time.Duration

	// Precomputed fields.
	once             sync.Once
	err              error
	staticHeaders    map[string]string
	preflightHeaders map[string]string
	allowedOrigins   map[string]bool
}

func securityFromConfig() *SecurityHeaders {
	return &SecurityHeaders{
		XFrameOptions:         XFrameOptions(strings.ToUpper(authsync.ConfigString("gateway.security.xFrameOptions"))),
		HSTSExpiration:        authsync.ConfigDuration("gateway.security.hstsExpiration"),
		HSTSIncludeSubdomains: authsync.ConfigBool("gateway.security.hstsIncludeSubdomains"),
		CORSOrigins:           authsync.ConfigStrings("gateway.security.corsOrigins"),
		CORSAllowHeaders:      []string{"content-type", csrfHeader},
		CORSMaxAge:            authsync.ConfigDuration("gateway.security.corsMaxAge"),
	}
}

// Apply sets the headers for r on w. It reports whether r was a CORS
// preflight that has been fully answered.
func (s *SecurityHeaders) Apply(w http.ResponseWriter, r *http.Request) (bool, error) {
	if err := s.compute(); err != nil {
		return false, err
	}
	for k, v := range s.staticHeaders {
		w.Header().Set(k, v)
	}

	origin := r.Header.Get("Origin")
	if origin == "" || !s.allowedOrigins[origin] {
		return false, nil
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		for k, v := range s.preflightHeaders {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusNoContent)
		return true, nil
	}
	if len(s.CORSExposeHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(s.CORSExposeHeaders, ", "))
	}
	return false, nil
}

// Middleware applies the headers and answers CORS preflights.
func (s *SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done, err := s.Apply(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if done {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *SecurityHeaders) compute() error {
	s.once.Do(func() {
		s.normalizeHeaders(s.CORSAllowHeaders)
		s.normalizeHeaders(s.CORSExposeHeaders)

		s.staticHeaders = map[string]string{
			"X-Content-Type-Options": "nosniff",
			"Referrer-Policy":        "strict-origin-when-cross-origin",
		}
		if s.XFrameOptions != XFrameOptionsNone {
			s.staticHeaders["X-Frame-Options"] = string(s.XFrameOptions)
		}

		if s.HSTSExpiration > 0 {
			h := fmt.Sprintf("max-age=%.0f", s.HSTSExpiration.Seconds())
			if s.HSTSIncludeSubdomains {
				h += "; includeSubDomains"
			}
			if s.HSTSPreload {
				if s.HSTSExpiration < time.Hour*24*365 {
					s.err = errors.Mark(ErrBadHSTSExpiration, 0)
					return
				}
				h += "; preload"
			}
			s.staticHeaders["Strict-Transport-Security"] = h
		}

		if len(s.CORSOrigins) > 0 {
			s.staticHeaders["Vary"] = "Origin"

			s.preflightHeaders = map[string]string{}
			if len(s.CORSAllowMethods) > 0 {
				s.preflightHeaders["Access-Control-Allow-Methods"] = strings.Join(s.CORSAllowMethods, ", ")
			} else {
				s.preflightHeaders["Access-Control-Allow-Methods"] = "GET, POST"
			}
			if len(s.CORSAllowHeaders) > 0 {
				s.preflightHeaders["Access-Control-Allow-Headers"] = strings.Join(s.CORSAllowHeaders, ", ")
			}
			if s.CORSMaxAge > 0 {
				s.preflightHeaders["Access-Control-Max-Age"] = fmt.Sprintf("%.0f", s.CORSMaxAge.Seconds())
			}

			s.allowedOrigins = map[string]bool{}
			for _, origin := range s.CORSOrigins {
				s.allowedOrigins[strings.TrimRight(origin, "/")] = true
			}
		}
	})
	return s.err
}

func (s *SecurityHeaders) normalizeHeaders(h []string) {
	for i, v := range h {
		h[i] = textproto.CanonicalMIMEHeaderKey(v)
	}
}
