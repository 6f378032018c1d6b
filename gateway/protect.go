package gateway

import (
	"net/http"
	"path"
	"sort"
	"strings"
)

type protectedRoute struct {
	prefix  string
	require func(http.Handler) http.Handler
}

// protect runs the guard of the longest protected prefix covering the
// request's decoded and cleaned path. Matching ignores how the path was
// escaped, and guarded requests are forwarded with the path that was checked.
func protect(routes []protectedRoute) func(http.Handler) http.Handler {
	routes = append([]protectedRoute(nil), routes...)
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})

	return func(next http.Handler) http.Handler {
		guarded := make([]http.Handler, len(routes))
		for i, rt := range routes {
			guarded[i] = rt.require(next)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := cleanPath(r.URL.Path)
			for i, rt := range routes {
				if p != rt.prefix && !strings.HasPrefix(p, rt.prefix+"/") {
					continue
				}
				if strings.HasSuffix(r.URL.Path, "/") && p != "/" {
					p += "/"
				}
				if p != r.URL.Path || r.URL.RawPath != "" {
					r2 := r.Clone(r.Context())
					r2.URL.Path = p
					r2.URL.RawPath = ""
					r = r2
				}
				guarded[i].ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
