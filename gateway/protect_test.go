package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"teacher", "/teacher"},
		{"//teacher//grades", "/teacher/grades"},
		{"/classes/../teacher", "/teacher"},
		{"/teacher/", "/teacher"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanPath(tt.in), tt.in)
	}
}

func TestProtect(t *testing.T) {
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Guard", name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := protect([]protectedRoute{
		{prefix: "/classes", require: tag("classes")},
		{prefix: "/classes/admin", require: tag("admin")},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.EscapedPath()))
	}))

	tests := []struct {
		target string
		guard  string
		path   string
	}{
		{"/classes", "classes", "/classes"},
		{"/classes/7/", "classes", "/classes/7/"},
		{"/classes/admin/x", "admin", "/classes/admin/x"},
		{"/%63lasses/admin", "admin", "/classes/admin"},
		{"/classesroom", "", "/classesroom"},
		{"/public/../classes/7", "classes", "/classes/7"},
		{"/public", "", "/public"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.guard, rec.Header().Get("X-Guard"))
			assert.Equal(t, tt.path, rec.Body.String())
		})
	}
}
