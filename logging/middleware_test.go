package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edupath/authsync/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
)

func TestMiddlewareLogsSummary(t *testing.T) {
	core, obs := observer.New(zap.InfoLevel)
	h := Middleware(NewZapLogger(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Track(r.Context(), "session.id", "s-1")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/state", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, 1, obs.Len())
	entry := obs.All()[0]
	assert.Equal(t, "request rejected", entry.Message)
	assert.Equal(t, "GET /auth/state", entry.LoggerName)
	assert.Equal(t, "s-1", entry.ContextMap()["session.id"])
	assert.Equal(t, int64(http.StatusTeapot), entry.ContextMap()["http.status"])
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	core, obs := observer.New(zap.InfoLevel)
	h := Middleware(NewZapLogger(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, obs.Len())
	fields := obs.All()[0].ContextMap()
	assert.Equal(t, true, fields["error.panic"])
	assert.Equal(t, "kaboom", fields["error"])
	assert.NotEmpty(t, fields["error.stack_trace"])
}

func TestTrackError(t *testing.T) {
	core, obs := observer.New(zap.InfoLevel)
	ctx := With(t.Context(), NewZapLogger(zap.New(core)))

	TrackError(ctx, errors.NewC("token is invalid", codes.Unauthenticated))
	Info(ctx, "done")

	require.Equal(t, 1, obs.Len())
	fields := obs.All()[0].ContextMap()
	assert.Equal(t, "token is invalid", fields["error"])
	assert.Equal(t, int64(http.StatusUnauthorized), fields["error.http_status"])
}
