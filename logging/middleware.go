package logging

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/edupath/authsync/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const stackSize = 5

// Middleware creates a logging scope for each request, named after the method
// and path, so that Track works as expected inside handlers. Panics are
// recovered and logged with a minimal stack, and a single summary line is
// written when the request completes.
func Middleware(logger Logger) func(http.Handler) http.Handler {
	if z, ok := logger.(*ZapLogger); ok {
		// The stacktrace of the middleware itself isn't helpful. Errors that
		// carry stacks are added as fields by TrackError.
		logger = &ZapLogger{z: z.z.Desugar().WithOptions(zap.AddStacktrace(zapcore.PanicLevel)).Sugar()}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := With(r.Context(), logger.Named(r.Method+" "+r.URL.Path))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				if p := recover(); p != nil {
					Track(ctx, "error.panic", true)
					TrackError(ctx, errors.Wrap(p, 2))
					if !rec.wroteHeader {
						http.Error(rec, "internal error", http.StatusInternalServerError)
					}
				}
				logRequest(ctx, rec.status, time.Since(start))
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

// TrackError adds error details to the request's logging scope.
func TrackError(ctx context.Context, err error) {
	Track(ctx, "error", err.Error())
	Track(ctx, "error.type", reflect.TypeOf(err).String())
	Track(ctx, "error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		Track(ctx, "error.stack_trace", e.MinimalStack(0, stackSize))
		Track(ctx, "error.original_type", e.TypeName())
	}
}

func logRequest(ctx context.Context, status int, elapsed time.Duration) {
	logger := FromContext(ctx).With("http.status", status).With("http.duration", elapsed)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed")
	case status >= http.StatusBadRequest:
		logger.Warn("request rejected")
	default:
		logger.Info("request handled")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
