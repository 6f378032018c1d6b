package errors

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

var errSentinel = NewC("profile not found", codes.NotFound).WithPublicMessage("Your account is not set up")

func TestGrpcCode(t *testing.T) {
	assert.Equal(t, codes.OK, Code(nil), "code should be OK")

	err := fmt.Errorf("test error")
	assert.Equal(t, codes.Unknown, Code(err), "code should be unknown")

	err = WithCode(err, codes.InvalidArgument)
	assert.Equal(t, codes.InvalidArgument, Code(err), "code should be InvalidArgument")

	err = WithCode(err, codes.AlreadyExists)
	assert.Equal(t, codes.AlreadyExists, Code(err), "code should be AlreadyExists")

	err = WrapPrefix(err, "wrapped", 0)
	assert.Equal(t, codes.AlreadyExists, Code(err), "code should still be AlreadyExists")

	err = fmt.Errorf("outer: %w", err)
	assert.Equal(t, codes.AlreadyExists, Code(err), "code should be found through fmt wrapping")
}

func TestHttpStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatusCode(nil), "non errors should 200")

	err := fmt.Errorf("test error")
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(err), "should default to 500")

	err = WithCode(err, codes.FailedPrecondition)
	assert.Equal(t, http.StatusPreconditionFailed, HTTPStatusCode(err))

	err = WithHTTPStatusCode(err, http.StatusConflict)
	assert.Equal(t, http.StatusConflict, HTTPStatusCode(err), "http status code should override grpc code")

	err = WrapPrefix(err, "wrapped", 0)
	assert.Equal(t, http.StatusConflict, HTTPStatusCode(err), "http status code should still be 409")

	assert.Equal(t, http.StatusUnauthorized, HTTPStatusCode(NewC("x", codes.Unauthenticated)))
	assert.Equal(t, http.StatusForbidden, HTTPStatusCode(NewC("x", codes.PermissionDenied)))
}

func TestPrefix(t *testing.T) {
	err := WrapPrefix(fmt.Errorf("test error"), "wrapped", 0)
	assert.Equal(t, "wrapped: test error", err.Error(), "error should have prefix")

	err = WrapPrefix(err, "again", 0)
	assert.Equal(t, "again: wrapped: test error", err.Error())
}

func TestMarkPreservesIdentity(t *testing.T) {
	err := Mark(errSentinel, 0)
	assert.NotSame(t, errSentinel, err)
	assert.ErrorIs(t, err, errSentinel)
	assert.True(t, Is(err, errSentinel))
	assert.Equal(t, codes.NotFound, Code(err))

	appended := Mark(errSentinel, 0).Append("uid 123")
	assert.ErrorIs(t, appended, errSentinel)
	assert.Equal(t, "profile not found: uid 123", appended.Error())

	// Derived errors must not mutate the sentinel.
	_ = WithCode(errSentinel, codes.Internal)
	assert.Equal(t, codes.NotFound, errSentinel.Code())
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "", PublicMessage(nil, "fallback"))
	assert.Equal(t, "fallback", PublicMessage(fmt.Errorf("secret detail"), "fallback"))
	assert.Equal(t, "Your account is not set up", PublicMessage(Mark(errSentinel, 0), "fallback"))
	assert.Equal(t, "plain", PublicMessage(New("plain"), "fallback"))
}

func TestStack(t *testing.T) {
	err := New("boom")
	frames := err.StackFrames()
	if assert.NotEmpty(t, frames) {
		assert.Equal(t, "TestStack", frames[0].Name)
	}
	assert.True(t, strings.HasPrefix(err.ErrorStack(), "*errors.errorString boom"))
	assert.Contains(t, err.MinimalStack(0, 1), "TestStack")
	assert.Equal(t, "", err.MinimalStack(1000, 1))
}

func TestGRPCStatus(t *testing.T) {
	st := Mark(errSentinel, 0).GRPCStatus()
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Equal(t, "Your account is not set up", st.Message())
}
