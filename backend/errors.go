package backend

import (
	"encoding/json"
	"net/http"

	"github.com/edupath/authsync/errors"
	"google.golang.org/grpc/codes"
)

// Error codes returned by the backend.
const (
	CodeInvalidToken = "INVALID_TOKEN"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeUserNotFound = "USER_NOT_FOUND"
	CodeEmailExists  = "EMAIL_EXISTS"
	CodeEmailMissing = "EMAIL_MISSING"
	CodeDBError      = "DB_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

var (
	// ErrProfileNotFound means the token is valid but no profile exists.
	ErrProfileNotFound = errors.NewC("profile not found", codes.NotFound).
				WithPublicMessage("Your account has not been set up yet")

	// ErrUnavailable means the backend could not be reached.
	ErrUnavailable = errors.NewC("backend unavailable", codes.Unavailable).
			WithPublicMessage("Failed to fetch user data")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Detail  string
	Message string // Public message.
}

func (e *APIError) Error() string {
	msg := "backend: " + http.StatusText(e.Status)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// errorBody matches both `{"detail": "...", "code": "..."}` and the nested
// `{"detail": {"detail": "...", "code": "..."}}` form.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Code   string          `json:"code"`
}

func parseError(status int, body []byte) error {
	apiErr := &APIError{Status: status}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		apiErr.Code = eb.Code
		var nested errorBody
		var s string
		switch {
		case json.Unmarshal(eb.Detail, &s) == nil:
			apiErr.Detail = s
		case json.Unmarshal(eb.Detail, &nested) == nil:
			if apiErr.Code == "" {
				apiErr.Code = nested.Code
			}
			_ = json.Unmarshal(nested.Detail, &apiErr.Detail)
		}
	}

	code, public := classify(status, apiErr.Code)
	apiErr.Message = public
	err := errors.NewC(apiErr, code).WithPublicMessage(public)
	if code == codes.NotFound && apiErr.Code == CodeUserNotFound {
		return errors.Mark(ErrProfileNotFound, 0).Append(apiErr.Error())
	}
	return err
}

func classify(status int, code string) (codes.Code, string) {
	switch code {
	case CodeInvalidToken:
		return codes.Unauthenticated, "Invalid token"
	case CodeTokenExpired:
		return codes.Unauthenticated, "Token expired"
	case CodeUserNotFound:
		return codes.NotFound, "User not found"
	case CodeEmailExists:
		return codes.AlreadyExists, "Email already registered"
	case CodeEmailMissing:
		return codes.InvalidArgument, "Email not found in token"
	case CodeDBError, CodeInternal:
		return codes.Internal, "Internal server error"
	}
	switch {
	case status == http.StatusTooManyRequests:
		return codes.ResourceExhausted, "Too many requests, try again later"
	case status == http.StatusUnauthorized:
		return codes.Unauthenticated, "Authentication failed"
	case status == http.StatusForbidden:
		return codes.PermissionDenied, "Access denied"
	case status == http.StatusNotFound:
		return codes.NotFound, "Not found"
	case status >= 500:
		return codes.Unavailable, "Failed to fetch user data"
	}
	return codes.InvalidArgument, "Request rejected"
}
