// Package errors provides an error type that carries a stack trace, a gRPC
// status code, an optional HTTP status, and a message that is safe to show to
// end users.
//
// The gRPC codes are used as a transport neutral classification. The gateway
// maps them onto HTTP statuses, and the session store uses them to decide
// what the user sees when a sync with the identity provider or the backend
// fails.
//
//	var ErrProfileMissing = errors.NewC("profile not found", codes.NotFound).
//	    WithPublicMessage("Your account has not been set up yet")
//
//	func fetch() error {
//	    return errors.Mark(ErrProfileMissing, 0)
//	}
//
// Errors created by this package work with the standard library's Is and As.
package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"reflect"
	"runtime"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The maximum number of stackframes on any error.
var MaxStackDepth = 50

// Error is an error with an attached stacktrace.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string

	code           codes.Code
	httpStatusCode int
	publicMessage  string
}

// New makes an Error from the given value. Non-error values are formatted with
// %v. The stacktrace will point to the line of code that called New.
func New(e any) *Error {
	return newError(e, codes.Unknown, 4)
}

// NewC makes an Error with a status code defined.
func NewC(e any, code codes.Code) *Error {
	return newError(e, code, 4)
}

// Codef formats an error message and attaches the given code.
func Codef(code codes.Code, format string, a ...any) *Error {
	return newError(fmt.Errorf(format, a...), code, 4)
}

// Errorf creates a new error with the given message, a drop-in replacement for
// fmt.Errorf.
func Errorf(format string, a ...any) *Error {
	return newError(fmt.Errorf(format, a...), codes.Unknown, 4)
}

func newError(e any, code codes.Code, skip int) *Error {
	var err error
	switch e := e.(type) {
	case error:
		err = e
	default:
		err = fmt.Errorf("%v", e)
	}
	return &Error{
		Err:   err,
		stack: callers(skip),
		code:  code,
	}
}

// Wrap makes an Error from the given value. If the value is already an *Error
// it is returned as is. The skip parameter indicates how far up the stack to
// start the stacktrace, 0 is from the current call.
func Wrap(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return err
	}
	err := newError(e, codes.Unknown, 4+skip)
	if c, ok := e.(codedError); ok {
		err.code = c.Code()
	}
	return err
}

// WrapPrefix wraps the error and prefixes its message.
func WrapPrefix(e any, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}
	err := Wrap(e, 1+skip)
	if err.prefix != "" {
		prefix = fmt.Sprintf("%s: %s", prefix, err.prefix)
	}
	c := err.clone()
	c.prefix = prefix
	return c
}

// Mark takes an error and sets the stack trace from the point it was called,
// overriding any previous stack. Use it when returning sentinel errors so the
// trace points at the caller rather than the package initializer.
func Mark(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		c := err.clone()
		c.stack = callers(3 + skip)
		c.frames = nil
		return c
	}
	return Wrap(e, 1+skip)
}

// WithPublicMessage wraps err and attaches a message for end users.
func WithPublicMessage(err error, publicMessage string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).clone().WithPublicMessage(publicMessage)
}

// WithCode wraps err and sets its gRPC code.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).clone().WithCode(code)
}

// WithHTTPStatusCode wraps err and sets an explicit HTTP status, overriding
// the status mapped from the gRPC code.
func WithHTTPStatusCode(err error, code int) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).clone().WithHTTPStatusCode(code)
}

// Append adds detail to the end of the error message.
func (err *Error) Append(detail string) *Error {
	c := err.clone()
	c.Err = fmt.Errorf("%w: %s", err.Err, detail)
	return c
}

func (err *Error) clone() *Error {
	c := *err
	return &c
}

// Error returns the underlying error's message.
func (err *Error) Error() string {
	msg := err.Err.Error()
	if err.prefix != "" {
		msg = fmt.Sprintf("%s: %s", err.prefix, msg)
	}
	return msg
}

// Unwrap the error (implements api for As function).
func (err *Error) Unwrap() error {
	return err.Err
}

// Is matches errors that were derived from the same sentinel via Mark or
// WithX, since those produce copies of the original *Error.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return err == t || stderrors.Is(err.Err, t.Err)
}

// Stack returns the callstack formatted the same way that go does in
// runtime/debug.Stack().
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// ErrorStack returns a string that contains both the error message and the
// callstack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// StackFrames returns an array of frames containing information about the
// stack.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, 0, len(err.stack))
		frames := runtime.CallersFrames(err.stack)
		for {
			f, more := frames.Next()
			if f.Function == "" && !more {
				break
			}
			err.frames = append(err.frames, newFrame(f))
			if !more {
				break
			}
		}
	}
	return err.frames
}

// TypeName returns the type this error. e.g. *errors.errorString.
func (err *Error) TypeName() string {
	return reflect.TypeOf(err.Err).String()
}

// Code returns the gRPC status code associated with the error.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the gRPC status code associated with the error.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// HTTPStatusCode returns the HTTP status code that should be returned to the
// client. An explicit status wins, otherwise it is derived from the code.
func (err *Error) HTTPStatusCode() int {
	if err.httpStatusCode != 0 {
		return err.httpStatusCode
	}
	return httpStatusFromCode(err.code)
}

// WithHTTPStatusCode sets the HTTP status code that should be returned to the
// client.
func (err *Error) WithHTTPStatusCode(code int) *Error {
	err.httpStatusCode = code
	return err
}

// PublicMessage returns the error string that should be shown to the user.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the error string that should be shown to the user.
func (err *Error) WithPublicMessage(publicMessage string) *Error {
	err.publicMessage = publicMessage
	return err
}

// GRPCStatus returns a gRPC status object for the error.
func (err *Error) GRPCStatus() *status.Status {
	return status.New(err.Code(), err.PublicMessage())
}

// Code returns a gRPC status code for an error. If the error is nil, it returns
// codes.OK. Errors that don't expose a code are codes.Unknown.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var c codedError
	if As(err, &c) {
		return c.Code()
	}
	return codes.Unknown
}

// HTTPStatusCode returns an HTTP status code for an error. If the error is nil,
// it returns http.StatusOK. Errors without a status are
// http.StatusInternalServerError.
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var h httpError
	if As(err, &h) {
		return h.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message that may be shown to end users. Errors
// from outside this package are not trusted and yield the fallback.
func PublicMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var p publicError
	if As(err, &p) {
		return p.PublicMessage()
	}
	return fallback
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	length := runtime.Callers(skip, stack[:])
	return stack[:length]
}

type codedError interface {
	Code() codes.Code
}

type httpError interface {
	HTTPStatusCode() int
}

type publicError interface {
	PublicMessage() string
}
