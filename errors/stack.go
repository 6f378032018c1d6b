package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// StackFrame contains all necessary information about a single frame.
type StackFrame struct {
	File           string
	LineNumber     int
	Name           string
	Package        string
	ProgramCounter uintptr
}

// NewStackFrame populates a stack frame object from the program counter.
func NewStackFrame(pc uintptr) StackFrame {
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return newFrame(f)
}

func newFrame(f runtime.Frame) StackFrame {
	frame := StackFrame{
		File:           f.File,
		LineNumber:     f.Line,
		ProgramCounter: f.PC,
	}
	frame.Package, frame.Name = packageAndName(f.Function)
	return frame
}

// Func returns the function that contained this frame.
func (frame *StackFrame) Func() *runtime.Func {
	if frame.ProgramCounter == 0 {
		return nil
	}
	return runtime.FuncForPC(frame.ProgramCounter)
}

// String returns the stackframe formatted in the same way as go does in
// runtime/debug.Stack().
func (frame *StackFrame) String() string {
	return fmt.Sprintf("%s:%d (0x%x)\n\t%s.%s\n", frame.File, frame.LineNumber, frame.ProgramCounter, frame.Package, frame.Name)
}

// MinimalStack returns a compact, single line representation of the stack
// suitable for structured log fields. skip frames are dropped from the top and
// at most length frames are included.
func (err *Error) MinimalStack(skip, length int) string {
	frames := err.StackFrames()
	if skip >= len(frames) {
		return ""
	}
	frames = frames[skip:]
	if length > 0 && length < len(frames) {
		frames = frames[:length]
	}
	parts := make([]string, 0, len(frames))
	for _, f := range frames {
		parts = append(parts, fmt.Sprintf("%s.%s:%d", f.Package, f.Name, f.LineNumber))
	}
	return strings.Join(parts, " < ")
}

func packageAndName(name string) (string, string) {
	pkg := ""

	// The name includes the path name to the package, which is unnecessary
	// since the file name is already included. Plus, it has center dots.
	if lastslash := strings.LastIndex(name, "/"); lastslash >= 0 {
		pkg += name[:lastslash] + "/"
		name = name[lastslash+1:]
	}
	if period := strings.Index(name, "."); period >= 0 {
		pkg += name[:period]
		name = name[period+1:]
	}

	name = strings.ReplaceAll(name, "·", ".")
	return pkg, name
}

// Is detects whether the error is equal to a given error. Errors are
// considered equal by this function if they are matched by errors.Is or if
// their contained errors are matched through errors.Is.
func Is(e error, original error) bool {
	if stderrors.Is(e, original) {
		return true
	}
	if e, ok := e.(*Error); ok {
		return Is(e.Err, original)
	}
	if original, ok := original.(*Error); ok {
		return Is(e, original.Err)
	}
	return false
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
