package gpu

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoSuitableDevice means no physical device satisfied the required
	// version, features, extensions and surface compatibility.
	ErrNoSuitableDevice = errors.New("no suitable GPU")
	// ErrTimeout means a fence wait or image acquire did not complete within
	// its timeout. A hung device is not recoverable.
	ErrTimeout = errors.New("timed out waiting for the GPU")
	// ErrOutOfDate means the swapchain no longer matches the surface and has
	// to be recreated.
	ErrOutOfDate = errors.New("swapchain out of date")
)

// BackendError is a non-success status returned by a graphics backend call.
type BackendError struct {
	Op     string
	Result string
	File   string
	Line   int
	cause  error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s failed: %s (%s:%d)", e.Op, e.Result, e.File, e.Line)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.cause
}

// Check converts the result of a backend call into an error that carries the
// operation name, the status code and the caller's location. It returns nil
// when err is nil.
func Check(op string, result any, err error) error {
	if err == nil {
		return nil
	}

	backendErr := &BackendError{
		Op:     op,
		Result: fmt.Sprint(result),
		File:   "unknown",
		cause:  err,
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		backendErr.File = filepath.Base(file)
		backendErr.Line = line
	}

	return errors.WithStackDepth(backendErr, 1)
}
