package webhdfs

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodePathNotFound = "E_PATH_NOT_FOUND"
	CodeProtocol     = "E_PROTOCOL"
	CodeLocalIO      = "E_LOCAL_IO"
	CodeTransient    = "E_TRANSIENT"
	CodeRemote       = "E_REMOTE"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrPathNotFound = &Error{Code: CodePathNotFound}
	ErrProtocol     = &Error{Code: CodeProtocol}
	ErrLocalIO      = &Error{Code: CodeLocalIO}
	ErrTransient    = &Error{Code: CodeTransient}
	ErrRemote       = &Error{Code: CodeRemote}
)

// Error wraps WebHDFS failures with the operation, path and retryability.
type Error struct {
	Code       string
	Op         Op
	Path       string
	StatusCode int
	Remote     *RemoteException
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Code
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s %s", e.Code, e.Op, e.Path)
	}
	if e.Code == CodePathNotFound && e.Path != "" {
		msg += ": HDFS does not have a reference for " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

// Is matches on Code so callers can write errors.Is(err, ErrPathNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func wrapError(code string, op Op, path string, err error) *Error {
	e := &Error{Code: code, Op: op, Path: path, Err: err}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		e.StatusCode = httpErr.StatusCode
		e.Remote = httpErr.Remote
	}
	if e.Remote == nil {
		var remote *RemoteException
		if errors.As(err, &remote) {
			e.Remote = remote
		}
	}
	return e
}

// HTTPError represents an unexpected HTTP status from either hop.
type HTTPError struct {
	StatusCode int
	Body       string
	Remote     *RemoteException
}

func (e *HTTPError) Error() string {
	if e.Remote != nil {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Remote.Error())
	}
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *HTTPError) Unwrap() error {
	if e.Remote == nil {
		return nil
	}
	return e.Remote
}

// IsRateLimited returns true if this is a rate limit error.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError returns true if this is a server error.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

// RetryableStatus reports whether the status signals a server or
// connectivity problem rather than an application error.
func (e *HTTPError) RetryableStatus() bool {
	return e.IsRateLimited() || e.IsServerError()
}
