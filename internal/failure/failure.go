// Package failure classifies analysis errors into the codes persisted on
// failed analyses as a bracketed message prefix, e.g. "[RATE_LIMIT] slow down".
package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net"
	"strings"
)

type Code string

const (
	CodeTimeout    Code = "TIMEOUT"
	CodeRateLimit  Code = "RATE_LIMIT"
	CodeAPIError   Code = "API_ERROR"
	CodeImageError Code = "IMAGE_ERROR"
	CodeParseError Code = "PARSE_ERROR"
)

// Retryable reports whether a failure with this code may be reset to PENDING
// by a retryFailed run.
func (c Code) Retryable() bool {
	switch c {
	case CodeTimeout, CodeRateLimit, CodeAPIError:
		return true
	}
	return false
}

// Prefix is the bracketed form stored at the start of an error message.
func (c Code) Prefix() string {
	return "[" + string(c) + "]"
}

// RetryablePrefixes lists the message prefixes eligible for retry.
func RetryablePrefixes() []string {
	return []string{CodeTimeout.Prefix(), CodeRateLimit.Prefix(), CodeAPIError.Prefix()}
}

// Error attaches a code to an underlying error.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Classify maps an error to its code. Explicitly coded errors win; deadline
// and network timeouts are TIMEOUT; anything unrecognized is API_ERROR.
func Classify(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	if errors.Is(err, image.ErrFormat) {
		return CodeImageError
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CodeParseError
	}
	return CodeAPIError
}

// Message renders the persisted error message for err.
func Message(err error) string {
	return fmt.Sprintf("%s %s", Classify(err).Prefix(), err.Error())
}

// CodeOf extracts the code from a persisted message. ok is false when the
// message carries no known prefix.
func CodeOf(message string) (Code, bool) {
	if !strings.HasPrefix(message, "[") {
		return "", false
	}
	end := strings.IndexByte(message, ']')
	if end < 0 {
		return "", false
	}
	code := Code(message[1:end])
	switch code {
	case CodeTimeout, CodeRateLimit, CodeAPIError, CodeImageError, CodeParseError:
		return code, true
	}
	return "", false
}
