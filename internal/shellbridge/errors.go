package shellbridge

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CodeValidation        = "VALIDATION"
	CodePageNotFound      = "PAGE_NOT_FOUND"
	CodeEvalFailure       = "EVAL_FAILURE"
	CodeEvalTimeout       = "EVAL_TIMEOUT"
	CodeBridgeUnavailable = "BRIDGE_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

// IsTransient reports whether err looks like a broken-connection failure
// that a reconnect could fix.
func IsTransient(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code {
	case CodeBridgeUnavailable:
		return true
	case CodeEvalFailure, CodeEvalTimeout:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}
