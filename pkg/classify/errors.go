package classify

import (
	"errors"
	"fmt"
)

// Error kinds reported by Kind
const (
	KindInvalidInput   = "invalid_input"
	KindConnect        = "connect"
	KindTransport      = "transport"
	KindRetryExhausted = "retry_exhausted"
	KindMalformed      = "malformed_response"
	KindCanceled       = "canceled"
	KindUnknown        = "unknown"
)

// InvalidInputError means no usable image was supplied. No network call is made.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// ConnectError means a session to the remote service could not be established
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not reach %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError is the failure of a single invocation.
// Status is zero when no HTTP answer was received.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transport error: status %d: %s", e.Status, e.Message)
	}
	return "transport error: " + e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// RetryExhaustedError wraps the last TransportError once the retry budget is spent
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("remote service unavailable after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// MalformedResponseError means the response shape was unrecognized or incomplete
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return "malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// CanceledError means the caller's context ended before the call resolved
type CanceledError struct {
	Err error
}

func (e *CanceledError) Error() string {
	return "classification canceled: " + e.Err.Error()
}

func (e *CanceledError) Unwrap() error { return e.Err }

// Kind returns a stable tag for err, checking the most specific wrapper first
func Kind(err error) string {
	var (
		invalid   *InvalidInputError
		canceled  *CanceledError
		connect   *ConnectError
		exhausted *RetryExhaustedError
		malformed *MalformedResponseError
		transport *TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return KindInvalidInput
	case errors.As(err, &canceled):
		return KindCanceled
	case errors.As(err, &connect):
		return KindConnect
	case errors.As(err, &exhausted):
		return KindRetryExhausted
	case errors.As(err, &malformed):
		return KindMalformed
	case errors.As(err, &transport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// UserMessage turns err into the single sentence shown to the user
func UserMessage(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case KindInvalidInput:
		return "Please select an X-ray image (JPEG, PNG or WebP) before starting the analysis."
	case KindConnect:
		return "Could not reach the classification service. Check your connection or the API configuration."
	case KindRetryExhausted, KindTransport:
		return "The classification service is busy or still waking up. Please try again in a minute."
	case KindMalformed:
		return "The classification service returned an unexpected response."
	case KindCanceled:
		return "The analysis was canceled."
	default:
		return "Something went wrong while processing the image."
	}
}

// retryable reports whether another invocation could change the outcome
func retryable(err error) bool {
	var (
		invalid   *InvalidInputError
		malformed *MalformedResponseError
	)
	return !errors.As(err, &invalid) && !errors.As(err, &malformed)
}
