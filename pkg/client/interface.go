package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/menta2k/xray-classifier/pkg/types"
)

// Transport opens sessions against a remote inference host
type Transport interface {
	// Target names the remote host or service for logs and error messages
	Target() string
	// Open establishes a session. Errors mean the host could not be reached.
	Open(ctx context.Context) (Session, error)
}

// Session performs single inference calls. It never retries.
type Session interface {
	Invoke(ctx context.Context, payload *types.Payload) (types.RawResponse, error)
	Close() error
}

// ErrInvalidPayload marks failures caused by the payload itself rather than the remote.
// Retrying such a call cannot succeed.
var ErrInvalidPayload = errors.New("invalid payload")

// StatusError is a non-success HTTP answer from the remote service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API Error: %d", e.StatusCode)
	}
	return fmt.Sprintf("API Error: %d - %s", e.StatusCode, e.Body)
}
