package classify

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/xray-classifier/pkg/client"
	"github.com/menta2k/xray-classifier/pkg/types"
)

// Observer receives classification events, typically to export metrics
type Observer interface {
	ObserveAttempt()
	ObserveWait(wait time.Duration)
	ObserveOutcome(kind string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt()                      {}
func (nopObserver) ObserveWait(time.Duration)            {}
func (nopObserver) ObserveOutcome(string, time.Duration) {}

// OutcomeSuccess is the outcome kind reported for successful calls
const OutcomeSuccess = "success"

// Classifier sends X-ray images to a remote inference service.
// It keeps no per-call state, so concurrent Classify calls are safe.
type Classifier struct {
	transport client.Transport
	policy    RetryPolicy
	logger    *zap.Logger
	observer  Observer
	newTimer  func() backoff.Timer
}

// Option configures a Classifier
type Option func(*Classifier)

// WithRetryPolicy replaces DefaultRetryPolicy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Classifier) { c.policy = p }
}

// WithLogger sets the logger used for attempts and outcomes
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers an Observer for attempts, waits and outcomes
func WithObserver(o Observer) Option {
	return func(c *Classifier) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTimer sets the factory for the backoff wait timer. One timer is created per call.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Classifier) { c.newTimer = newTimer }
}

// New creates a Classifier on top of transport
func New(transport client.Transport, opts ...Option) *Classifier {
	c := &Classifier{
		transport: transport,
		policy:    DefaultRetryPolicy(),
		logger:    zap.NewNop(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy in use
func (c *Classifier) Policy() RetryPolicy {
	return c.policy
}

// Classify returns the labeled probabilities for image, or one classified error
func (c *Classifier) Classify(ctx context.Context, image []byte, mediaType string) ([]types.PredictionResult, error) {
	log := c.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("target", c.transport.Target()),
	)
	start := time.Now()

	results, err := c.classify(ctx, log, image, mediaType)

	elapsed := time.Since(start)
	if err != nil {
		kind := Kind(err)
		c.observer.ObserveOutcome(kind, elapsed)
		log.Warn("classification failed",
			zap.String("kind", kind),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	c.observer.ObserveOutcome(OutcomeSuccess, elapsed)
	log.Info("classification succeeded",
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed))
	return results, nil
}

func (c *Classifier) classify(ctx context.Context, log *zap.Logger, image []byte, mediaType string) ([]types.PredictionResult, error) {
	payload, err := Adapt(image, mediaType)
	if err != nil {
		return nil, err
	}

	session, err := c.transport.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CanceledError{Err: ctx.Err()}
		}
		return nil, &ConnectError{Target: c.transport.Target(), Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Debug("failed to close session", zap.Error(cerr))
		}
	}()

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}

	invoke := func() (types.RawResponse, error) {
		c.observer.ObserveAttempt()
		raw, err := session.Invoke(ctx, payload)
		if err != nil {
			return nil, transportError(err)
		}
		return raw, nil
	}

	onRetry := func(attempt int, wait time.Duration, err error) {
		c.observer.ObserveWait(wait)
		log.Info("remote attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.policy.MaxRetries),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	raw, err := c.policy.Retry(ctx, timer, invoke, onRetry)
	if err != nil {
		return nil, err
	}

	return Normalize(raw)
}

// transportError classifies the failure of one invocation
func transportError(err error) error {
	if errors.Is(err, client.ErrInvalidPayload) {
		return &InvalidInputError{Reason: err.Error()}
	}
	var status *client.StatusError
	if errors.As(err, &status) {
		return &TransportError{Status: status.StatusCode, Message: status.Body, Err: err}
	}
	return &TransportError{Message: err.Error(), Err: err}
}
