package push

import (
	"context"
	"errors"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sony/gobreaker/v2"

	"pushengine/internal/types"
)

// Sender delivers one message to one token. Implementations never return an
// error: every failure is folded into the outcome.
type Sender interface {
	Send(ctx context.Context, token string, msg types.PushMessage) types.DeliveryOutcome
}

// messenger is the subset of *messaging.Client the Client needs.
type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client sends through FCM behind a circuit breaker. Invalid-token responses
// count as breaker successes since the platform itself is healthy.
type Client struct {
	messenger   messenger
	breaker     *gobreaker.CircuitBreaker[string]
	classify    Classifier
	sendTimeout time.Duration
	logger      types.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClassifier overrides error classification.
func WithClassifier(c Classifier) ClientOption {
	return func(cl *Client) { cl.classify = c }
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.sendTimeout = d }
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l types.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithBreakerSettings replaces the default breaker trip policy. IsSuccessful
// is always overridden.
func WithBreakerSettings(s gobreaker.Settings) ClientOption {
	return func(cl *Client) { cl.breaker = cl.newBreaker(s) }
}

// NewClient wraps m.
func NewClient(m messenger, opts ...ClientOption) *Client {
	c := &Client{
		messenger: m,
		classify:  classifyFCMError,
		logger:    types.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = c.newBreaker(gobreaker.Settings{
			Name:        "fcm",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 20
			},
		})
	}
	return c
}

func (c *Client) newBreaker(s gobreaker.Settings) *gobreaker.CircuitBreaker[string] {
	s.IsSuccessful = func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) {
			return true
		}
		kind, _ := c.classify(err)
		return kind == types.DeliveryInvalidToken
	}
	if s.OnStateChange == nil {
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			c.logger.Warn("push circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		}
	}
	return gobreaker.NewCircuitBreaker[string](s)
}

// Send makes exactly one delivery attempt.
func (c *Client) Send(ctx context.Context, token string, msg types.PushMessage) types.DeliveryOutcome {
	message := BuildMessage(token, msg)

	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}

	id, err := c.breaker.Execute(func() (string, error) {
		return c.messenger.Send(ctx, message)
	})
	if err == nil {
		return types.Succeeded(token, id)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.TransientFailure(token, "circuit-open", err.Error())
	}

	kind, code := c.classify(err)
	if kind == types.DeliveryInvalidToken {
		return types.InvalidToken(token, code, err.Error())
	}
	return types.TransientFailure(token, code, err.Error())
}

var _ Sender = (*Client)(nil)
