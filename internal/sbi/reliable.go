package sbi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/model"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/signalsfoundry/lightpath-controller/internal/sbi"

// Defaults applied by NewReliable.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxTries = 3
)

// Reliable decorates a Client with a per-call timeout, retries of transient
// device communication failures, tracing and metrics. Writes to
// roadm-connections are never retried: a connection write that timed out may
// have been applied.
type Reliable struct {
	next     Client
	timeout  time.Duration
	maxTries uint
	backoff  func() backoff.BackOff
	log      logging.Logger
	metrics  *observability.DeviceCollector
}

// ReliableOption customises a Reliable client.
type ReliableOption func(*Reliable)

// WithTimeout bounds every individual device call.
func WithTimeout(d time.Duration) ReliableOption {
	return func(r *Reliable) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxTries caps attempts per call, first attempt included.
func WithMaxTries(n int) ReliableOption {
	return func(r *Reliable) {
		if n > 0 {
			r.maxTries = uint(n)
		}
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) ReliableOption {
	return func(r *Reliable) {
		if fn != nil {
			r.backoff = fn
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) ReliableOption {
	return func(r *Reliable) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics attaches the SBI collector.
func WithMetrics(c *observability.DeviceCollector) ReliableOption {
	return func(r *Reliable) { r.metrics = c }
}

// NewReliable wraps next.
func NewReliable(next Client, opts ...ReliableOption) *Reliable {
	r := &Reliable{
		next:     next,
		timeout:  DefaultTimeout,
		maxTries: DefaultMaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		log: logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadConfig implements Client.
func (r *Reliable) ReadConfig(ctx context.Context, node string, p Path) (json.RawMessage, error) {
	var out json.RawMessage
	err := r.do(ctx, "read", node, p, true, func(ctx context.Context) error {
		raw, err := r.next.ReadConfig(ctx, node, p)
		out = raw
		return err
	})
	return out, err
}

// WriteConfig implements Client.
func (r *Reliable) WriteConfig(ctx context.Context, node string, p Path, value any) error {
	retry := p.List != ListRoadmConnections
	return r.do(ctx, "write", node, p, retry, func(ctx context.Context) error {
		return r.next.WriteConfig(ctx, node, p, value)
	})
}

// DeleteConfig implements Client.
func (r *Reliable) DeleteConfig(ctx context.Context, node string, p Path) error {
	return r.do(ctx, "delete", node, p, true, func(ctx context.Context) error {
		return r.next.DeleteConfig(ctx, node, p)
	})
}

func (r *Reliable) do(ctx context.Context, op, node string, p Path, retry bool, call func(context.Context) error) (err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "SBI/"+op, "device", node,
		attribute.String("sbi.path", p.String()),
	)
	defer func() {
		if errors.Is(err, ErrNotFound) {
			// Absent objects are an expected answer, not a span failure.
			observability.EndSpan(span, nil)
		} else {
			observability.EndSpan(span, err)
		}
		r.metrics.ObserveOperation(op, outcome(err))
	}()

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			r.metrics.ObserveRetry(op)
		}
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		err := call(callCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, model.ErrDeviceCommunication) {
			err = fmt.Errorf("%w: %s %s on %s timed out after %s: %v", model.ErrDeviceCommunication, op, p, node, r.timeout, err)
		}
		if !retry || !errors.Is(err, model.ErrDeviceCommunication) {
			return struct{}{}, backoff.Permanent(err)
		}
		r.log.Debug(ctx, "device call failed; retrying",
			logging.String("node_id", node),
			logging.String("op", op),
			logging.String("path", p.String()),
			logging.Int("attempt", attempt),
			logging.Err(err),
		)
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.backoff()),
		backoff.WithMaxTries(r.maxTries),
	)
	if err != nil && ctx.Err() != nil && !errors.Is(err, model.ErrDeviceCommunication) && !errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: %s %s on %s: %v", model.ErrDeviceCommunication, op, p, node, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrDeviceCommunication):
		return "unreachable"
	default:
		return "error"
	}
}
