// Package runtime is the host adapter around the ledger and registry. It owns
// the block-height clock and applies calls strictly one at a time, each in a
// single storage transaction. Events raised by a transition are published
// only after it commits.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/ledger"
	"github.com/punchamoorthee/tcr/internal/metrics"
	"github.com/punchamoorthee/tcr/internal/registry"
	"github.com/punchamoorthee/tcr/internal/state"
)

var (
	heightKey = state.Prefix("System", "Number")
	paramsKey = state.Prefix("Registry", "Params")
)

// Publisher receives the events of each committed transition, in commit order.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event)
}

// Receipt describes a committed transition.
type Receipt struct {
	ID          uuid.UUID          `json:"id"`
	Call        string             `json:"call"`
	Caller      domain.AccountID   `json:"caller"`
	Height      domain.Height      `json:"height"`
	Listing     *domain.Hash       `json:"listing,omitempty"`
	ChallengeID domain.ChallengeID `json:"challenge_id,omitempty"`
	Outcome     domain.Outcome     `json:"outcome,omitempty"`
	Amount      domain.Balance     `json:"amount,omitempty"`
	Events      []domain.Event     `json:"events"`
}

type Runtime struct {
	mu     sync.Mutex
	store  state.Store
	params domain.Params
	height domain.Height
	loaded bool

	logger     *slog.Logger
	tracer     trace.Tracer
	publishers []Publisher
}

type Option func(*Runtime)

func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(rt *Runtime) {
		rt.tracer = tracer
	}
}

// WithPublisher adds an event sink. Sinks are called in registration order.
func WithPublisher(p Publisher) Option {
	return func(rt *Runtime) {
		rt.publishers = append(rt.publishers, p)
	}
}

func New(store state.Store, opts ...Option) *Runtime {
	rt := &Runtime{
		store:  store,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("runtime"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Load reads params and height from committed state.
func (rt *Runtime) Load(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var (
		params domain.Params
		height domain.Height
		found  bool
	)
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		if found, err = state.GetJSON(r, paramsKey, &params); err != nil || !found {
			return err
		}
		_, err = state.GetJSON(r, heightKey, &height)
		return err
	})
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !found {
		return domain.ErrNotInitialized
	}

	rt.params, rt.height, rt.loaded = params, height, true
	metrics.BlockHeight.Set(float64(height))
	return nil
}

// Apply executes call on behalf of caller. On error nothing is committed and
// no events are published.
func (rt *Runtime) Apply(ctx context.Context, caller domain.AccountID, call Call) (*Receipt, error) {
	if caller == "" {
		return nil, domain.ErrInvalidCaller
	}
	if caller.IsReserved() {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservedAccount, caller)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.loaded {
		return nil, domain.ErrNotInitialized
	}

	name := call.Name()
	ctx, span := rt.tracer.Start(ctx, "runtime.apply "+name, trace.WithAttributes(
		attribute.String("tcr.call", name),
		attribute.String("tcr.caller", string(caller)),
		attribute.Int64("tcr.height", int64(rt.height)),
	))
	defer span.End()

	start := time.Now()
	rcpt := &Receipt{
		ID:     uuid.New(),
		Call:   name,
		Caller: caller,
		Height: rt.height,
	}
	env := domain.Env{Height: rt.height}

	var events domain.EventBuffer
	err := rt.store.Update(ctx, func(kv state.ReadWriter) error {
		events.Reset()
		tok := ledger.New(kv, env, &events)
		reg := registry.New(&rt.params, kv, tok, env, &events)
		return dispatch(caller, call, tok, reg, rcpt)
	})
	metrics.TransitionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		result := classify(err)
		metrics.TransitionsTotal.WithLabelValues(name, result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)

		attrs := []any{"call", name, "caller", caller, "height", rt.height, "error", err}
		switch result {
		case metrics.ResultRejected:
			rt.logger.Debug("transition rejected", attrs...)
		case metrics.ResultInvariant:
			rt.logger.Error("invariant violated", attrs...)
		default:
			rt.logger.Warn("transition failed", attrs...)
		}
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(name, metrics.ResultOK).Inc()
	rcpt.Events = append([]domain.Event{}, events.Events()...)
	span.SetAttributes(attribute.Int("tcr.events", len(rcpt.Events)))
	rt.logger.Info("transition applied",
		"id", rcpt.ID,
		"call", name,
		"caller", caller,
		"height", rt.height,
		"events", len(rcpt.Events),
	)

	rt.publish(ctx, rcpt.Events)
	return rcpt, nil
}

// AdvanceBlocks moves the clock forward by n blocks and returns the new height.
func (rt *Runtime) AdvanceBlocks(ctx context.Context, n uint64) (domain.Height, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.loaded {
		return 0, domain.ErrNotInitialized
	}

	next := rt.height + domain.Height(n)
	if next < rt.height {
		return rt.height, fmt.Errorf("%w: height", domain.ErrOverflow)
	}
	err := rt.store.Update(ctx, func(kv state.ReadWriter) error {
		return state.PutJSON(kv, heightKey, next)
	})
	if err != nil {
		return rt.height, fmt.Errorf("advance height: %w", err)
	}

	rt.height = next
	metrics.BlockHeight.Set(float64(next))
	rt.logger.Debug("block advanced", "height", next)
	return next, nil
}

// Height is the height the next transition will observe.
func (rt *Runtime) Height() domain.Height {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.height
}

func (rt *Runtime) Params() domain.Params {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.params
}

func (rt *Runtime) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, p := range rt.publishers {
		p.Publish(ctx, events)
	}
}

func classify(err error) string {
	switch {
	case domain.IsInvariant(err):
		return metrics.ResultInvariant
	case domain.IsPrecondition(err):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
