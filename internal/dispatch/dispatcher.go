// Package dispatch issues follower broker commands under a shared rate
// limit, retry policy, and circuit breaker. Every invocation lands in the
// audit log with its outcome and timing.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"copytrader/internal/config"
	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"
)

// Dispatcher implements core.IDispatcher over one follower broker client.
type Dispatcher struct {
	client   core.IBrokerClient
	store    core.IStore
	cfg      config.DispatchConfig
	limiter  *rate.Limiter
	breaker  circuitbreaker.CircuitBreaker[*core.PlaceResult]
	pipeline failsafe.Executor[*core.PlaceResult]
	log      core.ILogger
}

// New creates a Dispatcher with the configured resilience policies.
func New(client core.IBrokerClient, store core.IStore, cfg config.DispatchConfig, log core.ILogger) *Dispatcher {
	d := &Dispatcher{
		client: client,
		store:  store,
		cfg:    cfg,
		log:    log.WithField("component", "dispatcher"),
	}

	burst := int(cfg.RateLimitPerSecond)
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)

	// Only transient failures count against the breaker: a validation or
	// funds rejection says nothing about broker health.
	d.breaker = circuitbreaker.NewBuilder[*core.PlaceResult]().
		HandleIf(func(_ *core.PlaceResult, err error) bool {
			return err != nil && apperrors.KindOf(err) == apperrors.KindTransient
		}).
		WithFailureThreshold(uint(cfg.CircuitThreshold)).
		WithDelay(time.Duration(cfg.CircuitTimeoutSec) * time.Second).
		WithSuccessThreshold(uint(cfg.CircuitProbes)).
		OnOpen(func(e circuitbreaker.StateChangedEvent) {
			d.log.Error("circuit breaker opened", "from", e.OldState.String())
			telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(true)
		}).
		OnHalfOpen(func(e circuitbreaker.StateChangedEvent) {
			d.log.Warn("circuit breaker half-open, probing")
		}).
		OnClose(func(e circuitbreaker.StateChangedEvent) {
			d.log.Info("circuit breaker closed")
			telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
		}).
		Build()

	retry := retrypolicy.NewBuilder[*core.PlaceResult]().
		HandleIf(func(_ *core.PlaceResult, err error) bool {
			return err != nil && apperrors.IsTransient(err)
		}).
		WithDelayFunc(d.retryDelay).
		WithMaxRetries(cfg.RetryAttempts - 1).
		OnRetryScheduled(func(e failsafe.ExecutionScheduledEvent[*core.PlaceResult]) {
			d.log.Warn("retrying follower command",
				"attempt", e.Attempts(), "delay", e.Delay.String(), "error", e.LastError())
		}).
		Build()

	d.pipeline = failsafe.With[*core.PlaceResult](retry, d.breaker)
	return d
}

// retryDelay computes exponential backoff with jitter, honoring a broker
// Retry-After hint when present.
func (d *Dispatcher) retryDelay(exec failsafe.ExecutionAttempt[*core.PlaceResult]) time.Duration {
	if hint, ok := apperrors.RetryAfter(exec.LastError()); ok {
		return hint
	}
	base := float64(d.cfg.RetryBaseMS) * math.Pow(d.cfg.RetryMultiplier, float64(exec.Attempts()-1))
	max := float64(d.cfg.MaxBackoffMS)
	if base > max {
		base = max
	}
	// +/-25% jitter
	jittered := base * (0.75 + rand.Float64()*0.5)
	return time.Duration(jittered) * time.Millisecond
}

// PlaceSingle places a single-leg follower order.
func (d *Dispatcher) PlaceSingle(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	ensureCorrelation(&p.CorrelationID)
	return d.run(ctx, "place", p, func(ctx context.Context) (*core.PlaceResult, error) {
		return d.client.PlaceOrder(ctx, p)
	})
}

// PlaceCover places a cover order.
func (d *Dispatcher) PlaceCover(ctx context.Context, p *core.CoverParams) (*core.PlaceResult, error) {
	ensureCorrelation(&p.CorrelationID)
	return d.run(ctx, "place_cover", p, func(ctx context.Context) (*core.PlaceResult, error) {
		return d.client.PlaceCoverOrder(ctx, p)
	})
}

// PlaceBracket places a bracket order.
func (d *Dispatcher) PlaceBracket(ctx context.Context, p *core.BracketParams) (*core.PlaceResult, error) {
	ensureCorrelation(&p.CorrelationID)
	return d.run(ctx, "place_bracket", p, func(ctx context.Context) (*core.PlaceResult, error) {
		return d.client.PlaceBracketOrder(ctx, p)
	})
}

// PlaceSliced places an above-freeze-limit quantity through slicing.
func (d *Dispatcher) PlaceSliced(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	ensureCorrelation(&p.CorrelationID)
	return d.run(ctx, "place_sliced", p, func(ctx context.Context) (*core.PlaceResult, error) {
		return d.client.PlaceSlicedOrder(ctx, p)
	})
}

// Modify replays changed parameters onto a follower order.
func (d *Dispatcher) Modify(ctx context.Context, orderID string, patch *core.ModifyPatch) (*core.PlaceResult, error) {
	ensureCorrelation(&patch.CorrelationID)
	req := struct {
		OrderID string            `json:"orderId"`
		Patch   *core.ModifyPatch `json:"patch"`
	}{orderID, patch}
	return d.run(ctx, "modify", req, func(ctx context.Context) (*core.PlaceResult, error) {
		return d.client.ModifyOrder(ctx, orderID, patch)
	})
}

// Cancel cancels a follower order.
func (d *Dispatcher) Cancel(ctx context.Context, orderID string) error {
	req := struct {
		OrderID string `json:"orderId"`
	}{orderID}
	_, err := d.run(ctx, "cancel", req, func(ctx context.Context) (*core.PlaceResult, error) {
		return nil, d.client.CancelOrder(ctx, orderID)
	})
	return err
}

// CircuitOpen reports whether the breaker currently blocks commands.
func (d *Dispatcher) CircuitOpen() bool {
	return d.breaker.State() == circuitbreaker.OpenState
}

// run executes one command through rate limit, retry, and breaker, then
// audits the outcome.
func (d *Dispatcher) run(ctx context.Context, action string, req interface{}, call func(context.Context) (*core.PlaceResult, error)) (*core.PlaceResult, error) {
	start := time.Now()

	res, err := d.pipeline.WithContext(ctx).GetWithExecution(
		func(exec failsafe.Execution[*core.PlaceResult]) (*core.PlaceResult, error) {
			if lerr := d.limiter.Wait(ctx); lerr != nil {
				return nil, apperrors.Wrap(apperrors.KindTransient, "rate limiter wait", lerr)
			}
			return call(ctx)
		})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = apperrors.Wrap(apperrors.KindCircuitOpen, action+" blocked", err)
	}

	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
	}
	telemetry.GetGlobalMetrics().RecordCommand(ctx, action, outcome, float64(elapsed.Milliseconds()))

	d.audit(ctx, action, req, res, err, elapsed)
	return res, err
}

func (d *Dispatcher) audit(ctx context.Context, action string, req interface{}, res *core.PlaceResult, err error, elapsed time.Duration) {
	rec := &core.AuditRecord{
		Action:     action,
		Role:       d.client.Role(),
		Status:     "ok",
		DurationMS: elapsed.Milliseconds(),
		TS:         time.Now().UnixMilli(),
	}
	if body, merr := json.Marshal(req); merr == nil {
		rec.Request = body
	}
	if res != nil {
		rec.Response = res.Raw
	}
	if err != nil {
		rec.Status = string(apperrors.KindOf(err))
		rec.Error = err.Error()
	}
	if aerr := d.store.AppendAudit(ctx, rec); aerr != nil {
		d.log.Warn("audit write failed", "action", action, "error", aerr)
	}
}

func ensureCorrelation(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
