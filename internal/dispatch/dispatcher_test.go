package dispatch

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/mock"
	"copytrader/internal/store"
	apperrors "copytrader/pkg/errors"
)

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		RateLimitPerSecond: 1000,
		RetryAttempts:      3,
		RetryBaseMS:        1,
		RetryMultiplier:    1.0,
		MaxBackoffMS:       5,
		CircuitThreshold:   100,
		CircuitTimeoutSec:  60,
		CircuitProbes:      1,
	}
}

func newTestDispatcher(t *testing.T, client core.IBrokerClient, cfg config.DispatchConfig) *Dispatcher {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), mock.Logger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(client, st, cfg, mock.Logger{})
}

func placeParams() *core.PlaceParams {
	return &core.PlaceParams{
		SecurityID:      "52175",
		ExchangeSegment: "NSE_FNO",
		Side:            core.SideBuy,
		Product:         core.ProductIntraday,
		Kind:            core.KindLimit,
		Validity:        core.ValidityDay,
		Quantity:        25,
		Price:           decimal.NewFromInt(100),
	}
}

func TestPlaceSingleSetsCorrelationID(t *testing.T) {
	broker := mock.NewBroker(core.RoleFollower, 10000)
	d := newTestDispatcher(t, broker, testDispatchConfig())

	p := placeParams()
	res, err := d.PlaceSingle(context.Background(), p)
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.NotEmpty(t, p.CorrelationID)
	require.Len(t, broker.PlaceCalls, 1)
	assert.Equal(t, p.CorrelationID, broker.PlaceCalls[0].CorrelationID)
}

// flakyBroker fails the first n place calls with the given error.
type flakyBroker struct {
	*mock.Broker
	failures int32
	err      error
}

func (f *flakyBroker) PlaceOrder(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, f.err
	}
	return f.Broker.PlaceOrder(ctx, p)
}

func TestSuccessfulPlaceIsNotRetried(t *testing.T) {
	broker := mock.NewBroker(core.RoleFollower, 10000)
	d := newTestDispatcher(t, broker, testDispatchConfig())

	res, err := d.PlaceSingle(context.Background(), placeParams())
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.Len(t, broker.PlaceCalls, 1, "a successful command must hit the broker exactly once")
}

func TestTransientErrorsAreRetried(t *testing.T) {
	broker := &flakyBroker{
		Broker:   mock.NewBroker(core.RoleFollower, 10000),
		failures: 2,
		err:      apperrors.New(apperrors.KindTransient, "gateway timeout"),
	}
	d := newTestDispatcher(t, broker, testDispatchConfig())

	res, err := d.PlaceSingle(context.Background(), placeParams())
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
}

func TestRetriesExhaust(t *testing.T) {
	broker := mock.NewBroker(core.RoleFollower, 10000)
	broker.PlaceErr = apperrors.New(apperrors.KindTransient, "gateway timeout")
	d := newTestDispatcher(t, broker, testDispatchConfig())

	_, err := d.PlaceSingle(context.Background(), placeParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
	// RetryAttempts bounds the total attempts, not the retries.
	assert.Len(t, broker.PlaceCalls, 3)
}

func TestNonRetryableErrorsAreNotRetried(t *testing.T) {
	broker := mock.NewBroker(core.RoleFollower, 10000)
	broker.PlaceErr = apperrors.New(apperrors.KindValidation, "bad security id")
	d := newTestDispatcher(t, broker, testDispatchConfig())

	_, err := d.PlaceSingle(context.Background(), placeParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Len(t, broker.PlaceCalls, 1)
}

func TestRateLimitedErrorsAreRetried(t *testing.T) {
	broker := &flakyBroker{
		Broker:   mock.NewBroker(core.RoleFollower, 10000),
		failures: 1,
		err:      apperrors.New(apperrors.KindRateLimited, "DH-904"),
	}
	d := newTestDispatcher(t, broker, testDispatchConfig())

	_, err := d.PlaceSingle(context.Background(), placeParams())
	require.NoError(t, err)
}

func TestCircuitOpensAfterConsecutiveTransientFailures(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.RetryAttempts = 1
	cfg.CircuitThreshold = 2

	broker := mock.NewBroker(core.RoleFollower, 10000)
	broker.PlaceErr = apperrors.New(apperrors.KindTransient, "gateway timeout")
	d := newTestDispatcher(t, broker, cfg)
	ctx := context.Background()

	_, _ = d.PlaceSingle(ctx, placeParams())
	_, _ = d.PlaceSingle(ctx, placeParams())
	assert.True(t, d.CircuitOpen())

	calls := len(broker.PlaceCalls)
	_, err := d.PlaceSingle(ctx, placeParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCircuitOpen, apperrors.KindOf(err))
	assert.Len(t, broker.PlaceCalls, calls, "open breaker must short-circuit before the broker")
}

func TestValidationFailuresDoNotTripCircuit(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.RetryAttempts = 1
	cfg.CircuitThreshold = 2

	broker := mock.NewBroker(core.RoleFollower, 10000)
	broker.PlaceErr = apperrors.New(apperrors.KindValidation, "bad security id")
	d := newTestDispatcher(t, broker, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = d.PlaceSingle(ctx, placeParams())
	}
	assert.False(t, d.CircuitOpen())
}

func TestRateLimitSpacesCommands(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.RateLimitPerSecond = 2

	broker := mock.NewBroker(core.RoleFollower, 10000)
	d := newTestDispatcher(t, broker, cfg)
	ctx := context.Background()

	// Burst of 2 goes through immediately; the next 2 wait for tokens, so
	// 4 commands at 2/s cannot finish inside the first second.
	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := d.PlaceSingle(ctx, placeParams())
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.Len(t, broker.PlaceCalls, 4)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond,
		"limiter must hold commands beyond the burst to the configured rate")
}

func TestCancel(t *testing.T) {
	broker := mock.NewBroker(core.RoleFollower, 10000)
	broker.AddOrder(core.Order{ID: "F1", Role: core.RoleFollower, Status: core.StatusOpen})
	d := newTestDispatcher(t, broker, testDispatchConfig())

	require.NoError(t, d.Cancel(context.Background(), "F1"))
	assert.Equal(t, []string{"F1"}, broker.CancelCalls)
	assert.Equal(t, core.StatusCancelled, broker.Order("F1").Status)
}

func TestModify(t *testing.T) {
	broker := mock.NewBroker(core.RoleFollower, 10000)
	broker.AddOrder(core.Order{ID: "F1", Role: core.RoleFollower, Status: core.StatusOpen, Quantity: 25})
	d := newTestDispatcher(t, broker, testDispatchConfig())

	res, err := d.Modify(context.Background(), "F1", &core.ModifyPatch{
		Kind:     core.KindLimit,
		Quantity: 50,
		Price:    decimal.NewFromInt(99),
	})
	require.NoError(t, err)
	assert.Equal(t, "F1", res.OrderID)
	assert.Equal(t, int64(50), broker.Order("F1").Quantity)
}
