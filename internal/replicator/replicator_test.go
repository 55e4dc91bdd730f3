package replicator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/core"
	"copytrader/internal/mock"
	"copytrader/internal/store"
	apperrors "copytrader/pkg/errors"
)

// directDispatcher forwards commands straight to the mock broker. Resilience
// is exercised in the dispatch package tests.
type directDispatcher struct{ b *mock.Broker }

func (d *directDispatcher) PlaceSingle(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	return d.b.PlaceOrder(ctx, p)
}
func (d *directDispatcher) PlaceCover(ctx context.Context, p *core.CoverParams) (*core.PlaceResult, error) {
	return d.b.PlaceCoverOrder(ctx, p)
}
func (d *directDispatcher) PlaceBracket(ctx context.Context, p *core.BracketParams) (*core.PlaceResult, error) {
	return d.b.PlaceBracketOrder(ctx, p)
}
func (d *directDispatcher) PlaceSliced(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	return d.b.PlaceSlicedOrder(ctx, p)
}
func (d *directDispatcher) Modify(ctx context.Context, orderID string, patch *core.ModifyPatch) (*core.PlaceResult, error) {
	return d.b.ModifyOrder(ctx, orderID, patch)
}
func (d *directDispatcher) Cancel(ctx context.Context, orderID string) error {
	return d.b.CancelOrder(ctx, orderID)
}
func (d *directDispatcher) CircuitOpen() bool { return false }

type stubSizer struct {
	qty       int64
	qtyErr    error
	marginErr error
}

func (s *stubSizer) Quantity(ctx context.Context, leaderQty int64, securityID, exchangeSegment string, premium decimal.Decimal) (int64, error) {
	if s.qtyErr != nil {
		return 0, s.qtyErr
	}
	return s.qty, nil
}
func (s *stubSizer) ValidateMargin(ctx context.Context, qty int64, securityID string, premium decimal.Decimal) error {
	return s.marginErr
}
func (s *stubSizer) CapitalRatio(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromFloat(0.5), nil
}
func (s *stubSizer) Strategy() string { return "fixed_ratio" }

type fixture struct {
	store    *store.Store
	follower *mock.Broker
	sizer    *stubSizer
	repl     *Replicator
}

func newFixture(t *testing.T, enabled bool) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), mock.Logger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	follower := mock.NewBroker(core.RoleFollower, 50000)
	sz := &stubSizer{qty: 25}
	repl := New(st, sz, &directDispatcher{b: follower}, follower, nil, enabled, nil, mock.Logger{})
	t.Cleanup(repl.Stop)
	return &fixture{store: st, follower: follower, sizer: sz, repl: repl}
}

func openEvent(orderID string, seq int64) *core.NormalizedEvent {
	return &core.NormalizedEvent{
		OrderID:  orderID,
		Status:   core.StatusOpen,
		Sequence: seq,
		Order: core.Order{
			Side:            core.SideBuy,
			Product:         core.ProductIntraday,
			Kind:            core.KindMarket,
			Validity:        core.ValidityDay,
			SecurityID:      "52175",
			ExchangeSegment: "NSE_FNO",
			Quantity:        50,
		},
		TS: time.Now().UnixMilli(),
	}
}

func TestHandleEventRequiresOrderID(t *testing.T) {
	f := newFixture(t, true)
	err := f.repl.HandleEvent(context.Background(), &core.NormalizedEvent{Sequence: 1})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStream, apperrors.KindOf(err))
}

func TestReplicateNewOrder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))

	require.Len(t, f.follower.PlaceCalls, 1)
	assert.Equal(t, int64(25), f.follower.PlaceCalls[0].Quantity)

	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, core.MappingPlaced, m.Status)
	assert.NotEmpty(t, m.FollowerOrderID)
	assert.Equal(t, int64(50), m.LeaderQty)
	assert.Equal(t, int64(25), m.FollowerQty)
	assert.True(t, m.CapitalRatio.Equal(decimal.NewFromFloat(0.5)))

	// Leader snapshot, follower order, event log, and watermark all landed.
	leader, err := f.store.GetOrder(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, leader)
	assert.Equal(t, core.RoleLeader, leader.Role)

	followerOrder, err := f.store.GetOrder(ctx, m.FollowerOrderID)
	require.NoError(t, err)
	require.NotNil(t, followerOrder)
	assert.Equal(t, core.RoleFollower, followerOrder.Role)

	has, err := f.store.HasEvent(ctx, "L1", 1)
	require.NoError(t, err)
	assert.True(t, has)

	wm, err := f.store.GetWatermark(ctx)
	require.NoError(t, err)
	assert.NotZero(t, wm)
}

func TestDuplicateEventIsSkipped(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))
	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))
	assert.Len(t, f.follower.PlaceCalls, 1)
}

func TestRepeatedStatusMoveDoesNotReplace(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ev := openEvent("L1", 1)
	ev.Status = core.StatusTransit
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	// The next lifecycle status on the same leader order is not a new copy.
	ev2 := openEvent("L1", 2)
	require.NoError(t, f.repl.HandleEvent(ctx, ev2))
	assert.Len(t, f.follower.PlaceCalls, 1)
}

func TestKillSwitchJournalsWithoutPlacing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))

	assert.Empty(t, f.follower.PlaceCalls)
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Nil(t, m)

	has, err := f.store.HasEvent(ctx, "L1", 1)
	require.NoError(t, err)
	assert.True(t, has, "disabled pipeline still journals")
}

func TestSegmentFilterJournalsWithoutPlacing(t *testing.T) {
	f := newFixture(t, true)
	f.repl.segments = map[string]struct{}{"NSE_FNO": {}}
	ctx := context.Background()

	ev := openEvent("L1", 1)
	ev.Order.ExchangeSegment = "NSE_EQ"
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	assert.Empty(t, f.follower.PlaceCalls)
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Nil(t, m)

	// In-scope segments still replicate.
	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L2", 1)))
	assert.Len(t, f.follower.PlaceCalls, 1)
}

func TestSizingFailureRecordsFailedMapping(t *testing.T) {
	f := newFixture(t, true)
	f.sizer.qtyErr = apperrors.New(apperrors.KindSizing, "cap below one lot")
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))

	assert.Empty(t, f.follower.PlaceCalls)
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, core.MappingFailed, m.Status)
	assert.Equal(t, string(apperrors.KindSizing), m.ErrorKind)
	assert.Contains(t, m.ErrorMessage, "cap below one lot")
}

func TestValidationFailureRecordsFailedMapping(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ev := openEvent("L1", 1)
	ev.Order.Kind = core.KindLimit // limit without a price
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, core.MappingFailed, m.Status)
	assert.Equal(t, string(apperrors.KindValidation), m.ErrorKind)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ev := openEvent("L1", 1)
	ev.Order.Kind = core.KindLimit
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	// The next event for the same order keeps the order invalid on our side
	// but the recorded validation failure already rules out a retry.
	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 2)))
	assert.Empty(t, f.follower.PlaceCalls)
}

func TestTransientFailureIsRetriedOnNextEvent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.follower.PlaceErr = apperrors.New(apperrors.KindTransient, "gateway timeout")
	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))

	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, core.MappingFailed, m.Status)

	f.follower.PlaceErr = nil
	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 2)))

	m, err = f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.MappingPlaced, m.Status)
}

func TestModifyReplaysOntoFollower(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)

	ev := openEvent("L1", 2)
	ev.Modified = true
	ev.Order.Quantity = 100
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	require.Len(t, f.follower.ModifyCalls, 1)
	assert.Equal(t, m.FollowerOrderID, f.follower.ModifyCalls[0])
	// Ratio frozen at placement time: 100 * 0.5.
	assert.Equal(t, int64(50), f.follower.Order(m.FollowerOrderID).Quantity)

	m, err = f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.LeaderQty)
	assert.Equal(t, int64(50), m.FollowerQty)
}

func TestModifyWithoutPlacedMappingIsIgnored(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ev := openEvent("L1", 1)
	ev.Modified = true
	require.NoError(t, f.repl.HandleEvent(ctx, ev))
	assert.Empty(t, f.follower.ModifyCalls)
	// No mapping means a modify marker on an unknown order replicates fresh
	// on classification; with one in pending state it would not. Here the
	// mapping is nil so the event replicates.
	assert.Len(t, f.follower.PlaceCalls, 1)
}

func TestCancelPropagates(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))
	m, _ := f.store.GetMappingByLeader(ctx, "L1")

	ev := openEvent("L1", 2)
	ev.Status = core.StatusCancelled
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	assert.Contains(t, f.follower.CancelCalls, m.FollowerOrderID)
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.MappingCancelled, m.Status)
}

func TestCancelBeforePlacementOnlyMarksMapping(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// A sizing failure leaves the mapping failed with no follower order.
	f.sizer.qtyErr = apperrors.New(apperrors.KindSizing, "no budget")
	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))

	ev := openEvent("L1", 2)
	ev.Status = core.StatusCancelled
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	assert.Empty(t, f.follower.CancelCalls)
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.MappingCancelled, m.Status)
}

func TestCancelKeepsMappingOnTransientFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))
	f.follower.CancelErr = apperrors.New(apperrors.KindTransient, "gateway timeout")

	ev := openEvent("L1", 2)
	ev.Status = core.StatusCancelled
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.MappingPlaced, m.Status, "mapping stays placed until the cancel lands")
}

func TestExecutionJournalsTrade(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))

	ev := openEvent("L1", 2)
	ev.Status = core.StatusExecuted
	ev.Order.FilledQty = 50
	ev.Order.AvgPrice = decimal.NewFromFloat(101.5)
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	has, err := f.store.HasEvent(ctx, "L1", 2)
	require.NoError(t, err)
	assert.True(t, has)

	leader, err := f.store.GetOrder(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusExecuted, leader.Status)
	assert.NotZero(t, leader.CompletedAt)

	// The executed leader order needs no follower command.
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.MappingPlaced, m.Status)
}

func TestBracketTargetExecutionCancelsFollowerStop(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Leader bracket parent P1 was copied as follower parent FP1 with two
	// broker-created legs on the follower book.
	require.NoError(t, f.store.WithTx(ctx, func(tx core.IStoreTx) error {
		return tx.PutMapping(&core.CopyMapping{
			LeaderOrderID:   "P1",
			FollowerOrderID: "FP1",
			Status:          core.MappingPlaced,
		})
	}))
	f.follower.AddOrder(core.Order{
		ID: "FT1", ParentOrderID: "FP1", Leg: core.LegTarget,
		Role: core.RoleFollower, Status: core.StatusOpen,
	})
	f.follower.AddOrder(core.Order{
		ID: "FS1", ParentOrderID: "FP1", Leg: core.LegStop,
		Role: core.RoleFollower, Status: core.StatusOpen,
	})

	ev := openEvent("T1", 1)
	ev.Status = core.StatusExecuted
	ev.Leg = core.LegTarget
	ev.Order.ParentOrderID = "P1"
	ev.Order.Product = core.ProductBracket
	ev.Order.FilledQty = 50
	ev.Order.AvgPrice = decimal.NewFromInt(105)
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	// The sibling stop leg is cancelled in the background.
	require.Eventually(t, func() bool {
		for _, id := range f.follower.CancelCalls {
			if id == "FS1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, f.follower.CancelCalls, "FT1")
}

func TestBracketLegExecutionResolvesThroughLegGraph(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Earlier events recorded the leader leg graph; the execution update
	// itself arrives without parent or leg tagging.
	require.NoError(t, f.store.WithTx(ctx, func(tx core.IStoreTx) error {
		if err := tx.PutMapping(&core.CopyMapping{
			LeaderOrderID:   "P1",
			FollowerOrderID: "FP1",
			Status:          core.MappingPlaced,
		}); err != nil {
			return err
		}
		return tx.PutLeg(&core.BracketLeg{
			ParentOrderID: "P1",
			LegOrderID:    "T1",
			Leg:           core.LegTarget,
			Role:          core.RoleLeader,
			Status:        core.StatusOpen,
		})
	}))
	f.follower.AddOrder(core.Order{
		ID: "FT1", ParentOrderID: "FP1", Leg: core.LegTarget,
		Role: core.RoleFollower, Status: core.StatusOpen,
	})
	f.follower.AddOrder(core.Order{
		ID: "FS1", ParentOrderID: "FP1", Leg: core.LegStop,
		Role: core.RoleFollower, Status: core.StatusOpen,
	})

	ev := openEvent("T1", 1)
	ev.Status = core.StatusExecuted
	ev.Order.Product = core.ProductBracket
	ev.Order.FilledQty = 50
	ev.Order.AvgPrice = decimal.NewFromInt(105)
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	require.Eventually(t, func() bool {
		for _, id := range f.follower.CancelCalls {
			if id == "FS1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, f.follower.CancelCalls, "FT1")
}

func TestModifySkippedWhenFollowerOrderIsTerminal(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)

	// The follower order filled before the leader's modify arrived.
	follower, err := f.store.GetOrder(ctx, m.FollowerOrderID)
	require.NoError(t, err)
	follower.Status = core.StatusExecuted
	require.NoError(t, f.store.WithTx(ctx, func(tx core.IStoreTx) error {
		return tx.PutOrder(follower)
	}))

	ev := openEvent("L1", 2)
	ev.Modified = true
	ev.Order.Quantity = 100
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	assert.Empty(t, f.follower.ModifyCalls)
	has, err := f.store.HasEvent(ctx, "L1", 2)
	require.NoError(t, err)
	assert.True(t, has, "the skipped modify is still journaled")
}

func TestLeaderRejectBeforePlacementFailsMapping(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.store.WithTx(ctx, func(tx core.IStoreTx) error {
		return tx.PutMapping(&core.CopyMapping{
			LeaderOrderID: "L1",
			Status:        core.MappingPending,
		})
	}))

	ev := openEvent("L1", 1)
	ev.Status = core.StatusRejected
	ev.Order.OMSErrorDesc = "price outside circuit limits"
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.MappingFailed, m.Status)
	assert.Equal(t, string(apperrors.KindNonRetryable), m.ErrorKind)
	assert.Contains(t, m.ErrorMessage, "circuit limits")
}

func TestLeaderRejectAfterPlacementCancelsFollower(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.repl.HandleEvent(ctx, openEvent("L1", 1)))
	m, _ := f.store.GetMappingByLeader(ctx, "L1")

	ev := openEvent("L1", 2)
	ev.Status = core.StatusRejected
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	assert.Contains(t, f.follower.CancelCalls, m.FollowerOrderID)
	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, core.MappingCancelled, m.Status)
}

func TestSlicedLeaderOrderFansOut(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ev := openEvent("L1", 1)
	ev.Order.Sliced = true
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, core.MappingPlaced, m.Status)

	// Both child orders are journaled under one slice group.
	first, err := f.store.GetOrder(ctx, m.FollowerOrderID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Sliced)
	assert.NotEmpty(t, first.SliceGroupID)
}

func TestCoverOrderCarriesStopLoss(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ev := openEvent("L1", 1)
	ev.Order.Product = core.ProductCover
	ev.Order.CoStopLossValue = decimal.NewFromInt(95)
	require.NoError(t, f.repl.HandleEvent(ctx, ev))

	m, err := f.store.GetMappingByLeader(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, core.MappingPlaced, m.Status)
	assert.Equal(t, core.ProductCover, f.follower.Order(m.FollowerOrderID).Product)

	// The parent registers as its own entry leg.
	legs, err := f.store.ListLegs(ctx, m.FollowerOrderID)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, core.LegEntry, legs[0].Leg)
}
