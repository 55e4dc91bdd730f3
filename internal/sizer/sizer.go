// Package sizer computes follower order quantities from account capital,
// instrument lot sizes, and the configured strategy.
package sizer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"copytrader/internal/config"
	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
)

var oneHundred = decimal.NewFromInt(100)

// Sizer implements core.ISizer.
type Sizer struct {
	cfg         config.SizingConfig
	leaderFunds *fundsProvider
	followFunds *fundsProvider
	instruments core.IInstrumentCache
	log         core.ILogger
}

// New creates a Sizer backed by both accounts' fund limits.
func New(cfg config.SizingConfig, leader, follower core.IBrokerClient, store core.IStore, instruments core.IInstrumentCache, log core.ILogger) *Sizer {
	ttl := time.Duration(cfg.FundsTTL) * time.Second
	return &Sizer{
		cfg:         cfg,
		leaderFunds: newFundsProvider(leader, store, ttl, log),
		followFunds: newFundsProvider(follower, store, ttl, log),
		instruments: instruments,
		log:         log,
	}
}

// Strategy returns the configured strategy name.
func (s *Sizer) Strategy() string {
	return s.cfg.Strategy
}

// Quantity computes the follower quantity for a leader order. The result is
// rounded down to a whole number of lots; a nonzero leader order never rounds
// to zero as long as one lot passes the position cap.
func (s *Sizer) Quantity(ctx context.Context, leaderQty int64, securityID, exchangeSegment string, premium decimal.Decimal) (int64, error) {
	if leaderQty <= 0 {
		return 0, apperrors.Newf(apperrors.KindSizing, "leader quantity %d is not positive", leaderQty)
	}

	lotSize := s.lotSize(ctx, securityID, exchangeSegment)

	var qty int64
	var err error
	if s.cfg.Strategy == config.StrategyRiskBased && premium.IsPositive() {
		qty, err = s.riskQuantity(ctx, leaderQty, premium, lotSize)
		if err != nil {
			return 0, err
		}
	} else {
		// Risk-based without a usable premium falls back to the
		// proportional path.
		ratio, rerr := s.ratio(ctx)
		if rerr != nil {
			return 0, rerr
		}
		qty = decimal.NewFromInt(leaderQty).Mul(ratio).IntPart()
	}

	qty = roundToLots(qty, lotSize)
	if qty == 0 {
		// A copied order should not silently vanish on rounding; place the
		// minimum tradeable quantity instead.
		qty = lotSize
	}

	if !premium.IsPositive() {
		return qty, nil
	}

	cap, err := s.positionCap(ctx, premium, lotSize)
	if err != nil {
		return 0, err
	}
	if cap == 0 {
		return 0, apperrors.Newf(apperrors.KindSizing,
			"position cap below one lot for security %s", securityID)
	}
	if qty > cap {
		s.log.Warn("follower quantity capped by max position size",
			"security_id", securityID, "computed", qty, "cap", cap)
		qty = cap
	}
	return qty, nil
}

// ValidateMargin checks the follower can fund the order. Placement requires a
// fresh funds snapshot; a stale one fails the check.
func (s *Sizer) ValidateMargin(ctx context.Context, qty int64, securityID string, premium decimal.Decimal) error {
	if !premium.IsPositive() {
		return nil
	}
	funds, err := s.followFunds.get(ctx)
	if err != nil {
		return err
	}
	if funds.Stale {
		return apperrors.New(apperrors.KindSizing, "follower funds snapshot is stale")
	}

	required := premium.Mul(decimal.NewFromInt(qty))
	if required.GreaterThan(funds.Available) {
		return apperrors.Newf(apperrors.KindInsufficientFunds,
			"order requires %s, follower has %s", required, funds.Available)
	}

	limit := funds.Available.Mul(decimal.NewFromFloat(s.cfg.MaxPositionPct)).Div(oneHundred)
	if required.GreaterThan(limit) {
		return apperrors.Newf(apperrors.KindSizing,
			"order value %s exceeds max position size %s", required, limit)
	}
	return nil
}

// CapitalRatio returns the follower/leader sizing ratio in effect.
func (s *Sizer) CapitalRatio(ctx context.Context) (decimal.Decimal, error) {
	return s.ratio(ctx)
}

// ratio resolves the multiplier for the configured strategy. A fixed ratio
// without copy_ratio, and a capital ratio whose funds cannot be read, each
// fall back to the other source before failing.
func (s *Sizer) ratio(ctx context.Context) (decimal.Decimal, error) {
	switch s.cfg.Strategy {
	case config.StrategyFixedRatio:
		if s.cfg.CopyRatio > 0 {
			return decimal.NewFromFloat(s.cfg.CopyRatio), nil
		}
		s.log.Warn("copy_ratio unset, falling back to capital proportional")
		return s.capitalRatio(ctx)

	case config.StrategyCapitalProportional, config.StrategyRiskBased:
		return s.capitalRatio(ctx)
	}
	return decimal.Zero, apperrors.Newf(apperrors.KindSizing, "unknown sizing strategy %q", s.cfg.Strategy)
}

// capitalRatio is follower/leader available capital, with the configured
// copy ratio as the fallback when either side cannot be read.
func (s *Sizer) capitalRatio(ctx context.Context) (decimal.Decimal, error) {
	leader, lerr := s.leaderFunds.get(ctx)
	follower, ferr := s.followFunds.get(ctx)
	if lerr != nil || ferr != nil || !leader.Available.IsPositive() {
		if s.cfg.CopyRatio > 0 {
			s.log.Warn("capital ratio unavailable, falling back to copy_ratio",
				"copy_ratio", s.cfg.CopyRatio)
			return decimal.NewFromFloat(s.cfg.CopyRatio), nil
		}
		if lerr != nil {
			return decimal.Zero, lerr
		}
		if ferr != nil {
			return decimal.Zero, ferr
		}
		return decimal.Zero, apperrors.New(apperrors.KindSizing, "leader available funds are zero")
	}
	return follower.Available.Div(leader.Available), nil
}

// riskQuantity sizes from the follower's risk budget, never exceeding the
// leader's own lot count: min(leader lots, affordable lots) whole lots.
func (s *Sizer) riskQuantity(ctx context.Context, leaderQty int64, premium decimal.Decimal, lotSize int64) (int64, error) {
	funds, err := s.followFunds.get(ctx)
	if err != nil {
		return 0, err
	}
	budget := funds.Available.Mul(decimal.NewFromFloat(s.cfg.MaxPositionPct)).Div(oneHundred)
	perLot := premium.Mul(decimal.NewFromInt(lotSize))
	affordableLots := budget.Div(perLot).IntPart()
	if affordableLots < 1 {
		return 0, apperrors.New(apperrors.KindSizing, "risk budget below one lot")
	}
	lots := leaderQty / lotSize
	if affordableLots < lots {
		lots = affordableLots
	}
	return lots * lotSize, nil
}

// positionCap returns the largest lot-aligned quantity within the max
// position percentage of follower capital.
func (s *Sizer) positionCap(ctx context.Context, premium decimal.Decimal, lotSize int64) (int64, error) {
	funds, err := s.followFunds.get(ctx)
	if err != nil {
		return 0, err
	}
	limit := funds.Available.Mul(decimal.NewFromFloat(s.cfg.MaxPositionPct)).Div(oneHundred)
	return roundToLots(limit.Div(premium).IntPart(), lotSize), nil
}

func (s *Sizer) lotSize(ctx context.Context, securityID, exchangeSegment string) int64 {
	if s.instruments == nil {
		return 1
	}
	in, err := s.instruments.Get(ctx, securityID, exchangeSegment)
	if err != nil || in == nil || in.LotSize < 1 {
		if err != nil {
			s.log.Warn("instrument lookup failed, assuming lot size 1",
				"security_id", securityID, "error", err)
		}
		return 1
	}
	return in.LotSize
}

func roundToLots(qty, lotSize int64) int64 {
	if lotSize <= 1 {
		return qty
	}
	return qty - qty%lotSize
}
