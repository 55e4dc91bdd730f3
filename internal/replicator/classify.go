package replicator

import (
	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
)

func errValidationf(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.KindValidation, format, args...)
}

// classify decides what a leader event means for the follower account given
// the current correspondence row. mapping may be nil.
func classify(ev *core.NormalizedEvent, mapping *core.CopyMapping) core.EventAction {
	switch ev.Status {
	case core.StatusPending, core.StatusTransit, core.StatusOpen:
		if mapping == nil {
			return core.ActionReplicate
		}
		if ev.Modified {
			return core.ActionModify
		}
		switch mapping.Status {
		case core.MappingPending, core.MappingFailed:
			return core.ActionReplicate
		}
		// Already placed; a plain status move on the leader side needs no
		// follower command.
		return core.ActionIgnore

	case core.StatusPartial, core.StatusExecuted:
		return core.ActionExecution

	case core.StatusCancelled:
		return core.ActionCancel

	case core.StatusRejected:
		return core.ActionReject
	}
	return core.ActionIgnore
}

// validate applies the broker's order parameter rules before any follower
// command is attempted.
func validate(o *core.Order) error {
	if o.Quantity <= 0 {
		return errValidationf("quantity %d is not positive", o.Quantity)
	}
	if o.SecurityID == "" {
		return errValidationf("missing security id")
	}
	if o.ExchangeSegment == "" {
		return errValidationf("missing exchange segment")
	}
	switch o.Side {
	case core.SideBuy, core.SideSell:
	default:
		return errValidationf("unknown side %q", o.Side)
	}
	switch o.Kind {
	case core.KindLimit:
		if !o.Price.IsPositive() {
			return errValidationf("limit order requires a positive price")
		}
	case core.KindStop, core.KindStopMarket:
		if !o.TriggerPrice.IsPositive() {
			return errValidationf("stop order requires a positive trigger price")
		}
	}
	switch o.Product {
	case core.ProductCover:
		if !o.CoStopLossValue.IsPositive() && !o.BoStopLossValue.IsPositive() {
			return errValidationf("cover order requires a stop-loss value")
		}
	case core.ProductBracket:
		if !o.BoProfitValue.IsPositive() || !o.BoStopLossValue.IsPositive() {
			return errValidationf("bracket order requires profit and stop-loss values")
		}
	}
	return nil
}
