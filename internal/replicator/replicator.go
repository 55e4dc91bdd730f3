// Package replicator turns normalized leader order events into follower
// broker commands. Every decision, including skips, lands in the event
// journal together with the watermark advance in one transaction.
package replicator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"copytrader/internal/core"
	"copytrader/pkg/concurrency"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"
)

// Replicator implements core.IReplicator.
type Replicator struct {
	store       core.IStore
	sizer       core.ISizer
	dispatcher  core.IDispatcher
	follower    core.IBrokerClient
	instruments core.IInstrumentCache
	cancelPool  *concurrency.WorkerPool
	enabled     bool
	segments    map[string]struct{}
	log         core.ILogger
}

// New creates a Replicator. With enabled false the pipeline journals leader
// events but issues no follower commands. A non-empty segments list restricts
// replication to those exchange segments; other orders are journaled only.
func New(store core.IStore, sizer core.ISizer, dispatcher core.IDispatcher, follower core.IBrokerClient, instruments core.IInstrumentCache, enabled bool, segments []string, log core.ILogger) *Replicator {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "oco-cancel",
		MaxWorkers:  2,
		MaxCapacity: 32,
		NonBlocking: true,
	}, log)
	var segSet map[string]struct{}
	if len(segments) > 0 {
		segSet = make(map[string]struct{}, len(segments))
		for _, s := range segments {
			segSet[s] = struct{}{}
		}
	}
	return &Replicator{
		store:       store,
		sizer:       sizer,
		dispatcher:  dispatcher,
		follower:    follower,
		instruments: instruments,
		cancelPool:  pool,
		enabled:     enabled,
		segments:    segSet,
		log:         log.WithField("component", "replicator"),
	}
}

// inScope reports whether an order's exchange segment passes the copy filter.
func (r *Replicator) inScope(segment string) bool {
	if r.segments == nil {
		return true
	}
	_, ok := r.segments[segment]
	return ok
}

// Stop drains the background cancel pool.
func (r *Replicator) Stop() {
	r.cancelPool.Stop()
}

// HandleEvent processes one leader event. A non-nil return means the store
// could not record the decision and processing must stop; broker failures
// are recorded on the mapping instead.
func (r *Replicator) HandleEvent(ctx context.Context, ev *core.NormalizedEvent) error {
	if ev.OrderID == "" {
		return apperrors.New(apperrors.KindStream, "event without order id")
	}

	seen, err := r.store.HasEvent(ctx, ev.OrderID, ev.Sequence)
	if err != nil {
		return err
	}
	if seen {
		r.log.Debug("duplicate event skipped", "order_id", ev.OrderID, "sequence", ev.Sequence)
		return nil
	}

	mapping, err := r.store.GetMappingByLeader(ctx, ev.OrderID)
	if err != nil {
		return err
	}

	action := classify(ev, mapping)
	log := r.log.WithFields(map[string]interface{}{
		"order_id": ev.OrderID,
		"sequence": ev.Sequence,
		"status":   string(ev.Status),
		"action":   string(action),
	})
	log.Info("leader event")

	switch action {
	case core.ActionReplicate:
		return r.handleReplicate(ctx, ev, mapping, log)
	case core.ActionModify:
		return r.handleModify(ctx, ev, mapping, log)
	case core.ActionCancel:
		return r.handleCancel(ctx, ev, mapping, log)
	case core.ActionExecution:
		return r.handleExecution(ctx, ev, mapping, log)
	case core.ActionReject:
		return r.handleReject(ctx, ev, mapping, log)
	}
	return r.journalOnly(ctx, ev, core.ActionIgnore)
}

// retryable reports whether a previously failed replication may be retried
// on a fresh leader event.
func retryable(errorKind string) bool {
	switch apperrors.Kind(errorKind) {
	case apperrors.KindTransient, apperrors.KindRateLimited, apperrors.KindCircuitOpen:
		return true
	}
	return false
}

func (r *Replicator) handleReplicate(ctx context.Context, ev *core.NormalizedEvent, mapping *core.CopyMapping, log core.ILogger) error {
	if mapping != nil && mapping.Status == core.MappingFailed && !retryable(mapping.ErrorKind) {
		log.Debug("previous failure is permanent, not retrying", "error_kind", mapping.ErrorKind)
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}
	if !r.enabled {
		log.Info("copy trading disabled, observing only")
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}
	if !r.inScope(ev.Order.ExchangeSegment) {
		log.Info("segment outside copy filter", "segment", ev.Order.ExchangeSegment)
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}

	if err := validate(&ev.Order); err != nil {
		return r.recordFailure(ctx, ev, err, log)
	}

	premium := ev.Order.Price
	if !premium.IsPositive() {
		premium = ev.Order.TriggerPrice
	}

	qty, err := r.sizer.Quantity(ctx, ev.Order.Quantity, ev.Order.SecurityID, ev.Order.ExchangeSegment, premium)
	if err != nil {
		return r.recordFailure(ctx, ev, err, log)
	}
	if err := r.sizer.ValidateMargin(ctx, qty, ev.Order.SecurityID, premium); err != nil {
		return r.recordFailure(ctx, ev, err, log)
	}

	ratio, _ := r.sizer.CapitalRatio(ctx)

	params := r.placeParams(ev, qty)
	result, sliced, err := r.place(ctx, ev, params)
	if err != nil {
		return r.recordFailure(ctx, ev, err, log)
	}

	log.Info("follower order placed",
		"follower_order_id", result.OrderID, "quantity", qty, "sliced", sliced)
	telemetry.GetGlobalMetrics().AddOrderReplicated(ctx)

	return r.store.WithTx(ctx, func(tx core.IStoreTx) error {
		if err := r.journal(tx, ev, core.ActionReplicate); err != nil {
			return err
		}
		if err := r.putFollowerOrders(tx, ev, params, result, sliced); err != nil {
			return err
		}
		return tx.PutMapping(&core.CopyMapping{
			LeaderOrderID:   ev.OrderID,
			FollowerOrderID: result.OrderID,
			LeaderQty:       ev.Order.Quantity,
			FollowerQty:     qty,
			SizingStrategy:  r.sizer.Strategy(),
			CapitalRatio:    ratio,
			Status:          core.MappingPlaced,
		})
	})
}

// place routes a validated leader order to the right placement command.
func (r *Replicator) place(ctx context.Context, ev *core.NormalizedEvent, params *core.PlaceParams) (*core.PlaceResult, bool, error) {
	switch ev.Order.Product {
	case core.ProductCover:
		stop := ev.Order.CoStopLossValue
		if !stop.IsPositive() {
			stop = ev.Order.BoStopLossValue
		}
		res, err := r.dispatcher.PlaceCover(ctx, &core.CoverParams{
			PlaceParams:   *params,
			StopLossValue: stop,
		})
		return res, false, err

	case core.ProductBracket:
		res, err := r.dispatcher.PlaceBracket(ctx, &core.BracketParams{
			PlaceParams:   *params,
			ProfitValue:   ev.Order.BoProfitValue,
			StopLossValue: ev.Order.BoStopLossValue,
		})
		return res, false, err
	}

	if r.needsSlicing(ctx, ev, params.Quantity) {
		res, err := r.dispatcher.PlaceSliced(ctx, params)
		return res, true, err
	}
	res, err := r.dispatcher.PlaceSingle(ctx, params)
	return res, false, err
}

// needsSlicing checks the follower quantity against the exchange freeze
// limit for the instrument.
func (r *Replicator) needsSlicing(ctx context.Context, ev *core.NormalizedEvent, qty int64) bool {
	if ev.Order.Sliced {
		return true
	}
	if r.instruments == nil {
		return false
	}
	in, err := r.instruments.Get(ctx, ev.Order.SecurityID, ev.Order.ExchangeSegment)
	if err != nil || in == nil {
		return false
	}
	return in.FreezeQty > 0 && qty > in.FreezeQty
}

func (r *Replicator) placeParams(ev *core.NormalizedEvent, qty int64) *core.PlaceParams {
	disclosed := int64(0)
	if ev.Order.DisclosedQty > 0 && ev.Order.Quantity > 0 {
		// Keep the leader's disclosed proportion.
		disclosed = qty * ev.Order.DisclosedQty / ev.Order.Quantity
	}
	return &core.PlaceParams{
		SecurityID:      ev.Order.SecurityID,
		ExchangeSegment: ev.Order.ExchangeSegment,
		Side:            ev.Order.Side,
		Product:         ev.Order.Product,
		Kind:            ev.Order.Kind,
		Validity:        ev.Order.Validity,
		Quantity:        qty,
		DisclosedQty:    disclosed,
		Price:           ev.Order.Price,
		TriggerPrice:    ev.Order.TriggerPrice,
		AfterMarket:     ev.Order.AfterMarket,
		AMOTime:         ev.Order.AMOTime,
	}
}

// putFollowerOrders records the placed follower order, fanning out child
// rows for a sliced placement under one slice group.
func (r *Replicator) putFollowerOrders(tx core.IStoreTx, ev *core.NormalizedEvent, params *core.PlaceParams, result *core.PlaceResult, sliced bool) error {
	base := core.Order{
		Role:            core.RoleFollower,
		Status:          core.StatusTransit,
		Side:            params.Side,
		Product:         params.Product,
		Kind:            params.Kind,
		Validity:        params.Validity,
		SecurityID:      params.SecurityID,
		ExchangeSegment: params.ExchangeSegment,
		Quantity:        params.Quantity,
		DisclosedQty:    params.DisclosedQty,
		Price:           params.Price,
		TriggerPrice:    params.TriggerPrice,
		CorrelationID:   params.CorrelationID,
		AfterMarket:     params.AfterMarket,
		AMOTime:         params.AMOTime,
		CreatedAt:       ev.TS,
		UpdatedAt:       ev.TS,
	}

	if sliced && len(result.OrderIDs) > 1 {
		group := uuid.NewString()
		for i, id := range result.OrderIDs {
			child := base
			child.ID = id
			child.Sliced = true
			child.SliceGroupID = group
			child.SliceIndex = i
			child.TotalSliceQty = params.Quantity
			if err := tx.PutOrder(&child); err != nil {
				return err
			}
		}
		return nil
	}

	o := base
	o.ID = result.OrderID
	if err := tx.PutOrder(&o); err != nil {
		return err
	}
	if params.Product == core.ProductBracket || params.Product == core.ProductCover {
		// The parent doubles as its own entry leg in the leg graph.
		return tx.PutLeg(&core.BracketLeg{
			ParentOrderID: o.ID,
			LegOrderID:    o.ID,
			Leg:           core.LegEntry,
			Role:          core.RoleFollower,
			Status:        o.Status,
		})
	}
	return nil
}

func (r *Replicator) handleModify(ctx context.Context, ev *core.NormalizedEvent, mapping *core.CopyMapping, log core.ILogger) error {
	if mapping == nil || mapping.Status != core.MappingPlaced {
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}
	if !r.enabled {
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}

	follower, err := r.store.GetOrder(ctx, mapping.FollowerOrderID)
	if err != nil {
		return err
	}
	if follower != nil && !modifiable(follower.Status) {
		log.Info("follower order no longer modifiable",
			"follower_order_id", mapping.FollowerOrderID, "status", string(follower.Status))
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}

	qty := r.scaledQuantity(ctx, ev, mapping)
	patch := &core.ModifyPatch{
		Kind:         ev.Order.Kind,
		Validity:     ev.Order.Validity,
		Quantity:     qty,
		DisclosedQty: scaleDisclosed(qty, &ev.Order),
		Price:        ev.Order.Price,
		TriggerPrice: ev.Order.TriggerPrice,
		CoStopLoss:   ev.Order.CoStopLossValue,
		CoTrigger:    ev.Order.CoTriggerPrice,
		BoProfit:     ev.Order.BoProfitValue,
		BoStopLoss:   ev.Order.BoStopLossValue,
	}

	if _, err = r.dispatcher.Modify(ctx, mapping.FollowerOrderID, patch); err != nil {
		log.Error("follower modify failed", "follower_order_id", mapping.FollowerOrderID, "error", err)
		telemetry.GetGlobalMetrics().AddReplicationFailed(ctx)
		return r.journalOnly(ctx, ev, core.ActionModify)
	}

	log.Info("follower order modified", "follower_order_id", mapping.FollowerOrderID, "quantity", qty)
	return r.store.WithTx(ctx, func(tx core.IStoreTx) error {
		if err := r.journal(tx, ev, core.ActionModify); err != nil {
			return err
		}
		mapping.LeaderQty = ev.Order.Quantity
		mapping.FollowerQty = qty
		return tx.PutMapping(mapping)
	})
}

// modifiable reports whether the follower order still accepts parameter
// changes. TRANSIT counts as pending: the broker has the order but the
// exchange has not opened it yet.
func modifiable(s core.OrderStatus) bool {
	switch s {
	case core.StatusPending, core.StatusTransit, core.StatusOpen:
		return true
	}
	return false
}

// scaledQuantity sizes a modified leader quantity with the ratio frozen at
// placement time, falling back to a fresh sizing run.
func (r *Replicator) scaledQuantity(ctx context.Context, ev *core.NormalizedEvent, mapping *core.CopyMapping) int64 {
	if mapping.CapitalRatio.IsPositive() {
		if q := decimal.NewFromInt(ev.Order.Quantity).Mul(mapping.CapitalRatio).IntPart(); q > 0 {
			return q
		}
	}
	premium := ev.Order.Price
	if !premium.IsPositive() {
		premium = ev.Order.TriggerPrice
	}
	q, err := r.sizer.Quantity(ctx, ev.Order.Quantity, ev.Order.SecurityID, ev.Order.ExchangeSegment, premium)
	if err != nil || q <= 0 {
		return mapping.FollowerQty
	}
	return q
}

func scaleDisclosed(qty int64, o *core.Order) int64 {
	if o.DisclosedQty <= 0 || o.Quantity <= 0 {
		return 0
	}
	return qty * o.DisclosedQty / o.Quantity
}

func (r *Replicator) handleCancel(ctx context.Context, ev *core.NormalizedEvent, mapping *core.CopyMapping, log core.ILogger) error {
	if mapping == nil {
		return r.journalOnly(ctx, ev, core.ActionCancel)
	}

	switch mapping.Status {
	case core.MappingPending, core.MappingFailed:
		return r.store.WithTx(ctx, func(tx core.IStoreTx) error {
			if err := r.journal(tx, ev, core.ActionCancel); err != nil {
				return err
			}
			mapping.Status = core.MappingCancelled
			return tx.PutMapping(mapping)
		})
	case core.MappingCancelled:
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}

	if !r.enabled {
		return r.journalOnly(ctx, ev, core.ActionIgnore)
	}

	if err := r.dispatcher.Cancel(ctx, mapping.FollowerOrderID); err != nil {
		// A follower order that is already terminal at the broker is as
		// cancelled as it will ever be.
		if apperrors.IsTransient(err) || apperrors.KindOf(err) == apperrors.KindCircuitOpen {
			log.Error("follower cancel failed", "follower_order_id", mapping.FollowerOrderID, "error", err)
			telemetry.GetGlobalMetrics().AddReplicationFailed(ctx)
			return r.journalOnly(ctx, ev, core.ActionCancel)
		}
		log.Warn("follower cancel rejected, treating as terminal",
			"follower_order_id", mapping.FollowerOrderID, "error", err)
	}

	// Pending bracket legs are cancelled alongside the parent.
	r.cancelLegs(ctx, mapping.FollowerOrderID, "", log)

	log.Info("follower order cancelled", "follower_order_id", mapping.FollowerOrderID)
	return r.store.WithTx(ctx, func(tx core.IStoreTx) error {
		if err := r.journal(tx, ev, core.ActionCancel); err != nil {
			return err
		}
		mapping.Status = core.MappingCancelled
		return tx.PutMapping(mapping)
	})
}

func (r *Replicator) handleExecution(ctx context.Context, ev *core.NormalizedEvent, mapping *core.CopyMapping, log core.ILogger) error {
	err := r.store.WithTx(ctx, func(tx core.IStoreTx) error {
		if err := r.journal(tx, ev, core.ActionExecution); err != nil {
			return err
		}
		if ev.Order.FilledQty > 0 {
			if err := tx.PutTrade(&core.Trade{
				ID:              fmt.Sprintf("%s-%d", ev.OrderID, ev.Sequence),
				OrderID:         ev.OrderID,
				Role:            core.RoleLeader,
				ExchangeOrderID: ev.Order.ExchangeOrderID,
				SecurityID:      ev.Order.SecurityID,
				ExchangeSegment: ev.Order.ExchangeSegment,
				Side:            ev.Order.Side,
				Product:         ev.Order.Product,
				Kind:            ev.Order.Kind,
				Quantity:        ev.Order.FilledQty,
				Price:           ev.Order.AvgPrice,
				TradeTS:         ev.TS,
			}); err != nil {
				return err
			}
			delta := ev.Order.FilledQty
			if ev.Order.Side == core.SideSell {
				delta = -delta
			}
			if err := tx.UpdatePosition(core.RoleLeader, ev.Order.SecurityID,
				ev.Order.ExchangeSegment, delta, ev.Order.AvgPrice); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if ev.Status == core.StatusExecuted {
		r.handleOCO(ctx, ev, log)
	}
	return nil
}

// handleOCO cancels the sibling follower leg when a bracket target or stop
// leg executes on the leader side.
func (r *Replicator) handleOCO(ctx context.Context, ev *core.NormalizedEvent, log core.ILogger) {
	parentID := ev.Order.ParentOrderID
	leg := ev.Leg

	if parentID == "" || leg == "" {
		// The update may omit leg tagging; resolve through the leg graph
		// recorded from earlier events.
		if l, err := r.store.GetLegByOrderID(ctx, ev.OrderID); err == nil && l != nil {
			if parentID == "" {
				parentID = l.ParentOrderID
			}
			if leg == "" {
				leg = l.Leg
			}
		}
	}

	if leg == core.LegEntry {
		return
	}
	if parentID == "" || (leg != core.LegTarget && leg != core.LegStop) {
		if ev.Order.Product == core.ProductBracket {
			r.recordOCOAmbiguous(ctx, ev, log)
		}
		return
	}

	mapping, err := r.store.GetMappingByLeader(ctx, parentID)
	if err != nil || mapping == nil || mapping.Status != core.MappingPlaced {
		return
	}
	sibling := core.LegStop
	if leg == core.LegStop {
		sibling = core.LegTarget
	}
	log.Info("bracket leg executed, cancelling follower sibling",
		"leg", string(leg), "follower_parent", mapping.FollowerOrderID)
	r.cancelLegs(ctx, mapping.FollowerOrderID, sibling, log)
}

// recordOCOAmbiguous leaves a durable trace when an executed bracket leg
// cannot be resolved; siblings are left untouched.
func (r *Replicator) recordOCOAmbiguous(ctx context.Context, ev *core.NormalizedEvent, log core.ILogger) {
	err := apperrors.Newf(apperrors.KindOCOAmbiguous,
		"executed order %s cannot be resolved to a bracket parent and leg type", ev.OrderID)
	log.Error("cannot identify executed bracket leg, skipping sibling cancel", "error", err)
	telemetry.GetGlobalMetrics().AddReplicationFailed(ctx)
	if aerr := r.store.AppendAudit(ctx, &core.AuditRecord{
		Action: "oco_cancel",
		Role:   core.RoleFollower,
		Status: string(apperrors.KindOCOAmbiguous),
		Error:  err.Error(),
		TS:     time.Now().UnixMilli(),
	}); aerr != nil {
		log.Warn("audit write failed", "error", aerr)
	}
}

// cancelLegs cancels follower bracket legs of the given type (or all
// non-terminal legs when legType is empty), best-effort in the background.
// Legs are discovered from the order book so broker-created leg ids are seen.
func (r *Replicator) cancelLegs(ctx context.Context, followerParentID string, legType core.LegType, log core.ILogger) {
	if !r.enabled || followerParentID == "" {
		return
	}
	submitErr := r.cancelPool.Submit(func() {
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		orders, err := r.follower.OrderList(cctx)
		if err != nil {
			log.Warn("follower order book fetch failed", "error", err)
			return
		}
		for i := range orders {
			o := &orders[i]
			if o.ParentOrderID != followerParentID && o.ID != followerParentID {
				continue
			}
			if o.ID == followerParentID || o.Status.IsTerminal() {
				continue
			}
			if legType != "" && o.Leg != legType {
				continue
			}
			if err := r.dispatcher.Cancel(cctx, o.ID); err != nil {
				log.Warn("sibling leg cancel failed", "leg_order_id", o.ID, "error", err)
				continue
			}
			telemetry.GetGlobalMetrics().AddOCOCancel(cctx)
			werr := r.store.WithTx(cctx, func(tx core.IStoreTx) error {
				return tx.PutLeg(&core.BracketLeg{
					ParentOrderID: followerParentID,
					LegOrderID:    o.ID,
					Leg:           o.Leg,
					Role:          core.RoleFollower,
					Status:        core.StatusCancelled,
				})
			})
			if werr != nil {
				log.Warn("leg status write failed", "leg_order_id", o.ID, "error", werr)
			}
		}
	})
	if submitErr != nil {
		log.Warn("cancel pool full, sibling cancel dropped", "follower_parent", followerParentID)
	}
}

func (r *Replicator) handleReject(ctx context.Context, ev *core.NormalizedEvent, mapping *core.CopyMapping, log core.ILogger) error {
	if mapping == nil {
		return r.journalOnly(ctx, ev, core.ActionReject)
	}

	if mapping.Status == core.MappingPlaced && r.enabled {
		if err := r.dispatcher.Cancel(ctx, mapping.FollowerOrderID); err != nil {
			log.Warn("follower cancel after leader reject failed",
				"follower_order_id", mapping.FollowerOrderID, "error", err)
		}
	}

	return r.store.WithTx(ctx, func(tx core.IStoreTx) error {
		if err := r.journal(tx, ev, core.ActionReject); err != nil {
			return err
		}
		switch mapping.Status {
		case core.MappingPlaced:
			mapping.Status = core.MappingCancelled
		case core.MappingPending:
			mapping.Status = core.MappingFailed
			mapping.ErrorKind = string(apperrors.KindNonRetryable)
			mapping.ErrorMessage = "leader order rejected: " + ev.Order.OMSErrorDesc
		default:
			return nil
		}
		return tx.PutMapping(mapping)
	})
}

// recordFailure journals the event and marks the mapping failed with the
// error's kind. Only store errors propagate.
func (r *Replicator) recordFailure(ctx context.Context, ev *core.NormalizedEvent, cause error, log core.ILogger) error {
	kind := apperrors.KindOf(cause)
	log.Error("replication failed", "error", cause, "error_kind", string(kind))
	telemetry.GetGlobalMetrics().AddReplicationFailed(ctx)

	return r.store.WithTx(ctx, func(tx core.IStoreTx) error {
		if err := r.journal(tx, ev, core.ActionReplicate); err != nil {
			return err
		}
		return tx.PutMapping(&core.CopyMapping{
			LeaderOrderID:  ev.OrderID,
			LeaderQty:      ev.Order.Quantity,
			SizingStrategy: r.sizer.Strategy(),
			Status:         core.MappingFailed,
			ErrorKind:      string(kind),
			ErrorMessage:   cause.Error(),
		})
	})
}

// journal writes the leader order snapshot, any leg row the event reveals,
// the event log entry, and the watermark advance.
func (r *Replicator) journal(tx core.IStoreTx, ev *core.NormalizedEvent, action core.EventAction) error {
	o := ev.Order
	o.ID = ev.OrderID
	o.Role = core.RoleLeader
	o.Status = ev.Status
	if o.CreatedAt == 0 {
		o.CreatedAt = ev.TS
	}
	o.UpdatedAt = ev.TS
	if ev.Status.IsTerminal() {
		o.CompletedAt = ev.TS
	}
	if err := tx.PutOrder(&o); err != nil {
		return err
	}

	if o.ParentOrderID != "" && o.ParentOrderID != o.ID {
		leg := ev.Leg
		if leg == "" {
			leg = o.Leg
		}
		if leg != "" {
			if err := tx.PutLeg(&core.BracketLeg{
				ParentOrderID: o.ParentOrderID,
				LegOrderID:    o.ID,
				Leg:           leg,
				Role:          core.RoleLeader,
				Status:        ev.Status,
			}); err != nil {
				return err
			}
		}
	}

	if err := tx.AppendEvent(&core.OrderEvent{
		OrderID:  ev.OrderID,
		Sequence: ev.Sequence,
		Kind:     string(action),
		Payload:  ev.Payload,
		TS:       ev.TS,
	}); err != nil {
		return err
	}
	return tx.SetWatermark(ev.TS)
}

// journalOnly records the event with no follower side effects.
func (r *Replicator) journalOnly(ctx context.Context, ev *core.NormalizedEvent, action core.EventAction) error {
	return r.store.WithTx(ctx, func(tx core.IStoreTx) error {
		return r.journal(tx, ev, action)
	})
}
