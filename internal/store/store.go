// Package store implements the durable replication journal on sqlite. All
// writes are serialized through a single writer; one replication decision
// commits atomically through WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
)

const watermarkKey = "last_leader_event_ts"

// Store is the sqlite-backed implementation of core.IStore.
type Store struct {
	db      *sql.DB
	log     core.ILogger
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, log core.ILogger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStore, "open database", err)
	}

	// sqlite allows one writer at a time; keep the pool at one connection so
	// the in-process mutex is the only serialization point.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.KindStore, "ping database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.KindStore, "apply schema", err)
	}

	log.Info("store opened", "path", path)
	return &Store{db: db, log: log}, nil
}

// WithTx runs fn inside a single transaction. The transaction commits only if
// fn returns nil; any error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.IStoreTx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "begin transaction", err)
	}

	st := &storeTx{tx: tx, now: time.Now().UnixMilli()}
	if err := fn(st); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.KindStore, "commit transaction", err)
	}
	return nil
}

// GetOrder returns the order with the given id, or nil if absent.
func (s *Store) GetOrder(ctx context.Context, id string) (*core.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStore, "get order", err)
	}
	return o, nil
}

// GetMappingByLeader returns the mapping for a leader order id, or nil.
func (s *Store) GetMappingByLeader(ctx context.Context, leaderID string) (*core.CopyMapping, error) {
	return s.getMapping(ctx, "leader_order_id", leaderID)
}

// GetMappingByFollower returns the mapping for a follower order id, or nil.
func (s *Store) GetMappingByFollower(ctx context.Context, followerID string) (*core.CopyMapping, error) {
	return s.getMapping(ctx, "follower_order_id", followerID)
}

func (s *Store) getMapping(ctx context.Context, col, id string) (*core.CopyMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT leader_order_id, follower_order_id, leader_qty, follower_qty,
		       sizing_strategy, capital_ratio, status, error_kind, error_message,
		       created_at, updated_at
		FROM copy_mappings WHERE `+col+` = ?`, id)

	var m core.CopyMapping
	var follower, strategy, ratio, errKind, errMsg sql.NullString
	err := row.Scan(&m.LeaderOrderID, &follower, &m.LeaderQty, &m.FollowerQty,
		&strategy, &ratio, &m.Status, &errKind, &errMsg, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStore, "get mapping", err)
	}
	m.FollowerOrderID = follower.String
	m.SizingStrategy = strategy.String
	m.CapitalRatio = decFrom(ratio.String)
	m.ErrorKind = errKind.String
	m.ErrorMessage = errMsg.String
	return &m, nil
}

// ListLegs returns the bracket legs of a parent order for the given role set.
func (s *Store) ListLegs(ctx context.Context, parentID string) ([]*core.BracketLeg, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_order_id, leg_order_id, leg_type, role, status, created_at, updated_at
		FROM bracket_order_legs WHERE parent_order_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStore, "list legs", err)
	}
	defer rows.Close()

	var legs []*core.BracketLeg
	for rows.Next() {
		var l core.BracketLeg
		if err := rows.Scan(&l.ParentOrderID, &l.LegOrderID, &l.Leg, &l.Role,
			&l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStore, "scan leg", err)
		}
		legs = append(legs, &l)
	}
	return legs, rows.Err()
}

// GetLegByOrderID returns the bracket leg row for a leg order id, or nil.
func (s *Store) GetLegByOrderID(ctx context.Context, legOrderID string) (*core.BracketLeg, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT parent_order_id, leg_order_id, leg_type, role, status, created_at, updated_at
		FROM bracket_order_legs WHERE leg_order_id = ?`, legOrderID)

	var l core.BracketLeg
	err := row.Scan(&l.ParentOrderID, &l.LegOrderID, &l.Leg, &l.Role,
		&l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStore, "get leg", err)
	}
	return &l, nil
}

// HasEvent reports whether (orderID, seq) already exists in the event log.
func (s *Store) HasEvent(ctx context.Context, orderID string, seq int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM order_events WHERE order_id = ? AND sequence = ?`,
		orderID, seq).Scan(&n)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStore, "has event", err)
	}
	return n > 0, nil
}

// NextSequence returns max(sequence)+1 for the order, starting at 1.
func (s *Store) NextSequence(ctx context.Context, orderID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM order_events WHERE order_id = ?`,
		orderID).Scan(&next)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStore, "next sequence", err)
	}
	return next, nil
}

// GetWatermark returns the durable replication watermark, 0 if never set.
func (s *Store) GetWatermark(ctx context.Context) (int64, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, watermarkKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStore, "get watermark", err)
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStore, "parse watermark", err)
	}
	return ts, nil
}

// PutFunds appends a funds snapshot row. History is kept for later review.
func (s *Store) PutFunds(ctx context.Context, f *core.FundsSnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO funds (role, available, utilized, collateral, captured_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.Role, f.Available.String(), f.Utilized.String(), f.Collateral.String(), f.CapturedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "put funds", err)
	}
	return nil
}

// PutInstrument upserts cached instrument metadata.
func (s *Store) PutInstrument(ctx context.Context, in *core.Instrument) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (security_id, exchange_segment, symbol, name,
			instrument_type, lot_size, tick_size, freeze_qty, expiry_date,
			strike_price, option_type, underlying_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(security_id, exchange_segment) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			instrument_type = excluded.instrument_type,
			lot_size = excluded.lot_size,
			tick_size = excluded.tick_size,
			freeze_qty = excluded.freeze_qty,
			expiry_date = excluded.expiry_date,
			strike_price = excluded.strike_price,
			option_type = excluded.option_type,
			underlying_id = excluded.underlying_id,
			updated_at = excluded.updated_at`,
		in.SecurityID, in.ExchangeSegment, in.Symbol, in.Name, in.InstrumentType,
		in.LotSize, in.TickSize.String(), in.FreezeQty, in.ExpiryDate,
		in.StrikePrice.String(), in.OptionType, in.UnderlyingID, in.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "put instrument", err)
	}
	return nil
}

// GetInstrument returns cached instrument metadata by security id, or nil.
func (s *Store) GetInstrument(ctx context.Context, securityID string) (*core.Instrument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT security_id, exchange_segment, symbol, name, instrument_type,
		       lot_size, tick_size, freeze_qty, expiry_date, strike_price,
		       option_type, underlying_id, updated_at
		FROM instruments WHERE security_id = ?`, securityID)

	var in core.Instrument
	var name, itype, tick, expiry, strike, optType, underlying sql.NullString
	err := row.Scan(&in.SecurityID, &in.ExchangeSegment, &in.Symbol, &name, &itype,
		&in.LotSize, &tick, &in.FreezeQty, &expiry, &strike, &optType, &underlying,
		&in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStore, "get instrument", err)
	}
	in.Name = name.String
	in.InstrumentType = itype.String
	in.TickSize = decFrom(tick.String)
	in.ExpiryDate = expiry.String
	in.StrikePrice = decFrom(strike.String)
	in.OptionType = optType.String
	in.UnderlyingID = underlying.String
	return &in, nil
}

// AppendAudit records one outbound command invocation.
func (s *Store) AppendAudit(ctx context.Context, rec *core.AuditRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, role, request, response, status, duration_ms, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Action, rec.Role, string(rec.Request), string(rec.Response),
		rec.Status, rec.DurationMS, rec.Error, rec.TS)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "append audit", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindStore, "ping", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// storeTx implements core.IStoreTx over one open transaction.
type storeTx struct {
	tx  *sql.Tx
	now int64
}

// PutOrder upserts an order row. Immutable identity fields of an existing row
// must not change; a conflicting write is rejected.
func (t *storeTx) PutOrder(o *core.Order) error {
	var side, secID, segment, role string
	err := t.tx.QueryRow(
		`SELECT side, security_id, exchange_segment, role FROM orders WHERE id = ?`,
		o.ID).Scan(&side, &secID, &segment, &role)
	switch {
	case err == sql.ErrNoRows:
		// new row
	case err != nil:
		return apperrors.Wrap(apperrors.KindStore, "check order", err)
	default:
		if side != string(o.Side) || secID != o.SecurityID ||
			segment != o.ExchangeSegment || role != string(o.Role) {
			return apperrors.Newf(apperrors.KindConflict,
				"order %s identity fields changed (have %s/%s/%s/%s)", o.ID, role, side, secID, segment)
		}
	}

	createdAt := o.CreatedAt
	if createdAt == 0 {
		createdAt = t.now
	}
	updatedAt := o.UpdatedAt
	if updatedAt == 0 {
		updatedAt = t.now
	}

	_, err = t.tx.Exec(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			kind = excluded.kind,
			validity = excluded.validity,
			quantity = excluded.quantity,
			disclosed_qty = excluded.disclosed_qty,
			price = excluded.price,
			trigger_price = excluded.trigger_price,
			filled_qty = excluded.filled_qty,
			remaining_qty = excluded.remaining_qty,
			avg_price = excluded.avg_price,
			exchange_order_id = excluded.exchange_order_id,
			exchange_time = excluded.exchange_time,
			trading_symbol = excluded.trading_symbol,
			oms_error_code = excluded.oms_error_code,
			oms_error_desc = excluded.oms_error_desc,
			co_stop_loss = excluded.co_stop_loss,
			co_trigger = excluded.co_trigger,
			bo_profit = excluded.bo_profit,
			bo_stop_loss = excluded.bo_stop_loss,
			parent_order_id = excluded.parent_order_id,
			leg_type = excluded.leg_type,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		o.ID, o.Role, o.Status, o.Side, o.Product, o.Kind, o.Validity,
		o.SecurityID, o.ExchangeSegment, o.Quantity, o.DisclosedQty,
		o.Price.String(), o.TriggerPrice.String(), o.FilledQty, o.RemainingQty,
		o.AvgPrice.String(), o.ExchangeOrderID, o.ExchangeTime, o.TradingSymbol,
		o.AlgoID, o.CorrelationID, o.DrvExpiry, o.DrvOptionType,
		o.DrvStrikePrice.String(), o.OMSErrorCode, o.OMSErrorDesc,
		o.CoStopLossValue.String(), o.CoTriggerPrice.String(),
		o.BoProfitValue.String(), o.BoStopLossValue.String(),
		o.ParentOrderID, string(o.Leg), boolToInt(o.AfterMarket), o.AMOTime,
		boolToInt(o.Sliced), o.SliceGroupID, o.SliceIndex, o.TotalSliceQty,
		createdAt, updatedAt, o.CompletedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "put order", err)
	}
	return nil
}

// PutMapping upserts a correspondence row. Once placed, the follower id is
// immutable and status may not regress to pending.
func (t *storeTx) PutMapping(m *core.CopyMapping) error {
	var curStatus string
	var curFollower sql.NullString
	err := t.tx.QueryRow(
		`SELECT status, follower_order_id FROM copy_mappings WHERE leader_order_id = ?`,
		m.LeaderOrderID).Scan(&curStatus, &curFollower)
	switch {
	case err == sql.ErrNoRows:
		// new row
	case err != nil:
		return apperrors.Wrap(apperrors.KindStore, "check mapping", err)
	default:
		if curFollower.String != "" && m.FollowerOrderID != "" && curFollower.String != m.FollowerOrderID {
			return apperrors.Newf(apperrors.KindConflict,
				"mapping %s already bound to follower order %s", m.LeaderOrderID, curFollower.String)
		}
		if curFollower.String != "" && m.FollowerOrderID == "" {
			return apperrors.Newf(apperrors.KindConflict,
				"mapping %s write would clear follower order id", m.LeaderOrderID)
		}
		if regresses(core.MappingStatus(curStatus), m.Status) {
			return apperrors.Newf(apperrors.KindConflict,
				"mapping %s status %s cannot move to %s", m.LeaderOrderID, curStatus, m.Status)
		}
	}

	createdAt := m.CreatedAt
	if createdAt == 0 {
		createdAt = t.now
	}

	_, err = t.tx.Exec(`
		INSERT INTO copy_mappings (leader_order_id, follower_order_id, leader_qty,
			follower_qty, sizing_strategy, capital_ratio, status, error_kind,
			error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(leader_order_id) DO UPDATE SET
			follower_order_id = excluded.follower_order_id,
			leader_qty = excluded.leader_qty,
			follower_qty = excluded.follower_qty,
			sizing_strategy = excluded.sizing_strategy,
			capital_ratio = excluded.capital_ratio,
			status = excluded.status,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		m.LeaderOrderID, nullIfEmpty(m.FollowerOrderID), m.LeaderQty, m.FollowerQty,
		m.SizingStrategy, m.CapitalRatio.String(), m.Status, m.ErrorKind,
		m.ErrorMessage, createdAt, t.now)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "put mapping", err)
	}
	return nil
}

// AppendEvent inserts one event log row. A duplicate (order_id, sequence) is
// silently ignored so redelivery is a no-op.
func (t *storeTx) AppendEvent(ev *core.OrderEvent) error {
	_, err := t.tx.Exec(`
		INSERT OR IGNORE INTO order_events (order_id, sequence, kind, payload, ts)
		VALUES (?, ?, ?, ?, ?)`,
		ev.OrderID, ev.Sequence, ev.Kind, string(ev.Payload), ev.TS)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "append event", err)
	}
	return nil
}

// PutLeg upserts one bracket leg row keyed by leg order id.
func (t *storeTx) PutLeg(leg *core.BracketLeg) error {
	createdAt := leg.CreatedAt
	if createdAt == 0 {
		createdAt = t.now
	}
	_, err := t.tx.Exec(`
		INSERT INTO bracket_order_legs (parent_order_id, leg_order_id, leg_type,
			role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(leg_order_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		leg.ParentOrderID, leg.LegOrderID, leg.Leg, leg.Role, leg.Status,
		createdAt, t.now)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "put leg", err)
	}
	return nil
}

// UpdateLegStatus sets the status of one leg by its order id.
func (t *storeTx) UpdateLegStatus(legOrderID string, status core.OrderStatus) error {
	res, err := t.tx.Exec(
		`UPDATE bracket_order_legs SET status = ?, updated_at = ? WHERE leg_order_id = ?`,
		status, t.now, legOrderID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "update leg status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "update leg status", err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.KindStore, "leg %s not found", legOrderID)
	}
	return nil
}

// PutTrade records one execution. Replays of the same trade id overwrite.
func (t *storeTx) PutTrade(tr *core.Trade) error {
	_, err := t.tx.Exec(`
		INSERT OR REPLACE INTO trades (id, order_id, role, exchange_order_id,
			exchange_trade_id, security_id, exchange_segment, side, product,
			kind, quantity, price, trade_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.OrderID, tr.Role, tr.ExchangeOrderID, tr.ExchangeTradeID,
		tr.SecurityID, tr.ExchangeSegment, tr.Side, tr.Product, tr.Kind,
		tr.Quantity, tr.Price.String(), tr.TradeTS)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "put trade", err)
	}
	return nil
}

// UpdatePosition applies a signed quantity delta to the (role, security)
// position row, creating it on first fill.
func (t *storeTx) UpdatePosition(role core.Role, securityID, exchangeSegment string, qtyDelta int64, price decimal.Decimal) error {
	_, err := t.tx.Exec(`
		INSERT INTO positions (role, security_id, exchange_segment, quantity, avg_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(role, security_id, exchange_segment) DO UPDATE SET
			quantity = positions.quantity + excluded.quantity,
			avg_price = excluded.avg_price,
			updated_at = excluded.updated_at`,
		role, securityID, exchangeSegment, qtyDelta, price.String(), t.now)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "update position", err)
	}
	return nil
}

// SetWatermark advances the durable watermark. Writes that would move it
// backwards are ignored.
func (t *storeTx) SetWatermark(ts int64) error {
	_, err := t.tx.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		WHERE CAST(excluded.value AS INTEGER) > CAST(config.value AS INTEGER)`,
		watermarkKey, strconv.FormatInt(ts, 10))
	if err != nil {
		return apperrors.Wrap(apperrors.KindStore, "set watermark", err)
	}
	return nil
}

const orderColumns = `id, role, status, side, product, kind, validity,
	security_id, exchange_segment, quantity, disclosed_qty, price, trigger_price,
	filled_qty, remaining_qty, avg_price, exchange_order_id, exchange_time,
	trading_symbol, algo_id, correlation_id, drv_expiry, drv_option_type,
	drv_strike_price, oms_error_code, oms_error_desc, co_stop_loss, co_trigger,
	bo_profit, bo_stop_loss, parent_order_id, leg_type, after_market, amo_time,
	sliced, slice_group_id, slice_index, total_slice_qty, created_at, updated_at,
	completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*core.Order, error) {
	var o core.Order
	var price, trigger, avgPrice, drvStrike, coSL, coTrig, boProfit, boSL string
	var exchOrderID, tradingSymbol, algoID, corrID, drvOptType sql.NullString
	var omsCode, omsDesc, parentID, legType, amoTime, sliceGroup sql.NullString
	var exchTime, drvExpiry, sliceIndex, totalSliceQty, completedAt sql.NullInt64
	var afterMarket, sliced int

	err := row.Scan(&o.ID, &o.Role, &o.Status, &o.Side, &o.Product, &o.Kind,
		&o.Validity, &o.SecurityID, &o.ExchangeSegment, &o.Quantity,
		&o.DisclosedQty, &price, &trigger, &o.FilledQty, &o.RemainingQty,
		&avgPrice, &exchOrderID, &exchTime, &tradingSymbol, &algoID, &corrID,
		&drvExpiry, &drvOptType, &drvStrike, &omsCode, &omsDesc, &coSL, &coTrig,
		&boProfit, &boSL, &parentID, &legType, &afterMarket, &amoTime, &sliced,
		&sliceGroup, &sliceIndex, &totalSliceQty, &o.CreatedAt, &o.UpdatedAt,
		&completedAt)
	if err != nil {
		return nil, err
	}

	o.Price = decFrom(price)
	o.TriggerPrice = decFrom(trigger)
	o.AvgPrice = decFrom(avgPrice)
	o.DrvStrikePrice = decFrom(drvStrike)
	o.CoStopLossValue = decFrom(coSL)
	o.CoTriggerPrice = decFrom(coTrig)
	o.BoProfitValue = decFrom(boProfit)
	o.BoStopLossValue = decFrom(boSL)
	o.ExchangeOrderID = exchOrderID.String
	o.ExchangeTime = exchTime.Int64
	o.TradingSymbol = tradingSymbol.String
	o.AlgoID = algoID.String
	o.CorrelationID = corrID.String
	o.DrvExpiry = drvExpiry.Int64
	o.DrvOptionType = drvOptType.String
	o.OMSErrorCode = omsCode.String
	o.OMSErrorDesc = omsDesc.String
	o.ParentOrderID = parentID.String
	o.Leg = core.LegType(legType.String)
	o.AfterMarket = afterMarket != 0
	o.AMOTime = amoTime.String
	o.Sliced = sliced != 0
	o.SliceGroupID = sliceGroup.String
	o.SliceIndex = int(sliceIndex.Int64)
	o.TotalSliceQty = totalSliceQty.Int64
	o.CompletedAt = completedAt.Int64
	return &o, nil
}

// regresses reports whether a mapping status transition goes backwards.
func regresses(from, to core.MappingStatus) bool {
	switch from {
	case core.MappingPlaced:
		return to == core.MappingPending
	case core.MappingCancelled:
		return to != core.MappingCancelled
	}
	return false
}

func decFrom(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
