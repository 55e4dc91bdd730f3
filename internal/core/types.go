// Package core defines the domain model and component interfaces for the
// copy-trading system.
package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Role identifies which brokerage account a record belongs to.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// Side is the transaction direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Product is the broker product type.
type Product string

const (
	ProductCash     Product = "CNC"
	ProductIntraday Product = "INTRADAY"
	ProductMargin   Product = "MARGIN"
	ProductCover    Product = "CO"
	ProductBracket  Product = "BO"
)

// OrderKind is the order pricing type.
type OrderKind string

const (
	KindMarket     OrderKind = "MARKET"
	KindLimit      OrderKind = "LIMIT"
	KindStop       OrderKind = "STOP_LOSS"
	KindStopMarket OrderKind = "STOP_LOSS_MARKET"
)

// Validity is the order time-in-force.
type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusTransit   OrderStatus = "TRANSIT"
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusExecuted  OrderStatus = "EXECUTED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// StatusFromBroker normalizes a broker wire status onto the internal set.
// Unknown values map to StatusPending so a new broker status never drops an
// order on the floor.
func StatusFromBroker(s string) OrderStatus {
	switch s {
	case "TRANSIT":
		return StatusTransit
	case "PENDING", "MODIFIED":
		return StatusPending
	case "OPEN", "TRIGGERED":
		return StatusOpen
	case "PART_TRADED", "PARTIAL":
		return StatusPartial
	case "TRADED", "EXECUTED", "FILLED":
		return StatusExecuted
	case "CANCELLED", "EXPIRED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	}
	return StatusPending
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// LegType identifies a bracket/cover order leg.
type LegType string

const (
	LegEntry  LegType = "ENTRY"
	LegTarget LegType = "TARGET"
	LegStop   LegType = "SL"
)

// MappingStatus is the replication state of a leader order.
type MappingStatus string

const (
	MappingPending   MappingStatus = "pending"
	MappingPlaced    MappingStatus = "placed"
	MappingFailed    MappingStatus = "failed"
	MappingCancelled MappingStatus = "cancelled"
)

// EventAction is the classification of an inbound order event.
type EventAction string

const (
	ActionReplicate EventAction = "replicate"
	ActionModify    EventAction = "modify"
	ActionCancel    EventAction = "cancel"
	ActionExecution EventAction = "execution"
	ActionReject    EventAction = "reject"
	ActionIgnore    EventAction = "ignore"
)

// Order is the internal representation of a broker order for either role.
type Order struct {
	ID              string
	Role            Role
	Status          OrderStatus
	Side            Side
	Product         Product
	Kind            OrderKind
	Validity        Validity
	SecurityID      string
	ExchangeSegment string
	Quantity        int64
	DisclosedQty    int64
	Price           decimal.Decimal
	TriggerPrice    decimal.Decimal

	FilledQty    int64
	RemainingQty int64
	AvgPrice     decimal.Decimal

	ExchangeOrderID string
	ExchangeTime    int64
	TradingSymbol   string
	AlgoID          string
	CorrelationID   string

	// Derivatives (F&O)
	DrvExpiry      int64
	DrvOptionType  string
	DrvStrikePrice decimal.Decimal

	// Broker rejection details
	OMSErrorCode string
	OMSErrorDesc string

	// Cover order parameters
	CoStopLossValue decimal.Decimal
	CoTriggerPrice  decimal.Decimal

	// Bracket order parameters
	BoProfitValue   decimal.Decimal
	BoStopLossValue decimal.Decimal

	// Multi-leg tracking
	ParentOrderID string
	Leg           LegType

	// After-market order
	AfterMarket bool
	AMOTime     string

	// Slicing
	Sliced        bool
	SliceGroupID  string
	SliceIndex    int
	TotalSliceQty int64

	CreatedAt   int64
	UpdatedAt   int64
	CompletedAt int64
}

// CopyMapping is the leader-to-follower order correspondence row. It is the
// single source of truth for replication idempotency.
type CopyMapping struct {
	LeaderOrderID   string
	FollowerOrderID string // empty until placed
	LeaderQty       int64
	FollowerQty     int64
	SizingStrategy  string
	CapitalRatio    decimal.Decimal
	Status          MappingStatus
	ErrorKind       string
	ErrorMessage    string
	CreatedAt       int64
	UpdatedAt       int64
}

// BracketLeg is one leg of a bracket order leg graph.
type BracketLeg struct {
	ParentOrderID string
	LegOrderID    string
	Leg           LegType
	Role          Role
	Status        OrderStatus
	CreatedAt     int64
	UpdatedAt     int64
}

// OrderEvent is one append-only row of the per-order event log.
type OrderEvent struct {
	OrderID  string
	Sequence int64
	Kind     string
	Payload  json.RawMessage
	TS       int64
}

// Trade is a single execution record.
type Trade struct {
	ID              string
	OrderID         string
	Role            Role
	ExchangeOrderID string
	ExchangeTradeID string
	SecurityID      string
	ExchangeSegment string
	Side            Side
	Product         Product
	Kind            OrderKind
	Quantity        int64
	Price           decimal.Decimal
	TradeTS         int64
}

// FundsSnapshot is a point-in-time view of an account's fund limits.
type FundsSnapshot struct {
	Role       Role
	Available  decimal.Decimal
	Utilized   decimal.Decimal
	Collateral decimal.Decimal
	CapturedAt int64
	Stale      bool // last refresh failed; values are from the previous good fetch
}

// Instrument is cached instrument metadata.
type Instrument struct {
	SecurityID      string
	ExchangeSegment string
	Symbol          string
	Name            string
	InstrumentType  string
	LotSize         int64
	TickSize        decimal.Decimal
	FreezeQty       int64 // exchange freeze limit; 0 means none
	ExpiryDate      string
	StrikePrice     decimal.Decimal
	OptionType      string
	UnderlyingID    string
	UpdatedAt       int64
}

// IsOption reports whether the instrument is an index or stock option.
func (i *Instrument) IsOption() bool {
	return i.InstrumentType == "OPTIDX" || i.InstrumentType == "OPTSTK"
}

// IsFuture reports whether the instrument is an index or stock future.
func (i *Instrument) IsFuture() bool {
	return i.InstrumentType == "FUTIDX" || i.InstrumentType == "FUTSTK"
}

// NormalizedEvent is the coordinator's typed view of one inbound stream
// message. Sequence is monotonic per order id; the raw payload is preserved
// for the event log.
type NormalizedEvent struct {
	OrderID  string
	Status   OrderStatus
	Modified bool // status carried an explicit modification marker
	Sequence int64
	Order    Order // leader order fields parsed from the payload
	Leg      LegType
	Payload  json.RawMessage
	TS       int64
	Replayed bool // delivered by gap recovery rather than the live stream
}

// PlaceParams are the follower-side placement parameters for a single-leg
// order.
type PlaceParams struct {
	SecurityID      string
	ExchangeSegment string
	Side            Side
	Product         Product
	Kind            OrderKind
	Validity        Validity
	Quantity        int64
	DisclosedQty    int64
	Price           decimal.Decimal
	TriggerPrice    decimal.Decimal
	CorrelationID   string
	AfterMarket     bool
	AMOTime         string
}

// CoverParams extend PlaceParams with the mandatory stop-loss leg.
type CoverParams struct {
	PlaceParams
	StopLossValue decimal.Decimal
}

// BracketParams extend PlaceParams with target and stop legs.
type BracketParams struct {
	PlaceParams
	ProfitValue   decimal.Decimal
	StopLossValue decimal.Decimal
}

// ModifyPatch carries the fields a modification replays onto the follower
// order. Quantity is the total quantity, not a delta.
type ModifyPatch struct {
	Kind          OrderKind
	Validity      Validity
	Quantity      int64
	DisclosedQty  int64
	Price         decimal.Decimal
	TriggerPrice  decimal.Decimal
	CoStopLoss    decimal.Decimal
	CoTrigger     decimal.Decimal
	BoProfit      decimal.Decimal
	BoStopLoss    decimal.Decimal
	CorrelationID string
}

// PlaceResult is the broker's answer to a placement command.
type PlaceResult struct {
	OrderID  string
	OrderIDs []string // populated for sliced placements; OrderID is the first
	Raw      json.RawMessage
}

// AuditRecord captures one outbound command invocation with timing.
type AuditRecord struct {
	Action     string
	Role       Role
	Request    json.RawMessage
	Response   json.RawMessage
	Status     string
	DurationMS int64
	Error      string
	TS         int64
}

// StreamState is the coordinator's connection state.
type StreamState string

const (
	StreamDisconnected StreamState = "disconnected"
	StreamConnecting   StreamState = "connecting"
	StreamLive         StreamState = "live"
	StreamDegraded     StreamState = "degraded"
	StreamReconnecting StreamState = "reconnecting"
	StreamStopped      StreamState = "stopped"
)
