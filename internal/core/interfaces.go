package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IStoreTx is the transactional write surface of the store. One replication
// decision (order upsert, mapping transition, event append, watermark
// advance) commits as a single unit through it.
type IStoreTx interface {
	PutOrder(order *Order) error
	PutMapping(m *CopyMapping) error
	AppendEvent(ev *OrderEvent) error
	PutLeg(leg *BracketLeg) error
	UpdateLegStatus(legOrderID string, status OrderStatus) error
	PutTrade(t *Trade) error
	UpdatePosition(role Role, securityID, exchangeSegment string, qtyDelta int64, price decimal.Decimal) error
	SetWatermark(ts int64) error
}

// IStore is the persistence layer. Writers are serialized internally;
// readers may run concurrently.
type IStore interface {
	WithTx(ctx context.Context, fn func(tx IStoreTx) error) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	GetMappingByLeader(ctx context.Context, leaderID string) (*CopyMapping, error)
	GetMappingByFollower(ctx context.Context, followerID string) (*CopyMapping, error)
	ListLegs(ctx context.Context, parentID string) ([]*BracketLeg, error)
	GetLegByOrderID(ctx context.Context, legOrderID string) (*BracketLeg, error)
	HasEvent(ctx context.Context, orderID string, seq int64) (bool, error)
	NextSequence(ctx context.Context, orderID string) (int64, error)
	GetWatermark(ctx context.Context) (int64, error)

	PutFunds(ctx context.Context, f *FundsSnapshot) error
	PutInstrument(ctx context.Context, in *Instrument) error
	GetInstrument(ctx context.Context, securityID string) (*Instrument, error)
	AppendAudit(ctx context.Context, rec *AuditRecord) error

	Ping(ctx context.Context) error
	Close() error
}

// IBrokerClient is the per-role broker API collaborator. Implementations map
// transport failures onto the shared error taxonomy.
type IBrokerClient interface {
	Role() Role
	FundLimits(ctx context.Context) (*FundsSnapshot, error)
	PlaceOrder(ctx context.Context, p *PlaceParams) (*PlaceResult, error)
	PlaceSlicedOrder(ctx context.Context, p *PlaceParams) (*PlaceResult, error)
	PlaceCoverOrder(ctx context.Context, p *CoverParams) (*PlaceResult, error)
	PlaceBracketOrder(ctx context.Context, p *BracketParams) (*PlaceResult, error)
	ModifyOrder(ctx context.Context, orderID string, patch *ModifyPatch) (*PlaceResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderList(ctx context.Context) ([]Order, error)
	InstrumentDetail(ctx context.Context, securityID, exchangeSegment string) (*Instrument, error)
	CheckHealth(ctx context.Context) error
}

// ISizer computes follower quantities and validates margin.
type ISizer interface {
	Quantity(ctx context.Context, leaderQty int64, securityID, exchangeSegment string, premium decimal.Decimal) (int64, error)
	ValidateMargin(ctx context.Context, qty int64, securityID string, premium decimal.Decimal) error
	CapitalRatio(ctx context.Context) (decimal.Decimal, error)
	Strategy() string
}

// IDispatcher issues follower commands under rate limiting, retry, and
// circuit breaking. Every invocation is audited.
type IDispatcher interface {
	PlaceSingle(ctx context.Context, p *PlaceParams) (*PlaceResult, error)
	PlaceCover(ctx context.Context, p *CoverParams) (*PlaceResult, error)
	PlaceBracket(ctx context.Context, p *BracketParams) (*PlaceResult, error)
	PlaceSliced(ctx context.Context, p *PlaceParams) (*PlaceResult, error)
	Modify(ctx context.Context, orderID string, patch *ModifyPatch) (*PlaceResult, error)
	Cancel(ctx context.Context, orderID string) error
	CircuitOpen() bool
}

// IReplicator consumes normalized events and drives follower actions.
type IReplicator interface {
	HandleEvent(ctx context.Context, ev *NormalizedEvent) error
}

// IInstrumentCache is the read-mostly instrument metadata cache.
type IInstrumentCache interface {
	Get(ctx context.Context, securityID, exchangeSegment string) (*Instrument, error)
}

// HealthCheck is the outcome of one component health probe.
type HealthCheck struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	CheckedAt int64  `json:"checked_at"`
}

// IHealthMonitor aggregates component health probes.
type IHealthMonitor interface {
	Register(component string, probe func() error)
	Report() []HealthCheck
	IsHealthy() bool
}
