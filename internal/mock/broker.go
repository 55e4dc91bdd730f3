// Package mock provides in-memory collaborators for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"copytrader/internal/core"
)

// Broker implements core.IBrokerClient with in-memory state. Failure modes
// are scripted by setting the error fields.
type Broker struct {
	mu sync.Mutex

	AccountRole core.Role
	Funds       core.FundsSnapshot
	Instruments map[string]*core.Instrument

	orders    map[string]*core.Order
	idCounter int

	PlaceErr      error
	ModifyErr     error
	CancelErr     error
	FundsErr      error
	OrderListErr  error
	InstrumentErr error

	PlaceCalls  []core.PlaceParams
	ModifyCalls []string
	CancelCalls []string
}

// NewBroker creates a mock broker with the given available balance.
func NewBroker(role core.Role, available float64) *Broker {
	return &Broker{
		AccountRole: role,
		Funds: core.FundsSnapshot{
			Role:      role,
			Available: decimal.NewFromFloat(available),
		},
		Instruments: make(map[string]*core.Instrument),
		orders:      make(map[string]*core.Order),
		idCounter:   1000,
	}
}

func (b *Broker) Role() core.Role { return b.AccountRole }

func (b *Broker) FundLimits(ctx context.Context) (*core.FundsSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FundsErr != nil {
		return nil, b.FundsErr
	}
	f := b.Funds
	return &f, nil
}

func (b *Broker) nextID() string {
	b.idCounter++
	return fmt.Sprintf("F%d", b.idCounter)
}

func (b *Broker) record(p *core.PlaceParams, product core.Product) *core.Order {
	id := b.nextID()
	o := &core.Order{
		ID:              id,
		Role:            b.AccountRole,
		Status:          core.StatusTransit,
		Side:            p.Side,
		Product:         product,
		Kind:            p.Kind,
		Validity:        p.Validity,
		SecurityID:      p.SecurityID,
		ExchangeSegment: p.ExchangeSegment,
		Quantity:        p.Quantity,
		DisclosedQty:    p.DisclosedQty,
		Price:           p.Price,
		TriggerPrice:    p.TriggerPrice,
		CorrelationID:   p.CorrelationID,
	}
	b.orders[id] = o
	return o
}

func (b *Broker) PlaceOrder(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PlaceCalls = append(b.PlaceCalls, *p)
	if b.PlaceErr != nil {
		return nil, b.PlaceErr
	}
	o := b.record(p, p.Product)
	return &core.PlaceResult{OrderID: o.ID}, nil
}

func (b *Broker) PlaceSlicedOrder(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PlaceCalls = append(b.PlaceCalls, *p)
	if b.PlaceErr != nil {
		return nil, b.PlaceErr
	}
	first := b.record(p, p.Product)
	second := b.record(p, p.Product)
	return &core.PlaceResult{OrderID: first.ID, OrderIDs: []string{first.ID, second.ID}}, nil
}

func (b *Broker) PlaceCoverOrder(ctx context.Context, p *core.CoverParams) (*core.PlaceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PlaceCalls = append(b.PlaceCalls, p.PlaceParams)
	if b.PlaceErr != nil {
		return nil, b.PlaceErr
	}
	o := b.record(&p.PlaceParams, core.ProductCover)
	return &core.PlaceResult{OrderID: o.ID}, nil
}

func (b *Broker) PlaceBracketOrder(ctx context.Context, p *core.BracketParams) (*core.PlaceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PlaceCalls = append(b.PlaceCalls, p.PlaceParams)
	if b.PlaceErr != nil {
		return nil, b.PlaceErr
	}
	o := b.record(&p.PlaceParams, core.ProductBracket)
	return &core.PlaceResult{OrderID: o.ID}, nil
}

func (b *Broker) ModifyOrder(ctx context.Context, orderID string, patch *core.ModifyPatch) (*core.PlaceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ModifyCalls = append(b.ModifyCalls, orderID)
	if b.ModifyErr != nil {
		return nil, b.ModifyErr
	}
	if o, ok := b.orders[orderID]; ok {
		o.Quantity = patch.Quantity
		o.Price = patch.Price
		o.TriggerPrice = patch.TriggerPrice
	}
	return &core.PlaceResult{OrderID: orderID}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CancelCalls = append(b.CancelCalls, orderID)
	if b.CancelErr != nil {
		return b.CancelErr
	}
	if o, ok := b.orders[orderID]; ok {
		o.Status = core.StatusCancelled
	}
	return nil
}

func (b *Broker) OrderList(ctx context.Context) ([]core.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OrderListErr != nil {
		return nil, b.OrderListErr
	}
	out := make([]core.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out, nil
}

// AddOrder seeds the mock order book.
func (b *Broker) AddOrder(o core.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[o.ID] = &o
}

// Order returns a recorded order by id.
func (b *Broker) Order(id string) *core.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders[id]
}

func (b *Broker) InstrumentDetail(ctx context.Context, securityID, exchangeSegment string) (*core.Instrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.InstrumentErr != nil {
		return nil, b.InstrumentErr
	}
	if in, ok := b.Instruments[securityID]; ok {
		return in, nil
	}
	return &core.Instrument{
		SecurityID:      securityID,
		ExchangeSegment: exchangeSegment,
		Symbol:          securityID,
		LotSize:         1,
	}, nil
}

func (b *Broker) CheckHealth(ctx context.Context) error {
	if b.FundsErr != nil {
		return b.FundsErr
	}
	return nil
}
