// Package broker implements the DHAN-style REST order API client for one
// brokerage account. All failures are classified onto the shared error
// taxonomy before they leave this package.
package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"copytrader/internal/config"
	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	apihttp "copytrader/pkg/http"
)

// Client talks to the order API on behalf of one account (leader or
// follower). It is safe for concurrent use.
type Client struct {
	role     core.Role
	clientID string
	http     *apihttp.Client
	log      core.ILogger
}

// headerSigner authenticates requests with the account's token headers.
type headerSigner struct {
	clientID string
	token    config.Secret
}

func (s *headerSigner) SignRequest(req *http.Request) error {
	req.Header.Set("access-token", s.token.Reveal())
	req.Header.Set("client-id", s.clientID)
	req.Header.Set("Accept", "application/json")
	return nil
}

// NewClient creates a broker client for one account.
func NewClient(role core.Role, acct config.AccountConfig, baseURL string, timeout time.Duration, log core.ILogger) *Client {
	signer := &headerSigner{clientID: acct.ClientID, token: acct.AccessToken}
	return &Client{
		role:     role,
		clientID: acct.ClientID,
		http:     apihttp.NewClient(baseURL, timeout, signer),
		log:      log.WithField("role", string(role)),
	}
}

// Role returns which account this client acts for.
func (c *Client) Role() core.Role {
	return c.role
}

// FundLimits fetches the account's current fund limits.
func (c *Client) FundLimits(ctx context.Context) (*core.FundsSnapshot, error) {
	body, err := c.http.Get(ctx, pathFundLimit, nil)
	if err != nil {
		return nil, classify("fund limits", err)
	}
	var resp fundsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, "decode fund limits", err)
	}
	return &core.FundsSnapshot{
		Role:       c.role,
		Available:  decimal.NewFromFloat(resp.AvailabelBalance),
		Utilized:   decimal.NewFromFloat(resp.UtilizedAmount),
		Collateral: decimal.NewFromFloat(resp.CollateralAmount),
		CapturedAt: time.Now().UnixMilli(),
	}, nil
}

// PlaceOrder places a single-leg order.
func (c *Client) PlaceOrder(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	return c.place(ctx, pathOrders, c.orderRequest(p))
}

// PlaceSlicedOrder places a quantity above the freeze limit through the
// slicing endpoint. The broker fans it out into multiple child orders.
func (c *Client) PlaceSlicedOrder(ctx context.Context, p *core.PlaceParams) (*core.PlaceResult, error) {
	body, err := c.http.Post(ctx, pathOrderSlicing, c.orderRequest(p))
	if err != nil {
		return nil, classify("place sliced order", err)
	}
	var resps []orderResponse
	if err := json.Unmarshal(body, &resps); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, "decode sliced order response", err)
	}
	if len(resps) == 0 {
		return nil, apperrors.New(apperrors.KindNonRetryable, "sliced placement returned no orders")
	}
	ids := make([]string, 0, len(resps))
	for _, r := range resps {
		if r.OrderStatus == "REJECTED" {
			return nil, apperrors.Newf(apperrors.KindNonRetryable, "sliced child %s rejected", r.OrderID)
		}
		ids = append(ids, r.OrderID)
	}
	return &core.PlaceResult{OrderID: ids[0], OrderIDs: ids, Raw: body}, nil
}

// PlaceCoverOrder places a cover order with its mandatory stop-loss leg.
func (c *Client) PlaceCoverOrder(ctx context.Context, p *core.CoverParams) (*core.PlaceResult, error) {
	req := c.orderRequest(&p.PlaceParams)
	req.ProductType = string(core.ProductCover)
	req.BoStopLossValue = p.StopLossValue.InexactFloat64()
	return c.place(ctx, pathOrders, req)
}

// PlaceBracketOrder places a bracket order with target and stop legs.
func (c *Client) PlaceBracketOrder(ctx context.Context, p *core.BracketParams) (*core.PlaceResult, error) {
	req := c.orderRequest(&p.PlaceParams)
	req.ProductType = string(core.ProductBracket)
	req.BoProfitValue = p.ProfitValue.InexactFloat64()
	req.BoStopLossValue = p.StopLossValue.InexactFloat64()
	return c.place(ctx, pathOrders, req)
}

// ModifyOrder replays changed parameters onto a pending order. Quantity is
// the total quantity, not a delta.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, patch *core.ModifyPatch) (*core.PlaceResult, error) {
	req := modifyRequest{
		DhanClientID:      c.clientID,
		OrderID:           orderID,
		OrderType:         string(patch.Kind),
		Quantity:          patch.Quantity,
		DisclosedQuantity: patch.DisclosedQty,
		Price:             patch.Price.InexactFloat64(),
		TriggerPrice:      patch.TriggerPrice.InexactFloat64(),
		Validity:          string(patch.Validity),
	}
	body, err := c.http.Put(ctx, pathOrders+"/"+orderID, req)
	if err != nil {
		return nil, classify("modify order", err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, "decode modify response", err)
	}
	return &core.PlaceResult{OrderID: resp.OrderID, Raw: body}, nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.http.Delete(ctx, pathOrders+"/"+orderID, nil)
	if err != nil {
		return classify("cancel order", err)
	}
	return nil
}

// OrderList fetches the full order book for the day.
func (c *Client) OrderList(ctx context.Context) ([]core.Order, error) {
	body, err := c.http.Get(ctx, pathOrders, nil)
	if err != nil {
		return nil, classify("order list", err)
	}
	var details []orderDetail
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, "decode order list", err)
	}
	orders := make([]core.Order, 0, len(details))
	for i := range details {
		orders = append(orders, details[i].toOrder(c.role))
	}
	return orders, nil
}

// InstrumentDetail fetches metadata for one security.
func (c *Client) InstrumentDetail(ctx context.Context, securityID, exchangeSegment string) (*core.Instrument, error) {
	body, err := c.http.Get(ctx, pathInstrument+"/"+exchangeSegment+"/"+securityID, nil)
	if err != nil {
		return nil, classify("instrument detail", err)
	}
	var resp instrumentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, "decode instrument detail", err)
	}
	lotSize := resp.LotSize
	if lotSize < 1 {
		lotSize = 1
	}
	return &core.Instrument{
		SecurityID:      resp.SecurityID,
		ExchangeSegment: resp.ExchangeSegment,
		Symbol:          resp.TradingSymbol,
		Name:            resp.SymbolName,
		InstrumentType:  resp.InstrumentType,
		LotSize:         lotSize,
		TickSize:        decimal.NewFromFloat(resp.TickSize),
		FreezeQty:       resp.FreezeQty,
		ExpiryDate:      resp.ExpiryDate,
		StrikePrice:     decimal.NewFromFloat(resp.StrikePrice),
		OptionType:      resp.OptionType,
		UnderlyingID:    resp.UnderlyingSecurityID,
		UpdatedAt:       time.Now().UnixMilli(),
	}, nil
}

// CheckHealth verifies the API is reachable with valid credentials.
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.http.Get(ctx, pathFundLimit, nil)
	if err != nil {
		return classify("health check", err)
	}
	return nil
}

func (c *Client) orderRequest(p *core.PlaceParams) orderRequest {
	return orderRequest{
		DhanClientID:      c.clientID,
		CorrelationID:     p.CorrelationID,
		TransactionType:   string(p.Side),
		ExchangeSegment:   p.ExchangeSegment,
		ProductType:       string(p.Product),
		OrderType:         string(p.Kind),
		Validity:          string(p.Validity),
		SecurityID:        p.SecurityID,
		Quantity:          p.Quantity,
		DisclosedQuantity: p.DisclosedQty,
		Price:             p.Price.InexactFloat64(),
		TriggerPrice:      p.TriggerPrice.InexactFloat64(),
		AfterMarketOrder:  p.AfterMarket,
		AMOTime:           p.AMOTime,
	}
}

func (c *Client) place(ctx context.Context, path string, req orderRequest) (*core.PlaceResult, error) {
	body, err := c.http.Post(ctx, path, req)
	if err != nil {
		return nil, classify("place order", err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, "decode place response", err)
	}
	if resp.OrderStatus == "REJECTED" {
		return nil, apperrors.Newf(apperrors.KindNonRetryable, "order %s rejected at placement", resp.OrderID)
	}
	c.log.Debug("order placed", "order_id", resp.OrderID, "status", resp.OrderStatus)
	return &core.PlaceResult{OrderID: resp.OrderID, Raw: body}, nil
}
