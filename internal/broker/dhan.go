package broker

import (
	"github.com/shopspring/decimal"

	"copytrader/internal/core"
)

// API paths (v2 order API).
const (
	pathOrders       = "/v2/orders"
	pathOrderSlicing = "/v2/orders/slicing"
	pathFundLimit    = "/v2/fundlimit"
	pathInstrument   = "/v2/instrument"
)

// orderRequest is the wire shape of a placement. Cover and bracket orders use
// the same endpoint with productType CO/BO and the extra leg values.
type orderRequest struct {
	DhanClientID      string  `json:"dhanClientId"`
	CorrelationID     string  `json:"correlationId,omitempty"`
	TransactionType   string  `json:"transactionType"`
	ExchangeSegment   string  `json:"exchangeSegment"`
	ProductType       string  `json:"productType"`
	OrderType         string  `json:"orderType"`
	Validity          string  `json:"validity"`
	SecurityID        string  `json:"securityId"`
	Quantity          int64   `json:"quantity"`
	DisclosedQuantity int64   `json:"disclosedQuantity,omitempty"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"triggerPrice,omitempty"`
	AfterMarketOrder  bool    `json:"afterMarketOrder,omitempty"`
	AMOTime           string  `json:"amoTime,omitempty"`
	BoProfitValue     float64 `json:"boProfitValue,omitempty"`
	BoStopLossValue   float64 `json:"boStopLossValue,omitempty"`
}

// modifyRequest is the wire shape of an order modification.
type modifyRequest struct {
	DhanClientID      string  `json:"dhanClientId"`
	OrderID           string  `json:"orderId"`
	OrderType         string  `json:"orderType"`
	LegName           string  `json:"legName,omitempty"`
	Quantity          int64   `json:"quantity"`
	DisclosedQuantity int64   `json:"disclosedQuantity"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"triggerPrice"`
	Validity          string  `json:"validity"`
}

// orderResponse is the broker's answer to place/modify/cancel.
type orderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

// orderDetail is one row of the order book.
type orderDetail struct {
	OrderID             string  `json:"orderId"`
	CorrelationID       string  `json:"correlationId"`
	OrderStatus         string  `json:"orderStatus"`
	TransactionType     string  `json:"transactionType"`
	ExchangeSegment     string  `json:"exchangeSegment"`
	ProductType         string  `json:"productType"`
	OrderType           string  `json:"orderType"`
	Validity            string  `json:"validity"`
	SecurityID          string  `json:"securityId"`
	TradingSymbol       string  `json:"tradingSymbol"`
	Quantity            int64   `json:"quantity"`
	DisclosedQuantity   int64   `json:"disclosedQuantity"`
	Price               float64 `json:"price"`
	TriggerPrice        float64 `json:"triggerPrice"`
	FilledQty           int64   `json:"filledQty"`
	RemainingQuantity   int64   `json:"remainingQuantity"`
	AverageTradedPrice  float64 `json:"averageTradedPrice"`
	ExchOrderID         string  `json:"exchOrderId"`
	AlgoID              string  `json:"algoId"`
	DrvExpiryDate       int64   `json:"drvExpiryDate"`
	DrvOptionType       string  `json:"drvOptionType"`
	DrvStrikePrice      float64 `json:"drvStrikePrice"`
	OMSErrorCode        string  `json:"omsErrorCode"`
	OMSErrorDescription string  `json:"omsErrorDescription"`
	BoProfitValue       float64 `json:"boProfitValue"`
	BoStopLossValue     float64 `json:"boStopLossValue"`
	LegName             string  `json:"legName"`
	AfterMarketOrder    bool    `json:"afterMarketOrder"`
	AMOTime             string  `json:"amoTime"`
}

// fundsResponse is the fund limits payload. The availabelBalance spelling is
// the broker's, not ours.
type fundsResponse struct {
	AvailabelBalance float64 `json:"availabelBalance"`
	UtilizedAmount   float64 `json:"utilizedAmount"`
	CollateralAmount float64 `json:"collateralAmount"`
}

// instrumentResponse is the per-security metadata payload.
type instrumentResponse struct {
	SecurityID           string  `json:"securityId"`
	ExchangeSegment      string  `json:"exchangeSegment"`
	TradingSymbol        string  `json:"tradingSymbol"`
	SymbolName           string  `json:"symbolName"`
	InstrumentType       string  `json:"instrumentType"`
	LotSize              int64   `json:"lotSize"`
	TickSize             float64 `json:"tickSize"`
	FreezeQty            int64   `json:"freezeQty"`
	ExpiryDate           string  `json:"expiryDate"`
	StrikePrice          float64 `json:"strikePrice"`
	OptionType           string  `json:"optionType"`
	UnderlyingSecurityID string  `json:"underlyingSecurityId"`
}

// toOrder maps an order book row onto the internal model.
func (d *orderDetail) toOrder(role core.Role) core.Order {
	return core.Order{
		ID:              d.OrderID,
		Role:            role,
		Status:          core.StatusFromBroker(d.OrderStatus),
		Side:            core.Side(d.TransactionType),
		Product:         core.Product(d.ProductType),
		Kind:            core.OrderKind(d.OrderType),
		Validity:        core.Validity(d.Validity),
		SecurityID:      d.SecurityID,
		ExchangeSegment: d.ExchangeSegment,
		Quantity:        d.Quantity,
		DisclosedQty:    d.DisclosedQuantity,
		Price:           decimal.NewFromFloat(d.Price),
		TriggerPrice:    decimal.NewFromFloat(d.TriggerPrice),
		FilledQty:       d.FilledQty,
		RemainingQty:    d.RemainingQuantity,
		AvgPrice:        decimal.NewFromFloat(d.AverageTradedPrice),
		ExchangeOrderID: d.ExchOrderID,
		TradingSymbol:   d.TradingSymbol,
		AlgoID:          d.AlgoID,
		CorrelationID:   d.CorrelationID,
		DrvExpiry:       d.DrvExpiryDate,
		DrvOptionType:   d.DrvOptionType,
		DrvStrikePrice:  decimal.NewFromFloat(d.DrvStrikePrice),
		OMSErrorCode:    d.OMSErrorCode,
		OMSErrorDesc:    d.OMSErrorDescription,
		BoProfitValue:   decimal.NewFromFloat(d.BoProfitValue),
		BoStopLossValue: decimal.NewFromFloat(d.BoStopLossValue),
		Leg:             legFromName(d.LegName),
		AfterMarket:     d.AfterMarketOrder,
		AMOTime:         d.AMOTime,
	}
}

// legFromName maps the broker legName field onto LegType.
func legFromName(name string) core.LegType {
	switch name {
	case "ENTRY_LEG":
		return core.LegEntry
	case "TARGET_LEG":
		return core.LegTarget
	case "STOP_LOSS_LEG":
		return core.LegStop
	}
	return core.LegType(name)
}
