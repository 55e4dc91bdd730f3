package stream

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
)

// envelope is the outer frame of a stream message.
type envelope struct {
	Type string          `json:"Type"`
	Data json.RawMessage `json:"Data"`
}

// orderAlert is the order update payload pushed by the broker.
type orderAlert struct {
	OrderNo           string  `json:"orderNo"`
	CorrelationID     string  `json:"correlationId"`
	Status            string  `json:"status"`
	TxnType           string  `json:"txnType"`
	ExchangeSegment   string  `json:"exchange"`
	Segment           string  `json:"segment"`
	ProductType       string  `json:"productType"`
	OrderType         string  `json:"orderType"`
	Validity          string  `json:"validity"`
	SecurityID        string  `json:"securityId"`
	Symbol            string  `json:"symbol"`
	Quantity          int64   `json:"quantity"`
	DisclosedQuantity int64   `json:"disclosedQuantity"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"triggerPrice"`
	TradedQty         int64   `json:"tradedQty"`
	AvgTradedPrice    float64 `json:"avgTradedPrice"`
	RemainingQuantity int64   `json:"remainingQuantity"`
	ExchOrderNo       string  `json:"exchOrderNo"`
	AlgoID            string  `json:"algoId"`
	ParentOrderNo     string  `json:"parentOrderNo"`
	LegName           string  `json:"legName"`
	BoProfitValue     float64 `json:"boProfitValue"`
	BoStopLossValue   float64 `json:"boStopLossValue"`
	OMSErrorCode      string  `json:"omsErrorCode"`
	OMSErrorDesc      string  `json:"omsErrorDescription"`
	AfterMarketOrder  bool    `json:"afterMarketOrder"`
	UpdateTime        string  `json:"lastUpdatedTime"`
}

const alertType = "order_alert"

// parse turns one raw stream message into a normalized event. Non-order
// frames (heartbeats, login acks) return (nil, nil).
func parse(msg []byte) (*core.NormalizedEvent, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStream, "decode stream frame", err)
	}
	if env.Type != alertType {
		return nil, nil
	}

	var a orderAlert
	if err := json.Unmarshal(env.Data, &a); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStream, "decode order alert", err)
	}
	if a.OrderNo == "" {
		return nil, apperrors.New(apperrors.KindStream, "order alert without order number")
	}

	segment := a.ExchangeSegment
	if segment == "" {
		segment = a.Segment
	}

	ev := &core.NormalizedEvent{
		OrderID:  a.OrderNo,
		Status:   core.StatusFromBroker(a.Status),
		Modified: a.Status == "MODIFIED",
		Leg:      legFromName(a.LegName),
		Payload:  append(json.RawMessage(nil), msg...),
		TS:       parseUpdateTime(a.UpdateTime),
		Order: core.Order{
			ID:              a.OrderNo,
			Role:            core.RoleLeader,
			Side:            core.Side(a.TxnType),
			Product:         core.Product(a.ProductType),
			Kind:            core.OrderKind(a.OrderType),
			Validity:        core.Validity(a.Validity),
			SecurityID:      a.SecurityID,
			ExchangeSegment: segment,
			Quantity:        a.Quantity,
			DisclosedQty:    a.DisclosedQuantity,
			Price:           decimal.NewFromFloat(a.Price),
			TriggerPrice:    decimal.NewFromFloat(a.TriggerPrice),
			FilledQty:       a.TradedQty,
			RemainingQty:    a.RemainingQuantity,
			AvgPrice:        decimal.NewFromFloat(a.AvgTradedPrice),
			ExchangeOrderID: a.ExchOrderNo,
			TradingSymbol:   a.Symbol,
			AlgoID:          a.AlgoID,
			CorrelationID:   a.CorrelationID,
			OMSErrorCode:    a.OMSErrorCode,
			OMSErrorDesc:    a.OMSErrorDesc,
			BoProfitValue:   decimal.NewFromFloat(a.BoProfitValue),
			BoStopLossValue: decimal.NewFromFloat(a.BoStopLossValue),
			ParentOrderID:   a.ParentOrderNo,
			AfterMarket:     a.AfterMarketOrder,
		},
	}
	ev.Order.Status = ev.Status
	ev.Order.Leg = ev.Leg
	return ev, nil
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
	case "":
		return ""
	}
	return core.LegType(name)
}

const updateTimeLayout = "2006-01-02 15:04:05"

func parseUpdateTime(s string) int64 {
	if s != "" {
		if t, err := time.ParseInLocation(updateTimeLayout, s, time.Local); err == nil {
			return t.UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}
