package stream

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/core"
)

func TestParseOrderAlert(t *testing.T) {
	msg := []byte(`{
		"Type": "order_alert",
		"Data": {
			"orderNo": "112111182198",
			"status": "TRADED",
			"txnType": "BUY",
			"exchange": "NSE_FNO",
			"productType": "INTRADAY",
			"orderType": "LIMIT",
			"validity": "DAY",
			"securityId": "52175",
			"symbol": "NIFTY24AUG24000CE",
			"quantity": 50,
			"price": 102.5,
			"tradedQty": 50,
			"avgTradedPrice": 102.25,
			"exchOrderNo": "200000123",
			"correlationId": "corr-1",
			"lastUpdatedTime": "2026-08-24 10:15:30"
		}
	}`)

	ev, err := parse(msg)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "112111182198", ev.OrderID)
	assert.Equal(t, core.StatusExecuted, ev.Status)
	assert.False(t, ev.Modified)
	assert.Equal(t, core.SideBuy, ev.Order.Side)
	assert.Equal(t, core.ProductIntraday, ev.Order.Product)
	assert.Equal(t, core.KindLimit, ev.Order.Kind)
	assert.Equal(t, "52175", ev.Order.SecurityID)
	assert.Equal(t, "NSE_FNO", ev.Order.ExchangeSegment)
	assert.Equal(t, int64(50), ev.Order.Quantity)
	assert.Equal(t, int64(50), ev.Order.FilledQty)
	assert.True(t, ev.Order.Price.Equal(decimal.NewFromFloat(102.5)))
	assert.True(t, ev.Order.AvgPrice.Equal(decimal.NewFromFloat(102.25)))
	assert.Equal(t, "corr-1", ev.Order.CorrelationID)
	assert.Equal(t, core.RoleLeader, ev.Order.Role)

	want := time.Date(2026, 8, 24, 10, 15, 30, 0, time.Local).UnixMilli()
	assert.Equal(t, want, ev.TS)
	assert.JSONEq(t, string(msg), string(ev.Payload))
}

func TestParseNonOrderFramesAreSkipped(t *testing.T) {
	for _, msg := range []string{
		`{"Type": "heartbeat"}`,
		`{"Type": "login_ack", "Data": {"status": "ok"}}`,
	} {
		ev, err := parse([]byte(msg))
		require.NoError(t, err)
		assert.Nil(t, ev)
	}
}

func TestParseMalformedFrame(t *testing.T) {
	_, err := parse([]byte(`not json`))
	require.Error(t, err)

	_, err = parse([]byte(`{"Type": "order_alert", "Data": {"status": "OPEN"}}`))
	require.Error(t, err, "order alert without an order number is rejected")
}

func TestParseModifiedStatus(t *testing.T) {
	msg := []byte(`{
		"Type": "order_alert",
		"Data": {"orderNo": "1", "status": "MODIFIED", "txnType": "BUY", "exchange": "NSE_EQ", "securityId": "100"}
	}`)
	ev, err := parse(msg)
	require.NoError(t, err)
	assert.True(t, ev.Modified)
	assert.Equal(t, core.StatusPending, ev.Status)
}

func TestParseBracketLeg(t *testing.T) {
	msg := []byte(`{
		"Type": "order_alert",
		"Data": {
			"orderNo": "2",
			"status": "TRADED",
			"txnType": "SELL",
			"exchange": "NSE_FNO",
			"securityId": "52175",
			"productType": "BO",
			"parentOrderNo": "1",
			"legName": "TARGET_LEG"
		}
	}`)
	ev, err := parse(msg)
	require.NoError(t, err)
	assert.Equal(t, core.LegTarget, ev.Leg)
	assert.Equal(t, "1", ev.Order.ParentOrderID)
	assert.Equal(t, core.ProductBracket, ev.Order.Product)
}

func TestStatusFromBroker(t *testing.T) {
	cases := map[string]core.OrderStatus{
		"TRANSIT":     core.StatusTransit,
		"PENDING":     core.StatusPending,
		"OPEN":        core.StatusOpen,
		"TRIGGERED":   core.StatusOpen,
		"PART_TRADED": core.StatusPartial,
		"TRADED":      core.StatusExecuted,
		"CANCELLED":   core.StatusCancelled,
		"EXPIRED":     core.StatusCancelled,
		"REJECTED":    core.StatusRejected,
		"SOME_NEW":    core.StatusPending,
	}
	for wire, want := range cases {
		assert.Equal(t, want, core.StatusFromBroker(wire), wire)
	}
}

func TestLegFromName(t *testing.T) {
	assert.Equal(t, core.LegEntry, legFromName("ENTRY_LEG"))
	assert.Equal(t, core.LegTarget, legFromName("TARGET_LEG"))
	assert.Equal(t, core.LegStop, legFromName("STOP_LOSS_LEG"))
	assert.Equal(t, core.LegType(""), legFromName(""))
}

func TestParseUpdateTimeFallsBackToNow(t *testing.T) {
	before := time.Now().UnixMilli()
	got := parseUpdateTime("garbage")
	after := time.Now().UnixMilli()
	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}
