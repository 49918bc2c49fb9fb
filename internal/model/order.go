package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an OrderCommand.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderType selects the pricing behavior of an OrderCommand.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// TimeInForce is always Day per spec.md §3, modeled as an enum for
// forward compatibility.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
)

// OrderCommand is a requested trade, created by a caller and owned by the
// Order Submission Bridge until resolved (spec.md §3, §4.9).
type OrderCommand struct {
	OrderID       string
	Symbol        string
	Side          OrderSide
	Quantity      int64
	OrderType     OrderType
	LimitPrice    decimal.Decimal
	HasLimitPrice bool
	StopPrice     decimal.Decimal
	HasStopPrice  bool
	TimeInForce   TimeInForce
	TimestampUs   int64
}

// Validate enforces the safety invariant from spec.md §4.9: positive
// quantity, and a price present iff required by the order type.
func (o OrderCommand) Validate() error {
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s: quantity must be positive, got %d", o.OrderID, o.Quantity)
	}
	if o.OrderType == OrderLimit && !o.HasLimitPrice {
		return fmt.Errorf("order %s: limit order requires limit_price", o.OrderID)
	}
	if o.OrderType == OrderStop && !o.HasStopPrice {
		return fmt.Errorf("order %s: stop order requires stop_price", o.OrderID)
	}
	return nil
}

// OrderStatus is the terminal or in-flight status reported by the remote.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusFailed          OrderStatus = "FAILED"
	StatusFilled          OrderStatus = "FILLED"
	StatusPartiallyFilled OrderStatus = "PARTIAL"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal reports whether status represents a final outcome that will not
// be followed by another transition for the same order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusFailed, StatusFilled, StatusCancelled:
		return true
	default:
		return false
	}
}

// OrderResponse is the result the remote reports for an OrderCommand.
type OrderResponse struct {
	OrderID        string
	Status         OrderStatus
	Message        string
	BrokerOrderID  string
	TimestampUs    int64
}
