package orders

import "github.com/minhos/mdic/internal/model"

// wireOrderCommand mirrors the order command file format of spec.md §6.4.
type wireOrderCommand struct {
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // BUY|SELL
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
	Type      string  `json:"type"` // MARKET|LIMIT|STOP
	StopPrice float64 `json:"stop_price,omitempty"`
}

func toWireCommand(cmd model.OrderCommand) wireOrderCommand {
	w := wireOrderCommand{
		OrderID:  cmd.OrderID,
		Symbol:   cmd.Symbol,
		Side:     string(cmd.Side),
		Quantity: cmd.Quantity,
		Type:     string(cmd.OrderType),
	}
	if cmd.HasLimitPrice {
		w.Price, _ = cmd.LimitPrice.Float64()
	}
	if cmd.HasStopPrice {
		w.StopPrice, _ = cmd.StopPrice.Float64()
	}
	return w
}

// wireOrderResponse mirrors the order response file format of spec.md §6.5.
type wireOrderResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	TimestampUs   int64  `json:"timestamp_us"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
}

func fromWireResponse(w wireOrderResponse) model.OrderResponse {
	return model.OrderResponse{
		OrderID:       w.OrderID,
		Status:        model.OrderStatus(w.Status),
		Message:       w.Message,
		BrokerOrderID: w.BrokerOrderID,
		TimestampUs:   w.TimestampUs,
	}
}
