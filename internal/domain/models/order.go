package models

type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// EntrySide is the order side that opens a position on s.
func EntrySide(s Side) OrderSide {
	if s == SideShort {
		return OrderSell
	}
	return OrderBuy
}

// ExitSide is the order side that reduces a position on s.
func ExitSide(s Side) OrderSide {
	if s == SideShort {
		return OrderBuy
	}
	return OrderSell
}

type OrderType string

const (
	OrderMarket     OrderType = "market"
	OrderStopMarket OrderType = "stop_market"
	OrderTakeProfit OrderType = "take_profit"
)

// OrderIntent is what the dispatcher asks the exchange to do. Size is margin in quote currency.
type OrderIntent struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Size          float64   `json:"size"`
	Leverage      float64   `json:"leverage"`
	TriggerPrice  float64   `json:"trigger_price,omitempty"`
	ReduceOnly    bool      `json:"reduce_only"`
	ClientOrderID string    `json:"client_order_id"`
}

type OrderResult struct {
	Success    bool    `json:"success"`
	OrderID    string  `json:"order_id,omitempty"`
	Price      float64 `json:"price,omitempty"`
	FilledSize float64 `json:"filled_size,omitempty"`
	Error      string  `json:"error,omitempty"`
}
