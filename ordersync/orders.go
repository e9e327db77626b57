package ordersync

// OrderStatus is the indexer's view of an order. The zero value means the
// indexer has not reported a status yet.
type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "PENDING"
	OrderStatusOpen               OrderStatus = "OPEN"
	OrderStatusPartiallyFilled    OrderStatus = "PARTIALLY_FILLED"
	OrderStatusUntriggered        OrderStatus = "UNTRIGGERED"
	OrderStatusFilled             OrderStatus = "FILLED"
	OrderStatusCanceled           OrderStatus = "CANCELED"
	OrderStatusBestEffortCanceled OrderStatus = "BEST_EFFORT_CANCELED"
)

// IsCanceled reports whether the status is a canceled-type terminal status.
// Best-effort cancellation counts: the protocol has committed to removing the
// order even if the final block is still pending.
func (s OrderStatus) IsCanceled() bool {
	return s == OrderStatusCanceled || s == OrderStatusBestEffortCanceled
}

// IsOpen reports whether the order is still working in the book.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case OrderStatusOpen, OrderStatusPartiallyFilled, OrderStatusUntriggered:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopLimit        OrderType = "STOP_LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitLimit  OrderType = "TAKE_PROFIT_LIMIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// IsConditional reports whether the order rests at a trigger price rather
// than a limit price.
func (t OrderType) IsConditional() bool {
	switch t {
	case OrderTypeStopLimit, OrderTypeStopMarket, OrderTypeTakeProfitLimit, OrderTypeTakeProfitMarket:
		return true
	default:
		return false
	}
}

// Order is a subaccount order as reported by the indexer. ClientID is empty
// for orders placed outside this session (another device, API trading).
type Order struct {
	ID            string
	ClientID      string
	MarketID      string
	Side          OrderSide
	Type          OrderType
	Price         float64
	TriggerPrice  *float64
	Size          float64
	TotalFilled   float64
	Status        OrderStatus
	RemovalReason string
}

// WorkingPrice mirrors PlaceOrderPayload.WorkingPrice for indexed orders.
func (o Order) WorkingPrice() float64 {
	if o.TriggerPrice != nil {
		return *o.TriggerPrice
	}
	return o.Price
}

// Fill is a trade execution event attributed to an order.
type Fill struct {
	OrderID  string
	MarketID string
	Size     float64
	Price    float64
}

// Position is the subaccount's open position in one market.
type Position struct {
	MarketID         string
	EntryPrice       float64
	LiquidationPrice float64 // 0 when the indexer has not computed one
	SignedSize       float64
}

// Snapshot is a point-in-time authoritative view of the subaccount as
// delivered by the indexer. It is authoritative but not necessarily complete
// on every tick; absence of an order is not proof of terminality.
type Snapshot struct {
	Orders    []Order
	Fills     []Fill
	Positions []Position
}

// OrderByID returns the snapshot order with the given id, if present.
func (s Snapshot) OrderByID(id string) (Order, bool) {
	for _, o := range s.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

// OrderByClientID returns the snapshot order carrying the given client id.
func (s Snapshot) OrderByClientID(clientID string) (Order, bool) {
	for _, o := range s.Orders {
		if o.ClientID != "" && o.ClientID == clientID {
			return o, true
		}
	}
	return Order{}, false
}

// PositionFor returns the position for a market, if the subaccount has one.
func (s Snapshot) PositionFor(marketID string) (Position, bool) {
	for _, p := range s.Positions {
		if p.MarketID == marketID {
			return p, true
		}
	}
	return Position{}, false
}
