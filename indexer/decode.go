package indexer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ordersync/ordersync/ordersync"
)

// wireMessage is the channel envelope. Only subscribed (initial snapshot)
// and channel_data messages carry contents worth decoding.
type wireMessage struct {
	Type     string          `json:"type"`
	Channel  string          `json:"channel"`
	Contents json.RawMessage `json:"contents"`
}

type wireContents struct {
	Orders    []wireOrder    `json:"orders"`
	Fills     []wireFill     `json:"fills"`
	Positions []wirePosition `json:"perpetualPositions"`
}

// Numeric fields arrive as decimal strings on the wire.
type wireOrder struct {
	ID            string  `json:"id"`
	ClientID      string  `json:"clientId"`
	Ticker        string  `json:"ticker"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Price         string  `json:"price"`
	TriggerPrice  *string `json:"triggerPrice"`
	Size          string  `json:"size"`
	TotalFilled   string  `json:"totalFilled"`
	Status        string  `json:"status"`
	RemovalReason string  `json:"removalReason"`
}

type wireFill struct {
	OrderID string `json:"orderId"`
	Ticker  string `json:"ticker"`
	Size    string `json:"size"`
	Price   string `json:"price"`
}

type wirePosition struct {
	Ticker           string `json:"ticker"`
	Side             string `json:"side"`
	Size             string `json:"size"`
	EntryPrice       string `json:"entryPrice"`
	LiquidationPrice string `json:"liquidationPrice"`
}

// DecodeMessage decodes one websocket frame. The second return is false for
// frames that carry no subaccount contents (heartbeats, acks, other
// channels).
func DecodeMessage(raw []byte) (ordersync.Snapshot, bool, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ordersync.Snapshot{}, false, fmt.Errorf("decode envelope: %w", err)
	}

	if msg.Channel != subaccountsChannel || len(msg.Contents) == 0 {
		return ordersync.Snapshot{}, false, nil
	}
	switch msg.Type {
	case "subscribed", "channel_data":
	default:
		return ordersync.Snapshot{}, false, nil
	}

	var contents wireContents
	if err := json.Unmarshal(msg.Contents, &contents); err != nil {
		return ordersync.Snapshot{}, false, fmt.Errorf("decode contents: %w", err)
	}

	snap := ordersync.Snapshot{}
	for _, o := range contents.Orders {
		order, err := o.toOrder()
		if err != nil {
			return ordersync.Snapshot{}, false, err
		}
		snap.Orders = append(snap.Orders, order)
	}
	for _, f := range contents.Fills {
		fill, err := f.toFill()
		if err != nil {
			return ordersync.Snapshot{}, false, err
		}
		snap.Fills = append(snap.Fills, fill)
	}
	for _, p := range contents.Positions {
		pos, err := p.toPosition()
		if err != nil {
			return ordersync.Snapshot{}, false, err
		}
		snap.Positions = append(snap.Positions, pos)
	}
	return snap, true, nil
}

func (o wireOrder) toOrder() (ordersync.Order, error) {
	price, err := parseDecimal(o.Price, "order price")
	if err != nil {
		return ordersync.Order{}, err
	}
	size, err := parseDecimal(o.Size, "order size")
	if err != nil {
		return ordersync.Order{}, err
	}

	var filled float64
	if o.TotalFilled != "" {
		filled, err = parseDecimal(o.TotalFilled, "order totalFilled")
		if err != nil {
			return ordersync.Order{}, err
		}
	}

	order := ordersync.Order{
		ID:            o.ID,
		ClientID:      o.ClientID,
		MarketID:      o.Ticker,
		Side:          ordersync.OrderSide(o.Side),
		Type:          ordersync.OrderType(o.Type),
		Price:         price,
		Size:          size,
		TotalFilled:   filled,
		Status:        ordersync.OrderStatus(o.Status),
		RemovalReason: o.RemovalReason,
	}
	if o.TriggerPrice != nil && *o.TriggerPrice != "" {
		trigger, err := parseDecimal(*o.TriggerPrice, "order triggerPrice")
		if err != nil {
			return ordersync.Order{}, err
		}
		order.TriggerPrice = &trigger
	}
	return order, nil
}

func (f wireFill) toFill() (ordersync.Fill, error) {
	size, err := parseDecimal(f.Size, "fill size")
	if err != nil {
		return ordersync.Fill{}, err
	}
	price, err := parseDecimal(f.Price, "fill price")
	if err != nil {
		return ordersync.Fill{}, err
	}
	return ordersync.Fill{
		OrderID:  f.OrderID,
		MarketID: f.Ticker,
		Size:     size,
		Price:    price,
	}, nil
}

func (p wirePosition) toPosition() (ordersync.Position, error) {
	size, err := parseDecimal(p.Size, "position size")
	if err != nil {
		return ordersync.Position{}, err
	}
	entry, err := parseDecimal(p.EntryPrice, "position entryPrice")
	if err != nil {
		return ordersync.Position{}, err
	}

	var liquidation float64
	if p.LiquidationPrice != "" {
		liquidation, err = parseDecimal(p.LiquidationPrice, "position liquidationPrice")
		if err != nil {
			return ordersync.Position{}, err
		}
	}

	if strings.EqualFold(p.Side, "SHORT") && size > 0 {
		size = -size
	}
	return ordersync.Position{
		MarketID:         p.Ticker,
		EntryPrice:       entry,
		LiquidationPrice: liquidation,
		SignedSize:       size,
	}, nil
}

func parseDecimal(s, field string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}
