package ordersync

import (
	"context"
	"errors"

	"github.com/ordersync/ordersync/clientid"
)

// NetworkID identifies the chain/network a session is bound to.
//
// It intentionally uses a string alias so identifiers remain comparable when
// embedded into other structs (e.g., ordersync.SessionKey).
type NetworkID string

// SessionKey scopes persisted state to a wallet on a network. Notification
// records and push preferences are stored per session key; the local action
// ledger never is.
type SessionKey struct {
	Network NetworkID
	Wallet  string
}

func NewSessionKey(network NetworkID, wallet string) SessionKey {
	return SessionKey{Network: network, Wallet: wallet}
}

func (k SessionKey) String() string {
	return string(k.Network) + "/" + k.Wallet
}

// OrderWork is a single submission handed to an Emitter. Exactly one of the
// action payloads is set, matching the action type.
type OrderWork struct {
	ClientID clientid.ClientID
	Action   Action
}

// Emitter submits order work to the transaction layer. Emit blocks until the
// broadcast call resolves; the returned error is the broadcast failure, not
// the eventual on-chain outcome.
type Emitter interface {
	Emit(ctx context.Context, w OrderWork) error
}

var ErrOrderAlreadySatisfied = errors.New("ordersync: order already satisfies desired state")

type ActionType int

const (
	ActionNone ActionType = iota
	ActionPlace
	ActionCancel
)

func (t ActionType) String() string {
	switch t {
	case ActionPlace:
		return "place"
	case ActionCancel:
		return "cancel"
	default:
		return "none"
	}
}

type Action struct {
	Type   ActionType
	Place  *PlaceOrderPayload
	Cancel *CancelOrderPayload
	Reason string // optional human hint for ActionNone
}

// PlaceOrderPayload is the outbound order request handed to the transaction
// layer. Price semantics follow the indexer's convention: TriggerPrice is nil
// for non-conditional orders.
type PlaceOrderPayload struct {
	ClientID     clientid.ClientID
	MarketID     string
	Type         OrderType
	Side         OrderSide
	Price        float64
	TriggerPrice *float64
	Size         float64
	ReduceOnly   bool
}

// WorkingPrice returns the price the order rests at from the user's point of
// view: the trigger price for conditional orders, the limit price otherwise.
func (p PlaceOrderPayload) WorkingPrice() float64 {
	if p.TriggerPrice != nil {
		return *p.TriggerPrice
	}
	return p.Price
}

type CancelOrderPayload struct {
	OrderID  string
	MarketID string
}

// TxnClient is the transaction/signing boundary. Both calls block until the
// broadcast resolves.
type TxnClient interface {
	PlaceOrder(ctx context.Context, payload PlaceOrderPayload) OperationResult
	CancelOrder(ctx context.Context, payload CancelOrderPayload) OperationResult
}
