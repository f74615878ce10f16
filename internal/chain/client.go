package chain

import (
	"context"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/shopspring/decimal"
)

// OrderState is the live on-chain view of one order, read directly from
// contract storage. This is the authoritative state the mirror reconciles
// against.
type OrderState struct {
	Trader    string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Remaining decimal.Decimal
	Active    bool
}

// OrderCreatedEvent is emitted when the contract allocates a chain order id.
type OrderCreatedEvent struct {
	OrderID uint64
	Side    models.OrderSide
	Trader  string
	Amount  decimal.Decimal
	Price   decimal.Decimal
}

// MatchedEvent is emitted once per buy/sell pair consumed by a match tx.
type MatchedEvent struct {
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       string
	Seller      string
	Amount      decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
}

// ExecutionSummary is emitted once per market order with the actual filled
// totals. Quotes are estimates; this event is the truth.
type ExecutionSummary struct {
	Trader      string
	IsBuy       bool
	TotalValue  decimal.Decimal
	TotalAmount decimal.Decimal
	Fee         decimal.Decimal
}

// OrderCancelledEvent is emitted when an order is cancelled on-chain.
type OrderCancelledEvent struct {
	OrderID uint64
	Side    models.OrderSide
}

// TxResult is a confirmed transaction with its exchange events parsed out of
// the receipt logs.
type TxResult struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Success     bool

	OrderCreated *OrderCreatedEvent
	Matches      []MatchedEvent
	Summary      *ExecutionSummary
	Cancelled    *OrderCancelledEvent
}

// ExchangeClient is the contract surface the core consumes. All submits go
// through the privileged relayer wallet, so end users pay no gas. Submit
// methods return the tx hash immediately; WaitMined blocks until one
// confirmation or ctx expiry.
type ExchangeClient interface {
	SubmitCreateOrder(ctx context.Context, contract string, side models.OrderSide, owner string, amount, price decimal.Decimal) (string, error)
	SubmitCancelOrder(ctx context.Context, contract string, side models.OrderSide, chainOrderID uint64, owner string) (string, error)
	SubmitMatchOrders(ctx context.Context, contract string, buyIDs, sellIDs []uint64) (string, error)

	// SubmitMarketOrder carries minAmountOut so the contract itself enforces
	// the slippage floor; the off-chain check alone is not a guarantee.
	SubmitMarketOrder(ctx context.Context, contract string, side models.OrderSide, owner string, requestedAmount, minAmountOut decimal.Decimal, restingIDs []uint64) (string, error)

	// WaitMined blocks until the tx is mined or ctx expires. A reverted tx is
	// an error; callers additionally guard on TxResult.Success so a permissive
	// implementation cannot leak a failed receipt into reconciliation.
	WaitMined(ctx context.Context, txHash string) (*TxResult, error)

	// GetOrder reads current order storage for one side's id sequence.
	GetOrder(ctx context.Context, contract string, side models.OrderSide, chainOrderID uint64) (*OrderState, error)
}
