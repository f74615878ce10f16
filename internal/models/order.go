package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide order direction
type OrderSide string

// OrderKind order kind
type OrderKind string

// OrderStatus order lifecycle status
type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindMarket OrderKind = "MARKET"

	// OrderStatusPending tx submitted, waiting for chain confirmation
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusActive confirmed on-chain, resting in the book
	OrderStatusActive OrderStatus = "ACTIVE"
	// OrderStatusProcessing claimed by a match job or market execution (transient)
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusMatching legacy alias of PROCESSING kept for older rows (transient)
	OrderStatusMatching OrderStatus = "MATCHING"
	// OrderStatusExecuted fully filled
	OrderStatusExecuted OrderStatus = "EXECUTED"
	// OrderStatusCancelled cancelled by the user, an admin, or chain revalidation
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// DustTolerance threshold under which a remaining amount counts as fully filled.
// Matches the contract's 18-decimal base units rounded at 1e-6 tokens.
var DustTolerance = decimal.New(1, -6)

// Order is the mirror record of an on-chain exchange order.
//
// BlockchainOrderID is NOT globally unique: buy and sell ids are independent
// sequences in the contract, so every lookup that could hit either side of the
// book must filter by (blockchain_order_id, contract_address, side, owner_address).
type Order struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	BlockchainOrderID *uint64    `gorm:"index:idx_orders_chain_id,priority:1" json:"blockchain_order_id"`
	ContractAddress   string     `gorm:"type:varchar(42);not null;index:idx_orders_chain_id,priority:2;index:idx_orders_book" json:"contract_address"`
	OwnerAddress      string     `gorm:"type:varchar(42);not null;index" json:"owner_address"`
	Side              OrderSide  `gorm:"type:varchar(4);not null;index:idx_orders_chain_id,priority:3" json:"side"`
	Kind              OrderKind  `gorm:"type:varchar(6);not null" json:"kind"`

	Price           decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"price"`
	OriginalAmount  decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"original_amount"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"remaining_amount"`
	FilledAmount    decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"filled_amount"`

	Status OrderStatus `gorm:"type:varchar(12);not null;index:idx_orders_book" json:"status"`

	// CreationTxHash is set exactly once when the create tx is submitted and is
	// never overwritten by a later execution tx.
	CreationTxHash string     `gorm:"type:varchar(66)" json:"creation_tx_hash"`
	BlockNumber    *uint64    `json:"block_number"`

	// ProcessingJobID identifies the job holding the claim so a redelivered job
	// can re-claim its own orders without treating them as lost races.
	ProcessingJobID *string    `gorm:"type:varchar(36)" json:"processing_job_id,omitempty"`
	ProcessingAt    *time.Time `gorm:"index" json:"processing_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the gorm table name
func (Order) TableName() string {
	return "exchange_orders"
}

// IsTransient reports whether the order is claimed by an in-flight job.
func (o *Order) IsTransient() bool {
	return o.Status == OrderStatusProcessing || o.Status == OrderStatusMatching
}

// IsFilled reports whether the remaining amount is within dust tolerance of zero.
func (o *Order) IsFilled() bool {
	return o.RemainingAmount.LessThanOrEqual(DustTolerance)
}

// AmountsConsistent verifies remaining + filled == original. Only meaningful for
// orders at rest; a claimed order may be mid-update.
func (o *Order) AmountsConsistent() bool {
	return o.RemainingAmount.Add(o.FilledAmount).Equal(o.OriginalAmount) &&
		o.RemainingAmount.GreaterThanOrEqual(decimal.Zero)
}

// ApplyFill moves amount from remaining to filled and resolves the terminal
// status. The caller persists the result.
func (o *Order) ApplyFill(amount decimal.Decimal) {
	o.RemainingAmount = o.RemainingAmount.Sub(amount)
	if o.RemainingAmount.IsNegative() {
		o.RemainingAmount = decimal.Zero
	}
	o.FilledAmount = o.OriginalAmount.Sub(o.RemainingAmount)
	if o.IsFilled() {
		o.Status = OrderStatusExecuted
	} else {
		o.Status = OrderStatusActive
	}
}
