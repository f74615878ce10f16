package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable fill record. One row is written per distinct price
// level actually consumed, never a blended average.
//
// The composite unique index over (execution_tx_hash, buy_order_id,
// sell_order_id) makes replayed match jobs idempotent: the duplicate insert is
// rejected by the database and silently skipped.
type Trade struct {
	ID              string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	ContractAddress string  `gorm:"type:varchar(42);not null;index" json:"contract_address"`

	// Either side may be nil for a pure market fill with no resting counterpart
	// reference on that side. Postgres treats NULLs as distinct in unique
	// indexes, so nil-sided rows get no dedup from idx_trades_execution; that
	// is acceptable because the aggregate market path writes synchronously
	// exactly once and never replays, while every queue-replayed path carries
	// both order ids.
	BuyOrderID  *string `gorm:"type:varchar(36);uniqueIndex:idx_trades_execution,priority:2;index" json:"buy_order_id"`
	SellOrderID *string `gorm:"type:varchar(36);uniqueIndex:idx_trades_execution,priority:3;index" json:"sell_order_id"`

	Price      decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"price"`
	Amount     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"amount"`
	TotalValue decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"total_value"`

	ExecutionTxHash string `gorm:"type:varchar(66);not null;uniqueIndex:idx_trades_execution,priority:1" json:"execution_tx_hash"`
	BlockNumber     uint64 `json:"block_number"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the gorm table name
func (Trade) TableName() string {
	return "exchange_trades"
}
