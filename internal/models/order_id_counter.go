package models

import "time"

// OrderIDCounter is the per (contract, side) monotonic sequence used for local
// ordering before the chain confirms its own id. Periodically resynced to
// max(blockchain_order_id) + 1 to repair drift after crashes.
type OrderIDCounter struct {
	ContractAddress string    `gorm:"type:varchar(42);primaryKey" json:"contract_address"`
	Side            OrderSide `gorm:"type:varchar(4);primaryKey" json:"side"`
	NextID          uint64    `gorm:"not null;default:1" json:"next_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName overrides the gorm table name
func (OrderIDCounter) TableName() string {
	return "exchange_order_id_counters"
}
