package models

import "github.com/shopspring/decimal"

// MatchJobOrder is one order's share of a match job.
type MatchJobOrder struct {
	OrderID           string          `json:"order_id"`
	BlockchainOrderID uint64          `json:"blockchain_order_id"`
	Amount            decimal.Decimal `json:"amount"`
}

// MatchJob is the ephemeral payload carried by the match queue. It exists only
// in the queue and in worker memory; it is never persisted.
//
// A job is either a single buy/sell pair or an N:1/1:N group. Per-order
// amounts are pre-computed by the detector at a common execution price and are
// validated against the chain event totals during execution.
type MatchJob struct {
	JobID           string          `json:"job_id"`
	ContractAddress string          `json:"contract_address"`
	BuyOrders       []MatchJobOrder `json:"buy_orders"`
	SellOrders      []MatchJobOrder `json:"sell_orders"`
	ExecutionPrice  decimal.Decimal `json:"execution_price"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	EnqueuedAt      int64           `json:"enqueued_at"`
}
