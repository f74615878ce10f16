package repository

import (
	"context"
	"errors"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint violations
const uniqueViolation = "23505"

// TradeRepository defines the interface for Trade data access
type TradeRepository interface {
	// Create inserts a trade row. A duplicate (execution_tx_hash, order pair)
	// is not an error: it returns created=false so replayed jobs skip
	// recreation silently.
	Create(ctx context.Context, trade *models.Trade) (created bool, err error)

	ExistsForExecution(ctx context.Context, executionTxHash string) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]*models.Trade, error)
	ListByContract(ctx context.Context, contract string, page, pageSize int) ([]*models.Trade, int64, error)
}

// tradeRepository implements TradeRepository
type tradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new TradeRepository instance
func NewTradeRepository(db *gorm.DB) TradeRepository {
	return &tradeRepository{db: db}
}

// Create inserts a trade, treating unique violations as an idempotent skip
func (r *tradeRepository) Create(ctx context.Context, trade *models.Trade) (bool, error) {
	err := r.db.WithContext(ctx).Create(trade).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

// ExistsForExecution reports whether any trade was already recorded for the
// given execution transaction
func (r *tradeRepository) ExistsForExecution(ctx context.Context, executionTxHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("execution_tx_hash = ?", executionTxHash).
		Count(&count).Error
	return count > 0, err
}

// ListByOrder returns every trade touching the given order, oldest first
func (r *tradeRepository) ListByOrder(ctx context.Context, orderID string) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := r.db.WithContext(ctx).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("created_at ASC").
		Find(&trades).Error
	return trades, err
}

// ListByContract returns trade history for a contract with pagination,
// newest first
func (r *tradeRepository) ListByContract(ctx context.Context, contract string, page, pageSize int) ([]*models.Trade, int64, error) {
	var trades []*models.Trade
	var total int64

	query := r.db.WithContext(ctx).Where("contract_address = ?", contract)

	if err := query.Model(&models.Trade{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&trades).Error

	return trades, total, err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
