package repository

import (
	"context"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"gorm.io/gorm"
)

// OrderIDCounterRepository defines the interface for the per (contract, side)
// local id sequence
type OrderIDCounterRepository interface {
	// NextID atomically increments and returns the next local id. Never
	// read-then-write: the increment happens in a single statement.
	NextID(ctx context.Context, contract string, side models.OrderSide) (uint64, error)

	// Set overwrites the counter, used by the resync pass to repair drift
	Set(ctx context.Context, contract string, side models.OrderSide, nextID uint64) error

	Get(ctx context.Context, contract string, side models.OrderSide) (uint64, error)
}

// orderIDCounterRepository implements OrderIDCounterRepository
type orderIDCounterRepository struct {
	db *gorm.DB
}

// NewOrderIDCounterRepository creates a new OrderIDCounterRepository instance
func NewOrderIDCounterRepository(db *gorm.DB) OrderIDCounterRepository {
	return &orderIDCounterRepository{db: db}
}

// NextID increments the counter in a single upsert and returns the id that
// was allocated
func (r *orderIDCounterRepository) NextID(ctx context.Context, contract string, side models.OrderSide) (uint64, error) {
	var allocated uint64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO exchange_order_id_counters (contract_address, side, next_id, updated_at)
		VALUES (?, ?, 2, NOW())
		ON CONFLICT (contract_address, side)
		DO UPDATE SET next_id = exchange_order_id_counters.next_id + 1, updated_at = NOW()
		RETURNING next_id - 1
	`, contract, side).Scan(&allocated).Error
	if err != nil {
		return 0, err
	}
	return allocated, nil
}

// Set overwrites the counter value
func (r *orderIDCounterRepository) Set(ctx context.Context, contract string, side models.OrderSide, nextID uint64) error {
	counter := models.OrderIDCounter{
		ContractAddress: contract,
		Side:            side,
		NextID:          nextID,
		UpdatedAt:       time.Now(),
	}
	return r.db.WithContext(ctx).Save(&counter).Error
}

// Get reads the current counter value, 1 when the counter does not exist yet
func (r *orderIDCounterRepository) Get(ctx context.Context, contract string, side models.OrderSide) (uint64, error) {
	var counter models.OrderIDCounter
	err := r.db.WithContext(ctx).
		Where("contract_address = ? AND side = ?", contract, side).
		First(&counter).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 1, nil
		}
		return 0, err
	}
	return counter.NextID, nil
}
