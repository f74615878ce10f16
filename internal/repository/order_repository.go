package repository

import (
	"context"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"gorm.io/gorm"
)

// OrderRepository defines the interface for Order data access
type OrderRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error

	// Chain id lookups. Buy and sell ids are independent sequences on-chain,
	// so the side is part of every chain-id filter.
	FindByChainID(ctx context.Context, contract string, side models.OrderSide, owner string, chainID uint64) (*models.Order, error)
	FindByCreationTxHash(ctx context.Context, txHash string) (*models.Order, error)

	// Book queries
	FindRestingOrders(ctx context.Context, contract string, side models.OrderSide, excludeOwner string) ([]*models.Order, error)
	FindByOwner(ctx context.Context, owner string, page, pageSize int) ([]*models.Order, int64, error)

	// Claim management. ClaimForProcessing is the concurrency-control
	// primitive: a conditional update from ACTIVE (or from PROCESSING held by
	// the same job, which makes redelivered jobs safe to retry).
	ClaimForProcessing(ctx context.Context, jobID string, orderID string) (bool, error)
	ReleaseToActive(ctx context.Context, orderIDs []string) error
	ReleaseStuckProcessing(ctx context.Context, olderThan time.Time) (int64, error)

	// Counter resync support
	MaxBlockchainOrderID(ctx context.Context, contract string, side models.OrderSide) (uint64, error)
}

// orderRepository implements OrderRepository
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new OrderRepository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates a new order
func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByID retrieves an order by local id
func (r *orderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByIDs retrieves a set of orders by local id
func (r *orderRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Order, error) {
	var orders []*models.Order
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&orders).Error
	return orders, err
}

// Update saves the full order record
func (r *orderRepository) Update(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

// UpdateFields updates only the given columns
func (r *orderRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// FindByChainID locates the unique order for (chainID, contract, side, owner).
// Omitting the side from this filter is a known defect class: numeric ids
// collide across the buy and sell sequences. An empty owner skips the owner
// filter (used by chain-event reconciliation, which only knows the chain id).
func (r *orderRepository) FindByChainID(ctx context.Context, contract string, side models.OrderSide, owner string, chainID uint64) (*models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("blockchain_order_id = ? AND contract_address = ? AND side = ?",
			chainID, contract, side)
	if owner != "" {
		query = query.Where("owner_address = ?", owner)
	}

	var order models.Order
	if err := query.First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByCreationTxHash locates the order created by the given transaction
func (r *orderRepository) FindByCreationTxHash(ctx context.Context, txHash string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("creation_tx_hash = ?", txHash).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindRestingOrders returns ACTIVE LIMIT orders for one side of the book,
// sorted best-price-first with ascending chain id as the FIFO tie-break.
// PROCESSING/MATCHING orders are excluded so in-flight orders never surface.
func (r *orderRepository) FindRestingOrders(ctx context.Context, contract string, side models.OrderSide, excludeOwner string) ([]*models.Order, error) {
	priceOrder := "price ASC"
	if side == models.OrderSideBuy {
		priceOrder = "price DESC"
	}

	query := r.db.WithContext(ctx).
		Where("contract_address = ? AND side = ? AND status = ? AND kind = ?",
			contract, side, models.OrderStatusActive, models.OrderKindLimit)
	if excludeOwner != "" {
		query = query.Where("owner_address <> ?", excludeOwner)
	}

	var orders []*models.Order
	err := query.
		Order(priceOrder).
		Order("blockchain_order_id ASC").
		Find(&orders).Error
	return orders, err
}

// FindByOwner finds orders by owner with pagination
func (r *orderRepository) FindByOwner(ctx context.Context, owner string, page, pageSize int) ([]*models.Order, int64, error) {
	var orders []*models.Order
	var total int64

	query := r.db.WithContext(ctx).Where("owner_address = ?", owner)

	if err := query.Model(&models.Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&orders).Error

	return orders, total, err
}

// ClaimForProcessing transitions ACTIVE -> PROCESSING for one order. Zero rows
// affected with a foreign claim means another worker got there first; the
// caller treats that as a benign race, not an error. A re-claim by the same
// job id succeeds so redelivered jobs are idempotent.
func (r *orderRepository) ClaimForProcessing(ctx context.Context, jobID string, orderID string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND (status = ? OR (status IN ? AND processing_job_id = ?))",
			orderID,
			models.OrderStatusActive,
			[]models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusMatching},
			jobID).
		Updates(map[string]interface{}{
			"status":            models.OrderStatusProcessing,
			"processing_job_id": jobID,
			"processing_at":     &now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseToActive reverts claimed orders back to ACTIVE and clears the claim
func (r *orderRepository) ReleaseToActive(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id IN ? AND status IN ?", orderIDs,
			[]models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusMatching}).
		Updates(map[string]interface{}{
			"status":            models.OrderStatusActive,
			"processing_job_id": nil,
			"processing_at":     nil,
			"updated_at":        time.Now(),
		}).Error
}

// ReleaseStuckProcessing reverts every order claimed before olderThan back to
// ACTIVE. This is the crash-recovery backstop: no order may stay transient
// beyond the sweep timeout.
func (r *orderRepository) ReleaseStuckProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status IN ? AND processing_at < ?",
			[]models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusMatching},
			olderThan).
		Updates(map[string]interface{}{
			"status":            models.OrderStatusActive,
			"processing_job_id": nil,
			"processing_at":     nil,
			"updated_at":        time.Now(),
		})
	return result.RowsAffected, result.Error
}

// MaxBlockchainOrderID returns the highest confirmed chain id for one side,
// or zero when no order has been confirmed yet.
func (r *orderRepository) MaxBlockchainOrderID(ctx context.Context, contract string, side models.OrderSide) (uint64, error) {
	var max *uint64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("contract_address = ? AND side = ? AND blockchain_order_id IS NOT NULL", contract, side).
		Select("MAX(blockchain_order_id)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}
