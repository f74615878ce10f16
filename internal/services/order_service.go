package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/chain"
	"github.com/juan-silveira/clube-navi-sub004/internal/clients"
	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/metrics"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"
	"github.com/juan-silveira/clube-navi-sub004/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderService manages the order lifecycle: creation through the relayer,
// cancellation, and mirror reconciliation from chain events. The chain is
// authoritative for existence and remaining amounts; the mirror adds the
// lifecycle status and off-chain metadata.
type OrderService struct {
	orders      repository.OrderRepository
	trades      repository.TradeRepository
	counters    repository.OrderIDCounterRepository
	chainClient chain.ExchangeClient
	identity    clients.IdentityResolver
	book        *OrderBookService
	broadcaster Broadcaster

	confirmationTimeout time.Duration
}

// NewOrderService creates the order lifecycle service
func NewOrderService(
	orders repository.OrderRepository,
	trades repository.TradeRepository,
	counters repository.OrderIDCounterRepository,
	chainClient chain.ExchangeClient,
	identity clients.IdentityResolver,
	book *OrderBookService,
	broadcaster Broadcaster,
	cfg *config.BlockchainConfig,
) *OrderService {
	return &OrderService{
		orders:              orders,
		trades:              trades,
		counters:            counters,
		chainClient:         chainClient,
		identity:            identity,
		book:                book,
		broadcaster:         broadcaster,
		confirmationTimeout: cfg.ConfirmationTimeoutDuration(),
	}
}

// CreateLimitOrder validates, submits the create tx through the relayer and
// mirrors the order. The record is persisted as PENDING with its creation tx
// hash before confirmation, so a crash mid-wait leaves a traceable row. The
// chain order id is back-filled from the OrderCreated event, never assigned
// locally: the contract owns that sequence.
func (s *OrderService) CreateLimitOrder(ctx context.Context, contract, owner string, side models.OrderSide, amount, price decimal.Decimal) (*models.Order, error) {
	if err := validateLimitParams(contract, owner, side, amount, price); err != nil {
		return nil, err
	}
	if err := s.resolveOwner(ctx, owner); err != nil {
		return nil, err
	}

	// reserve the locally predicted chain id; the event value is authoritative
	// and any drift is repaired by the resync pass
	predictedID, err := s.counters.NextID(ctx, contract, side)
	if err != nil {
		log.Printf("⚠️ [Order] Failed to reserve local id for %s/%s: %v", contract, side, err)
		predictedID = 0
	}

	start := time.Now()
	txHash, err := s.chainClient.SubmitCreateOrder(ctx, contract, side, owner, amount, price)
	if err != nil {
		return nil, &ChainSubmissionError{Err: err}
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		ContractAddress: contract,
		OwnerAddress:    owner,
		Side:            side,
		Kind:            models.OrderKindLimit,
		Price:           price,
		OriginalAmount:  amount,
		RemainingAmount: amount,
		FilledAmount:    decimal.Zero,
		Status:          models.OrderStatusPending,
		CreationTxHash:  txHash,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	log.Printf("📝 [Order] Limit order submitted: ID=%s, Side=%s, Amount=%s, Price=%s, Tx=%s",
		order.ID, side, amount, price, txHash)

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmationTimeout)
	defer cancel()
	result, err := s.chainClient.WaitMined(waitCtx, txHash)
	if err == nil && !result.Success {
		err = fmt.Errorf("transaction %s reverted on-chain", txHash)
	}
	if err != nil {
		// order stays PENDING; the scanner back-fills it if the tx lands late
		return nil, &ChainSubmissionError{TxHash: txHash, Err: err}
	}
	metrics.ChainTxDuration.WithLabelValues("create_order").Observe(time.Since(start).Seconds())

	order.Status = models.OrderStatusActive
	order.BlockNumber = &result.BlockNumber
	if result.OrderCreated != nil {
		chainID := result.OrderCreated.OrderID
		order.BlockchainOrderID = &chainID
		if predictedID != 0 && chainID != predictedID {
			log.Printf("⚠️ [Order] Id counter drift on %s/%s: predicted %d, chain allocated %d", contract, side, predictedID, chainID)
		}
		if err := s.counters.Set(ctx, contract, side, chainID+1); err != nil {
			log.Printf("⚠️ [Order] Failed to advance id counter for %s/%s: %v", contract, side, err)
		}
	}
	if err := s.orders.Update(ctx, order); err != nil {
		// the order exists on-chain; a stale mirror is a severe inconsistency
		// but not a user-facing failure. The resync pass repairs it.
		log.Printf("🚨 [Order] Failed to mirror confirmed order %s (tx %s): %v", order.ID, txHash, err)
	}

	metrics.OrdersCreated.WithLabelValues(string(side), string(models.OrderKindLimit)).Inc()
	log.Printf("✅ [Order] Limit order confirmed: ID=%s, ChainID=%v, Block=%d",
		order.ID, order.BlockchainOrderID, result.BlockNumber)

	if s.broadcaster != nil {
		s.broadcaster.OrderUpdated(order)
	}
	if err := s.book.OnBookChanged(ctx, contract); err != nil {
		log.Printf("⚠️ [Order] Post-create book detection failed: %v", err)
	}
	return order, nil
}

// CancelOrder cancels the unique ACTIVE order matching (chainOrderID, contract,
// side, owner). The side is mandatory: buy and sell ids are independent
// sequences, so a numeric id alone can point at two different orders.
func (s *OrderService) CancelOrder(ctx context.Context, contract string, side models.OrderSide, owner string, chainOrderID uint64) (*models.Order, error) {
	order, err := s.orders.FindByChainID(ctx, contract, side, owner, chainOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.IsTransient() {
		return nil, &ValidationError{Field: "status", Msg: "order is being processed and cannot be cancelled right now"}
	}
	if order.Status != models.OrderStatusActive {
		return nil, &ValidationError{Field: "status", Msg: "only ACTIVE orders can be cancelled"}
	}

	start := time.Now()
	txHash, err := s.chainClient.SubmitCancelOrder(ctx, contract, side, chainOrderID, owner)
	if err != nil {
		return nil, &ChainSubmissionError{Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmationTimeout)
	defer cancel()
	result, err := s.chainClient.WaitMined(waitCtx, txHash)
	if err == nil && !result.Success {
		err = fmt.Errorf("transaction %s reverted on-chain", txHash)
	}
	if err != nil {
		return nil, &ChainSubmissionError{TxHash: txHash, Err: err}
	}
	metrics.ChainTxDuration.WithLabelValues("cancel_order").Observe(time.Since(start).Seconds())

	order.Status = models.OrderStatusCancelled
	if err := s.orders.Update(ctx, order); err != nil {
		// cancelled on-chain regardless; the scanner's OnOrderCancelled pass
		// repairs the mirror
		log.Printf("🚨 [Order] Failed to mirror cancellation of %s (tx %s): %v", order.ID, txHash, err)
	}

	metrics.OrdersCancelled.Inc()
	log.Printf("✅ [Order] Order cancelled: ID=%s, ChainID=%d, Side=%s, Tx=%s",
		order.ID, chainOrderID, side, txHash)

	if s.broadcaster != nil {
		s.broadcaster.OrderUpdated(order)
	}
	if err := s.book.OnBookChanged(ctx, contract); err != nil {
		log.Printf("⚠️ [Order] Post-cancel book detection failed: %v", err)
	}
	return order, nil
}

// GetOrder returns one order by local id
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

// ListOrdersByOwner returns an owner's orders, newest first
func (s *OrderService) ListOrdersByOwner(ctx context.Context, owner string, page, pageSize int) ([]*models.Order, int64, error) {
	return s.orders.FindByOwner(ctx, owner, page, pageSize)
}

// ListTradesByOrder returns the fills recorded against one order
func (s *OrderService) ListTradesByOrder(ctx context.Context, orderID string) ([]*models.Trade, error) {
	return s.trades.ListByOrder(ctx, orderID)
}

// ListTradesByContract returns a contract's trade history, newest first
func (s *OrderService) ListTradesByContract(ctx context.Context, contract string, page, pageSize int) ([]*models.Trade, int64, error) {
	return s.trades.ListByContract(ctx, contract, page, pageSize)
}

func (s *OrderService) resolveOwner(ctx context.Context, owner string) error {
	identity, err := s.identity.Resolve(ctx, owner)
	if err != nil {
		if errors.Is(err, clients.ErrIdentityNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !identity.IsActive {
		return ErrUserNotFound
	}
	return nil
}

func validateLimitParams(contract, owner string, side models.OrderSide, amount, price decimal.Decimal) error {
	if contract == "" {
		return &ValidationError{Field: "contract_address", Msg: "is required"}
	}
	if owner == "" {
		return &ValidationError{Field: "owner_address", Msg: "is required"}
	}
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		return &ValidationError{Field: "side", Msg: "must be BUY or SELL"}
	}
	if !amount.GreaterThan(decimal.Zero) {
		return &ValidationError{Field: "amount", Msg: "must be positive"}
	}
	if !price.GreaterThan(decimal.Zero) {
		return &ValidationError{Field: "price", Msg: "must be positive"}
	}
	return nil
}

// ============================================
// chain.EventSink implementation
// ============================================

// OnOrderCreated back-fills the chain order id onto the PENDING/ACTIVE mirror
// row created by CreateLimitOrder. Duplicate delivery is harmless: the same
// values are written again.
func (s *OrderService) OnOrderCreated(contract string, ev chain.OrderCreatedEvent, txHash string, blockNumber uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	order, err := s.orders.FindByCreationTxHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// created outside this service instance; mirror it
			s.mirrorExternalOrder(ctx, contract, ev, txHash, blockNumber)
			return
		}
		log.Printf("⚠️ [Order] OrderCreated lookup failed for tx %s: %v", txHash, err)
		return
	}

	chainID := ev.OrderID
	fields := map[string]interface{}{
		"blockchain_order_id": chainID,
		"block_number":        blockNumber,
	}
	if order.Status == models.OrderStatusPending {
		fields["status"] = models.OrderStatusActive
	}
	if err := s.orders.UpdateFields(ctx, order.ID, fields); err != nil {
		log.Printf("⚠️ [Order] Failed to back-fill chain id %d onto order %s: %v", chainID, order.ID, err)
		return
	}
	if err := s.counters.Set(ctx, contract, ev.Side, chainID+1); err != nil {
		log.Printf("⚠️ [Order] Failed to advance id counter for %s/%s: %v", contract, ev.Side, err)
	}

	if order.Status == models.OrderStatusPending {
		log.Printf("✅ [Order] Late confirmation reconciled: ID=%s, ChainID=%d", order.ID, chainID)
		if err := s.book.OnBookChanged(ctx, contract); err != nil {
			log.Printf("⚠️ [Order] Post-reconcile book detection failed: %v", err)
		}
	}
}

// mirrorExternalOrder records an order created directly on-chain without
// going through this service, so the book projection stays complete.
func (s *OrderService) mirrorExternalOrder(ctx context.Context, contract string, ev chain.OrderCreatedEvent, txHash string, blockNumber uint64) {
	chainID := ev.OrderID
	order := &models.Order{
		ID:                uuid.New().String(),
		BlockchainOrderID: &chainID,
		ContractAddress:   contract,
		OwnerAddress:      ev.Trader,
		Side:              ev.Side,
		Kind:              models.OrderKindLimit,
		Price:             ev.Price,
		OriginalAmount:    ev.Amount,
		RemainingAmount:   ev.Amount,
		FilledAmount:      decimal.Zero,
		Status:            models.OrderStatusActive,
		CreationTxHash:    txHash,
		BlockNumber:       &blockNumber,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		log.Printf("⚠️ [Order] Failed to mirror external order %d on %s: %v", chainID, contract, err)
		return
	}
	log.Printf("📥 [Order] External order mirrored: ChainID=%d, Contract=%s, Trader=%s", chainID, contract, ev.Trader)
	if err := s.book.OnBookChanged(ctx, contract); err != nil {
		log.Printf("⚠️ [Order] Post-mirror book detection failed: %v", err)
	}
}

// OnOrderCancelled reconciles cancellations that bypassed this service
func (s *OrderService) OnOrderCancelled(contract string, ev chain.OrderCancelledEvent, txHash string, blockNumber uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	order, err := s.orders.FindByChainID(ctx, contract, ev.Side, "", ev.OrderID)
	if err != nil {
		return
	}
	if order.Status == models.OrderStatusCancelled {
		return
	}
	if err := s.orders.UpdateFields(ctx, order.ID, map[string]interface{}{
		"status": models.OrderStatusCancelled,
	}); err != nil {
		log.Printf("⚠️ [Order] Failed to reconcile cancellation of %s: %v", order.ID, err)
		return
	}
	log.Printf("📥 [Order] External cancellation reconciled: ID=%s, ChainID=%d, Tx=%s", order.ID, ev.OrderID, txHash)
}

// OnOrdersMatched is handled by the match worker's own reconciliation path;
// the scanner copy exists so matches submitted by other relayers still reach
// the mirror. A match already recorded for the tx is skipped.
func (s *OrderService) OnOrdersMatched(contract string, ev chain.MatchedEvent, txHash string, blockNumber uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := s.trades.ExistsForExecution(ctx, txHash)
	if err != nil || exists {
		return
	}

	buy, buyErr := s.orders.FindByChainID(ctx, contract, models.OrderSideBuy, "", ev.BuyOrderID)
	sell, sellErr := s.orders.FindByChainID(ctx, contract, models.OrderSideSell, "", ev.SellOrderID)
	if buyErr != nil || sellErr != nil {
		return
	}
	// a claimed order belongs to a running job that reconciles its own fills;
	// applying the event here too would double-fill
	if buy.IsTransient() || sell.IsTransient() {
		return
	}

	trade := &models.Trade{
		ID:              uuid.New().String(),
		ContractAddress: contract,
		BuyOrderID:      &buy.ID,
		SellOrderID:     &sell.ID,
		Price:           ev.Price,
		Amount:          ev.Amount,
		TotalValue:      ev.Amount.Mul(ev.Price),
		ExecutionTxHash: txHash,
		BlockNumber:     blockNumber,
	}
	created, err := s.trades.Create(ctx, trade)
	if err != nil || !created {
		return
	}
	metrics.TradesRecorded.Inc()

	for _, o := range []*models.Order{buy, sell} {
		o.ApplyFill(ev.Amount)
		if err := s.orders.Update(ctx, o); err != nil {
			log.Printf("⚠️ [Order] Failed to reconcile external fill on %s: %v", o.ID, err)
		}
	}
	log.Printf("📥 [Order] External match reconciled: Buy=%d, Sell=%d, Amount=%s, Tx=%s",
		ev.BuyOrderID, ev.SellOrderID, ev.Amount, txHash)
}

// ============================================
// Id counter resync
// ============================================

// ResyncCounters recomputes each side's next id as max(chain id)+1 for the
// given contracts, repairing drift after crashes or external writes.
func (s *OrderService) ResyncCounters(ctx context.Context, contracts []string) {
	for _, contract := range contracts {
		for _, side := range []models.OrderSide{models.OrderSideBuy, models.OrderSideSell} {
			max, err := s.orders.MaxBlockchainOrderID(ctx, contract, side)
			if err != nil {
				log.Printf("⚠️ [Order] Counter resync query failed for %s/%s: %v", contract, side, err)
				continue
			}
			if err := s.counters.Set(ctx, contract, side, max+1); err != nil {
				log.Printf("⚠️ [Order] Counter resync write failed for %s/%s: %v", contract, side, err)
			}
		}
	}
}

// StartCounterResync launches the periodic resync loop. Returns a stop func.
func (s *OrderService) StartCounterResync(contracts []string, interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.ResyncCounters(context.Background(), contracts)
			}
		}
	}()
	return func() { close(stop) }
}
