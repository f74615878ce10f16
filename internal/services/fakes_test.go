package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/chain"
	"github.com/juan-silveira/clube-navi-sub004/internal/clients"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ─── order repository fake ────────────────────────────────────────────────────

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]*models.Order)}
}

func (r *fakeOrderRepo) put(o *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
}

func (r *fakeOrderRepo) get(id string) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *models.Order) error {
	r.put(order)
	return nil
}

func (r *fakeOrderRepo) GetByID(ctx context.Context, id string) (*models.Order, error) {
	if o := r.get(id); o != nil {
		return o, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.Order, error) {
	var result []*models.Order
	for _, id := range ids {
		if o := r.get(id); o != nil {
			result = append(result, o)
		}
	}
	return result, nil
}

func (r *fakeOrderRepo) Update(ctx context.Context, order *models.Order) error {
	r.put(order)
	return nil
}

func (r *fakeOrderRepo) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range fields {
		switch key {
		case "status":
			o.Status = value.(models.OrderStatus)
		case "blockchain_order_id":
			switch v := value.(type) {
			case uint64:
				o.BlockchainOrderID = &v
			case *uint64:
				o.BlockchainOrderID = v
			}
		case "block_number":
			switch v := value.(type) {
			case uint64:
				o.BlockNumber = &v
			case *uint64:
				o.BlockNumber = v
			}
		case "remaining_amount":
			o.RemainingAmount = value.(decimal.Decimal)
		case "filled_amount":
			o.FilledAmount = value.(decimal.Decimal)
		case "processing_job_id":
			if value == nil {
				o.ProcessingJobID = nil
			} else if v, ok := value.(*string); ok {
				o.ProcessingJobID = v
			} else if v, ok := value.(string); ok {
				o.ProcessingJobID = &v
			}
		case "processing_at":
			if value == nil {
				o.ProcessingAt = nil
			} else if v, ok := value.(*time.Time); ok {
				o.ProcessingAt = v
			}
		}
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (r *fakeOrderRepo) FindByChainID(ctx context.Context, contract string, side models.OrderSide, owner string, chainID uint64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.BlockchainOrderID == nil || *o.BlockchainOrderID != chainID {
			continue
		}
		if o.ContractAddress != contract || o.Side != side {
			continue
		}
		if owner != "" && o.OwnerAddress != owner {
			continue
		}
		cp := *o
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) FindByCreationTxHash(ctx context.Context, txHash string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.CreationTxHash == txHash {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) FindRestingOrders(ctx context.Context, contract string, side models.OrderSide, excludeOwner string) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Order
	for _, o := range r.orders {
		if o.ContractAddress != contract || o.Side != side {
			continue
		}
		if o.Status != models.OrderStatusActive || o.Kind != models.OrderKindLimit {
			continue
		}
		if excludeOwner != "" && o.OwnerAddress == excludeOwner {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Price.Equal(b.Price) {
			if side == models.OrderSideBuy {
				return a.Price.GreaterThan(b.Price)
			}
			return a.Price.LessThan(b.Price)
		}
		return chainIDOf(a) < chainIDOf(b)
	})
	return result, nil
}

func chainIDOf(o *models.Order) uint64 {
	if o.BlockchainOrderID == nil {
		return ^uint64(0)
	}
	return *o.BlockchainOrderID
}

func (r *fakeOrderRepo) FindByOwner(ctx context.Context, owner string, page, pageSize int) ([]*models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Order
	for _, o := range r.orders {
		if o.OwnerAddress == owner {
			cp := *o
			result = append(result, &cp)
		}
	}
	return result, int64(len(result)), nil
}

func (r *fakeOrderRepo) ClaimForProcessing(ctx context.Context, jobID string, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, nil
	}
	reclaim := o.IsTransient() && o.ProcessingJobID != nil && *o.ProcessingJobID == jobID
	if o.Status != models.OrderStatusActive && !reclaim {
		return false, nil
	}
	now := time.Now()
	o.Status = models.OrderStatusProcessing
	o.ProcessingJobID = &jobID
	o.ProcessingAt = &now
	return true, nil
}

func (r *fakeOrderRepo) ReleaseToActive(ctx context.Context, orderIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range orderIDs {
		o, ok := r.orders[id]
		if !ok || !o.IsTransient() {
			continue
		}
		o.Status = models.OrderStatusActive
		o.ProcessingJobID = nil
		o.ProcessingAt = nil
	}
	return nil
}

func (r *fakeOrderRepo) ReleaseStuckProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released int64
	for _, o := range r.orders {
		if o.IsTransient() && o.ProcessingAt != nil && o.ProcessingAt.Before(olderThan) {
			o.Status = models.OrderStatusActive
			o.ProcessingJobID = nil
			o.ProcessingAt = nil
			released++
		}
	}
	return released, nil
}

func (r *fakeOrderRepo) MaxBlockchainOrderID(ctx context.Context, contract string, side models.OrderSide) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max uint64
	for _, o := range r.orders {
		if o.ContractAddress == contract && o.Side == side && o.BlockchainOrderID != nil && *o.BlockchainOrderID > max {
			max = *o.BlockchainOrderID
		}
	}
	return max, nil
}

// ─── trade repository fake ────────────────────────────────────────────────────

type fakeTradeRepo struct {
	mu     sync.Mutex
	trades []*models.Trade
}

func newFakeTradeRepo() *fakeTradeRepo {
	return &fakeTradeRepo{}
}

func tradeKey(t *models.Trade) string {
	buy, sell := "", ""
	if t.BuyOrderID != nil {
		buy = *t.BuyOrderID
	}
	if t.SellOrderID != nil {
		sell = *t.SellOrderID
	}
	return t.ExecutionTxHash + "|" + buy + "|" + sell
}

func (r *fakeTradeRepo) Create(ctx context.Context, trade *models.Trade) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tradeKey(trade)
	for _, existing := range r.trades {
		if tradeKey(existing) == key {
			return false, nil
		}
	}
	cp := *trade
	r.trades = append(r.trades, &cp)
	return true, nil
}

func (r *fakeTradeRepo) ExistsForExecution(ctx context.Context, executionTxHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.trades {
		if t.ExecutionTxHash == executionTxHash {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTradeRepo) ListByOrder(ctx context.Context, orderID string) ([]*models.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Trade
	for _, t := range r.trades {
		if (t.BuyOrderID != nil && *t.BuyOrderID == orderID) || (t.SellOrderID != nil && *t.SellOrderID == orderID) {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *fakeTradeRepo) ListByContract(ctx context.Context, contract string, page, pageSize int) ([]*models.Trade, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Trade
	for _, t := range r.trades {
		if t.ContractAddress == contract {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, int64(len(result)), nil
}

func (r *fakeTradeRepo) all() []*models.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*models.Trade, len(r.trades))
	copy(result, r.trades)
	return result
}

// ─── counter repository fake ──────────────────────────────────────────────────

type fakeCounterRepo struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{counters: make(map[string]uint64)}
}

func counterKey(contract string, side models.OrderSide) string {
	return contract + "|" + string(side)
}

func (r *fakeCounterRepo) NextID(ctx context.Context, contract string, side models.OrderSide) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := counterKey(contract, side)
	next, ok := r.counters[key]
	if !ok {
		next = 1
	}
	r.counters[key] = next + 1
	return next, nil
}

func (r *fakeCounterRepo) Set(ctx context.Context, contract string, side models.OrderSide, nextID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counterKey(contract, side)] = nextID
	return nil
}

func (r *fakeCounterRepo) Get(ctx context.Context, contract string, side models.OrderSide) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if next, ok := r.counters[counterKey(contract, side)]; ok {
		return next, nil
	}
	return 1, nil
}

// ─── chain client fake ────────────────────────────────────────────────────────

type fakeChainClient struct {
	mu sync.Mutex

	states map[string]*chain.OrderState // "SIDE:chainID" -> state
	nextID uint64

	submitErr error
	minedErr  error
	revert    bool
	results   map[string]*chain.TxResult

	submittedMatches [][2][]uint64
	marketCalls      []fakeMarketCall
}

type fakeMarketCall struct {
	side         models.OrderSide
	amount       decimal.Decimal
	minAmountOut decimal.Decimal
	restingIDs   []uint64
}

func newFakeChainClient() *fakeChainClient {
	return &fakeChainClient{
		states:  make(map[string]*chain.OrderState),
		results: make(map[string]*chain.TxResult),
	}
}

func stateKey(side models.OrderSide, chainID uint64) string {
	return fmt.Sprintf("%s:%d", side, chainID)
}

func (c *fakeChainClient) setState(side models.OrderSide, chainID uint64, state *chain.OrderState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[stateKey(side, chainID)] = state
}

func (c *fakeChainClient) setResult(txHash string, result *chain.TxResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[txHash] = result
}

func (c *fakeChainClient) SubmitCreateOrder(ctx context.Context, contract string, side models.OrderSide, owner string, amount, price decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.nextID++
	txHash := fmt.Sprintf("0xcreate%d", c.nextID)
	c.results[txHash] = &chain.TxResult{
		TxHash:      txHash,
		BlockNumber: 100 + c.nextID,
		Success:     true,
		OrderCreated: &chain.OrderCreatedEvent{
			OrderID: c.nextID,
			Side:    side,
			Trader:  owner,
			Amount:  amount,
			Price:   price,
		},
	}
	c.states[stateKey(side, c.nextID)] = &chain.OrderState{
		Trader:    owner,
		Amount:    amount,
		Price:     price,
		Remaining: amount,
		Active:    true,
	}
	return txHash, nil
}

func (c *fakeChainClient) SubmitCancelOrder(ctx context.Context, contract string, side models.OrderSide, chainOrderID uint64, owner string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	txHash := fmt.Sprintf("0xcancel%s%d", side, chainOrderID)
	c.results[txHash] = &chain.TxResult{
		TxHash:    txHash,
		Success:   true,
		Cancelled: &chain.OrderCancelledEvent{OrderID: chainOrderID, Side: side},
	}
	if state, ok := c.states[stateKey(side, chainOrderID)]; ok {
		state.Active = false
	}
	return txHash, nil
}

func (c *fakeChainClient) SubmitMatchOrders(ctx context.Context, contract string, buyIDs, sellIDs []uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.submittedMatches = append(c.submittedMatches, [2][]uint64{buyIDs, sellIDs})
	return fmt.Sprintf("0xmatch%d", len(c.submittedMatches)), nil
}

func (c *fakeChainClient) SubmitMarketOrder(ctx context.Context, contract string, side models.OrderSide, owner string, requestedAmount, minAmountOut decimal.Decimal, restingIDs []uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.marketCalls = append(c.marketCalls, fakeMarketCall{
		side:         side,
		amount:       requestedAmount,
		minAmountOut: minAmountOut,
		restingIDs:   restingIDs,
	})
	return fmt.Sprintf("0xmarket%d", len(c.marketCalls)), nil
}

func (c *fakeChainClient) WaitMined(ctx context.Context, txHash string) (*chain.TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.minedErr != nil {
		return nil, c.minedErr
	}
	// a permissive implementation that hands back a failed receipt instead of
	// an error; callers must still refuse to reconcile it
	if c.revert {
		return &chain.TxResult{TxHash: txHash, Success: false}, nil
	}
	if result, ok := c.results[txHash]; ok {
		return result, nil
	}
	return &chain.TxResult{TxHash: txHash, Success: true}, nil
}

func (c *fakeChainClient) GetOrder(ctx context.Context, contract string, side models.OrderSide, chainOrderID uint64) (*chain.OrderState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[stateKey(side, chainOrderID)]; ok {
		cp := *state
		return &cp, nil
	}
	return &chain.OrderState{Active: false, Remaining: decimal.Zero}, nil
}

// ─── queue fake ───────────────────────────────────────────────────────────────

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []*models.MatchJob
	handler func(ctx context.Context, job *models.MatchJob) error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{}
}

func (q *fakeQueue) Publish(ctx context.Context, job *models.MatchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Consume(handler func(ctx context.Context, job *models.MatchJob) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
	return nil
}

func (q *fakeQueue) Close() {}

func (q *fakeQueue) published() []*models.MatchJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]*models.MatchJob, len(q.jobs))
	copy(result, q.jobs)
	return result
}

// ─── identity fake ────────────────────────────────────────────────────────────

type fakeIdentity struct {
	active map[string]bool
}

func newFakeIdentity(activeAddresses ...string) *fakeIdentity {
	active := make(map[string]bool)
	for _, addr := range activeAddresses {
		active[addr] = true
	}
	return &fakeIdentity{active: active}
}

func (f *fakeIdentity) Resolve(ctx context.Context, address string) (*clients.Identity, error) {
	active, ok := f.active[address]
	if !ok {
		return nil, clients.ErrIdentityNotFound
	}
	return &clients.Identity{ID: address, IsActive: active}, nil
}

// ─── order constructors ───────────────────────────────────────────────────────

const testContract = "0x00000000000000000000000000000000000000aa"

func restingOrder(id string, side models.OrderSide, chainID uint64, owner, price, amount string) *models.Order {
	cid := chainID
	return &models.Order{
		ID:                id,
		BlockchainOrderID: &cid,
		ContractAddress:   testContract,
		OwnerAddress:      owner,
		Side:              side,
		Kind:              models.OrderKindLimit,
		Price:             decimal.RequireFromString(price),
		OriginalAmount:    decimal.RequireFromString(amount),
		RemainingAmount:   decimal.RequireFromString(amount),
		FilledAmount:      decimal.Zero,
		Status:            models.OrderStatusActive,
		CreationTxHash:    "0xseed" + id,
	}
}
