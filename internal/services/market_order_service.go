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
)

// QuotedOrder is one resting order a quote plans to consume
type QuotedOrder struct {
	OrderID      string          `json:"order_id"`
	ChainOrderID uint64          `json:"chain_order_id"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
}

// MarketQuote is a pre-trade estimate. Quotes are advisory: actual fills come
// from the execution summary event, never from the quote.
//
// RequestedAmount is denominated per side: a BUY requests a spend budget in
// the quote currency, a SELL requests a token amount. EstimatedAmount and
// MinAmountOut are always in the output denomination (tokens for a BUY,
// proceeds for a SELL).
type MarketQuote struct {
	ContractAddress       string           `json:"contract_address"`
	Side                  models.OrderSide `json:"side"`
	RequestedAmount       decimal.Decimal  `json:"requested_amount"`
	FillableAmount        decimal.Decimal  `json:"fillable_amount"`
	EstimatedAmount       decimal.Decimal  `json:"estimated_amount"`
	TokenAmount           decimal.Decimal  `json:"token_amount"`
	AveragePrice          decimal.Decimal  `json:"average_price"`
	MinAmountOut          decimal.Decimal  `json:"min_amount_out"`
	SlippagePct           decimal.Decimal  `json:"slippage_pct"`
	InsufficientLiquidity bool             `json:"insufficient_liquidity"`
	Orders                []QuotedOrder    `json:"orders"`
}

// MarketExecution is the result of a completed market order
type MarketExecution struct {
	Order        *models.Order   `json:"order"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	TotalValue   decimal.Decimal `json:"total_value"`
	AveragePrice decimal.Decimal `json:"average_price"`
	TxHash       string          `json:"tx_hash"`
}

// MarketOrderService quotes and executes market orders against resting
// liquidity. The slippage floor is enforced on-chain via minAmountOut; the
// off-chain quote alone is never trusted as a guarantee.
type MarketOrderService struct {
	orders      repository.OrderRepository
	trades      repository.TradeRepository
	chainClient chain.ExchangeClient
	identity    clients.IdentityResolver
	book        *OrderBookService
	broadcaster Broadcaster

	confirmationTimeout time.Duration
	defaultSlippagePct  decimal.Decimal
}

// NewMarketOrderService creates the market order executor
func NewMarketOrderService(
	orders repository.OrderRepository,
	trades repository.TradeRepository,
	chainClient chain.ExchangeClient,
	identity clients.IdentityResolver,
	book *OrderBookService,
	broadcaster Broadcaster,
	blockchainCfg *config.BlockchainConfig,
	matchingCfg *config.MatchingConfig,
) *MarketOrderService {
	return &MarketOrderService{
		orders:              orders,
		trades:              trades,
		chainClient:         chainClient,
		identity:            identity,
		book:                book,
		broadcaster:         broadcaster,
		confirmationTimeout: blockchainCfg.ConfirmationTimeoutDuration(),
		defaultSlippagePct:  decimal.NewFromFloat(matchingCfg.DefaultSlippagePct),
	}
}

// Quote walks the opposite side of the book best-price-first (ascending chain
// id within a level), excluding the requester's own orders, and greedily
// consumes until requestedAmount is satisfied or the book runs out.
func (s *MarketOrderService) Quote(ctx context.Context, contract string, side models.OrderSide, requester string, requestedAmount decimal.Decimal, slippagePct decimal.Decimal) (*MarketQuote, error) {
	if !requestedAmount.GreaterThan(decimal.Zero) {
		return nil, &ValidationError{Field: "amount", Msg: "must be positive"}
	}
	if slippagePct.LessThanOrEqual(decimal.Zero) {
		slippagePct = s.defaultSlippagePct
	}

	start := time.Now()
	defer func() {
		metrics.MarketQuoteDuration.Observe(time.Since(start).Seconds())
	}()

	resting, err := s.orders.FindRestingOrders(ctx, contract, oppositeSide(side), requester)
	if err != nil {
		return nil, err
	}

	quote := &MarketQuote{
		ContractAddress: contract,
		Side:            side,
		RequestedAmount: requestedAmount,
		SlippagePct:     slippagePct,
	}

	// a BUY walks the asks spending its budget; a SELL walks the bids
	// handing over tokens
	remaining := requestedAmount
	totalValue := decimal.Zero
	totalTokens := decimal.Zero
	for _, o := range resting {
		if !remaining.GreaterThan(models.DustTolerance) {
			break
		}
		if o.BlockchainOrderID == nil {
			continue
		}

		var takeTokens, takeValue decimal.Decimal
		if side == models.OrderSideBuy {
			levelValue := o.RemainingAmount.Mul(o.Price)
			takeValue = decimal.Min(remaining, levelValue)
			takeTokens = takeValue.Div(o.Price)
			remaining = remaining.Sub(takeValue)
		} else {
			takeTokens = decimal.Min(remaining, o.RemainingAmount)
			takeValue = takeTokens.Mul(o.Price)
			remaining = remaining.Sub(takeTokens)
		}

		quote.Orders = append(quote.Orders, QuotedOrder{
			OrderID:      o.ID,
			ChainOrderID: *o.BlockchainOrderID,
			Price:        o.Price,
			Amount:       takeTokens,
		})
		totalValue = totalValue.Add(takeValue)
		totalTokens = totalTokens.Add(takeTokens)
	}

	quote.InsufficientLiquidity = remaining.GreaterThan(models.DustTolerance)
	quote.FillableAmount = requestedAmount.Sub(remaining)
	quote.TokenAmount = totalTokens
	if side == models.OrderSideBuy {
		quote.EstimatedAmount = totalTokens
	} else {
		quote.EstimatedAmount = totalValue
	}
	if totalTokens.GreaterThan(decimal.Zero) {
		quote.AveragePrice = totalValue.Div(totalTokens)
	}
	hundred := decimal.NewFromInt(100)
	quote.MinAmountOut = quote.EstimatedAmount.Mul(hundred.Sub(slippagePct)).Div(hundred)
	return quote, nil
}

// Execute quotes, claims the quoted resting orders and submits the market
// call. allowPartial selects the insufficient-liquidity policy: false rejects
// before any chain submission, true executes whatever the book can fill.
func (s *MarketOrderService) Execute(ctx context.Context, contract string, side models.OrderSide, owner string, requestedAmount decimal.Decimal, slippagePct decimal.Decimal, allowPartial bool) (*MarketExecution, error) {
	if err := s.resolveOwner(ctx, owner); err != nil {
		return nil, err
	}

	quote, err := s.Quote(ctx, contract, side, owner, requestedAmount, slippagePct)
	if err != nil {
		return nil, err
	}
	if quote.EstimatedAmount.LessThanOrEqual(decimal.Zero) {
		return nil, &LiquidityError{Requested: requestedAmount, Available: decimal.Zero}
	}
	if quote.InsufficientLiquidity && !allowPartial {
		return nil, &LiquidityError{Requested: requestedAmount, Available: quote.EstimatedAmount}
	}

	// claim exactly the quoted orders
	executionID := uuid.New().String()
	claimed := make([]string, 0, len(quote.Orders))
	for _, qo := range quote.Orders {
		ok, err := s.orders.ClaimForProcessing(ctx, executionID, qo.OrderID)
		if err != nil {
			s.releaseClaims(ctx, claimed)
			return nil, err
		}
		if !ok {
			s.releaseClaims(ctx, claimed)
			metrics.MarketExecutions.WithLabelValues(string(side), "lock_race").Inc()
			return nil, ErrLockAcquisition
		}
		claimed = append(claimed, qo.OrderID)
	}

	submitAmount := requestedAmount
	if quote.InsufficientLiquidity {
		submitAmount = quote.FillableAmount
	}

	start := time.Now()
	txHash, err := s.chainClient.SubmitMarketOrder(ctx, contract, side, owner, submitAmount, quote.MinAmountOut, quotedChainIDs(quote))
	if err != nil {
		s.releaseClaims(ctx, claimed)
		metrics.MarketExecutions.WithLabelValues(string(side), "failed").Inc()
		return nil, &ChainSubmissionError{Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmationTimeout)
	defer cancel()
	result, err := s.chainClient.WaitMined(waitCtx, txHash)
	if err == nil && !result.Success {
		// the contract's own slippage guard firing surfaces as a revert
		err = fmt.Errorf("transaction %s reverted on-chain", txHash)
	}
	if err != nil {
		s.releaseClaims(ctx, claimed)
		metrics.MarketExecutions.WithLabelValues(string(side), "failed").Inc()
		return nil, &ChainSubmissionError{TxHash: txHash, Err: err}
	}
	metrics.ChainTxDuration.WithLabelValues("market_order").Observe(time.Since(start).Seconds())

	// actual fills come from the execution summary, never from the quote:
	// resting liquidity may have moved between quote and execution
	actualTokens := quote.TokenAmount
	totalValue := quote.TokenAmount.Mul(quote.AveragePrice)
	if result.Summary != nil {
		actualTokens = result.Summary.TotalAmount
		totalValue = result.Summary.TotalValue
	} else {
		log.Printf("⚠️ [Market] Tx %s carried no execution summary, falling back to quote totals", txHash)
	}
	averagePrice := decimal.Zero
	if actualTokens.GreaterThan(decimal.Zero) {
		averagePrice = totalValue.Div(actualTokens)
	}

	actualOut := actualTokens
	if side == models.OrderSideSell {
		actualOut = totalValue
	}
	if actualOut.LessThan(quote.MinAmountOut) {
		log.Printf("🚨 [Market] Tx %s reported amount out %s below floor %s; contract slippage guard did not hold",
			txHash, actualOut, quote.MinAmountOut)
	}

	marketOrder := &models.Order{
		ID:              uuid.New().String(),
		ContractAddress: contract,
		OwnerAddress:    owner,
		Side:            side,
		Kind:            models.OrderKindMarket,
		Price:           averagePrice,
		OriginalAmount:  actualTokens,
		RemainingAmount: decimal.Zero,
		FilledAmount:    actualTokens,
		Status:          models.OrderStatusExecuted,
		CreationTxHash:  txHash,
		BlockNumber:     &result.BlockNumber,
	}
	// mirror failures past this point are logged as severe inconsistencies,
	// never returned: the trade executed on-chain and the caller must see
	// success. The resync pass repairs the mirror.
	if err := s.orders.Create(ctx, marketOrder); err != nil {
		log.Printf("🚨 [Market] Failed to mirror market order for tx %s: %v", txHash, err)
	}
	if err := s.recordMarketTrades(ctx, quote, marketOrder, averagePrice, actualTokens, result); err != nil {
		log.Printf("🚨 [Market] Failed to record trades for tx %s: %v", txHash, err)
	}

	// resync every consumed order from live chain storage, not by subtracting
	// the estimate: other takers may have filled the same orders concurrently
	s.resyncConsumed(ctx, contract, side, quote)

	metrics.MarketExecutions.WithLabelValues(string(side), "success").Inc()
	metrics.OrdersCreated.WithLabelValues(string(side), string(models.OrderKindMarket)).Inc()
	log.Printf("✅ [Market] Market %s executed: Owner=%s, Requested=%s, Filled=%s, AvgPrice=%s, Tx=%s",
		side, owner, requestedAmount, actualTokens, averagePrice, txHash)

	if s.broadcaster != nil {
		s.broadcaster.OrderUpdated(marketOrder)
	}
	if err := s.book.OnBookChanged(ctx, contract); err != nil {
		log.Printf("⚠️ [Market] Post-execution book detection failed: %v", err)
	}

	return &MarketExecution{
		Order:        marketOrder,
		FilledAmount: actualTokens,
		TotalValue:   totalValue,
		AveragePrice: averagePrice,
		TxHash:       txHash,
	}, nil
}

// recordMarketTrades writes one trade per resting order actually touched,
// taken from the pairwise events when the receipt has them, otherwise one
// aggregate trade at the post-execution average price.
func (s *MarketOrderService) recordMarketTrades(ctx context.Context, quote *MarketQuote, marketOrder *models.Order, averagePrice, actualAmount decimal.Decimal, result *chain.TxResult) error {
	byChainID := make(map[uint64]string, len(quote.Orders))
	for _, qo := range quote.Orders {
		byChainID[qo.ChainOrderID] = qo.OrderID
	}

	writeTrade := func(restingID *string, price, amount decimal.Decimal) error {
		trade := &models.Trade{
			ID:              uuid.New().String(),
			ContractAddress: quote.ContractAddress,
			Price:           price,
			Amount:          amount,
			TotalValue:      amount.Mul(price),
			ExecutionTxHash: result.TxHash,
			BlockNumber:     result.BlockNumber,
		}
		if quote.Side == models.OrderSideBuy {
			trade.BuyOrderID = &marketOrder.ID
			trade.SellOrderID = restingID
		} else {
			trade.BuyOrderID = restingID
			trade.SellOrderID = &marketOrder.ID
		}
		created, err := s.trades.Create(ctx, trade)
		if err != nil {
			return err
		}
		if !created {
			metrics.TradesDuplicateSkipped.Inc()
			return nil
		}
		metrics.TradesRecorded.Inc()
		if s.broadcaster != nil {
			s.broadcaster.TradeExecuted(trade)
		}
		return nil
	}

	if len(result.Matches) > 0 {
		for _, ev := range result.Matches {
			restingChainID := ev.SellOrderID
			if quote.Side == models.OrderSideSell {
				restingChainID = ev.BuyOrderID
			}
			var restingID *string
			if localID, ok := byChainID[restingChainID]; ok {
				restingID = &localID
			}
			if err := writeTrade(restingID, ev.Price, ev.Amount); err != nil {
				return err
			}
		}
		return nil
	}
	return writeTrade(nil, averagePrice, actualAmount)
}

// resyncConsumed reads each consumed order's live chain storage and rewrites
// the mirror from it.
func (s *MarketOrderService) resyncConsumed(ctx context.Context, contract string, side models.OrderSide, quote *MarketQuote) {
	restingSide := oppositeSide(side)
	for _, qo := range quote.Orders {
		state, err := s.chainClient.GetOrder(ctx, contract, restingSide, qo.ChainOrderID)
		if err != nil {
			log.Printf("⚠️ [Market] Failed to resync order %s from chain: %v", qo.OrderID, err)
			continue
		}
		status := models.OrderStatusActive
		if state.Remaining.LessThanOrEqual(models.DustTolerance) {
			status = models.OrderStatusExecuted
		} else if !state.Active {
			status = models.OrderStatusCancelled
		}
		fields := map[string]interface{}{
			"status":            status,
			"remaining_amount":  state.Remaining,
			"filled_amount":     state.Amount.Sub(state.Remaining),
			"processing_job_id": nil,
			"processing_at":     nil,
		}
		if err := s.orders.UpdateFields(ctx, qo.OrderID, fields); err != nil {
			log.Printf("⚠️ [Market] Failed to persist resync of order %s: %v", qo.OrderID, err)
		}
	}
}

func (s *MarketOrderService) releaseClaims(ctx context.Context, orderIDs []string) {
	if err := s.orders.ReleaseToActive(ctx, orderIDs); err != nil {
		log.Printf("⚠️ [Market] Failed to release claims %v: %v", orderIDs, err)
	}
}

func (s *MarketOrderService) resolveOwner(ctx context.Context, owner string) error {
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

func quotedChainIDs(quote *MarketQuote) []uint64 {
	ids := make([]uint64, len(quote.Orders))
	for i, qo := range quote.Orders {
		ids[i] = qo.ChainOrderID
	}
	return ids
}

func oppositeSide(side models.OrderSide) models.OrderSide {
	if side == models.OrderSideBuy {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}
