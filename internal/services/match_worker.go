package services

import (
	"context"
	"fmt"
	"log"
	"sync"
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

// MatchWorker consumes match jobs and drives them through the execution state
// machine: revalidate live on-chain, claim, submit, reconcile, release. Jobs
// arrive at-least-once, so every step tolerates replay; execution per contract
// is serialized by the single-consumer queue plus an in-process mutex.
type MatchWorker struct {
	orders      repository.OrderRepository
	trades      repository.TradeRepository
	chainClient chain.ExchangeClient
	queue       clients.MatchQueue
	book        *OrderBookService
	broadcaster Broadcaster

	confirmationTimeout time.Duration
	sweepTimeout        time.Duration
	sweepInterval       time.Duration

	contractLocks sync.Map // contract address -> *sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMatchWorker creates the worker
func NewMatchWorker(
	orders repository.OrderRepository,
	trades repository.TradeRepository,
	chainClient chain.ExchangeClient,
	queue clients.MatchQueue,
	book *OrderBookService,
	broadcaster Broadcaster,
	blockchainCfg *config.BlockchainConfig,
	matchingCfg *config.MatchingConfig,
) *MatchWorker {
	return &MatchWorker{
		orders:              orders,
		trades:              trades,
		chainClient:         chainClient,
		queue:               queue,
		book:                book,
		broadcaster:         broadcaster,
		confirmationTimeout: blockchainCfg.ConfirmationTimeoutDuration(),
		sweepTimeout:        matchingCfg.SweepTimeoutDuration(),
		sweepInterval:       matchingCfg.SweepIntervalDuration(),
		stopChan:            make(chan struct{}),
	}
}

// Start runs the recovery sweep, launches the periodic sweep loop and begins
// consuming match jobs.
func (w *MatchWorker) Start() error {
	w.runSweep(context.Background())

	w.wg.Add(1)
	go w.sweepLoop()

	if err := w.queue.Consume(w.HandleJob); err != nil {
		return fmt.Errorf("failed to start match job consumer: %w", err)
	}
	log.Printf("🚀 [Worker] Match worker started (sweep every %v, timeout %v)", w.sweepInterval, w.sweepTimeout)
	return nil
}

// Stop terminates the sweep loop
func (w *MatchWorker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
	log.Printf("🛑 [Worker] Match worker stopped")
}

func (w *MatchWorker) sweepLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.runSweep(context.Background())
		}
	}
}

// runSweep reverts orders stuck in a transient status beyond the timeout back
// to ACTIVE. This is the sole safety net against crashes mid-match; no
// operator intervention is ever required.
func (w *MatchWorker) runSweep(ctx context.Context) {
	released, err := w.orders.ReleaseStuckProcessing(ctx, time.Now().Add(-w.sweepTimeout))
	if err != nil {
		log.Printf("⚠️ [Worker] Recovery sweep failed: %v", err)
		return
	}
	if released > 0 {
		metrics.SweepReverts.Add(float64(released))
		log.Printf("🧹 [Worker] Recovery sweep released %d stuck order(s) back to ACTIVE", released)
	}
}

func (w *MatchWorker) lockContract(contract string) *sync.Mutex {
	mu, _ := w.contractLocks.LoadOrStore(contract, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleJob executes one match job. A nil return acknowledges the job; an
// error triggers queue redelivery. Benign aborts (stale job, lost claim race)
// return nil so the queue does not retry a job that can never succeed.
func (w *MatchWorker) HandleJob(ctx context.Context, job *models.MatchJob) error {
	mu := w.lockContract(job.ContractAddress)
	mu.Lock()
	defer mu.Unlock()

	log.Printf("⚙️ [Worker] Processing match job: JobID=%s, Contract=%s, Buys=%d, Sells=%d, Amount=%s",
		job.JobID, job.ContractAddress, len(job.BuyOrders), len(job.SellOrders), job.TotalAmount)

	// step 1: revalidate every order against live chain storage. The mirror
	// can be stale relative to concurrent fills or external cancellations.
	ok, err := w.revalidate(ctx, job)
	if err != nil {
		return err
	}
	if !ok {
		metrics.MatchJobsProcessed.WithLabelValues("aborted").Inc()
		w.redetect(ctx, job.ContractAddress)
		return nil
	}

	// step 2: claim all orders ACTIVE -> PROCESSING
	claimed, ok, err := w.claimAll(ctx, job)
	if err != nil {
		return err
	}
	if !ok {
		metrics.MatchLockRaces.Inc()
		metrics.MatchJobsProcessed.WithLabelValues("aborted").Inc()
		log.Printf("🔒 [Worker] Job %s lost a claim race, aborting quietly", job.JobID)
		return nil
	}

	// step 3: one match tx carrying all ids in the job
	start := time.Now()
	txHash, err := w.chainClient.SubmitMatchOrders(ctx, job.ContractAddress, chainIDs(job.BuyOrders), chainIDs(job.SellOrders))
	if err != nil {
		w.releaseClaims(ctx, claimed)
		metrics.MatchJobsProcessed.WithLabelValues("failed").Inc()
		return &ChainSubmissionError{Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.confirmationTimeout)
	defer cancel()
	result, err := w.chainClient.WaitMined(waitCtx, txHash)
	if err == nil && !result.Success {
		err = fmt.Errorf("transaction %s reverted on-chain", txHash)
	}
	if err != nil {
		// revert/timeout/RPC failure: every claimed order goes back to ACTIVE
		w.releaseClaims(ctx, claimed)
		metrics.MatchJobsProcessed.WithLabelValues("failed").Inc()
		return &ChainSubmissionError{TxHash: txHash, Err: err}
	}
	metrics.ChainTxDuration.WithLabelValues("match_orders").Observe(time.Since(start).Seconds())

	// step 4: reconcile the mirror from the chain events
	if err := w.reconcile(ctx, job, result); err != nil {
		// the chain tx is final; surface for redelivery so reconciliation is
		// retried (trade inserts are idempotent)
		metrics.MatchJobsProcessed.WithLabelValues("failed").Inc()
		return &ReconciliationError{TxHash: txHash, Err: err}
	}

	metrics.MatchJobsProcessed.WithLabelValues("success").Inc()
	log.Printf("✅ [Worker] Match job executed: JobID=%s, Tx=%s, Amount=%s", job.JobID, txHash, job.TotalAmount)

	// step 5: broadcast; failures here never fail the job
	w.redetect(ctx, job.ContractAddress)
	return nil
}

// revalidate reads each order's live chain state. Any inactive order is
// reclassified locally (EXECUTED when drained, CANCELLED otherwise) and the
// job aborts without touching the chain. A replayed already-executed job is
// caught here too: its orders read back inactive.
func (w *MatchWorker) revalidate(ctx context.Context, job *models.MatchJob) (bool, error) {
	valid := true
	for _, part := range []struct {
		side   models.OrderSide
		orders []models.MatchJobOrder
	}{
		{models.OrderSideBuy, job.BuyOrders},
		{models.OrderSideSell, job.SellOrders},
	} {
		for _, jo := range part.orders {
			state, err := w.chainClient.GetOrder(ctx, job.ContractAddress, part.side, jo.BlockchainOrderID)
			if err != nil {
				return false, fmt.Errorf("live revalidation of %s order %d failed: %w", part.side, jo.BlockchainOrderID, err)
			}
			if !state.Active || state.Remaining.LessThanOrEqual(models.DustTolerance) {
				w.reclassify(ctx, jo.OrderID, state)
				valid = false
				continue
			}
			if state.Remaining.LessThan(jo.Amount) {
				// partial external fill since detection; amounts are stale
				log.Printf("⚠️ [Worker] Order %s has %s remaining on-chain, job expected %s; aborting for re-detection",
					jo.OrderID, state.Remaining, jo.Amount)
				valid = false
			}
		}
	}
	return valid, nil
}

// reclassify aligns the mirror with a dead on-chain order
func (w *MatchWorker) reclassify(ctx context.Context, orderID string, state *chain.OrderState) {
	status := models.OrderStatusCancelled
	if state.Remaining.LessThanOrEqual(models.DustTolerance) {
		status = models.OrderStatusExecuted
	}
	fields := map[string]interface{}{
		"status":            status,
		"remaining_amount":  state.Remaining,
		"filled_amount":     state.Amount.Sub(state.Remaining),
		"processing_job_id": nil,
		"processing_at":     nil,
	}
	if err := w.orders.UpdateFields(ctx, orderID, fields); err != nil {
		log.Printf("⚠️ [Worker] Failed to reclassify order %s as %s: %v", orderID, status, err)
		return
	}
	log.Printf("♻️ [Worker] Order %s reclassified as %s from live chain state", orderID, status)
}

// claimAll claims every order in the job. Zero rows on a foreign claim is a
// benign race: everything claimed so far is released and ok=false returned.
// A re-claim by this job id succeeds, which is what makes redelivery safe.
func (w *MatchWorker) claimAll(ctx context.Context, job *models.MatchJob) ([]string, bool, error) {
	all := make([]models.MatchJobOrder, 0, len(job.BuyOrders)+len(job.SellOrders))
	all = append(all, job.BuyOrders...)
	all = append(all, job.SellOrders...)

	claimed := make([]string, 0, len(all))
	for _, jo := range all {
		ok, err := w.orders.ClaimForProcessing(ctx, job.JobID, jo.OrderID)
		if err != nil {
			w.releaseClaims(ctx, claimed)
			return nil, false, err
		}
		if !ok {
			w.releaseClaims(ctx, claimed)
			return nil, false, nil
		}
		claimed = append(claimed, jo.OrderID)
	}
	return claimed, true, nil
}

func (w *MatchWorker) releaseClaims(ctx context.Context, orderIDs []string) {
	if err := w.orders.ReleaseToActive(ctx, orderIDs); err != nil {
		log.Printf("⚠️ [Worker] Failed to release claims %v: %v", orderIDs, err)
	}
}

// reconcile writes trade rows and applies fills after a confirmed match tx.
// Fill amounts come from the chain events when present; for group jobs whose
// receipt carries only pairwise events, the per-order totals are accumulated
// across events and validated against the job's pre-computed split.
func (w *MatchWorker) reconcile(ctx context.Context, job *models.MatchJob, result *chain.TxResult) error {
	byChainID := make(map[string]string) // "side:chainID" -> local order id
	for _, jo := range job.BuyOrders {
		byChainID[fmt.Sprintf("BUY:%d", jo.BlockchainOrderID)] = jo.OrderID
	}
	for _, jo := range job.SellOrders {
		byChainID[fmt.Sprintf("SELL:%d", jo.BlockchainOrderID)] = jo.OrderID
	}

	fills := make(map[string]decimal.Decimal) // local order id -> filled amount

	if len(result.Matches) > 0 {
		// one trade row per pairwise event, i.e. per price level consumed
		for _, ev := range result.Matches {
			buyID := byChainID[fmt.Sprintf("BUY:%d", ev.BuyOrderID)]
			sellID := byChainID[fmt.Sprintf("SELL:%d", ev.SellOrderID)]
			if buyID == "" || sellID == "" {
				log.Printf("⚠️ [Worker] Match event references unknown order pair (%d, %d) in tx %s",
					ev.BuyOrderID, ev.SellOrderID, result.TxHash)
				continue
			}
			if err := w.recordTrade(ctx, job.ContractAddress, &buyID, &sellID, ev.Price, ev.Amount, result); err != nil {
				return err
			}
			fills[buyID] = fills[buyID].Add(ev.Amount)
			fills[sellID] = fills[sellID].Add(ev.Amount)
		}
	} else {
		// no pairwise breakdown in the receipt: fall back to the job's
		// pre-computed split at the detection price
		log.Printf("⚠️ [Worker] Tx %s carried no pairwise events, using pre-computed split", result.TxHash)
		for _, pair := range pairJobOrders(job) {
			if err := w.recordTrade(ctx, job.ContractAddress, &pair.buyID, &pair.sellID, job.ExecutionPrice, pair.amount, result); err != nil {
				return err
			}
			fills[pair.buyID] = fills[pair.buyID].Add(pair.amount)
			fills[pair.sellID] = fills[pair.sellID].Add(pair.amount)
		}
	}

	// validate the event totals against the detection split
	for _, jo := range append(append([]models.MatchJobOrder{}, job.BuyOrders...), job.SellOrders...) {
		if filled, ok := fills[jo.OrderID]; ok && !filled.Equal(jo.Amount) {
			log.Printf("⚠️ [Worker] Order %s filled %s on-chain, detection expected %s", jo.OrderID, filled, jo.Amount)
		}
	}

	orderIDs := make([]string, 0, len(fills))
	for id := range fills {
		orderIDs = append(orderIDs, id)
	}
	orders, err := w.orders.GetByIDs(ctx, orderIDs)
	if err != nil {
		return err
	}
	for _, order := range orders {
		order.ApplyFill(fills[order.ID])
		order.ProcessingJobID = nil
		order.ProcessingAt = nil
		if err := w.orders.Update(ctx, order); err != nil {
			return err
		}
		if w.broadcaster != nil {
			w.broadcaster.OrderUpdated(order)
		}
	}
	return nil
}

// recordTrade inserts one fill row; a duplicate from a replayed job is
// skipped silently thanks to the (tx, buy, sell) unique index.
func (w *MatchWorker) recordTrade(ctx context.Context, contract string, buyID, sellID *string, price, amount decimal.Decimal, result *chain.TxResult) error {
	trade := &models.Trade{
		ID:              uuid.New().String(),
		ContractAddress: contract,
		BuyOrderID:      buyID,
		SellOrderID:     sellID,
		Price:           price,
		Amount:          amount,
		TotalValue:      amount.Mul(price),
		ExecutionTxHash: result.TxHash,
		BlockNumber:     result.BlockNumber,
	}
	created, err := w.trades.Create(ctx, trade)
	if err != nil {
		return err
	}
	if !created {
		metrics.TradesDuplicateSkipped.Inc()
		return nil
	}
	metrics.TradesRecorded.Inc()
	if w.broadcaster != nil {
		w.broadcaster.TradeExecuted(trade)
	}
	return nil
}

type jobPair struct {
	buyID  string
	sellID string
	amount decimal.Decimal
}

// pairJobOrders zips the job's buy and sell splits into pairwise fills, the
// same walk the detector performed.
func pairJobOrders(job *models.MatchJob) []jobPair {
	var pairs []jobPair
	i, j := 0, 0
	buyLeft := decimal.Zero
	sellLeft := decimal.Zero
	if len(job.BuyOrders) > 0 {
		buyLeft = job.BuyOrders[0].Amount
	}
	if len(job.SellOrders) > 0 {
		sellLeft = job.SellOrders[0].Amount
	}
	for i < len(job.BuyOrders) && j < len(job.SellOrders) {
		take := decimal.Min(buyLeft, sellLeft)
		if take.GreaterThan(decimal.Zero) {
			pairs = append(pairs, jobPair{
				buyID:  job.BuyOrders[i].OrderID,
				sellID: job.SellOrders[j].OrderID,
				amount: take,
			})
		}
		buyLeft = buyLeft.Sub(take)
		sellLeft = sellLeft.Sub(take)
		if !buyLeft.GreaterThan(decimal.Zero) {
			i++
			if i < len(job.BuyOrders) {
				buyLeft = job.BuyOrders[i].Amount
			}
		}
		if !sellLeft.GreaterThan(decimal.Zero) {
			j++
			if j < len(job.SellOrders) {
				sellLeft = job.SellOrders[j].Amount
			}
		}
	}
	return pairs
}

func chainIDs(orders []models.MatchJobOrder) []uint64 {
	ids := make([]uint64, len(orders))
	for i, o := range orders {
		ids[i] = o.BlockchainOrderID
	}
	return ids
}

// redetect re-runs crossed-book detection after any state change
func (w *MatchWorker) redetect(ctx context.Context, contract string) {
	if w.book == nil {
		return
	}
	if err := w.book.OnBookChanged(ctx, contract); err != nil {
		log.Printf("⚠️ [Worker] Post-job book detection failed: %v", err)
	}
}
