package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/chain"
	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/shopspring/decimal"
)

type workerFixture struct {
	repo   *fakeOrderRepo
	trades *fakeTradeRepo
	chain  *fakeChainClient
	queue  *fakeQueue
	worker *MatchWorker
}

func newWorkerFixture() *workerFixture {
	repo := newFakeOrderRepo()
	trades := newFakeTradeRepo()
	chainClient := newFakeChainClient()
	queue := newFakeQueue()
	book := NewOrderBookService(repo, queue, nil)

	worker := NewMatchWorker(
		repo, trades, chainClient, queue, book, nil,
		&config.BlockchainConfig{ConfirmationTimeout: 5},
		&config.MatchingConfig{SweepTimeout: 300, SweepInterval: 60, DefaultSlippagePct: 2.0},
	)
	return &workerFixture{repo: repo, trades: trades, chain: chainClient, queue: queue, worker: worker}
}

// seedCrossedPair installs bid 1.10x8 (chain id 1) vs ask 1.05x5 (chain id 1)
// and returns the corresponding job
func (f *workerFixture) seedCrossedPair() *models.MatchJob {
	f.repo.put(restingOrder("b1", models.OrderSideBuy, 1, "alice", "1.10", "8"))
	f.repo.put(restingOrder("a1", models.OrderSideSell, 1, "bob", "1.05", "5"))
	f.chain.setState(models.OrderSideBuy, 1, orderState("alice", "8", "1.10", "8", true))
	f.chain.setState(models.OrderSideSell, 1, orderState("bob", "5", "1.05", "5", true))

	return &models.MatchJob{
		JobID:           "job-1",
		ContractAddress: testContract,
		BuyOrders:       []models.MatchJobOrder{{OrderID: "b1", BlockchainOrderID: 1, Amount: decimal.RequireFromString("5")}},
		SellOrders:      []models.MatchJobOrder{{OrderID: "a1", BlockchainOrderID: 1, Amount: decimal.RequireFromString("5")}},
		ExecutionPrice:  decimal.RequireFromString("1.05"),
		TotalAmount:     decimal.RequireFromString("5"),
	}
}

// primeMatchResult makes the next match tx confirm with the given events
func (f *workerFixture) primeMatchResult(matches ...chain.MatchedEvent) string {
	txHash := fmt.Sprintf("0xmatch%d", len(f.chain.submittedMatches)+1)
	f.chain.setResult(txHash, &chain.TxResult{
		TxHash:      txHash,
		BlockNumber: 555,
		Success:     true,
		Matches:     matches,
	})
	return txHash
}

func TestHandleJobSuccess(t *testing.T) {
	f := newWorkerFixture()
	job := f.seedCrossedPair()
	txHash := f.primeMatchResult(chain.MatchedEvent{
		BuyOrderID:  1,
		SellOrderID: 1,
		Buyer:       "alice",
		Seller:      "bob",
		Amount:      decimal.RequireFromString("5"),
		Price:       decimal.RequireFromString("1.05"),
	})

	if err := f.worker.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("HandleJob failed: %v", err)
	}

	buy := f.repo.get("b1")
	if buy.Status != models.OrderStatusActive {
		t.Fatalf("partially filled bid must be ACTIVE, got %s", buy.Status)
	}
	if !buy.RemainingAmount.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("bid remaining must be 3, got %s", buy.RemainingAmount)
	}
	if !buy.FilledAmount.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("bid filled must be 5, got %s", buy.FilledAmount)
	}
	if buy.CreationTxHash != "0xseedb1" {
		t.Fatalf("creation tx hash must never be overwritten, got %s", buy.CreationTxHash)
	}
	if buy.ProcessingJobID != nil {
		t.Fatal("claim must be cleared after execution")
	}

	sell := f.repo.get("a1")
	if sell.Status != models.OrderStatusExecuted {
		t.Fatalf("drained ask must be EXECUTED, got %s", sell.Status)
	}
	if !sell.RemainingAmount.IsZero() {
		t.Fatalf("ask remaining must be zero, got %s", sell.RemainingAmount)
	}

	trades := f.trades.all()
	if len(trades) != 1 {
		t.Fatalf("expected exactly one trade, got %d", len(trades))
	}
	if trades[0].ExecutionTxHash != txHash {
		t.Fatalf("trade must carry the execution tx, got %s", trades[0].ExecutionTxHash)
	}
	if !trades[0].Price.Equal(decimal.RequireFromString("1.05")) || !trades[0].Amount.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("unexpected trade terms: %s @ %s", trades[0].Amount, trades[0].Price)
	}
}

func TestHandleJobChainRevert(t *testing.T) {
	// simulated revert: both orders end ACTIVE, no trade, amounts unchanged
	f := newWorkerFixture()
	job := f.seedCrossedPair()
	f.chain.minedErr = fmt.Errorf("execution reverted")

	err := f.worker.HandleJob(context.Background(), job)
	var chainErr *ChainSubmissionError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected ChainSubmissionError for redelivery, got %v", err)
	}

	for _, id := range []string{"b1", "a1"} {
		got := f.repo.get(id)
		if got.Status != models.OrderStatusActive {
			t.Fatalf("order %s must be ACTIVE after revert, got %s", id, got.Status)
		}
		if !got.RemainingAmount.Equal(got.OriginalAmount) {
			t.Fatalf("order %s amounts must be unchanged, remaining %s", id, got.RemainingAmount)
		}
	}
	if len(f.trades.all()) != 0 {
		t.Fatal("no trade may exist after a revert")
	}
}

func TestHandleJobRevertedReceipt(t *testing.T) {
	// a mined-but-reverted tx surfaced as a Success=false result must be
	// treated exactly like a revert error: no fills, no trades
	f := newWorkerFixture()
	job := f.seedCrossedPair()
	f.chain.revert = true

	err := f.worker.HandleJob(context.Background(), job)
	var chainErr *ChainSubmissionError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected ChainSubmissionError for redelivery, got %v", err)
	}

	for _, id := range []string{"b1", "a1"} {
		got := f.repo.get(id)
		if got.Status != models.OrderStatusActive {
			t.Fatalf("order %s must be ACTIVE after revert, got %s", id, got.Status)
		}
		if !got.RemainingAmount.Equal(got.OriginalAmount) {
			t.Fatalf("order %s amounts must be unchanged, remaining %s", id, got.RemainingAmount)
		}
	}
	if len(f.trades.all()) != 0 {
		t.Fatal("no trade may exist for a reverted tx")
	}
}

func TestHandleJobIdempotentReplay(t *testing.T) {
	f := newWorkerFixture()
	job := f.seedCrossedPair()
	f.primeMatchResult(chain.MatchedEvent{
		BuyOrderID: 1, SellOrderID: 1,
		Amount: decimal.RequireFromString("5"),
		Price:  decimal.RequireFromString("1.05"),
	})

	if err := f.worker.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// chain state after the fill, as a redelivered job would observe it
	f.chain.setState(models.OrderSideBuy, 1, orderState("alice", "8", "1.10", "3", true))
	f.chain.setState(models.OrderSideSell, 1, orderState("bob", "5", "1.05", "0", false))

	if err := f.worker.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("replay must be acknowledged quietly, got %v", err)
	}
	if len(f.trades.all()) != 1 {
		t.Fatalf("replay must not duplicate trades, got %d", len(f.trades.all()))
	}
	if len(f.chain.submittedMatches) != 1 {
		t.Fatalf("replay must not resubmit on-chain, got %d submissions", len(f.chain.submittedMatches))
	}
}

func TestHandleJobLockRace(t *testing.T) {
	f := newWorkerFixture()
	job := f.seedCrossedPair()

	// a foreign job already holds the ask
	foreign := "foreign-job"
	ask := f.repo.get("a1")
	ask.Status = models.OrderStatusProcessing
	ask.ProcessingJobID = &foreign
	f.repo.put(ask)

	if err := f.worker.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("lost race must abort quietly, got %v", err)
	}
	if len(f.chain.submittedMatches) != 0 {
		t.Fatal("no chain submission may happen after a lost claim race")
	}
	// the bid claimed along the way must be released
	if f.repo.get("b1").Status != models.OrderStatusActive {
		t.Fatalf("bid must return to ACTIVE, got %s", f.repo.get("b1").Status)
	}
}

func TestHandleJobReclassifiesDeadOrders(t *testing.T) {
	f := newWorkerFixture()
	job := f.seedCrossedPair()
	// the ask was cancelled on-chain after detection
	f.chain.setState(models.OrderSideSell, 1, orderState("bob", "5", "1.05", "5", false))

	if err := f.worker.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("stale job must abort quietly, got %v", err)
	}
	if got := f.repo.get("a1").Status; got != models.OrderStatusCancelled {
		t.Fatalf("cancelled-on-chain order must be reclassified CANCELLED, got %s", got)
	}
	if len(f.chain.submittedMatches) != 0 {
		t.Fatal("no chain submission may happen for an invalid job")
	}
	if len(f.trades.all()) != 0 {
		t.Fatal("no trade may be recorded for an aborted job")
	}
}

func TestRecoverySweep(t *testing.T) {
	// orders stuck PROCESSING past the timeout return to ACTIVE without
	// operator intervention
	repo := newFakeOrderRepo()
	worker := NewMatchWorker(
		repo, newFakeTradeRepo(), newFakeChainClient(), newFakeQueue(), nil, nil,
		&config.BlockchainConfig{ConfirmationTimeout: 5},
		&config.MatchingConfig{SweepTimeout: 1, SweepInterval: 60, DefaultSlippagePct: 2.0},
	)

	stuck := restingOrder("s1", models.OrderSideBuy, 1, "alice", "1.00", "5")
	stuck.Status = models.OrderStatusProcessing
	jobID := "dead-job"
	stuck.ProcessingJobID = &jobID
	past := time.Now().Add(-time.Minute)
	stuck.ProcessingAt = &past
	repo.put(stuck)

	fresh := restingOrder("s2", models.OrderSideSell, 2, "bob", "1.00", "5")
	fresh.Status = models.OrderStatusProcessing
	now := time.Now()
	fresh.ProcessingAt = &now
	repo.put(fresh)

	worker.runSweep(context.Background())

	if got := repo.get("s1").Status; got != models.OrderStatusActive {
		t.Fatalf("stuck order must be swept back to ACTIVE, got %s", got)
	}
	if repo.get("s1").ProcessingJobID != nil {
		t.Fatal("sweep must clear the claim")
	}
	if got := repo.get("s2").Status; got != models.OrderStatusProcessing {
		t.Fatalf("fresh claim must not be swept, got %s", got)
	}
}

func TestHandleJobPrecomputedSplitFallback(t *testing.T) {
	// a receipt without pairwise events falls back to the detection split
	f := newWorkerFixture()
	job := f.seedCrossedPair()
	f.primeMatchResult() // success, no events

	if err := f.worker.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("HandleJob failed: %v", err)
	}
	trades := f.trades.all()
	if len(trades) != 1 {
		t.Fatalf("expected one trade from the split fallback, got %d", len(trades))
	}
	if !trades[0].Price.Equal(job.ExecutionPrice) {
		t.Fatalf("fallback trade must use the detection price, got %s", trades[0].Price)
	}
	if !f.repo.get("b1").RemainingAmount.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("bid remaining must be 3, got %s", f.repo.get("b1").RemainingAmount)
	}
}
