package services

import (
	"context"
	"errors"
	"testing"

	"github.com/juan-silveira/clube-navi-sub004/internal/chain"
	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/shopspring/decimal"
)

type orderFixture struct {
	repo     *fakeOrderRepo
	trades   *fakeTradeRepo
	counters *fakeCounterRepo
	chain    *fakeChainClient
	queue    *fakeQueue
	service  *OrderService
}

func newOrderFixture(activeUsers ...string) *orderFixture {
	repo := newFakeOrderRepo()
	trades := newFakeTradeRepo()
	counters := newFakeCounterRepo()
	chainClient := newFakeChainClient()
	queue := newFakeQueue()
	book := NewOrderBookService(repo, queue, nil)

	svc := NewOrderService(
		repo, trades, counters, chainClient, newFakeIdentity(activeUsers...), book, nil,
		&config.BlockchainConfig{ConfirmationTimeout: 5},
	)
	return &orderFixture{repo: repo, trades: trades, counters: counters, chain: chainClient, queue: queue, service: svc}
}

func TestCreateLimitOrderLifecycle(t *testing.T) {
	f := newOrderFixture("alice")

	order, err := f.service.CreateLimitOrder(context.Background(), testContract, "alice",
		models.OrderSideBuy, decimal.RequireFromString("8"), decimal.RequireFromString("1.10"))
	if err != nil {
		t.Fatalf("CreateLimitOrder failed: %v", err)
	}

	if order.Status != models.OrderStatusActive {
		t.Fatalf("confirmed order must be ACTIVE, got %s", order.Status)
	}
	if order.BlockchainOrderID == nil {
		t.Fatal("chain order id must be back-filled from the receipt")
	}
	if order.CreationTxHash == "" {
		t.Fatal("creation tx hash must be recorded")
	}
	if !order.RemainingAmount.Equal(order.OriginalAmount) {
		t.Fatalf("fresh order must be unfilled, remaining %s", order.RemainingAmount)
	}

	// counter advanced past the allocated chain id
	next, _ := f.counters.Get(context.Background(), testContract, models.OrderSideBuy)
	if next != *order.BlockchainOrderID+1 {
		t.Fatalf("counter must point past the allocated id, got %d", next)
	}
}

func TestCreateLimitOrderTriggersDetection(t *testing.T) {
	f := newOrderFixture("alice", "bob")
	f.repo.put(restingOrder("a1", models.OrderSideSell, 99, "bob", "1.05", "5"))

	if _, err := f.service.CreateLimitOrder(context.Background(), testContract, "alice",
		models.OrderSideBuy, decimal.RequireFromString("8"), decimal.RequireFromString("1.10")); err != nil {
		t.Fatalf("CreateLimitOrder failed: %v", err)
	}

	jobs := f.queue.published()
	if len(jobs) != 1 {
		t.Fatalf("crossing insert must enqueue one match job, got %d", len(jobs))
	}
	if !jobs[0].TotalAmount.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected matched amount 5, got %s", jobs[0].TotalAmount)
	}
}

func TestCreateLimitOrderRevertedReceipt(t *testing.T) {
	// a Success=false result from a permissive client must not promote the
	// mirror row; the order stays PENDING for the scanner to resolve
	f := newOrderFixture("alice")
	f.chain.revert = true

	_, err := f.service.CreateLimitOrder(context.Background(), testContract, "alice",
		models.OrderSideBuy, decimal.RequireFromString("8"), decimal.RequireFromString("1.10"))

	var chainErr *ChainSubmissionError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected ChainSubmissionError, got %v", err)
	}
	order, lookupErr := f.repo.FindByCreationTxHash(context.Background(), "0xcreate1")
	if lookupErr != nil {
		t.Fatalf("mirror row must exist for the submitted tx: %v", lookupErr)
	}
	if order.Status != models.OrderStatusPending {
		t.Fatalf("order must stay PENDING after a revert, got %s", order.Status)
	}
	if order.BlockchainOrderID != nil {
		t.Fatal("no chain id may be back-filled from a reverted tx")
	}
}

func TestCreateLimitOrderUnknownUser(t *testing.T) {
	f := newOrderFixture() // nobody registered

	_, err := f.service.CreateLimitOrder(context.Background(), testContract, "ghost",
		models.OrderSideBuy, decimal.RequireFromString("1"), decimal.RequireFromString("1"))
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if len(f.chain.results) != 0 {
		t.Fatal("no chain submission may happen for an unknown user")
	}
}

func TestCreateLimitOrderValidation(t *testing.T) {
	f := newOrderFixture("alice")

	cases := []struct {
		name   string
		amount string
		price  string
	}{
		{"zero amount", "0", "1"},
		{"negative amount", "-2", "1"},
		{"zero price", "5", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.CreateLimitOrder(context.Background(), testContract, "alice",
				models.OrderSideBuy, decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.price))
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCancelOrderSideCollision(t *testing.T) {
	// chain id 7 exists on BOTH sequences; only the SELL may be cancelled
	f := newOrderFixture("alice")
	f.repo.put(restingOrder("buy7", models.OrderSideBuy, 7, "alice", "1.00", "5"))
	f.repo.put(restingOrder("sell7", models.OrderSideSell, 7, "alice", "1.20", "5"))
	f.chain.setState(models.OrderSideBuy, 7, orderState("alice", "5", "1.00", "5", true))
	f.chain.setState(models.OrderSideSell, 7, orderState("alice", "5", "1.20", "5", true))

	cancelled, err := f.service.CancelOrder(context.Background(), testContract, models.OrderSideSell, "alice", 7)
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if cancelled.ID != "sell7" {
		t.Fatalf("wrong order cancelled: %s", cancelled.ID)
	}
	if got := f.repo.get("sell7").Status; got != models.OrderStatusCancelled {
		t.Fatalf("sell order must be CANCELLED, got %s", got)
	}
	if got := f.repo.get("buy7").Status; got != models.OrderStatusActive {
		t.Fatalf("buy order with the same numeric id must stay ACTIVE, got %s", got)
	}
}

func TestCancelOrderWrongOwner(t *testing.T) {
	f := newOrderFixture("alice", "mallory")
	f.repo.put(restingOrder("o1", models.OrderSideBuy, 3, "alice", "1.00", "5"))

	_, err := f.service.CancelOrder(context.Background(), testContract, models.OrderSideBuy, "mallory", 3)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for a foreign owner, got %v", err)
	}
}

func TestCancelOrderRejectsTransient(t *testing.T) {
	f := newOrderFixture("alice")
	claimed := restingOrder("o1", models.OrderSideBuy, 3, "alice", "1.00", "5")
	claimed.Status = models.OrderStatusProcessing
	f.repo.put(claimed)

	_, err := f.service.CancelOrder(context.Background(), testContract, models.OrderSideBuy, "alice", 3)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for a claimed order, got %v", err)
	}
}

func TestOnOrderCreatedBackfillsLateConfirmation(t *testing.T) {
	f := newOrderFixture("alice")

	pending := &models.Order{
		ID:              "p1",
		ContractAddress: testContract,
		OwnerAddress:    "alice",
		Side:            models.OrderSideBuy,
		Kind:            models.OrderKindLimit,
		Price:           decimal.RequireFromString("1.00"),
		OriginalAmount:  decimal.RequireFromString("5"),
		RemainingAmount: decimal.RequireFromString("5"),
		Status:          models.OrderStatusPending,
		CreationTxHash:  "0xlate",
	}
	f.repo.put(pending)

	f.service.OnOrderCreated(testContract, chain.OrderCreatedEvent{
		OrderID: 42,
		Side:    models.OrderSideBuy,
		Trader:  "alice",
		Amount:  decimal.RequireFromString("5"),
		Price:   decimal.RequireFromString("1.00"),
	}, "0xlate", 777)

	got := f.repo.get("p1")
	if got.Status != models.OrderStatusActive {
		t.Fatalf("late-confirmed order must be ACTIVE, got %s", got.Status)
	}
	if got.BlockchainOrderID == nil || *got.BlockchainOrderID != 42 {
		t.Fatalf("chain id must be back-filled, got %v", got.BlockchainOrderID)
	}
}

func TestOnOrderCreatedMirrorsExternalOrder(t *testing.T) {
	f := newOrderFixture()

	f.service.OnOrderCreated(testContract, chain.OrderCreatedEvent{
		OrderID: 9,
		Side:    models.OrderSideSell,
		Trader:  "outsider",
		Amount:  decimal.RequireFromString("3"),
		Price:   decimal.RequireFromString("2.00"),
	}, "0xexternal", 800)

	mirrored, err := f.repo.FindByChainID(context.Background(), testContract, models.OrderSideSell, "outsider", 9)
	if err != nil {
		t.Fatalf("external order must be mirrored: %v", err)
	}
	if mirrored.Status != models.OrderStatusActive {
		t.Fatalf("mirrored order must be ACTIVE, got %s", mirrored.Status)
	}
}

func TestOnOrdersMatchedSkipsClaimedOrders(t *testing.T) {
	// the scanner sees the match event before the owning job finishes its own
	// reconciliation; applying it here too would double-fill
	f := newOrderFixture()
	jobID := "job-held"
	for _, o := range []*models.Order{
		restingOrder("b1", models.OrderSideBuy, 1, "alice", "1.10", "8"),
		restingOrder("a1", models.OrderSideSell, 1, "bob", "1.05", "5"),
	} {
		o.Status = models.OrderStatusProcessing
		o.ProcessingJobID = &jobID
		f.repo.put(o)
	}

	f.service.OnOrdersMatched(testContract, chain.MatchedEvent{
		BuyOrderID:  1,
		SellOrderID: 1,
		Amount:      decimal.RequireFromString("5"),
		Price:       decimal.RequireFromString("1.05"),
	}, "0xheld", 900)

	if len(f.trades.all()) != 0 {
		t.Fatalf("no trade may be recorded while a job holds the orders, got %d", len(f.trades.all()))
	}
	if !f.repo.get("b1").RemainingAmount.Equal(decimal.RequireFromString("8")) {
		t.Fatalf("held order must not be filled by the scanner, remaining %s", f.repo.get("b1").RemainingAmount)
	}
}

func TestResyncCounters(t *testing.T) {
	f := newOrderFixture()
	f.repo.put(restingOrder("b1", models.OrderSideBuy, 11, "alice", "1.00", "5"))
	f.repo.put(restingOrder("b2", models.OrderSideBuy, 14, "bob", "1.00", "5"))
	f.repo.put(restingOrder("a1", models.OrderSideSell, 2, "carol", "1.10", "5"))

	f.service.ResyncCounters(context.Background(), []string{testContract})

	buyNext, _ := f.counters.Get(context.Background(), testContract, models.OrderSideBuy)
	if buyNext != 15 {
		t.Fatalf("buy counter must be max+1=15, got %d", buyNext)
	}
	sellNext, _ := f.counters.Get(context.Background(), testContract, models.OrderSideSell)
	if sellNext != 3 {
		t.Fatalf("sell counter must be max+1=3, got %d", sellNext)
	}
}

func TestAmountInvariantAfterFills(t *testing.T) {
	order := restingOrder("o1", models.OrderSideBuy, 1, "alice", "1.00", "10")
	order.ApplyFill(decimal.RequireFromString("4"))

	if !order.AmountsConsistent() {
		t.Fatalf("remaining+filled must equal original, got %s + %s vs %s",
			order.RemainingAmount, order.FilledAmount, order.OriginalAmount)
	}
	if order.Status != models.OrderStatusActive {
		t.Fatalf("partially filled order must be ACTIVE, got %s", order.Status)
	}

	order.ApplyFill(decimal.RequireFromString("5.9999999"))
	if order.Status != models.OrderStatusExecuted {
		t.Fatalf("dust remainder must resolve to EXECUTED, got %s", order.Status)
	}
}
