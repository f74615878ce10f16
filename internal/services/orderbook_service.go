package services

import (
	"context"
	"log"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/clients"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"
	"github.com/juan-silveira/clube-navi-sub004/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookOrder is one resting order as exposed by the book snapshot
type BookOrder struct {
	OrderID           string          `json:"order_id"`
	BlockchainOrderID *uint64         `json:"blockchain_order_id"`
	OwnerAddress      string          `json:"owner_address"`
	Price             decimal.Decimal `json:"price"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
}

// OrderBookSnapshot is the derived, read-only view of one contract's book.
// Bids are sorted price descending, asks ascending; within a price level the
// lower chain order id comes first. Orders claimed by an in-flight job are
// excluded so they can never be matched twice.
type OrderBookSnapshot struct {
	ContractAddress string           `json:"contract_address"`
	Bids            []BookOrder      `json:"bids"`
	Asks            []BookOrder      `json:"asks"`
	BestBid         *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk         *decimal.Decimal `json:"best_ask,omitempty"`
	Crossed         bool             `json:"crossed"`
	Timestamp       time.Time        `json:"timestamp"`
}

// OrderBookService projects the book from the mirror and detects crossed
// states. Detection is cheap and read-only: it never mutates an order and
// never talks to the chain, it only enqueues a MatchJob for the worker.
type OrderBookService struct {
	orders      repository.OrderRepository
	queue       clients.MatchQueue
	broadcaster Broadcaster
}

// NewOrderBookService creates the projector/detector
func NewOrderBookService(orders repository.OrderRepository, queue clients.MatchQueue, broadcaster Broadcaster) *OrderBookService {
	return &OrderBookService{orders: orders, queue: queue, broadcaster: broadcaster}
}

// GetOrderBook returns the current snapshot. depth limits the number of
// orders per side; zero means no limit.
func (s *OrderBookService) GetOrderBook(ctx context.Context, contract string, depth int) (*OrderBookSnapshot, error) {
	bids, err := s.orders.FindRestingOrders(ctx, contract, models.OrderSideBuy, "")
	if err != nil {
		return nil, err
	}
	asks, err := s.orders.FindRestingOrders(ctx, contract, models.OrderSideSell, "")
	if err != nil {
		return nil, err
	}

	snapshot := &OrderBookSnapshot{
		ContractAddress: contract,
		Bids:            toBookOrders(bids, depth),
		Asks:            toBookOrders(asks, depth),
		Timestamp:       time.Now(),
	}
	if len(bids) > 0 {
		p := bids[0].Price
		snapshot.BestBid = &p
	}
	if len(asks) > 0 {
		p := asks[0].Price
		snapshot.BestAsk = &p
	}
	if snapshot.BestBid != nil && snapshot.BestAsk != nil {
		snapshot.Crossed = snapshot.BestBid.GreaterThanOrEqual(*snapshot.BestAsk)
	}
	return snapshot, nil
}

func toBookOrders(orders []*models.Order, depth int) []BookOrder {
	result := make([]BookOrder, 0, len(orders))
	for _, o := range orders {
		if depth > 0 && len(result) >= depth {
			break
		}
		result = append(result, BookOrder{
			OrderID:           o.ID,
			BlockchainOrderID: o.BlockchainOrderID,
			OwnerAddress:      o.OwnerAddress,
			Price:             o.Price,
			RemainingAmount:   o.RemainingAmount,
		})
	}
	return result
}

// DetectCrossedBook walks both sorted sides while the best bid price covers
// the best ask price, accumulating volume until one side can no longer commit
// more, and returns the resulting match group. It is a pure function: inputs
// must already be sorted best-first with ascending chain id as the tie-break,
// exactly as FindRestingOrders returns them. Returns nil when the book is not
// crossed.
func (s *OrderBookService) DetectCrossedBook(contract string, bids, asks []*models.Order) *models.MatchJob {
	bids = confirmedOnly(bids)
	asks = confirmedOnly(asks)
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}
	if bids[0].Price.LessThan(asks[0].Price) {
		return nil
	}

	job := &models.MatchJob{
		JobID:           uuid.New().String(),
		ContractAddress: contract,
		// the resting ask side sets the execution price at the crossing point
		ExecutionPrice: asks[0].Price,
		EnqueuedAt:     time.Now().Unix(),
	}

	i, j := 0, 0
	bidLeft := bids[i].RemainingAmount
	askLeft := asks[j].RemainingAmount
	bidTaken := decimal.Zero
	askTaken := decimal.Zero
	total := decimal.Zero

	for bids[i].Price.GreaterThanOrEqual(asks[j].Price) {
		take := decimal.Min(bidLeft, askLeft)
		bidTaken = bidTaken.Add(take)
		askTaken = askTaken.Add(take)
		total = total.Add(take)
		bidLeft = bidLeft.Sub(take)
		askLeft = askLeft.Sub(take)

		advanced := false
		if bidLeft.LessThanOrEqual(models.DustTolerance) {
			job.BuyOrders = append(job.BuyOrders, models.MatchJobOrder{
				OrderID:           bids[i].ID,
				BlockchainOrderID: *bids[i].BlockchainOrderID,
				Amount:            bidTaken,
			})
			i++
			if i == len(bids) {
				break
			}
			bidLeft = bids[i].RemainingAmount
			bidTaken = decimal.Zero
			advanced = true
		}
		if askLeft.LessThanOrEqual(models.DustTolerance) {
			job.SellOrders = append(job.SellOrders, models.MatchJobOrder{
				OrderID:           asks[j].ID,
				BlockchainOrderID: *asks[j].BlockchainOrderID,
				Amount:            askTaken,
			})
			j++
			if j == len(asks) {
				break
			}
			askLeft = asks[j].RemainingAmount
			askTaken = decimal.Zero
			advanced = true
		}
		if !advanced {
			break
		}
	}

	// flush the partially consumed order left on either side
	if i < len(bids) && bidTaken.GreaterThan(decimal.Zero) {
		job.BuyOrders = append(job.BuyOrders, models.MatchJobOrder{
			OrderID:           bids[i].ID,
			BlockchainOrderID: *bids[i].BlockchainOrderID,
			Amount:            bidTaken,
		})
	}
	if j < len(asks) && askTaken.GreaterThan(decimal.Zero) {
		job.SellOrders = append(job.SellOrders, models.MatchJobOrder{
			OrderID:           asks[j].ID,
			BlockchainOrderID: *asks[j].BlockchainOrderID,
			Amount:            askTaken,
		})
	}

	if total.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	job.TotalAmount = total
	return job
}

func confirmedOnly(orders []*models.Order) []*models.Order {
	result := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		if o.BlockchainOrderID != nil && o.RemainingAmount.GreaterThan(models.DustTolerance) {
			result = append(result, o)
		}
	}
	return result
}

// OnBookChanged runs detection for a contract and enqueues a match job when
// the book is crossed. Called after every order insert, cancellation and
// execution. Broadcast failures are logged, never returned.
func (s *OrderBookService) OnBookChanged(ctx context.Context, contract string) error {
	bids, err := s.orders.FindRestingOrders(ctx, contract, models.OrderSideBuy, "")
	if err != nil {
		return err
	}
	asks, err := s.orders.FindRestingOrders(ctx, contract, models.OrderSideSell, "")
	if err != nil {
		return err
	}

	if s.broadcaster != nil {
		s.broadcaster.BookUpdated(contract)
	}

	job := s.DetectCrossedBook(contract, bids, asks)
	if job == nil {
		return nil
	}

	log.Printf("🔍 [Book] Crossed book detected: Contract=%s, Price=%s, Amount=%s, Buys=%d, Sells=%d",
		contract, job.ExecutionPrice, job.TotalAmount, len(job.BuyOrders), len(job.SellOrders))
	return s.queue.Publish(ctx, job)
}
