package chain

import (
	"fmt"
	"math/big"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func sideFromIsBuy(isBuy bool) models.OrderSide {
	if isBuy {
		return models.OrderSideBuy
	}
	return models.OrderSideSell
}

// parseReceiptEvents extracts every known exchange event from a receipt into
// the TxResult. Unknown logs (ERC20 transfers etc.) are skipped.
func parseReceiptEvents(receipt *types.Receipt, result *TxResult) error {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case exchangeABI.Events["OrderCreated"].ID:
			ev, err := parseOrderCreated(lg)
			if err != nil {
				return err
			}
			result.OrderCreated = ev
		case exchangeABI.Events["OrdersMatched"].ID:
			ev, err := parseOrdersMatched(lg)
			if err != nil {
				return err
			}
			result.Matches = append(result.Matches, *ev)
		case exchangeABI.Events["MarketOrderExecuted"].ID:
			ev, err := parseMarketExecuted(lg)
			if err != nil {
				return err
			}
			result.Summary = ev
		case exchangeABI.Events["OrderCancelled"].ID:
			ev, err := parseOrderCancelled(lg)
			if err != nil {
				return err
			}
			result.Cancelled = ev
		}
	}
	return nil
}

func parseOrderCreated(lg *types.Log) (*OrderCreatedEvent, error) {
	if len(lg.Topics) < 3 {
		return nil, fmt.Errorf("OrderCreated log has %d topics, want 3", len(lg.Topics))
	}
	values, err := exchangeABI.Unpack("OrderCreated", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack OrderCreated: %w", err)
	}
	// non-indexed: isBuy, amount, price
	isBuy, ok1 := values[0].(bool)
	amount, ok2 := values[1].(*big.Int)
	price, ok3 := values[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("OrderCreated has unexpected field types")
	}
	return &OrderCreatedEvent{
		OrderID: new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		Side:    sideFromIsBuy(isBuy),
		Trader:  common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Amount:  fromBaseUnits(amount),
		Price:   fromBaseUnits(price),
	}, nil
}

func parseOrdersMatched(lg *types.Log) (*MatchedEvent, error) {
	if len(lg.Topics) < 3 {
		return nil, fmt.Errorf("OrdersMatched log has %d topics, want 3", len(lg.Topics))
	}
	values, err := exchangeABI.Unpack("OrdersMatched", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack OrdersMatched: %w", err)
	}
	// non-indexed: buyer, seller, amount, price, fee
	buyer, ok1 := values[0].(common.Address)
	seller, ok2 := values[1].(common.Address)
	amount, ok3 := values[2].(*big.Int)
	price, ok4 := values[3].(*big.Int)
	fee, ok5 := values[4].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("OrdersMatched has unexpected field types")
	}
	return &MatchedEvent{
		BuyOrderID:  new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		SellOrderID: new(big.Int).SetBytes(lg.Topics[2].Bytes()).Uint64(),
		Buyer:       buyer.Hex(),
		Seller:      seller.Hex(),
		Amount:      fromBaseUnits(amount),
		Price:       fromBaseUnits(price),
		Fee:         fromBaseUnits(fee),
	}, nil
}

func parseMarketExecuted(lg *types.Log) (*ExecutionSummary, error) {
	if len(lg.Topics) < 2 {
		return nil, fmt.Errorf("MarketOrderExecuted log has %d topics, want 2", len(lg.Topics))
	}
	values, err := exchangeABI.Unpack("MarketOrderExecuted", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack MarketOrderExecuted: %w", err)
	}
	// non-indexed: isBuy, totalValue, totalAmount, fee
	isBuy, ok1 := values[0].(bool)
	totalValue, ok2 := values[1].(*big.Int)
	totalAmount, ok3 := values[2].(*big.Int)
	fee, ok4 := values[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("MarketOrderExecuted has unexpected field types")
	}
	return &ExecutionSummary{
		Trader:      common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		IsBuy:       isBuy,
		TotalValue:  fromBaseUnits(totalValue),
		TotalAmount: fromBaseUnits(totalAmount),
		Fee:         fromBaseUnits(fee),
	}, nil
}

func parseOrderCancelled(lg *types.Log) (*OrderCancelledEvent, error) {
	if len(lg.Topics) < 2 {
		return nil, fmt.Errorf("OrderCancelled log has %d topics, want 2", len(lg.Topics))
	}
	values, err := exchangeABI.Unpack("OrderCancelled", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack OrderCancelled: %w", err)
	}
	isBuy, ok := values[0].(bool)
	if !ok {
		return nil, fmt.Errorf("OrderCancelled has unexpected field types")
	}
	return &OrderCancelledEvent{
		OrderID: new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		Side:    sideFromIsBuy(isBuy),
	}, nil
}
