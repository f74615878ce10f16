package chain

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventSink receives exchange events observed by the scanner. Implementations
// must tolerate duplicate delivery: the scanner re-reads the overlap block on
// restart.
type EventSink interface {
	OnOrderCreated(contract string, ev OrderCreatedEvent, txHash string, blockNumber uint64)
	OnOrderCancelled(contract string, ev OrderCancelledEvent, txHash string, blockNumber uint64)
	OnOrdersMatched(contract string, ev MatchedEvent, txHash string, blockNumber uint64)
}

// LogFilterer is the subset of the RPC client the scanner needs. Satisfied by
// *ethclient.Client and by fakes in tests.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// LogScanner polls FilterLogs on a fixed interval and dispatches parsed
// exchange events to the sink. Live event subscriptions are deliberately not
// used: provider batching limits made them unreliable, and the scanner sits
// behind the same "event arrived" interface so the transports stay swappable.
type LogScanner struct {
	client   LogFilterer
	sink     EventSink
	interval time.Duration

	mu        sync.Mutex
	contracts map[common.Address]bool
	lastBlock uint64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewLogScanner creates a scanner. Contracts are registered with AddContract
// before or after Start.
func NewLogScanner(client LogFilterer, sink EventSink, interval time.Duration) *LogScanner {
	return &LogScanner{
		client:    client,
		sink:      sink,
		interval:  interval,
		contracts: make(map[common.Address]bool),
		stopChan:  make(chan struct{}),
	}
}

// AddContract registers a contract address to watch
func (s *LogScanner) AddContract(contract string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[common.HexToAddress(contract)] = true
}

// Start launches the polling loop
func (s *LogScanner) Start() {
	log.Printf("🚀 [Scanner] Starting log scanner (interval %v)", s.interval)
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the polling loop and waits for it to exit
func (s *LogScanner) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	log.Printf("🛑 [Scanner] Log scanner stopped")
}

func (s *LogScanner) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.scanOnce(context.Background()); err != nil {
				log.Printf("⚠️ [Scanner] Scan pass failed: %v", err)
			}
		}
	}
}

// scanOnce reads all new logs since the last scanned block and dispatches them
func (s *LogScanner) scanOnce(ctx context.Context) error {
	s.mu.Lock()
	addresses := make([]common.Address, 0, len(s.contracts))
	for addr := range s.contracts {
		addresses = append(addresses, addr)
	}
	from := s.lastBlock
	s.mu.Unlock()

	if len(addresses) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if from == 0 {
		// first pass: start at the head, history is already mirrored
		s.mu.Lock()
		s.lastBlock = head
		s.mu.Unlock()
		return nil
	}
	if head <= from {
		return nil
	}

	query := ethereum.FilterQuery{
		FromBlock: newBlockNumber(from + 1),
		ToBlock:   newBlockNumber(head),
		Addresses: addresses,
		Topics: [][]common.Hash{{
			exchangeABI.Events["OrderCreated"].ID,
			exchangeABI.Events["OrderCancelled"].ID,
			exchangeABI.Events["OrdersMatched"].ID,
		}},
	}

	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	for i := range logs {
		s.dispatch(&logs[i])
	}

	s.mu.Lock()
	s.lastBlock = head
	s.mu.Unlock()
	return nil
}

func newBlockNumber(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}

func (s *LogScanner) dispatch(lg *types.Log) {
	contract := lg.Address.Hex()
	txHash := lg.TxHash.Hex()

	switch lg.Topics[0] {
	case exchangeABI.Events["OrderCreated"].ID:
		ev, err := parseOrderCreated(lg)
		if err != nil {
			log.Printf("⚠️ [Scanner] Bad OrderCreated log in tx %s: %v", txHash, err)
			return
		}
		s.sink.OnOrderCreated(contract, *ev, txHash, lg.BlockNumber)
	case exchangeABI.Events["OrderCancelled"].ID:
		ev, err := parseOrderCancelled(lg)
		if err != nil {
			log.Printf("⚠️ [Scanner] Bad OrderCancelled log in tx %s: %v", txHash, err)
			return
		}
		s.sink.OnOrderCancelled(contract, *ev, txHash, lg.BlockNumber)
	case exchangeABI.Events["OrdersMatched"].ID:
		ev, err := parseOrdersMatched(lg)
		if err != nil {
			log.Printf("⚠️ [Scanner] Bad OrdersMatched log in tx %s: %v", txHash, err)
			return
		}
		s.sink.OnOrdersMatched(contract, *ev, txHash, lg.BlockNumber)
	}
}
