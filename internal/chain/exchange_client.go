package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/metrics"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// RelayerClient implements ExchangeClient against a live RPC endpoint with a
// privileged relayer wallet signing every transaction (gasless for end users).
type RelayerClient struct {
	client     *ethclient.Client
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	from       common.Address

	gasLimit uint64
	gasPrice *big.Int // nil = suggested at submit time

	confirmationTimeout time.Duration

	// Submissions share the relayer's nonce sequence, so they serialize here.
	submitMu sync.Mutex
}

// NewRelayerClient dials the configured RPC endpoints in order and returns a
// client bound to the first one that answers.
func NewRelayerClient(cfg *config.BlockchainConfig) (*RelayerClient, error) {
	privateKey, err := crypto.HexToECDSA(cfg.RelayerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	var client *ethclient.Client
	var chainID *big.Int
	for i, endpoint := range cfg.RPCEndpoints {
		log.Printf("🔗 [Chain] Trying RPC endpoint %d/%d: %s", i+1, len(cfg.RPCEndpoints), endpoint)
		c, dialErr := ethclient.Dial(endpoint)
		if dialErr != nil {
			log.Printf("❌ [Chain] Dial failed: %v", dialErr)
			err = dialErr
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		id, idErr := c.NetworkID(ctx)
		cancel()
		if idErr != nil {
			log.Printf("❌ [Chain] NetworkID check failed: %v", idErr)
			c.Close()
			err = idErr
			continue
		}
		if cfg.ChainID != 0 && id.Int64() != cfg.ChainID {
			c.Close()
			return nil, fmt.Errorf("chain ID mismatch: expected %d, got %s", cfg.ChainID, id)
		}
		client, chainID = c, id
		log.Printf("✅ [Chain] Connected to %s (chain ID %s), relayer %s", endpoint, id, from.Hex())
		break
	}
	if client == nil {
		metrics.ChainRPCStatus.Set(0)
		return nil, fmt.Errorf("all RPC endpoints failed: %w", err)
	}
	metrics.ChainRPCStatus.Set(1)

	var gasPrice *big.Int
	if cfg.GasPrice != "" {
		gp, ok := new(big.Int).SetString(cfg.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid gasPrice %q", cfg.GasPrice)
		}
		gasPrice = gp
	}

	return &RelayerClient{
		client:              client,
		chainID:             chainID,
		privateKey:          privateKey,
		from:                from,
		gasLimit:            cfg.GasLimit,
		gasPrice:            gasPrice,
		confirmationTimeout: cfg.ConfirmationTimeoutDuration(),
	}, nil
}

// submit packs the call, signs it with the relayer key and sends it. The
// nonce is fetched under the submit mutex so concurrent callers cannot race
// the relayer's sequence.
func (r *RelayerClient) submit(ctx context.Context, contract string, method string, args ...interface{}) (string, error) {
	data, err := exchangeABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	nonce, err := r.client.PendingNonceAt(ctx, r.from)
	if err != nil {
		return "", fmt.Errorf("failed to get relayer nonce: %w", err)
	}

	gasPrice := r.gasPrice
	if gasPrice == nil {
		gasPrice, err = r.client.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to suggest gas price: %w", err)
		}
	}

	to := common.HexToAddress(contract)
	tx := types.NewTransaction(nonce, to, big.NewInt(0), r.gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(r.chainID), r.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := r.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send %s transaction: %w", method, err)
	}

	txHash := signedTx.Hash().Hex()
	log.Printf("🚀 [Chain] %s submitted: tx=%s nonce=%d", method, txHash, nonce)
	return txHash, nil
}

// SubmitCreateOrder submits the create call for one side of the book
func (r *RelayerClient) SubmitCreateOrder(ctx context.Context, contract string, side models.OrderSide, owner string, amount, price decimal.Decimal) (string, error) {
	method := "createSellOrder"
	if side == models.OrderSideBuy {
		method = "createBuyOrder"
	}
	return r.submit(ctx, contract, method,
		common.HexToAddress(owner), toBaseUnits(amount), toBaseUnits(price))
}

// SubmitCancelOrder submits the cancel call for one side of the book
func (r *RelayerClient) SubmitCancelOrder(ctx context.Context, contract string, side models.OrderSide, chainOrderID uint64, owner string) (string, error) {
	method := "cancelSellOrder"
	if side == models.OrderSideBuy {
		method = "cancelBuyOrder"
	}
	return r.submit(ctx, contract, method,
		new(big.Int).SetUint64(chainOrderID), common.HexToAddress(owner))
}

// SubmitMatchOrders submits one match transaction carrying every id in the job
func (r *RelayerClient) SubmitMatchOrders(ctx context.Context, contract string, buyIDs, sellIDs []uint64) (string, error) {
	return r.submit(ctx, contract, "matchOrders", toBigInts(buyIDs), toBigInts(sellIDs))
}

// SubmitMarketOrder submits the taker call. For a buy, requestedAmount is the
// quote-currency budget; for a sell it is the token amount. The contract
// reverts when the fill would land under minAmountOut.
func (r *RelayerClient) SubmitMarketOrder(ctx context.Context, contract string, side models.OrderSide, owner string, requestedAmount, minAmountOut decimal.Decimal, restingIDs []uint64) (string, error) {
	method := "marketSell"
	if side == models.OrderSideBuy {
		method = "marketBuy"
	}
	return r.submit(ctx, contract, method,
		common.HexToAddress(owner), toBaseUnits(requestedAmount), toBigInts(restingIDs), toBaseUnits(minAmountOut))
}

// WaitMined polls for the receipt until one confirmation or the configured
// timeout, whichever comes first. Timeout is treated as failure by callers,
// which then release their claims. A mined-but-reverted transaction is an
// error, never a result: the state changes it promised did not happen.
func (r *RelayerClient) WaitMined(ctx context.Context, txHash string) (*TxResult, error) {
	hash := common.HexToHash(txHash)

	waitCtx, cancel := context.WithTimeout(ctx, r.confirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := r.client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("transaction %s reverted in block %d", txHash, receipt.BlockNumber.Uint64())
			}
			result := &TxResult{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     true,
			}
			if parseErr := parseReceiptEvents(receipt, result); parseErr != nil {
				return nil, fmt.Errorf("failed to parse receipt events for %s: %w", txHash, parseErr)
			}
			return result, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("transaction %s confirmation timeout after %v", txHash, r.confirmationTimeout)
		case <-ticker.C:
		}
	}
}

// GetOrder reads live order storage for one side's id sequence
func (r *RelayerClient) GetOrder(ctx context.Context, contract string, side models.OrderSide, chainOrderID uint64) (*OrderState, error) {
	method := "getSellOrder"
	if side == models.OrderSideBuy {
		method = "getBuyOrder"
	}

	data, err := exchangeABI.Pack(method, new(big.Int).SetUint64(chainOrderID))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	to := common.HexToAddress(contract)
	output, err := r.client.CallContract(ctx, callMsg(to, data), nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed for id %d: %w", method, chainOrderID, err)
	}

	values, err := exchangeABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s output: %w", method, err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("%s returned %d values, want 5", method, len(values))
	}

	trader, ok1 := values[0].(common.Address)
	amount, ok2 := values[1].(*big.Int)
	price, ok3 := values[2].(*big.Int)
	remaining, ok4 := values[3].(*big.Int)
	active, ok5 := values[4].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("%s returned unexpected field types", method)
	}

	return &OrderState{
		Trader:    trader.Hex(),
		Amount:    fromBaseUnits(amount),
		Price:     fromBaseUnits(price),
		Remaining: fromBaseUnits(remaining),
		Active:    active,
	}, nil
}

// LogClient exposes the underlying RPC client for the log scanner
func (r *RelayerClient) LogClient() LogFilterer {
	return r.client
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

func toBigInts(ids []uint64) []*big.Int {
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = new(big.Int).SetUint64(id)
	}
	return out
}
