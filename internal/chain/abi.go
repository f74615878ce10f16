package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"
)

// chainDecimals is the fixed-point scale of on-chain base units.
const chainDecimals = 18

// exchangeABIJSON is the exchange contract surface the core calls. Matches
// the deployed TokenExchange contract.
const exchangeABIJSON = `[
	{"type":"function","name":"createBuyOrder","inputs":[{"name":"trader","type":"address"},{"name":"amount","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"createSellOrder","inputs":[{"name":"trader","type":"address"},{"name":"amount","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"cancelBuyOrder","inputs":[{"name":"orderId","type":"uint256"},{"name":"trader","type":"address"}],"outputs":[]},
	{"type":"function","name":"cancelSellOrder","inputs":[{"name":"orderId","type":"uint256"},{"name":"trader","type":"address"}],"outputs":[]},
	{"type":"function","name":"matchOrders","inputs":[{"name":"buyOrderIds","type":"uint256[]"},{"name":"sellOrderIds","type":"uint256[]"}],"outputs":[]},
	{"type":"function","name":"marketBuy","inputs":[{"name":"trader","type":"address"},{"name":"budget","type":"uint256"},{"name":"sellOrderIds","type":"uint256[]"},{"name":"minAmountOut","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"marketSell","inputs":[{"name":"trader","type":"address"},{"name":"amount","type":"uint256"},{"name":"buyOrderIds","type":"uint256[]"},{"name":"minAmountOut","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getBuyOrder","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"trader","type":"address"},{"name":"amount","type":"uint256"},{"name":"price","type":"uint256"},{"name":"remaining","type":"uint256"},{"name":"isActive","type":"bool"}]},
	{"type":"function","name":"getSellOrder","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"trader","type":"address"},{"name":"amount","type":"uint256"},{"name":"price","type":"uint256"},{"name":"remaining","type":"uint256"},{"name":"isActive","type":"bool"}]},
	{"type":"event","name":"OrderCreated","inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"isBuy","type":"bool","indexed":false},{"name":"trader","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"OrdersMatched","inputs":[{"name":"buyOrderId","type":"uint256","indexed":true},{"name":"sellOrderId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":false},{"name":"seller","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"price","type":"uint256","indexed":false},{"name":"fee","type":"uint256","indexed":false}]},
	{"type":"event","name":"MarketOrderExecuted","inputs":[{"name":"trader","type":"address","indexed":true},{"name":"isBuy","type":"bool","indexed":false},{"name":"totalValue","type":"uint256","indexed":false},{"name":"totalAmount","type":"uint256","indexed":false},{"name":"fee","type":"uint256","indexed":false}]},
	{"type":"event","name":"OrderCancelled","inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"isBuy","type":"bool","indexed":false}]}
]`

// exchangeABI is parsed once at package init
var exchangeABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid exchange ABI: %v", err))
	}
	exchangeABI = parsed
}

// toBaseUnits converts a decimal amount to 18-decimal chain base units.
// Decimal arithmetic throughout; float64 would drift against integer
// on-chain math.
func toBaseUnits(d decimal.Decimal) *big.Int {
	return d.Shift(chainDecimals).Truncate(0).BigInt()
}

// fromBaseUnits converts 18-decimal chain base units back to a decimal.
func fromBaseUnits(b *big.Int) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b, -chainDecimals)
}
