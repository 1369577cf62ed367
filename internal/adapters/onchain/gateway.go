package onchain

// gateway.go — on-chain gateway for the fixed-rate market contract.
//
// Implements ports.ChainGateway against a JSON-RPC endpoint:
//   - read-only previews through eth_call
//   - legacy transactions built, EIP-155 signed and sent per agent key
//   - receipt polling until mined, with decoded event logs
//   - gas price caching and a client-side RPC rate limit
//
// A mined-but-reverted transaction comes back as a receipt with status 0;
// classification (UnknownBlockError) is the dispatcher's job.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

const (
	// Conservative upper bound when estimation fails.
	defaultGasLimit = uint64(1_500_000)

	gasPriceUpdateInterval = 5 * time.Minute
	receiptPollInterval    = 3 * time.Second
)

// marketABI covers the trade entry points and their events. Amount fields
// are 18-decimal scaled uint256 throughout.
const marketABIJSON = `[
	{"name":"openLong","type":"function","inputs":[{"name":"baseAmount","type":"uint256"},{"name":"minOutput","type":"uint256"}],"outputs":[{"name":"maturityTime","type":"uint256"},{"name":"bondProceeds","type":"uint256"}]},
	{"name":"closeLong","type":"function","inputs":[{"name":"maturityTime","type":"uint256"},{"name":"bondAmount","type":"uint256"},{"name":"minOutput","type":"uint256"}],"outputs":[{"name":"baseProceeds","type":"uint256"}]},
	{"name":"openShort","type":"function","inputs":[{"name":"bondAmount","type":"uint256"},{"name":"maxDeposit","type":"uint256"}],"outputs":[{"name":"maturityTime","type":"uint256"},{"name":"baseDeposit","type":"uint256"}]},
	{"name":"closeShort","type":"function","inputs":[{"name":"maturityTime","type":"uint256"},{"name":"bondAmount","type":"uint256"},{"name":"minOutput","type":"uint256"}],"outputs":[{"name":"baseProceeds","type":"uint256"}]},
	{"name":"addLiquidity","type":"function","inputs":[{"name":"baseAmount","type":"uint256"},{"name":"minLpOut","type":"uint256"},{"name":"minApr","type":"uint256"},{"name":"maxApr","type":"uint256"}],"outputs":[{"name":"lpShares","type":"uint256"}]},
	{"name":"removeLiquidity","type":"function","inputs":[{"name":"lpAmount","type":"uint256"},{"name":"minOutput","type":"uint256"}],"outputs":[{"name":"baseProceeds","type":"uint256"},{"name":"withdrawalShares","type":"uint256"}]},
	{"name":"redeemWithdrawalShares","type":"function","inputs":[{"name":"shareAmount","type":"uint256"},{"name":"minOutputPerShare","type":"uint256"}],"outputs":[{"name":"baseProceeds","type":"uint256"},{"name":"sharesRedeemed","type":"uint256"}]},
	{"name":"getPoolInfo","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"shareReserves","type":"uint256"},{"name":"bondReserves","type":"uint256"},{"name":"lpTotalSupply","type":"uint256"},{"name":"vaultSharePrice","type":"uint256"},{"name":"variableRate","type":"int256"}]},
	{"name":"getPoolConfig","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"positionDuration","type":"uint256"},{"name":"checkpointDuration","type":"uint256"},{"name":"curveFee","type":"uint256"},{"name":"flatFee","type":"uint256"},{"name":"governanceFee","type":"uint256"},{"name":"minimumTransaction","type":"uint256"},{"name":"initialSharePrice","type":"uint256"}]},
	{"name":"OpenLong","type":"event","inputs":[{"name":"trader","type":"address","indexed":false},{"name":"assetId","type":"uint256","indexed":false},{"name":"maturityTime","type":"uint256","indexed":false},{"name":"baseAmount","type":"uint256","indexed":false},{"name":"bondAmount","type":"uint256","indexed":false}]},
	{"name":"CloseLong","type":"event","inputs":[{"name":"trader","type":"address","indexed":false},{"name":"assetId","type":"uint256","indexed":false},{"name":"maturityTime","type":"uint256","indexed":false},{"name":"baseAmount","type":"uint256","indexed":false},{"name":"bondAmount","type":"uint256","indexed":false}]},
	{"name":"OpenShort","type":"event","inputs":[{"name":"trader","type":"address","indexed":false},{"name":"assetId","type":"uint256","indexed":false},{"name":"maturityTime","type":"uint256","indexed":false},{"name":"baseAmount","type":"uint256","indexed":false},{"name":"bondAmount","type":"uint256","indexed":false}]},
	{"name":"CloseShort","type":"event","inputs":[{"name":"trader","type":"address","indexed":false},{"name":"assetId","type":"uint256","indexed":false},{"name":"maturityTime","type":"uint256","indexed":false},{"name":"baseAmount","type":"uint256","indexed":false},{"name":"bondAmount","type":"uint256","indexed":false}]},
	{"name":"AddLiquidity","type":"event","inputs":[{"name":"provider","type":"address","indexed":false},{"name":"baseAmount","type":"uint256","indexed":false},{"name":"lpAmount","type":"uint256","indexed":false}]},
	{"name":"RemoveLiquidity","type":"event","inputs":[{"name":"provider","type":"address","indexed":false},{"name":"baseAmount","type":"uint256","indexed":false},{"name":"lpAmount","type":"uint256","indexed":false},{"name":"withdrawalShareAmount","type":"uint256","indexed":false}]},
	{"name":"RedeemWithdrawalShares","type":"event","inputs":[{"name":"provider","type":"address","indexed":false},{"name":"baseAmount","type":"uint256","indexed":false},{"name":"withdrawalShareAmount","type":"uint256","indexed":false}]}
]`

var marketABI abi.ABI

func init() {
	var err error
	marketABI, err = abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		panic("market abi parse: " + err.Error())
	}
}

// Gateway implements ports.ChainGateway over ethclient.
type Gateway struct {
	client   *ethclient.Client
	contract common.Address
	chainID  *big.Int
	limiter  *rate.Limiter

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
	cachedConfig *domain.PoolConfig // immutable on chain, fetched once
}

// NewGateway dials the RPC endpoint. rpcRatePerSec bounds client-side RPC
// calls; <=0 disables the limiter.
func NewGateway(rpcURL, contractAddress string, chainID int64, rpcRatePerSec float64) (*Gateway, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}
	limit := rate.Inf
	if rpcRatePerSec > 0 {
		limit = rate.Limit(rpcRatePerSec)
	}
	return &Gateway{
		client:   client,
		contract: common.HexToAddress(contractAddress),
		chainID:  big.NewInt(chainID),
		limiter:  rate.NewLimiter(limit, 1),
	}, nil
}

// Preview implements ports.ChainGateway via eth_call.
func (g *Gateway) Preview(ctx context.Context, call ports.Call) ([]any, error) {
	callData, err := marketABI.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("onchain: pack %s: %w", call.Method, err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{
		To:   &g.contract,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("onchain: preview %s: %w", call.Method, err)
	}
	outputs, err := marketABI.Unpack(call.Method, result)
	if err != nil {
		return nil, fmt.Errorf("onchain: unpack %s outputs: %w", call.Method, err)
	}
	return outputs, nil
}

// Submit implements ports.ChainGateway: build, sign, send, wait for mining
// and decode the receipt's event logs.
func (g *Gateway) Submit(ctx context.Context, call ports.Call, signer ports.Signer) (ports.Receipt, error) {
	account, ok := signer.(*Account)
	if !ok {
		return ports.Receipt{}, fmt.Errorf("onchain: signer %T does not carry a key", signer)
	}

	callData, err := marketABI.Pack(call.Method, call.Args...)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("onchain: pack %s: %w", call.Method, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return ports.Receipt{}, err
	}
	nonce, err := g.client.PendingNonceAt(ctx, account.address)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("onchain: nonce: %w", err)
	}
	gasPrice, err := g.gasPrice(ctx)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("onchain: gas price: %w", err)
	}

	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     account.address,
		To:       &g.contract,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasLimit = defaultGasLimit
		slog.Warn("onchain: gas estimate failed, using default", "method", call.Method, "err", err, "limit", gasLimit)
	} else {
		// 20% headroom over the estimate.
		gasLimit = gasLimit * 12 / 10
	}

	tx := types.NewTransaction(nonce, g.contract, big.NewInt(0), gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), account.key)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("onchain: sign tx: %w", err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return ports.Receipt{}, err
	}
	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return ports.Receipt{}, fmt.Errorf("onchain: send tx: %w", err)
	}
	txHash := signedTx.Hash()
	slog.Info("onchain: transaction sent", "method", call.Method, "tx", txHash.Hex(), "from", account.Address())

	receipt, err := g.waitForReceipt(ctx, txHash)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("onchain: wait receipt %s: %w", txHash.Hex(), err)
	}
	return g.decodeReceipt(receipt), nil
}

// LatestBlock implements ports.ChainGateway.
func (g *Gateway) LatestBlock(ctx context.Context) (ports.BlockInfo, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return ports.BlockInfo{}, err
	}
	header, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return ports.BlockInfo{}, fmt.Errorf("onchain: latest header: %w", err)
	}
	return ports.BlockInfo{
		Number:    header.Number.Uint64(),
		Timestamp: int64(header.Time),
	}, nil
}

// ReadPool implements ports.PoolReader: one getPoolInfo call per cycle,
// with the immutable pool config fetched once and cached.
func (g *Gateway) ReadPool(ctx context.Context) (domain.PoolState, error) {
	cfg, err := g.poolConfig(ctx)
	if err != nil {
		return domain.PoolState{}, err
	}

	outputs, err := g.Preview(ctx, ports.Call{Method: "getPoolInfo"})
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("onchain: read pool info: %w", err)
	}
	if len(outputs) != 5 {
		return domain.PoolState{}, fmt.Errorf("onchain: getPoolInfo returned %d outputs, want 5", len(outputs))
	}

	block, err := g.LatestBlock(ctx)
	if err != nil {
		return domain.PoolState{}, err
	}

	return domain.PoolState{
		Config:          cfg,
		ShareReserves:   scaledOutput(outputs, 0),
		BondReserves:    scaledOutput(outputs, 1),
		LPTotalSupply:   scaledOutput(outputs, 2),
		VaultSharePrice: scaledOutput(outputs, 3),
		VariableRate:    scaledOutput(outputs, 4),
		BlockNumber:     block.Number,
		BlockTime:       block.Timestamp,
	}, nil
}

func (g *Gateway) poolConfig(ctx context.Context) (domain.PoolConfig, error) {
	g.mu.RLock()
	cached := g.cachedConfig
	g.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	outputs, err := g.Preview(ctx, ports.Call{Method: "getPoolConfig"})
	if err != nil {
		return domain.PoolConfig{}, fmt.Errorf("onchain: read pool config: %w", err)
	}
	if len(outputs) != 7 {
		return domain.PoolConfig{}, fmt.Errorf("onchain: getPoolConfig returned %d outputs, want 7", len(outputs))
	}

	cfg := domain.PoolConfig{
		ContractAddress:    g.contract.Hex(),
		PositionDuration:   rawOutput(outputs, 0),
		CheckpointDuration: rawOutput(outputs, 1),
		Fees: domain.Fees{
			Curve:      scaledOutput(outputs, 2),
			Flat:       scaledOutput(outputs, 3),
			Governance: scaledOutput(outputs, 4),
		},
		MinimumTransaction: scaledOutput(outputs, 5),
		InitialSharePrice:  scaledOutput(outputs, 6),
	}

	g.mu.Lock()
	g.cachedConfig = &cfg
	g.mu.Unlock()
	return cfg, nil
}

// decodeReceipt translates the go-ethereum receipt into the port shape,
// decoding every log emitted by our contract that matches a known event.
func (g *Gateway) decodeReceipt(receipt *types.Receipt) ports.Receipt {
	out := ports.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	for _, lg := range receipt.Logs {
		if lg.Address != g.contract || len(lg.Topics) == 0 {
			continue
		}
		event, err := marketABI.EventByID(lg.Topics[0])
		if err != nil {
			continue // not one of ours
		}
		args := make(map[string]any)
		if err := marketABI.UnpackIntoMap(args, event.Name, lg.Data); err != nil {
			slog.Warn("onchain: undecodable event log", "event", event.Name, "tx", out.TxHash, "err", err)
			continue
		}
		out.Events = append(out.Events, ports.Event{Name: event.Name, Args: args})
	}
	return out
}

// gasPrice returns a 10%-buffered suggested gas price, cached to avoid
// hammering the RPC.
func (g *Gateway) gasPrice(ctx context.Context) (*big.Int, error) {
	g.mu.RLock()
	cached := g.cachedGasWei
	updatedAt := g.gasUpdatedAt
	g.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	g.mu.Lock()
	g.cachedGasWei = buffered
	g.gasUpdatedAt = time.Now()
	g.mu.Unlock()

	return buffered, nil
}

// scaledOutput reads an 18-decimal fixed-point contract output. Missing or
// mistyped outputs read as zero; callers validate output counts up front.
func scaledOutput(outputs []any, i int) decimal.Decimal {
	if i >= len(outputs) {
		return decimal.Zero
	}
	if v, ok := outputs[i].(*big.Int); ok {
		return decimal.NewFromBigInt(v, -18)
	}
	return decimal.Zero
}

// rawOutput reads an unscaled integer output (durations in seconds).
func rawOutput(outputs []any, i int) int64 {
	if i >= len(outputs) {
		return 0
	}
	if v, ok := outputs[i].(*big.Int); ok {
		return v.Int64()
	}
	return 0
}

// waitForReceipt polls until the transaction is mined or the context
// expires. Callers bound the wait with their context deadline.
func (g *Gateway) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := g.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}
