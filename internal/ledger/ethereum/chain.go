package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"carbonproof/internal/ledger"
)

const (
	// DefaultGasFallback is used when gas estimation fails.
	DefaultGasFallback uint64 = 200_000
	gasHeadroom               = 1.2
)

// Config locates the registry contract.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// GasLimit fixes the gas limit; zero means estimate.
	GasLimit    uint64
	GasFallback uint64
}

// backend is the subset of ethclient.Client the adapter uses.
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Chain implements ledger.Chain against an EVM JSON-RPC endpoint.
type Chain struct {
	backend  backend
	closer   func()
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	sender   common.Address
	chainID  *big.Int
	gasLimit uint64
	fallback uint64
	logger   *slog.Logger
}

type Option func(*Chain)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// Dial connects to cfg.RPCURL and checks the node serves cfg.ChainID.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey, opts ...Option) (*Chain, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger rpc: %w", err)
	}
	c, err := newChain(client, cfg, key, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.closer = client.Close

	networkID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if networkID.Cmp(c.chainID) != 0 {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %s, node reports %s", c.chainID, networkID)
	}
	return c, nil
}

func newChain(b backend, cfg Config, key *ecdsa.PrivateKey, opts ...Option) (*Chain, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("load registry abi: %w", err)
	}
	c := &Chain{
		backend:  b,
		closer:   func() {},
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsed,
		key:      key,
		sender:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		gasLimit: cfg.GasLimit,
		fallback: cfg.GasFallback,
		logger:   slog.Default(),
	}
	if c.fallback == 0 {
		c.fallback = DefaultGasFallback
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Chain) Close() {
	c.closer()
}

func (c *Chain) Sender() string {
	return c.sender.Hex()
}

func (c *Chain) ProjectStatus(ctx context.Context, projectID int64) (ledger.ChainStatus, error) {
	out, err := c.call(ctx, "getProjectStatus", big.NewInt(projectID))
	if err != nil {
		return 0, err
	}
	status, ok := out[0].(uint8)
	if !ok {
		return 0, ledger.Permanent("getProjectStatus", fmt.Errorf("unexpected output type %T", out[0]))
	}
	return ledger.ChainStatus(status), nil
}

func (c *Chain) ValidatorRole(ctx context.Context) ([32]byte, error) {
	out, err := c.call(ctx, "VALIDATOR_ROLE")
	if err != nil {
		return [32]byte{}, err
	}
	role, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, ledger.Permanent("VALIDATOR_ROLE", fmt.Errorf("unexpected output type %T", out[0]))
	}
	return role, nil
}

func (c *Chain) HasRole(ctx context.Context, role [32]byte, account string) (bool, error) {
	if !common.IsHexAddress(account) {
		return false, ledger.Permanent("hasRole", fmt.Errorf("invalid address %q", account))
	}
	out, err := c.call(ctx, "hasRole", role, common.HexToAddress(account))
	if err != nil {
		return false, err
	}
	has, ok := out[0].(bool)
	if !ok {
		return false, ledger.Permanent("hasRole", fmt.Errorf("unexpected output type %T", out[0]))
	}
	return has, nil
}

func (c *Chain) PendingNonce(ctx context.Context) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return 0, classify("pendingNonce", err)
	}
	return nonce, nil
}

// PrepareVerify builds and signs verifyProjectStatus with an estimated gas
// limit plus headroom, falling back to a fixed limit when estimation fails.
func (c *Chain) PrepareVerify(ctx context.Context, projectID int64, nonce uint64) (*ledger.SignedCall, error) {
	data, err := c.abi.Pack("verifyProjectStatus", big.NewInt(projectID))
	if err != nil {
		return nil, ledger.Permanent("prepare", fmt.Errorf("pack verifyProjectStatus: %w", err))
	}

	gasLimit := c.gasLimit
	if gasLimit == 0 {
		estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From: c.sender,
			To:   &c.contract,
			Data: data,
		})
		if err != nil {
			c.logger.WarnContext(ctx, "gas estimation failed, using fallback",
				"project_id", projectID,
				"fallback", c.fallback,
				"error", err,
			)
			gasLimit = c.fallback
		} else {
			gasLimit = uint64(float64(estimate) * gasHeadroom)
		}
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify("gasPrice", err)
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return nil, ledger.Permanent("sign", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, ledger.Permanent("encode", err)
	}
	return &ledger.SignedCall{
		Hash:  signed.Hash().Hex(),
		Nonce: nonce,
		Raw:   raw,
	}, nil
}

func (c *Chain) Broadcast(ctx context.Context, call *ledger.SignedCall) error {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(call.Raw); err != nil {
		return ledger.Permanent("broadcast", fmt.Errorf("decode transaction: %w", err))
	}
	if err := c.backend.SendTransaction(ctx, &tx); err != nil {
		if isAlreadyKnown(err) {
			return nil
		}
		return classify("broadcast", err)
	}
	return nil
}

func (c *Chain) Receipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ledger.ErrReceiptPending
		}
		return nil, classify("receipt", err)
	}
	r := &ledger.Receipt{
		TxHash:  receipt.TxHash.Hex(),
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return r, nil
}

func (c *Chain) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, ledger.Permanent(method, fmt.Errorf("pack: %w", err))
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, ledger.Permanent(method, fmt.Errorf("unpack: %w", err))
	}
	if len(values) == 0 {
		return nil, ledger.Permanent(method, errors.New("empty output"))
	}
	return values, nil
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// classify maps JSON-RPC error text onto the ledger error taxonomy. Nodes
// report these conditions as strings, so matching is textual.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return ledger.Transient(op, fmt.Errorf("%w: %w", ledger.ErrNonceConflict, err))
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "invalid sender"),
		strings.Contains(msg, "intrinsic gas too low"):
		return ledger.Permanent(op, err)
	default:
		return ledger.Transient(op, err)
	}
}
