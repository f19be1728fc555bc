package ethereum

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonproof/internal/ledger"
)

const (
	testKey      = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

type fakeBackend struct {
	callResult  []byte
	callErr     error
	estimate    uint64
	estimateErr error
	gasPrice    *big.Int
	sendErr     error
	sent        []*types.Transaction
	receipt     *types.Receipt
	receiptErr  error
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return f.sendErr
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.receiptErr
}

func newTestChain(t *testing.T, b *fakeBackend) *Chain {
	t.Helper()
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	c, err := newChain(b, Config{ContractAddress: testContract, ChainID: 31337}, key,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return c
}

func TestNewChain_RejectsBadInput(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)

	_, err = newChain(&fakeBackend{}, Config{ContractAddress: "not-an-address"}, key)
	assert.Error(t, err)

	_, err = newChain(&fakeBackend{}, Config{ContractAddress: testContract}, nil)
	assert.Error(t, err)
}

func TestProjectStatus_DecodesUint8(t *testing.T) {
	b := &fakeBackend{}
	c := newTestChain(t, b)
	out, err := c.abi.Methods["getProjectStatus"].Outputs.Pack(uint8(2))
	require.NoError(t, err)
	b.callResult = out

	status, err := c.ProjectStatus(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, ledger.ChainVerified, status)
}

func TestHasRole_DecodesBool(t *testing.T) {
	b := &fakeBackend{}
	c := newTestChain(t, b)
	out, err := c.abi.Methods["hasRole"].Outputs.Pack(true)
	require.NoError(t, err)
	b.callResult = out

	has, err := c.HasRole(context.Background(), [32]byte{1}, c.Sender())
	require.NoError(t, err)
	assert.True(t, has)

	_, err = c.HasRole(context.Background(), [32]byte{1}, "nope")
	assert.False(t, ledger.IsRetryable(err))
}

func TestPrepareVerify_SignsForChain(t *testing.T) {
	b := &fakeBackend{estimate: 50_000, gasPrice: big.NewInt(1_000_000_000)}
	c := newTestChain(t, b)

	call, err := c.PrepareVerify(context.Background(), 42, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), call.Nonce)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(call.Raw))
	assert.Equal(t, call.Hash, tx.Hash().Hex())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, uint64(3), tx.Nonce())

	from, err := types.Sender(types.NewEIP155Signer(big.NewInt(31337)), &tx)
	require.NoError(t, err)
	assert.Equal(t, c.Sender(), from.Hex())
}

func TestPrepareVerify_FallsBackWhenEstimateFails(t *testing.T) {
	b := &fakeBackend{estimateErr: errors.New("execution reverted"), gasPrice: big.NewInt(1)}
	c := newTestChain(t, b)

	call, err := c.PrepareVerify(context.Background(), 42, 0)
	require.NoError(t, err)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(call.Raw))
	assert.Equal(t, DefaultGasFallback, tx.Gas())
}

func TestBroadcast_AlreadyKnownIsSuccess(t *testing.T) {
	b := &fakeBackend{gasPrice: big.NewInt(1), estimate: 21_000}
	c := newTestChain(t, b)
	call, err := c.PrepareVerify(context.Background(), 1, 0)
	require.NoError(t, err)

	b.sendErr = errors.New("already known")
	assert.NoError(t, c.Broadcast(context.Background(), call))

	b.sendErr = errors.New("nonce too low")
	err = c.Broadcast(context.Background(), call)
	assert.ErrorIs(t, err, ledger.ErrNonceConflict)
	assert.True(t, ledger.IsRetryable(err))
}

func TestReceipt(t *testing.T) {
	b := &fakeBackend{receiptErr: ethereum.NotFound}
	c := newTestChain(t, b)

	_, err := c.Receipt(context.Background(), "0x01")
	assert.ErrorIs(t, err, ledger.ErrReceiptPending)

	b.receiptErr = nil
	b.receipt = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(9), GasUsed: 42}
	r, err := c.Receipt(context.Background(), "0x01")
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, uint64(9), r.BlockNumber)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg       string
		retryable bool
		conflict  bool
	}{
		{"nonce too low: next nonce 5, tx nonce 4", true, true},
		{"replacement transaction underpriced", true, true},
		{"execution reverted: AccessControl", false, false},
		{"insufficient funds for gas * price + value", false, false},
		{"dial tcp 127.0.0.1:8545: connection refused", true, false},
		{"502 Bad Gateway", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := classify("op", errors.New(tt.msg))
			assert.Equal(t, tt.retryable, ledger.IsRetryable(err))
			assert.Equal(t, tt.conflict, errors.Is(err, ledger.ErrNonceConflict))
		})
	}
}
