package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"carbonproof/internal/ledger"
)

// ValidatorRole is keccak256("VALIDATOR_ROLE"), as in the registry contract.
var ValidatorRole = crypto.Keccak256Hash([]byte("VALIDATOR_ROLE"))

type rawCall struct {
	From      string `json:"from"`
	ProjectID int64  `json:"project_id"`
	Nonce     uint64 `json:"nonce"`
}

// Chain is an in-process registry contract. Transactions are mined as soon
// as their nonce is next in sequence. Used for local development and tests.
type Chain struct {
	mu       sync.Mutex
	sender   common.Address
	nonce    uint64
	statuses map[int64]ledger.ChainStatus
	queued   map[uint64]rawCall
	known    map[string]bool
	receipts map[string]*ledger.Receipt
	roles    map[common.Hash]map[common.Address]bool
	reverts  map[int64]bool
	block    uint64
	writes   int
}

// NewChain creates a chain where sender already holds the validator role.
func NewChain(sender common.Address) *Chain {
	c := &Chain{
		sender:   sender,
		statuses: make(map[int64]ledger.ChainStatus),
		queued:   make(map[uint64]rawCall),
		known:    make(map[string]bool),
		receipts: make(map[string]*ledger.Receipt),
		roles:    make(map[common.Hash]map[common.Address]bool),
		reverts:  make(map[int64]bool),
	}
	c.GrantRole(ValidatorRole, sender)
	return c
}

// GrantRole gives account the role.
func (c *Chain) GrantRole(role common.Hash, account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roles[role] == nil {
		c.roles[role] = make(map[common.Address]bool)
	}
	c.roles[role][account] = true
}

// RevokeRole removes the role from account.
func (c *Chain) RevokeRole(role common.Hash, account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roles[role], account)
}

// SetStatus forces a project's on-chain status.
func (c *Chain) SetStatus(projectID int64, status ledger.ChainStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[projectID] = status
}

// RevertProject makes every verifyProjectStatus call for projectID revert.
func (c *Chain) RevertProject(projectID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reverts[projectID] = true
}

// Writes returns how many transactions have been mined.
func (c *Chain) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *Chain) Sender() string {
	return c.sender.Hex()
}

func (c *Chain) ProjectStatus(_ context.Context, projectID int64) (ledger.ChainStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[projectID], nil
}

func (c *Chain) PendingNonce(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.nonce
	for {
		if _, ok := c.queued[next]; !ok {
			return next, nil
		}
		next++
	}
}

func (c *Chain) PrepareVerify(_ context.Context, projectID int64, nonce uint64) (*ledger.SignedCall, error) {
	raw, err := json.Marshal(rawCall{From: c.sender.Hex(), ProjectID: projectID, Nonce: nonce})
	if err != nil {
		return nil, ledger.Permanent("prepare", err)
	}
	return &ledger.SignedCall{
		Hash:  crypto.Keccak256Hash(raw).Hex(),
		Nonce: nonce,
		Raw:   raw,
	}, nil
}

func (c *Chain) Broadcast(_ context.Context, call *ledger.SignedCall) error {
	var tx rawCall
	if err := json.Unmarshal(call.Raw, &tx); err != nil {
		return ledger.Permanent("broadcast", fmt.Errorf("decode transaction: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known[call.Hash] {
		return nil
	}
	if tx.Nonce < c.nonce {
		return ledger.Transient("broadcast", fmt.Errorf("%w: nonce %d below %d", ledger.ErrNonceConflict, tx.Nonce, c.nonce))
	}
	if queued, ok := c.queued[tx.Nonce]; ok && queued != tx {
		return ledger.Transient("broadcast", fmt.Errorf("%w: nonce %d already queued", ledger.ErrNonceConflict, tx.Nonce))
	}
	c.known[call.Hash] = true
	c.queued[tx.Nonce] = tx
	c.mine()
	return nil
}

func (c *Chain) Receipt(_ context.Context, txHash string) (*ledger.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[strings.ToLower(txHash)]
	if !ok {
		return nil, ledger.ErrReceiptPending
	}
	cp := *r
	return &cp, nil
}

func (c *Chain) ValidatorRole(_ context.Context) ([32]byte, error) {
	return ValidatorRole, nil
}

func (c *Chain) HasRole(_ context.Context, role [32]byte, account string) (bool, error) {
	if !common.IsHexAddress(account) {
		return false, ledger.Permanent("hasRole", fmt.Errorf("invalid address %q", account))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roles[common.Hash(role)][common.HexToAddress(account)], nil
}

// mine executes queued transactions in nonce order. Caller holds mu.
func (c *Chain) mine() {
	for {
		tx, ok := c.queued[c.nonce]
		if !ok {
			return
		}
		delete(c.queued, c.nonce)
		c.nonce++
		c.block++
		c.writes++

		raw, _ := json.Marshal(tx)
		hash := strings.ToLower(crypto.Keccak256Hash(raw).Hex())
		success := !c.reverts[tx.ProjectID] &&
			c.roles[ValidatorRole][common.HexToAddress(tx.From)] &&
			c.statuses[tx.ProjectID] != ledger.ChainVerified
		if success {
			c.statuses[tx.ProjectID] = ledger.ChainVerified
		}
		c.receipts[hash] = &ledger.Receipt{
			TxHash:      hash,
			Success:     success,
			BlockNumber: c.block,
			GasUsed:     45_000,
		}
	}
}
