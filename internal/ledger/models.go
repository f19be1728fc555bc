package ledger

import (
	"time"
)

// Status is the local lifecycle state of a project's ledger authorization.
type Status string

const (
	StatusNotSubmitted Status = "NOT_SUBMITTED"
	StatusPending      Status = "PENDING"
	StatusConfirmed    Status = "CONFIRMED"
	StatusReverted     Status = "REVERTED"
	StatusFailed       Status = "FAILED"
)

// Terminal reports whether no further transition is possible without a new
// Authorize call. FAILED is terminal for a job but may be retried.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusReverted || s == StatusFailed
}

// ChainStatus mirrors the registry contract's project status enum.
type ChainStatus uint8

const (
	ChainUnverified  ChainStatus = 0
	ChainUnderReview ChainStatus = 1
	ChainVerified    ChainStatus = 2
)

func (c ChainStatus) String() string {
	switch c {
	case ChainUnverified:
		return "Unverified"
	case ChainUnderReview:
		return "UnderReview"
	case ChainVerified:
		return "Verified"
	default:
		return "Unknown"
	}
}

// Transaction is the persisted record of a project's authorization attempt.
type Transaction struct {
	ProjectID int64     `json:"project_id"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Nonce     uint64    `json:"nonce"`
	Status    Status    `json:"status"`
	Retries   int       `json:"retries"`
	LastError string    `json:"last_error,omitempty"`
	RawTx     []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.RawTx = append([]byte(nil), t.RawTx...)
	return &c
}

// SignedCall is a fully signed verifyProjectStatus transaction, ready to
// broadcast. Rebroadcasting the same SignedCall is idempotent.
type SignedCall struct {
	Hash  string
	Nonce uint64
	Raw   []byte
}

// Receipt is the mined result of a transaction.
type Receipt struct {
	TxHash      string
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}
