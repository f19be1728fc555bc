package pipeline

import (
	"carbonproof/internal/attestation"
	"carbonproof/internal/ledger"
	"carbonproof/internal/project/models"
)

// Kind discriminates pipeline results.
type Kind int

const (
	// KindVerified: the project passed and, when a ledger is wired, was authorized.
	KindVerified Kind = iota
	// KindRejected: the project failed a rule or the anomaly check. Not an error.
	KindRejected
	// KindInputError: the submission could not be evaluated as given.
	KindInputError
	// KindInfrastructureError: the system could not finish. Outcome is set
	// when evaluation completed before the failure.
	KindInfrastructureError
)

func (k Kind) String() string {
	switch k {
	case KindVerified:
		return "verified"
	case KindRejected:
		return "rejected"
	case KindInputError:
		return "input_error"
	case KindInfrastructureError:
		return "infrastructure_error"
	default:
		return "unknown"
	}
}

// Result is the value returned by Run and AuthorizeExisting.
type Result struct {
	Kind           Kind
	Outcome        *models.Outcome
	Attestation    *attestation.Attestation
	ContentAddress string
	Transaction    *ledger.Transaction
	Err            error
}

// HasOutcome reports whether evaluation produced an outcome.
func (r Result) HasOutcome() bool {
	return r.Outcome != nil
}
