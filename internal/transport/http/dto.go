package httptransport

import (
	"time"

	"carbonproof/internal/attestation"
	"carbonproof/internal/ledger"
	"carbonproof/internal/pipeline"
	"carbonproof/internal/project/models"
	"carbonproof/internal/validation/anomaly"
)

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// submissionRequest is the wire form of a project submission.
type submissionRequest struct {
	TokenID           int64           `json:"tokenId"`
	EmissionReduction *float64        `json:"estimated_emission_reduction"`
	StartDate         string          `json:"project_start_date"`
	EndDate           string          `json:"project_end_date"`
	Location          locationRequest `json:"location"`
	DataSources       []string        `json:"data_sources"`
	AdditionalData    map[string]any  `json:"additional_data"`
}

func (r submissionRequest) toSubmission() models.Submission {
	return models.NewSubmission(models.SubmissionFields{
		TokenID:           r.TokenID,
		EmissionReduction: r.EmissionReduction,
		StartDate:         r.StartDate,
		EndDate:           r.EndDate,
		Location:          models.Location{Lat: r.Location.Lat, Lon: r.Location.Lon},
		DataSources:       r.DataSources,
		AdditionalData:    r.AdditionalData,
	})
}

type validationResponse struct {
	ProjectID    int64     `json:"projectId"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason"`
	Signature    string    `json:"signature,omitempty"`
	Signer       string    `json:"signer,omitempty"`
	ContentHash  string    `json:"contentHash,omitempty"`
	IPFSHash     string    `json:"ipfsHash,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	TxHash       string    `json:"txHash,omitempty"`
	LedgerStatus string    `json:"ledgerStatus,omitempty"`
	Error        string    `json:"error,omitempty"`
	// Attestation is returned with 202 responses so the caller can resume
	// via POST /projects/{id}/authorize.
	Attestation *attestation.Attestation `json:"attestation,omitempty"`
}

func toValidationResponse(res pipeline.Result) validationResponse {
	out := validationResponse{
		ProjectID: res.Outcome.ProjectID,
		Status:    string(res.Outcome.Status),
		Reason:    res.Outcome.Reason,
		Timestamp: res.Outcome.Timestamp,
		IPFSHash:  res.ContentAddress,
	}
	if res.Attestation != nil {
		out.Signature = res.Attestation.Signature
		out.Signer = res.Attestation.Signer
		out.ContentHash = res.Attestation.ContentHash
	}
	if res.Transaction != nil {
		out.TxHash = res.Transaction.TxHash
		out.LedgerStatus = string(res.Transaction.Status)
	}
	return out
}

type statusResponse struct {
	ProjectID    int64      `json:"projectId"`
	LedgerStatus string     `json:"ledgerStatus"`
	TxHash       string     `json:"txHash,omitempty"`
	Retries      int        `json:"retries"`
	LastError    string     `json:"lastError,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

func toStatusResponse(projectID int64, status ledger.Status, tx *ledger.Transaction) statusResponse {
	out := statusResponse{ProjectID: projectID, LedgerStatus: string(status)}
	if tx != nil {
		out.TxHash = tx.TxHash
		out.Retries = tx.Retries
		out.LastError = tx.LastError
		updated := tx.UpdatedAt
		out.UpdatedAt = &updated
	}
	return out
}

type modelUpdateRequest struct {
	Submissions []submissionRequest `json:"submissions"`
}

type modelResponse struct {
	Version       string    `json:"version"`
	Samples       int       `json:"samples"`
	Threshold     float64   `json:"threshold"`
	Contamination float64   `json:"contamination"`
	TrainedAt     time.Time `json:"trainedAt"`
}

func toModelResponse(m *anomaly.Model) modelResponse {
	return modelResponse{
		Version:       m.Version,
		Samples:       m.Samples,
		Threshold:     m.Threshold,
		Contamination: m.Contamination,
		TrainedAt:     m.TrainedAt,
	}
}
