package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	domain "github.com/homefit-remodel/api/internal/domain"
)

// Hash returns the hex SHA-256 of the canonical JSON form of payload. Object keys
// are sorted at every depth, arrays keep their order and numbers keep their
// literal representation.
func Hash(payload any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON encodes payload, decodes it into generic values and re-encodes it.
// encoding/json writes map keys in sorted order, which yields a canonical form.
func CanonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("reproducibility: encode payload: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("reproducibility: decode payload: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("reproducibility: re-encode payload: %w", err)
	}
	return canonical, nil
}

// OutputFingerprint is the stable subset of an estimate used for output hashing.
// Display names, warnings, explanation prose, identifiers and timestamps are excluded.
type OutputFingerprint struct {
	Grade          domain.GradeTier     `json:"grade"`
	Blocks         []blockFingerprint   `json:"blocks"`
	Failures       []failureFingerprint `json:"failures"`
	MaterialTotal  int64                `json:"materialTotal"`
	LaborTotal     int64                `json:"laborTotal"`
	GrandTotal     int64                `json:"grandTotal"`
	VAT            int64                `json:"vat"`
	TotalWithVAT   int64                `json:"totalWithVat"`
	PricePerArea   int64                `json:"pricePerArea"`
	BudgetExceeded bool                 `json:"budgetExceeded"`
}

type blockFingerprint struct {
	ProcessID     domain.ProcessID  `json:"processId"`
	Items         []itemFingerprint `json:"items"`
	MaterialTotal int64             `json:"materialTotal"`
	LaborTotal    int64             `json:"laborTotal"`
}

type itemFingerprint struct {
	Code      string          `json:"code"`
	Kind      domain.ItemKind `json:"kind"`
	Quantity  int64           `json:"quantity"`
	UnitPrice int64           `json:"unitPrice"`
	Amount    int64           `json:"amount"`
}

type failureFingerprint struct {
	ProcessID    domain.ProcessID     `json:"processId"`
	MissingItems []string             `json:"missingItems"`
	Reason       domain.FailureReason `json:"reason"`
}

// FingerprintOf extracts the stable subset of result.
func FingerprintOf(result domain.EstimateResult) OutputFingerprint {
	fp := OutputFingerprint{
		Grade:          result.Grade,
		Blocks:         make([]blockFingerprint, 0, len(result.Blocks)),
		Failures:       make([]failureFingerprint, 0, len(result.Failures)),
		MaterialTotal:  result.MaterialTotal,
		LaborTotal:     result.LaborTotal,
		GrandTotal:     result.GrandTotal,
		VAT:            result.VAT,
		TotalWithVAT:   result.TotalWithVAT,
		PricePerArea:   result.PricePerArea,
		BudgetExceeded: result.Budget != nil && result.Budget.Exceeded,
	}
	for _, block := range result.Blocks {
		items := make([]itemFingerprint, 0, len(block.Items))
		for _, item := range block.Items {
			items = append(items, itemFingerprint{
				Code:      item.Code,
				Kind:      item.Kind,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				Amount:    item.Amount,
			})
		}
		fp.Blocks = append(fp.Blocks, blockFingerprint{
			ProcessID:     block.ProcessID,
			Items:         items,
			MaterialTotal: block.MaterialTotal,
			LaborTotal:    block.LaborTotal,
		})
	}
	for _, failure := range result.Failures {
		missing := append([]string{}, failure.MissingItems...)
		fp.Failures = append(fp.Failures, failureFingerprint{
			ProcessID:    failure.ProcessID,
			MissingItems: missing,
			Reason:       failure.Reason,
		})
	}
	return fp
}

// OutputHash hashes the stable subset of result.
func OutputHash(result domain.EstimateResult) (string, error) {
	return Hash(FingerprintOf(result))
}

// InputHash hashes the engine inputs of cmd. The session identifier does not take part.
func InputHash(cmd EstimateCommand) (string, error) {
	return Hash(cmd.engineInput())
}
