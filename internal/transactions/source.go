// Package transactions loads the balance, transactions and cards a plan is built from.
package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// Snapshot is everything needed to project one user's cash flow.
type Snapshot struct {
	Balance      *decimal.Decimal     `json:"balance"`
	Transactions []domain.Transaction `json:"transactions"`
	Cards        []domain.CreditCard  `json:"cards,omitempty"`
	Window       *domain.DateRange    `json:"window,omitempty"`
}

// Source loads a user's snapshot.
type Source interface {
	Load(ctx context.Context, userID string) (Snapshot, error)
}

// FileSource reads a snapshot from a JSON file. The user ID is ignored.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(ctx context.Context, userID string) (Snapshot, error) {
	return ReadFile(s.Path)
}

// ReadFile decodes a snapshot fixture.
func ReadFile(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ReadFile: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, &domain.DataError{Field: "file", Reason: fmt.Sprintf("%s: %v", path, err)}
	}
	return snap, nil
}
