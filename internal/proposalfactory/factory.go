// Package proposalfactory implements the proposal construction
// contract (C3): validate a drained transaction collection and build a
// Proposal, or reject the whole attempt.
package proposalfactory

import (
	"errors"
	"fmt"
	"time"

	"github.com/empower1/orderingd/internal/txmodel"
)

var (
	// ErrEmptyBatch is returned when txs has no transactions; a
	// proposal is never built from an empty drain (invariant 2).
	ErrEmptyBatch = errors.New("proposal factory: transaction batch is empty")
	// ErrBatchTooLarge is returned when txs exceeds MaxSize (invariant 3).
	ErrBatchTooLarge = errors.New("proposal factory: transaction batch exceeds max size")
	// ErrMalformedTransaction is returned when a transaction lacks a
	// stable identity.
	ErrMalformedTransaction = errors.New("proposal factory: malformed transaction")
)

// Factory validates drained transaction batches and constructs
// Proposal values. It holds no mutable state: construction is a pure
// function of its inputs plus MaxSize.
type Factory struct {
	maxSize int
}

// New creates a Factory bounding every constructed proposal to maxSize
// transactions.
func New(maxSize int) (*Factory, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("proposal factory: max size must be positive, got %d", maxSize)
	}
	return &Factory{maxSize: maxSize}, nil
}

// Create validates txs and returns a Proposal at height, timestamped at
// createdAt. It rejects the whole batch on the first malformed
// transaction rather than silently dropping it, leaving the caller free
// to decide whether to retry or discard.
func (f *Factory) Create(height txmodel.Height, createdAt time.Time, txs []txmodel.Transaction) (*txmodel.Proposal, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(txs) > f.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(txs), f.maxSize)
	}
	for i, tx := range txs {
		if len(tx.ID) == 0 {
			return nil, fmt.Errorf("%w: transaction at index %d has no ID", ErrMalformedTransaction, i)
		}
	}

	ordered := make([]txmodel.Transaction, len(txs))
	copy(ordered, txs)

	return &txmodel.Proposal{
		Height:       height,
		CreatedAt:    createdAt,
		Transactions: ordered,
	}, nil
}
