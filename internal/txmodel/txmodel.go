// Package txmodel defines the data shared by every stage of the ordering
// pipeline: the transactions flowing through it, the heights assigned to
// proposals, and the proposals themselves.
package txmodel

import "time"

// Height is the monotonic sequence number assigned to a proposal.
// Zero means "no proposal has ever been emitted".
type Height uint64

// Transaction is an opaque, immutable, signed payload with a stable
// identity. The ordering pipeline never inspects or mutates Payload; it
// only needs ID for logging and for per-producer ordering checks.
type Transaction struct {
	ID      []byte
	Payload []byte
}

// Proposal is a numbered, timestamped, ordered batch of transactions.
type Proposal struct {
	Height       Height
	CreatedAt    time.Time
	Transactions []Transaction
}
