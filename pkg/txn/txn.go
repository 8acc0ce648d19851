// Package txn defines the transaction object passed opaquely to hash
// index operations. Multi-page transactional
// locking is out of scope here; this is only the pass-through value
// future locking hooks would hang off of.
package txn

import "github.com/google/uuid"

// Transaction identifies the client on whose behalf a sequence of
// index operations runs. Index operations accept it without examining
// it; buffer pool operations do not take one.
type Transaction struct {
	id uuid.UUID
}

// New constructs a Transaction with a fresh client id.
func New() *Transaction {
	return &Transaction{id: uuid.New()}
}

// GetID returns the transaction's client id.
func (t *Transaction) GetID() uuid.UUID {
	return t.id
}
