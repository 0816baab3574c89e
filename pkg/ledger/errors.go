package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any write
	ErrValidation = errors.New("invalid invoice input")

	// ErrNotFound is returned when an invoice does not exist
	ErrNotFound = errors.New("invoice not found")

	// ErrStorageConsistency marks a record that was written but cannot be read back
	ErrStorageConsistency = errors.New("storage consistency violation")

	// ErrBlobStore marks a rendered document that could not be stored
	ErrBlobStore = errors.New("blob store failure")

	// ErrNoDocument is returned when an invoice has no retrievable document
	ErrNoDocument = errors.New("invoice has no document")
)

// ValidationError describes a rejected input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConsistencyError is returned when a just-created invoice is missing from
// both the id lookup and the period lookup.
type ConsistencyError struct {
	InvoiceID string
	ClientID  string
	Period    Period
	ByID      error
	ByPeriod  error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("invoice %s for client %s (%s) not readable after write: by id: %v; by period: %v",
		e.InvoiceID, e.ClientID, e.Period, e.ByID, e.ByPeriod)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrStorageConsistency
}

// BlobStoreError wraps a failed blob store operation
type BlobStoreError struct {
	Op  string
	Err error
}

func (e *BlobStoreError) Error() string {
	return fmt.Sprintf("blob store %s failed: %v", e.Op, e.Err)
}

func (e *BlobStoreError) Unwrap() []error {
	return []error{ErrBlobStore, e.Err}
}
