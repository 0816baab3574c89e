// Package ledger keeps the canonical invoice record for every client and billing period.
//
// # Overview
//
// Upsert is the single entry point for producing an invoice. For one client and
// one billing period it prices the client, resolves the invoice number, renders
// the document, stores the rendered bytes as a blob, and writes the invoice
// record pointing at that blob:
//
//	lookup -> resolve number -> render -> blob put -> insert or update
//
// At most one invoice exists per (client, month, year). The guarantee comes from
// the store's uniqueness constraint alone; the ledger holds no locks. A create
// that loses a race receives AlreadyExists from Store.InsertIfAbsent and falls
// back to updating the winner, so concurrent and retried requests converge on
// one record with one invoice number.
//
// # Usage Example
//
//	l := ledger.New(store, blobs, synthesizer, ledger.WithLogger(logger))
//	res, err := l.Upsert(ctx, ledger.UpsertRequest{
//		Client: client,
//		Plan:   plan,
//		Period: ledger.Period{Month: 1, Year: 2024},
//	})
//	if errors.Is(err, ledger.ErrValidation) {
//		// caller input is wrong, nothing was written
//	}
//
// # Errors
//
//   - ErrValidation: rejected before any write
//   - ErrBlobStore: the document was rendered but could not be stored; the record is untouched
//   - ErrStorageConsistency: a created record could not be read back; not retried
//   - ErrNotFound: lookups by id or period
//
// Blobs orphaned by re-renders or by failures after the blob write are left in place.
//
// # Related Packages
//
//   - pkg/billing: Amount calculation
//   - pkg/document: Invoice rendering
//   - pkg/storage: Blob persistence
//   - pkg/storage/postgres: SQL implementation of Store
package ledger
