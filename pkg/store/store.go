package store

import (
	"context"
	"errors"

	"casedesk/pkg/domain"
)

// ErrConflict reports that an optimistic status check failed because the
// case was mutated concurrently.
var ErrConflict = errors.New("concurrent case modification")

// Store defines persistence for cases, their update log, and documents.
//
// Implementations must serialize mutations per case: two concurrent appends
// for the same case must never be assigned the same sequence number, and
// sequence numbers have no gaps under normal operation. Reads are not
// blocked by writes.
type Store interface {
	// cases
	CreateCase(ctx context.Context, c domain.Case) (domain.Case, error)
	GetCase(ctx context.Context, id string) (domain.Case, bool, error)
	ListCases(ctx context.Context) ([]domain.Case, error)
	ListCasesByCustomer(ctx context.Context, customerID string) ([]domain.Case, error)

	// ApplyTransition atomically moves the case from→to and appends the
	// status-change update. The from status is an optimistic check;
	// ErrConflict is returned when the case no longer has it.
	ApplyTransition(ctx context.Context, caseID string, from, to domain.CaseStatus, upd domain.Update) (domain.Case, domain.Update, error)

	// SetPriority atomically updates the case priority and appends the
	// priority-change update.
	SetPriority(ctx context.Context, caseID string, p domain.Priority, upd domain.Update) (domain.Case, domain.Update, error)

	// updates (append-only log)
	AppendUpdate(ctx context.Context, upd domain.Update) (domain.Update, error)
	ListUpdates(ctx context.Context, caseID string) ([]domain.Update, error)

	// documents
	AttachDocument(ctx context.Context, doc domain.Document, upd domain.Update) (domain.Document, domain.Update, error)
	GetDocument(ctx context.Context, caseID, docID string) (domain.Document, bool, error)
	// DetachDocument soft-deletes the document and appends the removal
	// update. Detaching an already-deleted document changes nothing and
	// returns changed=false with a nil error.
	DetachDocument(ctx context.Context, caseID, docID string, upd domain.Update) (bool, error)
	ListDocuments(ctx context.Context, caseID string) ([]domain.Document, error)
}
