package domain

import "time"

type CaseStatus string

const (
	StatusNew               CaseStatus = "new"
	StatusTriaged           CaseStatus = "triaged"
	StatusInProgress        CaseStatus = "in_progress"
	StatusWaitingOnCustomer CaseStatus = "waiting_on_customer"
	StatusResolved          CaseStatus = "resolved"
	StatusArchived          CaseStatus = "archived"
)

// Priority is an ordered enum; Rank gives the ordering.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the position of the priority in the ordered enum, or -1 for
// unknown values.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return -1
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAnalyst  Role = "analyst"
)

type UpdateKind string

const (
	KindStatusChange    UpdateKind = "status_change"
	KindPriorityChange  UpdateKind = "priority_change"
	KindNote            UpdateKind = "note"
	KindDocumentAdded   UpdateKind = "document_added"
	KindDocumentRemoved UpdateKind = "document_removed"
)

type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityAnalystOnly Visibility = "analyst_only"
)

// Actor is the resolved identity of whoever invokes an operation.
// It is passed explicitly into every core call and never persisted.
type Actor struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type Case struct {
	ID         string         `json:"id"`
	CustomerID string         `json:"customerId"`
	Category   string         `json:"category"`
	Status     CaseStatus     `json:"status"`
	Priority   Priority       `json:"priority"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Update is an immutable, append-only log entry on a case. Seq is assigned
// by the store and is strictly increasing per case.
type Update struct {
	ID         string         `json:"id"`
	CaseID     string         `json:"caseId"`
	Seq        int64          `json:"seq"`
	AuthorID   string         `json:"authorId"`
	AuthorRole Role           `json:"authorRole"`
	Kind       UpdateKind     `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	Visibility Visibility     `json:"visibility"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Document links an opaque blob handle to a case. Removal is a soft delete
// via DeletedAt; blob handles are never reused.
type Document struct {
	ID         string     `json:"id"`
	CaseID     string     `json:"caseId"`
	UploaderID string     `json:"uploaderId"`
	Filename   string     `json:"filename"`
	BlobHandle string     `json:"-"`
	MimeType   string     `json:"mimeType"`
	SizeBytes  int64      `json:"sizeBytes"`
	CreatedAt  time.Time  `json:"createdAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
}

// Deleted reports whether the document has been soft-deleted.
func (d Document) Deleted() bool {
	return d.DeletedAt != nil
}

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p Priority) bool {
	return p.Rank() >= 0
}

// ValidVisibility reports whether v is a known visibility value.
func ValidVisibility(v Visibility) bool {
	return v == VisibilityPublic || v == VisibilityAnalystOnly
}
