// Package app is the core case service: it wires the store, blob storage,
// schema registry and policy gate together and exposes the lifecycle
// operations the HTTP layer calls.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casedesk/internal/util"
	"casedesk/pkg/domain"
	"casedesk/pkg/notify"
	"casedesk/pkg/policy"
	"casedesk/pkg/storage"
	"casedesk/pkg/store"
)

const (
	defaultMaxDocumentBytes = 10 * 1024 * 1024
	defaultPresignExpiry    = 15 * time.Minute
	defaultStoreTimeout     = 5 * time.Second
)

var defaultAllowedMimeTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"text/plain",
	"text/csv",
}

// EventSink receives lifecycle events. Delivery is fire-and-forget; the
// dispatcher in pkg/notify satisfies this.
type EventSink interface {
	Emit(ev notify.Event)
}

type noopSink struct{}

func (noopSink) Emit(notify.Event) {}

// Config holds runtime configuration for the core application.
type Config struct {
	Store            store.Store
	Blobs            storage.BlobStore
	Events           EventSink
	MaxDocumentBytes int64
	AllowedMimeTypes []string
	PresignExpiry    time.Duration
	StoreTimeout     time.Duration
}

// App validates, authorizes and executes every case operation.
type App struct {
	store            store.Store
	blobs            storage.BlobStore
	schemas          *domain.SchemaRegistry
	events           EventSink
	maxDocumentBytes int64
	allowedMimeTypes map[string]bool
	presignExpiry    time.Duration
	storeTimeout     time.Duration
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob store required")
	}
	events := cfg.Events
	if events == nil {
		events = noopSink{}
	}
	maxBytes := cfg.MaxDocumentBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxDocumentBytes
	}
	allowed := cfg.AllowedMimeTypes
	if len(allowed) == 0 {
		allowed = defaultAllowedMimeTypes
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			allowedSet[m] = true
		}
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = defaultPresignExpiry
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &App{
		store:            cfg.Store,
		blobs:            cfg.Blobs,
		schemas:          domain.NewSchemaRegistry(),
		events:           events,
		maxDocumentBytes: maxBytes,
		allowedMimeTypes: allowedSet,
		presignExpiry:    presignExpiry,
		storeTimeout:     storeTimeout,
	}, nil
}

// MaxDocumentBytes reports the configured document size ceiling.
func (a *App) MaxDocumentBytes() int64 {
	return a.maxDocumentBytes
}

// CreateCase opens a new case for the acting customer. Structured fields
// are validated against the category schema before anything is stored.
func (a *App) CreateCase(ctx context.Context, actor domain.Actor, category string, fields map[string]any) (domain.Case, error) {
	candidate := domain.Case{CustomerID: actor.UserID}
	if err := policy.Decide(actor, candidate, policy.Action{Kind: policy.ActionCreateCase}); err != nil {
		return domain.Case{}, err
	}
	if err := a.schemas.Validate(category, fields); err != nil {
		return domain.Case{}, err
	}
	now := time.Now().UTC()
	c := domain.Case{
		ID:         util.NewID(),
		CustomerID: actor.UserID,
		Category:   category,
		Status:     domain.StatusNew,
		Priority:   domain.PriorityNormal,
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()
	created, err := a.store.CreateCase(ctx, c)
	if err != nil {
		return domain.Case{}, storeErr(err)
	}
	a.events.Emit(notify.Event{
		CaseID:        created.ID,
		Kind:          notify.EventCaseCreated,
		RecipientRole: domain.RoleAnalyst,
		At:            now,
	})
	return created, nil
}

// GetCase returns a single case visible to the actor.
func (a *App) GetCase(ctx context.Context, actor domain.Actor, caseID string) (domain.Case, error) {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := policy.Decide(actor, c, policy.Action{Kind: policy.ActionReadCase}); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// ListCases returns the actor's case list: all cases for analysts, own
// cases for customers.
func (a *App) ListCases(ctx context.Context, actor domain.Actor) ([]domain.Case, error) {
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()
	var (
		cases []domain.Case
		err   error
	)
	if actor.Role == domain.RoleAnalyst {
		cases, err = a.store.ListCases(ctx)
	} else {
		cases, err = a.store.ListCasesByCustomer(ctx, actor.UserID)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return cases, nil
}

func (a *App) loadCase(ctx context.Context, caseID string) (domain.Case, error) {
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()
	c, ok, err := a.store.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, storeErr(err)
	}
	if !ok {
		return domain.Case{}, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}
	return c, nil
}

func (a *App) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.storeTimeout)
}

func newUpdate(actor domain.Actor, caseID string, kind domain.UpdateKind, visibility domain.Visibility, payload map[string]any) domain.Update {
	return domain.Update{
		ID:         util.NewID(),
		CaseID:     caseID,
		AuthorID:   actor.UserID,
		AuthorRole: actor.Role,
		Kind:       kind,
		Payload:    payload,
		Visibility: visibility,
		CreatedAt:  time.Now().UTC(),
	}
}

// otherParty picks the notification recipient for a change made by actor.
func otherParty(actor domain.Actor) domain.Role {
	if actor.Role == domain.RoleAnalyst {
		return domain.RoleCustomer
	}
	return domain.RoleAnalyst
}
