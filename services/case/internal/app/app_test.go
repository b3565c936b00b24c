package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"casedesk/pkg/domain"
	"casedesk/pkg/notify"
	"casedesk/pkg/store"
)

var (
	customer = domain.Actor{UserID: "cu-1", Role: domain.RoleCustomer}
	stranger = domain.Actor{UserID: "cu-2", Role: domain.RoleCustomer}
	analyst  = domain.Actor{UserID: "an-1", Role: domain.RoleAnalyst}
)

type fakeBlobStore struct {
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(_ context.Context, handle string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.blobs[handle] = data
	return nil
}

func (f *fakeBlobStore) PresignGet(_ context.Context, handle string, _ time.Duration) (string, error) {
	if _, ok := f.blobs[handle]; !ok {
		return "", errors.New("no such blob")
	}
	return "https://blobs.test/" + handle, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, handle string) error {
	delete(f.blobs, handle)
	return nil
}

type captureSink struct {
	events []notify.Event
}

func (c *captureSink) Emit(ev notify.Event) {
	c.events = append(c.events, ev)
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *fakeBlobStore, *captureSink) {
	t.Helper()
	memStore := store.NewMemoryStore()
	blobs := newFakeBlobStore()
	sink := &captureSink{}
	a, err := New(Config{
		Store:            memStore,
		Blobs:            blobs,
		Events:           sink,
		MaxDocumentBytes: 10 * 1024 * 1024,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, memStore, blobs, sink
}

func mustCreateCase(t *testing.T, a *App, actor domain.Actor, category string, fields map[string]any) domain.Case {
	t.Helper()
	c, err := a.CreateCase(context.Background(), actor, category, fields)
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

func billingFields() map[string]any {
	return map[string]any{"invoiceId": "inv-42"}
}

func TestCreateCaseValidatesSchema(t *testing.T) {
	a, _, _, sink := newTestApp(t)

	c := mustCreateCase(t, a, customer, "Billing", billingFields())
	if c.Status != domain.StatusNew || c.Priority != domain.PriorityNormal {
		t.Fatalf("new case defaults wrong: %+v", c)
	}
	if c.CustomerID != customer.UserID {
		t.Fatalf("owner = %s, want %s", c.CustomerID, customer.UserID)
	}

	_, err := a.CreateCase(context.Background(), customer, "Billing", map[string]any{})
	if !errors.Is(err, domain.ErrSchemaViolation) {
		t.Fatalf("missing invoiceId: err = %v, want schema violation", err)
	}
	_, err = a.CreateCase(context.Background(), customer, "Gardening", billingFields())
	if !errors.Is(err, domain.ErrSchemaViolation) {
		t.Fatalf("unknown category: err = %v, want schema violation", err)
	}

	if len(sink.events) != 1 || sink.events[0].Kind != notify.EventCaseCreated {
		t.Fatalf("expected one case.created event, got %+v", sink.events)
	}
	if sink.events[0].RecipientRole != domain.RoleAnalyst {
		t.Fatalf("case.created recipient = %s, want analyst", sink.events[0].RecipientRole)
	}
}

func TestCreateCaseDeniedForAnalyst(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	_, err := a.CreateCase(context.Background(), analyst, "Billing", billingFields())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("analyst create: err = %v, want unauthorized", err)
	}
}

func TestGetCaseOwnership(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())

	if _, err := a.GetCase(context.Background(), stranger, c.ID); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("stranger read: err = %v, want not owner", err)
	}
	if _, err := a.GetCase(context.Background(), analyst, c.ID); err != nil {
		t.Fatalf("analyst read: %v", err)
	}
	if _, err := a.GetCase(context.Background(), customer, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing case: err = %v, want not found", err)
	}
}

func TestListCasesScopedByRole(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	mustCreateCase(t, a, customer, "Billing", billingFields())
	mustCreateCase(t, a, stranger, "Billing", billingFields())

	mine, err := a.ListCases(context.Background(), customer)
	if err != nil {
		t.Fatalf("list as customer: %v", err)
	}
	if len(mine) != 1 || mine[0].CustomerID != customer.UserID {
		t.Fatalf("customer list = %+v", mine)
	}

	all, err := a.ListCases(context.Background(), analyst)
	if err != nil {
		t.Fatalf("list as analyst: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("analyst sees %d cases, want 2", len(all))
	}
}

func TestTransitionLifecycle(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())

	if _, err := a.Transition(context.Background(), analyst, c.ID, domain.StatusResolved); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("new -> resolved: err = %v, want invalid transition", err)
	}

	updated, err := a.Transition(context.Background(), analyst, c.ID, domain.StatusTriaged)
	if err != nil {
		t.Fatalf("new -> triaged: %v", err)
	}
	if updated.Status != domain.StatusTriaged {
		t.Fatalf("status = %s, want triaged", updated.Status)
	}

	if _, err := a.Transition(context.Background(), analyst, c.ID, domain.CaseStatus("bogus")); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("bogus status: err = %v, want invalid transition", err)
	}
}

func TestCustomerTransitionOnlyReply(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())

	for _, to := range []domain.CaseStatus{domain.StatusTriaged, domain.StatusInProgress, domain.StatusWaitingOnCustomer} {
		_, err := a.Transition(context.Background(), customer, c.ID, to)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("customer new -> %s: err = %v, want invalid transition", to, err)
		}
	}

	for _, to := range []domain.CaseStatus{domain.StatusTriaged, domain.StatusInProgress, domain.StatusWaitingOnCustomer} {
		if _, err := a.Transition(context.Background(), analyst, c.ID, to); err != nil {
			t.Fatalf("analyst -> %s: %v", to, err)
		}
	}

	updated, err := a.Transition(context.Background(), customer, c.ID, domain.StatusInProgress)
	if err != nil {
		t.Fatalf("customer reply transition: %v", err)
	}
	if updated.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", updated.Status)
	}

	if _, err := a.Transition(context.Background(), stranger, c.ID, domain.StatusInProgress); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("stranger transition: err = %v, want not owner", err)
	}
}

func TestSetPriorityAnalystOnly(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())

	if _, err := a.SetPriority(context.Background(), customer, c.ID, domain.PriorityHigh); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("customer set priority: err = %v, want unauthorized", err)
	}
	if _, err := a.SetPriority(context.Background(), analyst, c.ID, domain.Priority("severe")); !errors.Is(err, domain.ErrSchemaViolation) {
		t.Fatalf("bogus priority: err = %v, want schema violation", err)
	}

	updated, err := a.SetPriority(context.Background(), analyst, c.ID, domain.PriorityUrgent)
	if err != nil {
		t.Fatalf("set priority: %v", err)
	}
	if updated.Priority != domain.PriorityUrgent {
		t.Fatalf("priority = %s, want urgent", updated.Priority)
	}

	// Priority changes are internal triage detail: invisible to customers.
	feed, err := a.ListFeed(context.Background(), customer, c.ID)
	if err != nil {
		t.Fatalf("customer feed: %v", err)
	}
	for _, u := range feed {
		if u.Kind == domain.KindPriorityChange {
			t.Fatalf("priority change leaked into customer feed: %+v", u)
		}
	}
}

func TestFeedVisibilityFiltering(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())

	if _, err := a.AddNote(context.Background(), customer, c.ID, "my invoice is wrong", domain.VisibilityPublic); err != nil {
		t.Fatalf("customer note: %v", err)
	}
	if _, err := a.AddNote(context.Background(), analyst, c.ID, "looks like double billing", domain.VisibilityAnalystOnly); err != nil {
		t.Fatalf("analyst internal note: %v", err)
	}
	if _, err := a.AddNote(context.Background(), analyst, c.ID, "we are looking into it", domain.VisibilityPublic); err != nil {
		t.Fatalf("analyst public note: %v", err)
	}

	full, err := a.ListFeed(context.Background(), analyst, c.ID)
	if err != nil {
		t.Fatalf("analyst feed: %v", err)
	}
	if len(full) != 3 {
		t.Fatalf("analyst sees %d updates, want 3", len(full))
	}

	filtered, err := a.ListFeed(context.Background(), customer, c.ID)
	if err != nil {
		t.Fatalf("customer feed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("customer sees %d updates, want 2", len(filtered))
	}
	// The customer view must stay a subsequence of the full feed.
	if filtered[0].Seq >= filtered[1].Seq {
		t.Fatalf("customer feed out of order: %d then %d", filtered[0].Seq, filtered[1].Seq)
	}
}

func TestCustomerCannotWriteInternalNotes(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())

	_, err := a.AddNote(context.Background(), customer, c.ID, "secret?", domain.VisibilityAnalystOnly)
	if !errors.Is(err, domain.ErrInsufficientRole) {
		t.Fatalf("customer internal note: err = %v, want insufficient role", err)
	}
}

func TestArchivedCaseRejectsMutations(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())
	if _, err := a.Transition(context.Background(), analyst, c.ID, domain.StatusArchived); err != nil {
		t.Fatalf("archive: %v", err)
	}

	if _, err := a.AddNote(context.Background(), analyst, c.ID, "too late", domain.VisibilityPublic); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("note on archived: err = %v, want invalid transition", err)
	}
	if _, err := a.Transition(context.Background(), analyst, c.ID, domain.StatusNew); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("reopen archived: err = %v, want invalid transition", err)
	}
	_, err := a.AttachDocument(context.Background(), analyst, c.ID, "late.pdf", "application/pdf", 10, strings.NewReader("0123456789"))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("attach on archived: err = %v, want invalid transition", err)
	}
}

func TestAttachDocumentValidation(t *testing.T) {
	a, memStore, blobs, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())

	_, err := a.AttachDocument(context.Background(), customer, c.ID, "huge.pdf", "application/pdf", 50*1024*1024, strings.NewReader(""))
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("oversized upload: err = %v, want payload too large", err)
	}
	_, err = a.AttachDocument(context.Background(), customer, c.ID, "evil.exe", "application/x-msdownload", 100, strings.NewReader("MZ"))
	if !errors.Is(err, domain.ErrUnsupportedMediaType) {
		t.Fatalf("bad mime: err = %v, want unsupported media type", err)
	}

	// Rejected uploads must leave no trace: no blob, no feed entry.
	if len(blobs.blobs) != 0 {
		t.Fatalf("rejected uploads stored blobs: %v", blobs.blobs)
	}
	updates, err := memStore.ListUpdates(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if len(updates) != 0 {
		t.Fatalf("rejected uploads appended %d feed entries", len(updates))
	}

	doc, err := a.AttachDocument(context.Background(), customer, c.ID, "invoice.pdf", "application/pdf; charset=binary", 9, strings.NewReader("PDF bytes"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if doc.MimeType != "application/pdf" {
		t.Fatalf("mime not normalized: %s", doc.MimeType)
	}
	if doc.Filename != "invoice.pdf" {
		t.Fatalf("filename = %s", doc.Filename)
	}
	if _, ok := blobs.blobs[doc.BlobHandle]; !ok {
		t.Fatalf("blob not stored under handle %s", doc.BlobHandle)
	}
}

func TestDetachDocumentIdempotentAndAnalystOnly(t *testing.T) {
	a, memStore, _, sink := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())
	doc, err := a.AttachDocument(context.Background(), customer, c.ID, "invoice.pdf", "application/pdf", 9, strings.NewReader("PDF bytes"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := a.DetachDocument(context.Background(), customer, c.ID, doc.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("customer detach: err = %v, want unauthorized", err)
	}

	if err := a.DetachDocument(context.Background(), analyst, c.ID, doc.ID); err != nil {
		t.Fatalf("first detach: %v", err)
	}
	eventsAfterFirst := len(sink.events)
	if err := a.DetachDocument(context.Background(), analyst, c.ID, doc.ID); err != nil {
		t.Fatalf("second detach: %v", err)
	}
	if len(sink.events) != eventsAfterFirst {
		t.Fatalf("idempotent detach emitted an event: %+v", sink.events[eventsAfterFirst:])
	}
	removedEvents := 0
	for _, ev := range sink.events {
		if ev.Kind == notify.EventDocumentRemoved {
			removedEvents++
		}
	}
	if removedEvents != 1 {
		t.Fatalf("got %d document_removed events, want 1", removedEvents)
	}

	updates, err := memStore.ListUpdates(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	removals := 0
	for _, u := range updates {
		if u.Kind == domain.KindDocumentRemoved {
			removals++
		}
	}
	if removals != 1 {
		t.Fatalf("feed has %d removal entries, want 1", removals)
	}

	// Customer listing hides the soft-deleted document; analyst keeps it.
	customerDocs, err := a.ListDocuments(context.Background(), customer, c.ID)
	if err != nil {
		t.Fatalf("customer docs: %v", err)
	}
	if len(customerDocs) != 0 {
		t.Fatalf("customer sees deleted document: %+v", customerDocs)
	}
	analystDocs, err := a.ListDocuments(context.Background(), analyst, c.ID)
	if err != nil {
		t.Fatalf("analyst docs: %v", err)
	}
	if len(analystDocs) != 1 || !analystDocs[0].Deleted() {
		t.Fatalf("analyst audit view wrong: %+v", analystDocs)
	}
}

func TestDocumentURL(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())
	doc, err := a.AttachDocument(context.Background(), customer, c.ID, "invoice.pdf", "application/pdf", 9, strings.NewReader("PDF bytes"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	url, filename, err := a.DocumentURL(context.Background(), customer, c.ID, doc.ID)
	if err != nil {
		t.Fatalf("document url: %v", err)
	}
	if filename != "invoice.pdf" || !strings.Contains(url, doc.BlobHandle) {
		t.Fatalf("url=%q filename=%q", url, filename)
	}

	if err := a.DetachDocument(context.Background(), analyst, c.ID, doc.ID); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, _, err := a.DocumentURL(context.Background(), analyst, c.ID, doc.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted document url: err = %v, want not found", err)
	}
}

func TestNotificationRecipients(t *testing.T) {
	a, _, _, sink := newTestApp(t)
	c := mustCreateCase(t, a, customer, "Billing", billingFields())
	if _, err := a.Transition(context.Background(), analyst, c.ID, domain.StatusTriaged); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := a.AddNote(context.Background(), analyst, c.ID, "internal", domain.VisibilityAnalystOnly); err != nil {
		t.Fatalf("internal note: %v", err)
	}

	want := []struct {
		kind      notify.EventKind
		recipient domain.Role
	}{
		{notify.EventCaseCreated, domain.RoleAnalyst},
		{notify.EventStatusChanged, domain.RoleCustomer},
		{notify.EventNoteAdded, domain.RoleAnalyst},
	}
	if len(sink.events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(sink.events), len(want), sink.events)
	}
	for i, w := range want {
		if sink.events[i].Kind != w.kind || sink.events[i].RecipientRole != w.recipient {
			t.Fatalf("event %d = %+v, want kind=%s recipient=%s", i, sink.events[i], w.kind, w.recipient)
		}
	}
	if sink.events[0].CaseID != c.ID {
		t.Fatalf("event case id = %s, want %s", sink.events[0].CaseID, c.ID)
	}
}

func TestStoreTimeoutMapsToStoreUnavailable(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	mustCreateCase(t, a, customer, "Billing", billingFields())

	err := fmt.Errorf("dial tcp: connection refused")
	if mapped := storeErr(err); !errors.Is(mapped, domain.ErrStoreUnavailable) {
		t.Fatalf("backend failure mapped to %v, want store unavailable", mapped)
	}
	if mapped := storeErr(domain.ErrNotFound); !errors.Is(mapped, domain.ErrNotFound) {
		t.Fatalf("not found remapped to %v", mapped)
	}
	if mapped := storeErr(store.ErrConflict); !errors.Is(mapped, store.ErrConflict) {
		t.Fatalf("conflict remapped to %v", mapped)
	}
}
