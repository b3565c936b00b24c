package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"casedesk/pkg/domain"
)

func seedCase(t *testing.T, s *MemoryStore, id string) domain.Case {
	t.Helper()
	c, err := s.CreateCase(context.Background(), domain.Case{
		ID:         id,
		CustomerID: "cu-1",
		Category:   "Billing",
		Status:     domain.StatusNew,
		Priority:   domain.PriorityNormal,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

func TestConcurrentAppendsGetDistinctSequenceNumbers(t *testing.T) {
	s := NewMemoryStore()
	seedCase(t, s, "case-1")

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	seqs := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			<-start
			upd, err := s.AppendUpdate(context.Background(), domain.Update{
				ID:         fmt.Sprintf("upd-%d", n),
				CaseID:     "case-1",
				AuthorID:   "an-1",
				AuthorRole: domain.RoleAnalyst,
				Kind:       domain.KindNote,
				Visibility: domain.VisibilityPublic,
			})
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			seqs <- upd.Seq
		}(i)
	}
	close(start)
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("duplicate sequence number %d", seq)
		}
		seen[seq] = true
	}
	if len(seen) != workers {
		t.Fatalf("got %d sequence numbers, want %d", len(seen), workers)
	}
	for want := int64(1); want <= workers; want++ {
		if !seen[want] {
			t.Fatalf("sequence gap: %d missing", want)
		}
	}
}

func TestApplyTransitionOptimisticCheck(t *testing.T) {
	s := NewMemoryStore()
	seedCase(t, s, "case-1")

	upd := domain.Update{ID: "upd-1", CaseID: "case-1", Kind: domain.KindStatusChange, Visibility: domain.VisibilityPublic}
	c, appended, err := s.ApplyTransition(context.Background(), "case-1", domain.StatusNew, domain.StatusTriaged, upd)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if c.Status != domain.StatusTriaged {
		t.Fatalf("status = %s, want triaged", c.Status)
	}
	if appended.Seq != 1 {
		t.Fatalf("seq = %d, want 1", appended.Seq)
	}

	_, _, err = s.ApplyTransition(context.Background(), "case-1", domain.StatusNew, domain.StatusTriaged, upd)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale transition: err = %v, want conflict", err)
	}

	_, _, err = s.ApplyTransition(context.Background(), "nope", domain.StatusNew, domain.StatusTriaged, upd)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing case: err = %v, want not found", err)
	}
}

func TestDetachDocumentIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seedCase(t, s, "case-1")

	doc := domain.Document{ID: "doc-1", CaseID: "case-1", UploaderID: "cu-1", BlobHandle: "cases/case-1/doc-1", MimeType: "application/pdf", SizeBytes: 100, CreatedAt: time.Now().UTC()}
	if _, _, err := s.AttachDocument(context.Background(), doc, domain.Update{ID: "upd-1", CaseID: "case-1", Kind: domain.KindDocumentAdded, Visibility: domain.VisibilityPublic}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	removal := domain.Update{ID: "upd-2", CaseID: "case-1", Kind: domain.KindDocumentRemoved, Visibility: domain.VisibilityPublic}
	changed, err := s.DetachDocument(context.Background(), "case-1", "doc-1", removal)
	if err != nil || !changed {
		t.Fatalf("first detach: changed=%v err=%v", changed, err)
	}
	changed, err = s.DetachDocument(context.Background(), "case-1", "doc-1", domain.Update{ID: "upd-3", CaseID: "case-1", Kind: domain.KindDocumentRemoved})
	if err != nil {
		t.Fatalf("second detach: %v", err)
	}
	if changed {
		t.Fatalf("second detach reported a change")
	}

	updates, err := s.ListUpdates(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2 (added + removed once)", len(updates))
	}

	docs, err := s.ListDocuments(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 || !docs[0].Deleted() {
		t.Fatalf("document not soft-deleted exactly once: %+v", docs)
	}
}

func TestListUpdatesOrderedBySeq(t *testing.T) {
	s := NewMemoryStore()
	seedCase(t, s, "case-1")
	for i := 0; i < 5; i++ {
		if _, err := s.AppendUpdate(context.Background(), domain.Update{
			ID:     fmt.Sprintf("upd-%d", i),
			CaseID: "case-1",
			Kind:   domain.KindNote,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	updates, err := s.ListUpdates(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, u := range updates {
		if u.Seq != int64(i+1) {
			t.Fatalf("updates[%d].Seq = %d, want %d", i, u.Seq, i+1)
		}
	}
}
