package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"casedesk/internal/util"
	"casedesk/pkg/domain"
	"casedesk/pkg/notify"
	"casedesk/pkg/policy"
	"casedesk/pkg/storage"
)

// AttachDocument validates the upload, stores the blob and registers the
// document on the case. The blob is written first; if registering fails the
// blob is deleted again so no orphan handle leaks.
func (a *App) AttachDocument(ctx context.Context, actor domain.Actor, caseID, filename, mimeType string, size int64, r io.Reader) (domain.Document, error) {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := policy.Decide(actor, c, policy.Action{Kind: policy.ActionAttachDocument}); err != nil {
		return domain.Document{}, err
	}
	if c.Status == domain.StatusArchived {
		return domain.Document{}, fmt.Errorf("%w: case is archived", domain.ErrInvalidTransition)
	}
	if size <= 0 {
		return domain.Document{}, fmt.Errorf("%w: empty document", domain.ErrSchemaViolation)
	}
	if size > a.maxDocumentBytes {
		return domain.Document{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", domain.ErrPayloadTooLarge, size, a.maxDocumentBytes)
	}
	mimeType = normalizeMime(mimeType)
	if !a.allowedMimeTypes[mimeType] {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedMediaType, mimeType)
	}

	docID := util.NewID()
	handle := storage.BlobHandle(caseID, docID, filename)
	doc := domain.Document{
		ID:         docID,
		CaseID:     caseID,
		UploaderID: actor.UserID,
		Filename:   filepath.Base(filename),
		BlobHandle: handle,
		MimeType:   mimeType,
		SizeBytes:  size,
	}
	if err := a.blobs.Put(ctx, handle, r, size, mimeType); err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	upd := newUpdate(actor, caseID, domain.KindDocumentAdded, domain.VisibilityPublic, map[string]any{
		"documentId": docID,
		"filename":   doc.Filename,
	})
	doc.CreatedAt = upd.CreatedAt
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	stored, _, err := a.store.AttachDocument(sctx, doc, upd)
	if err != nil {
		_ = a.blobs.Delete(context.WithoutCancel(ctx), handle)
		return domain.Document{}, storeErr(err)
	}
	a.events.Emit(notify.Event{
		CaseID:        caseID,
		Kind:          notify.EventDocumentAdded,
		RecipientRole: otherParty(actor),
	})
	return stored, nil
}

// DetachDocument soft-deletes a document. Detaching an already-removed
// document is a no-op and appends nothing to the feed.
func (a *App) DetachDocument(ctx context.Context, actor domain.Actor, caseID, docID string) error {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return err
	}
	if err := policy.Decide(actor, c, policy.Action{Kind: policy.ActionDetachDocument}); err != nil {
		return err
	}

	upd := newUpdate(actor, caseID, domain.KindDocumentRemoved, domain.VisibilityPublic, map[string]any{
		"documentId": docID,
	})
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	changed, err := a.store.DetachDocument(sctx, caseID, docID, upd)
	if err != nil {
		return storeErr(err)
	}
	if changed {
		a.events.Emit(notify.Event{
			CaseID:        caseID,
			Kind:          notify.EventDocumentRemoved,
			RecipientRole: otherParty(actor),
		})
	}
	return nil
}

// ListDocuments returns the documents the actor may see. Analysts see
// soft-deleted entries; customers see only live ones.
func (a *App) ListDocuments(ctx context.Context, actor domain.Actor, caseID string) ([]domain.Document, error) {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := policy.Decide(actor, c, policy.Action{Kind: policy.ActionListDocuments}); err != nil {
		return nil, err
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	docs, err := a.store.ListDocuments(sctx, caseID)
	if err != nil {
		return nil, storeErr(err)
	}
	visible := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if policy.CanSeeDocument(actor, d) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

// DocumentURL returns a pre-signed download URL and the original filename.
// Soft-deleted documents are not downloadable.
func (a *App) DocumentURL(ctx context.Context, actor domain.Actor, caseID, docID string) (string, string, error) {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return "", "", err
	}
	if err := policy.Decide(actor, c, policy.Action{Kind: policy.ActionListDocuments}); err != nil {
		return "", "", err
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	doc, ok, err := a.store.GetDocument(sctx, caseID, docID)
	if err != nil {
		return "", "", storeErr(err)
	}
	if !ok || doc.Deleted() {
		return "", "", fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
	}
	url, err := a.blobs.PresignGet(ctx, doc.BlobHandle, a.presignExpiry)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return url, doc.Filename, nil
}

func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
