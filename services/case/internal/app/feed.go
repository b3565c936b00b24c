package app

import (
	"context"
	"fmt"
	"strings"

	"casedesk/pkg/domain"
	"casedesk/pkg/notify"
	"casedesk/pkg/policy"
)

const maxNoteBytes = 64 * 1024

// AddNote appends a note to the case feed. Customers may only write public
// notes; analysts choose the visibility.
func (a *App) AddNote(ctx context.Context, actor domain.Actor, caseID, body string, visibility domain.Visibility) (domain.Update, error) {
	if !domain.ValidVisibility(visibility) {
		return domain.Update{}, fmt.Errorf("%w: unknown visibility %q", domain.ErrSchemaViolation, visibility)
	}
	if strings.TrimSpace(body) == "" {
		return domain.Update{}, fmt.Errorf("%w: note body required", domain.ErrSchemaViolation)
	}
	if len(body) > maxNoteBytes {
		return domain.Update{}, fmt.Errorf("%w: note exceeds %d bytes", domain.ErrPayloadTooLarge, maxNoteBytes)
	}
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return domain.Update{}, err
	}
	if err := policy.Decide(actor, c, policy.Action{
		Kind:           policy.ActionAddNote,
		NoteVisibility: visibility,
	}); err != nil {
		return domain.Update{}, err
	}
	if c.Status == domain.StatusArchived {
		return domain.Update{}, fmt.Errorf("%w: case is archived", domain.ErrInvalidTransition)
	}

	upd := newUpdate(actor, caseID, domain.KindNote, visibility, map[string]any{
		"body": body,
	})
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	appended, err := a.store.AppendUpdate(sctx, upd)
	if err != nil {
		return domain.Update{}, storeErr(err)
	}
	recipient := otherParty(actor)
	if visibility == domain.VisibilityAnalystOnly {
		recipient = domain.RoleAnalyst
	}
	a.events.Emit(notify.Event{
		CaseID:        caseID,
		Kind:          notify.EventNoteAdded,
		RecipientRole: recipient,
	})
	return appended, nil
}

// ListFeed returns the case updates the actor may see, in sequence order.
// Filtering removes entries but never reorders the rest.
func (a *App) ListFeed(ctx context.Context, actor domain.Actor, caseID string) ([]domain.Update, error) {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := policy.Decide(actor, c, policy.Action{Kind: policy.ActionListFeed}); err != nil {
		return nil, err
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	updates, err := a.store.ListUpdates(sctx, caseID)
	if err != nil {
		return nil, storeErr(err)
	}
	visible := make([]domain.Update, 0, len(updates))
	for _, u := range updates {
		if policy.CanSeeUpdate(actor, u) {
			visible = append(visible, u)
		}
	}
	return visible, nil
}
