package app

import (
	"context"
	"fmt"

	"casedesk/pkg/domain"
	"casedesk/pkg/notify"
	"casedesk/pkg/policy"
)

// Transition moves the case along the lifecycle graph. The store applies
// the change only if the case is still in the status the caller saw, so
// concurrent transitions cannot skip states.
func (a *App) Transition(ctx context.Context, actor domain.Actor, caseID string, to domain.CaseStatus) (domain.Case, error) {
	if !domain.ValidStatus(to) {
		return domain.Case{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := policy.Decide(actor, c, policy.Action{
		Kind:           policy.ActionTransition,
		TransitionFrom: c.Status,
		TransitionTo:   to,
	}); err != nil {
		return domain.Case{}, err
	}
	if !domain.CanTransition(c.Status, to) {
		return domain.Case{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, to)
	}

	upd := newUpdate(actor, caseID, domain.KindStatusChange, domain.VisibilityPublic, map[string]any{
		"from": string(c.Status),
		"to":   string(to),
	})
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	updated, _, err := a.store.ApplyTransition(sctx, caseID, c.Status, to, upd)
	if err != nil {
		return domain.Case{}, storeErr(err)
	}
	a.events.Emit(notify.Event{
		CaseID:        caseID,
		Kind:          notify.EventStatusChanged,
		RecipientRole: otherParty(actor),
	})
	return updated, nil
}

// SetPriority changes the triage priority. Analyst-only; the resulting
// update is analyst-visible since customers never see priority.
func (a *App) SetPriority(ctx context.Context, actor domain.Actor, caseID string, p domain.Priority) (domain.Case, error) {
	if !domain.ValidPriority(p) {
		return domain.Case{}, fmt.Errorf("%w: unknown priority %q", domain.ErrSchemaViolation, p)
	}
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := policy.Decide(actor, c, policy.Action{Kind: policy.ActionSetPriority}); err != nil {
		return domain.Case{}, err
	}
	if c.Status == domain.StatusArchived {
		return domain.Case{}, fmt.Errorf("%w: case is archived", domain.ErrInvalidTransition)
	}
	if c.Priority == p {
		return c, nil
	}

	upd := newUpdate(actor, caseID, domain.KindPriorityChange, domain.VisibilityAnalystOnly, map[string]any{
		"from": string(c.Priority),
		"to":   string(p),
	})
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	updated, _, err := a.store.SetPriority(sctx, caseID, p, upd)
	if err != nil {
		return domain.Case{}, storeErr(err)
	}
	a.events.Emit(notify.Event{
		CaseID:        caseID,
		Kind:          notify.EventPriorityChanged,
		RecipientRole: domain.RoleAnalyst,
	})
	return updated, nil
}
