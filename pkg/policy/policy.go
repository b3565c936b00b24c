// Package policy is the single authorization gate for the case engine.
// Every component calls Decide before performing its operation; no other
// component implements its own role checks.
package policy

import (
	"casedesk/pkg/domain"
)

type ActionKind string

const (
	ActionCreateCase     ActionKind = "create_case"
	ActionReadCase       ActionKind = "read_case"
	ActionTransition     ActionKind = "transition"
	ActionSetPriority    ActionKind = "set_priority"
	ActionAddNote        ActionKind = "add_note"
	ActionAttachDocument ActionKind = "attach_document"
	ActionDetachDocument ActionKind = "detach_document"
	ActionListFeed       ActionKind = "list_feed"
	ActionListDocuments  ActionKind = "list_documents"
)

// Action carries the kind plus the kind-specific detail the rules need.
type Action struct {
	Kind           ActionKind
	TransitionFrom domain.CaseStatus // transition only
	TransitionTo   domain.CaseStatus // transition only
	NoteVisibility domain.Visibility // add_note only
}

func (k ActionKind) read() bool {
	switch k {
	case ActionReadCase, ActionListFeed, ActionListDocuments:
		return true
	}
	return false
}

// Decide evaluates the access rules in order, first match wins. A nil return
// allows the action; a non-nil return is the denial reason from the domain
// error taxonomy.
func Decide(actor domain.Actor, c domain.Case, action Action) error {
	// Analysts may do everything except originate a case.
	if actor.Role == domain.RoleAnalyst {
		if action.Kind == ActionCreateCase {
			return domain.ErrUnauthorized
		}
		return nil
	}

	if actor.Role == domain.RoleCustomer {
		if actor.UserID != c.CustomerID {
			return domain.ErrNotOwner
		}
		switch action.Kind {
		case ActionCreateCase:
			return nil
		case ActionReadCase, ActionListFeed, ActionListDocuments:
			return nil
		case ActionAddNote:
			if action.NoteVisibility == domain.VisibilityPublic {
				return nil
			}
			return domain.ErrInsufficientRole
		case ActionTransition:
			if domain.CustomerReply(action.TransitionFrom, action.TransitionTo) {
				return nil
			}
			// Analyst-only edge requested by the customer.
			return domain.ErrInvalidTransition
		case ActionAttachDocument:
			return nil
		}
		return domain.ErrUnauthorized
	}

	return domain.ErrUnauthorized
}

// CanSeeUpdate reports whether the actor may observe the update in a feed.
// Filtering with it never reorders: the customer view is a subsequence of
// the full feed.
func CanSeeUpdate(actor domain.Actor, u domain.Update) bool {
	if actor.Role == domain.RoleAnalyst {
		return true
	}
	return u.Visibility == domain.VisibilityPublic
}

// CanSeeDocument reports whether a listing for the actor includes the
// document. Analysts see soft-deleted entries (audit trail); customers do
// not.
func CanSeeDocument(actor domain.Actor, d domain.Document) bool {
	if actor.Role == domain.RoleAnalyst {
		return true
	}
	return !d.Deleted()
}
