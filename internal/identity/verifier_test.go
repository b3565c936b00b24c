package identity

import (
	"errors"
	"testing"
	"time"

	"casedesk/pkg/domain"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyActorRoundTrip(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.IssueToken(domain.Actor{UserID: "cu-1", Role: domain.RoleCustomer}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := v.VerifyActor(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if actor.UserID != "cu-1" || actor.Role != domain.RoleCustomer {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestVerifyActorRejectsBadTokens(t *testing.T) {
	v := newTestVerifier(t)

	if _, err := v.VerifyActor("not-a-token"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("garbage token: err = %v, want unauthorized", err)
	}

	other, _ := NewVerifier(Config{Secret: "other-secret"})
	token, err := other.IssueToken(domain.Actor{UserID: "cu-1", Role: domain.RoleCustomer}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.VerifyActor(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("wrong secret: err = %v, want unauthorized", err)
	}

	expired, err := v.IssueToken(domain.Actor{UserID: "cu-1", Role: domain.RoleCustomer}, -time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.VerifyActor(expired); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expired token: err = %v, want unauthorized", err)
	}
}

func TestVerifyActorRejectsUnknownRole(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.IssueToken(domain.Actor{UserID: "u-1", Role: domain.Role("admin")}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.VerifyActor(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("unknown role: err = %v, want unauthorized", err)
	}
}
