package auth

import (
	"context"
	"testing"
)

func newTestService(t *testing.T) (*Service, *MemStore, *Issuer) {
	t.Helper()
	iss, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := NewMemStore()
	return NewService(store, iss), store, iss
}

func TestSignupAndSignIn(t *testing.T) {
	svc, _, iss := newTestService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, "alice", "p@ss")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.ID == "" {
		t.Fatalf("expected assigned user id")
	}
	if !user.IsActive {
		t.Fatalf("new users must be active")
	}
	if user.PasswordHash == "p@ss" {
		t.Fatalf("password stored in plaintext")
	}

	token, _, err := svc.SignIn(ctx, "alice", "p@ss")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	claims, err := iss.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.AuthLevel != LevelPassword || claims.PasskeyVerified {
		t.Fatalf("sign-in must yield a password-level token, got %+v", claims)
	}
	if claims.Subject != user.ID {
		t.Fatalf("subject mismatch: %s != %s", claims.Subject, user.ID)
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice", "p@ss"); err != nil {
		t.Fatalf("first Signup: %v", err)
	}
	if _, err := svc.Signup(ctx, "alice", "other"); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice", "p@ss"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "alice", "wrong"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSignInUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, _, err := svc.SignIn(context.Background(), "nobody", "p@ss"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSignInInactiveUser(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	hash, err := HashPassword("p@ss")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := store.Users(ctx).Create(ctx, &User{
		Username:     "bob",
		PasswordHash: hash,
		IsActive:     false,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, _, err := svc.SignIn(ctx, "bob", "p@ss"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for inactive user, got %v", err)
	}
}

func TestEscalateIssuesFullToken(t *testing.T) {
	svc, _, iss := newTestService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, "alice", "p@ss")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	passwordToken, _, err := svc.SignIn(ctx, "alice", "p@ss")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	claims, err := iss.Validate(passwordToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	fullToken, _, err := svc.Escalate(*claims)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if fullToken == passwordToken {
		t.Fatalf("escalation must issue a brand-new token")
	}
	fullClaims, err := iss.Validate(fullToken)
	if err != nil {
		t.Fatalf("Validate full: %v", err)
	}
	if fullClaims.AuthLevel != LevelFull || !fullClaims.PasskeyVerified {
		t.Fatalf("expected full-level claims, got %+v", fullClaims)
	}
	if fullClaims.Subject != user.ID || fullClaims.Username != "alice" {
		t.Fatalf("identity must carry over: %+v", fullClaims)
	}
}
