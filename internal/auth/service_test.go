package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/storage"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Options{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "gateway.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	issuer, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	svc, err := NewService(store, issuer, time.Hour, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.SetClock(func() time.Time { return now })
	issuer.SetClock(func() time.Time { return now })
	return svc, &now
}

func TestNewServiceRejectsBadCost(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	if _, err := NewService(nil, issuer, time.Hour, bcrypt.MaxCost+1); err == nil {
		t.Fatal("expected an error when the dummy hash cannot be computed")
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssuerRoundTrip(t *testing.T) {
	issuer, _ := NewIssuer("secret")
	now := time.Now()
	token, err := issuer.Issue("user-1", "session-1", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID() != "user-1" || claims.SessionID() != "session-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	other, _ := NewIssuer("other-secret")
	if _, err := other.Parse(token); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestIssuerRejectsExpired(t *testing.T) {
	issuer, _ := NewIssuer("secret")
	now := time.Now()
	token, err := issuer.Issue("user-1", "session-1", now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issuer.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := issuer.Parse(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, issued, err := svc.SignUp(ctx, "  Alice@Example.com ", "correct horse", "")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if user.Email != "alice@example.com" || user.Name != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
	claims, err := svc.Issuer().Parse(issued.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.SessionID() != issued.Session.ID || claims.UserID() != user.ID {
		t.Fatalf("token not bound to session: %+v", claims)
	}

	signedIn, _, err := svc.SignIn(ctx, "ALICE@example.com", "correct horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if signedIn.ID != user.ID {
		t.Fatalf("signed in as %s, want %s", signedIn.ID, user.ID)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SignUp(ctx, "not-an-email", "correct horse", "A"); !errors.Is(err, apperr.ErrInvalidEmail) {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if _, _, err := svc.SignUp(ctx, "a@x.com", "short", "A"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := svc.SignUp(ctx, "a@x.com", "correct horse", "A"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, _, err := svc.SignUp(ctx, "A@X.com", "correct horse", "A"); !errors.Is(err, apperr.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestSignInFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.SignUp(ctx, "a@x.com", "correct horse", "A"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	_, _, wrongPassword := svc.SignIn(ctx, "a@x.com", "wrong password")
	_, _, unknownEmail := svc.SignIn(ctx, "nobody@x.com", "correct horse")
	if !errors.Is(wrongPassword, apperr.ErrInvalidCredential) || !errors.Is(unknownEmail, apperr.ErrInvalidCredential) {
		t.Fatalf("expected invalid credential for both, got %v and %v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("messages differ: %q vs %q", wrongPassword, unknownEmail)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, issued, err := svc.SignUp(ctx, "a@x.com", "correct horse", "A")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.SignOut(ctx, issued.Session.ID); err != nil {
			t.Fatalf("sign out %d: %v", i, err)
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()
	user, _, err := svc.SignUp(ctx, "a@x.com", "correct horse", "A")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	*now = now.Add(time.Minute)
	updated, err := svc.UpdateProfile(ctx, user.ID, "  Alice  ", nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Alice" || updated.Email != "a@x.com" || !updated.UpdatedAt.After(user.UpdatedAt) {
		t.Fatalf("unexpected user %+v", updated)
	}
	if _, err := svc.UpdateProfile(ctx, user.ID, " ", nil); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
