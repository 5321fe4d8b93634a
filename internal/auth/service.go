// Package auth owns email/password accounts and session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/storage"
	"flightplan-gateway/internal/validate"
)

// IssuedSession is a freshly created session and the token presenting it.
type IssuedSession struct {
	Session models.Session `json:"session"`
	Token   string         `json:"token"`
}

type Service struct {
	store      *storage.Storage
	issuer     *Issuer
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time

	// dummyHash keeps sign-in for unknown emails as slow as a wrong password.
	dummyHash string
}

func NewService(store *storage.Storage, issuer *Issuer, sessionTTL time.Duration, bcryptCost int) (*Service, error) {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	dummy, err := HashPassword("flightplan-dummy-password", bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}
	return &Service{
		store:      store,
		issuer:     issuer,
		sessionTTL: sessionTTL,
		bcryptCost: bcryptCost,
		now:        time.Now,
		dummyHash:  dummy,
	}, nil
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Issuer() *Issuer {
	return s.issuer
}

func (s *Service) SignUp(ctx context.Context, email, password, name string) (*models.User, *IssuedSession, error) {
	if !validate.Email(email) {
		return nil, nil, apperr.ErrInvalidEmail
	}
	email = validate.NormalizeEmail(email)
	if len(password) < MinPasswordLength {
		return nil, nil, apperr.Invalid("password must be at least 8 characters")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	if len(name) > validate.NameMaxLength {
		return nil, nil, apperr.Invalid("name is too long")
	}

	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, nil, apperr.Unavailable("hash password", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user, hash); err != nil {
		if errors.Is(err, apperr.ErrEmailTaken) {
			return nil, nil, err
		}
		return nil, nil, apperr.Unavailable("create user", err)
	}

	issued, err := s.startSession(ctx, user.ID, now)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("INFO auth: user signed up user_id=%s", user.ID)
	return user, issued, nil
}

// SignIn fails with ErrInvalidCredential for an unknown email and for a
// wrong password alike.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, *IssuedSession, error) {
	user, hash, err := s.store.GetUserCredentials(ctx, validate.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			CheckPassword(s.dummyHash, password)
			return nil, nil, apperr.ErrInvalidCredential
		}
		return nil, nil, apperr.Unavailable("load user", err)
	}
	if !CheckPassword(hash, password) {
		return nil, nil, apperr.ErrInvalidCredential
	}

	issued, err := s.startSession(ctx, user.ID, s.now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return user, issued, nil
}

// SignOut deletes the session. Signing out twice succeeds.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return apperr.Unavailable("delete session", err)
	}
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID, name string, avatarURL *string) (*models.User, error) {
	name, ok := validate.Name(name)
	if !ok {
		return nil, apperr.Invalid("name must be 1-255 characters")
	}
	if avatarURL != nil {
		trimmed := strings.TrimSpace(*avatarURL)
		avatarURL = &trimmed
	}

	user, err := s.store.UpdateUserProfile(ctx, userID, name, avatarURL, s.now().UTC())
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			return nil, err
		}
		return nil, apperr.Unavailable("update profile", err)
	}
	return user, nil
}

func (s *Service) startSession(ctx context.Context, userID string, now time.Time) (*IssuedSession, error) {
	sess := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		return nil, apperr.Unavailable("create session", err)
	}
	token, err := s.issuer.Issue(userID, sess.ID, now, sess.ExpiresAt)
	if err != nil {
		return nil, apperr.Unavailable("sign session token", err)
	}
	return &IssuedSession{Session: sess, Token: token}, nil
}
