package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/backend"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/repositories/models"
)

func TestThatSignInReadsTheClaims(t *testing.T) {
	store := &storeMock{}
	s := NewSession("test", store, logging.NewDiscardLogger())

	token := newToken(t, jwt.MapClaims{"role": "admin", "sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	if err := s.SignIn(token); err != nil {
		t.Fatal(err)
	}

	if s.Token() != token || s.Role() != "admin" || s.Subject() != "u1" {
		t.Errorf("unexpected session state %q %q %q", s.Token(), s.Role(), s.Subject())
	}
	if store.saved == nil || store.saved.Token != token {
		t.Error("token was not persisted")
	}
}

func TestThatSignInRejectsGarbage(t *testing.T) {
	s := NewSession("test", nil, logging.NewDiscardLogger())
	if err := s.SignIn("not-a-token"); err == nil {
		t.Error("expected an error")
	}
	if s.SignedIn() {
		t.Error("session should stay signed out")
	}
}

func TestThatExpiredTokensAreNotHandedOut(t *testing.T) {
	s := NewSession("test", nil, logging.NewDiscardLogger())
	token := newToken(t, jwt.MapClaims{"role": "member", "exp": time.Now().Add(time.Hour).Unix()})
	s.SignIn(token)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if s.Token() != "" {
		t.Error("expired token should not be handed out")
	}
}

func TestThatRestoreDiscardsExpiredSessions(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	store := &storeMock{saved: &models.Session{Token: "old", ExpiresAt: &past}}
	s := NewSession("test", store, logging.NewDiscardLogger())

	if err := s.Restore(); err != nil {
		t.Fatal(err)
	}

	if s.SignedIn() || !store.deleted {
		t.Error("expired stored session should be deleted")
	}
}

func TestThatRestoreLoadsAStoredSession(t *testing.T) {
	store := &storeMock{saved: &models.Session{Token: "tok", Role: "admin"}}
	s := NewSession("test", store, logging.NewDiscardLogger())

	if err := s.Restore(); err != nil {
		t.Fatal(err)
	}
	if s.Token() != "tok" || s.Role() != "admin" {
		t.Error("stored session was not restored")
	}
}

func TestThatLoginFailureKeepsTheSessionSignedOut(t *testing.T) {
	s := NewSession("test", nil, logging.NewDiscardLogger())
	err := s.Login(context.Background(), authMock{err: errors.New("wrong password")}, "alice", "pw")

	if err == nil || s.SignedIn() {
		t.Error("login failure should surface and keep the session empty")
	}
}

func TestThatSignOutClearsEverything(t *testing.T) {
	store := &storeMock{}
	s := NewSession("test", store, logging.NewDiscardLogger())
	s.Login(context.Background(), authMock{token: newToken(t, jwt.MapClaims{"role": "admin"})}, "alice", "pw")

	if err := s.SignOut(); err != nil {
		t.Fatal(err)
	}
	if s.SignedIn() || s.Role() != "" || !store.deleted {
		t.Error("sign out should clear the session")
	}
}

func TestThatRegisterChecksTheForm(t *testing.T) {
	s := NewSession("test", nil, logging.NewDiscardLogger())
	r := &registrarMock{}

	err := s.Register(context.Background(), r, backend.Registration{Email: "a@example.org", Password: "pw"})
	if !errors.Is(err, ErrIncompleteRegistration) || r.registered != "" {
		t.Errorf("incomplete form should not reach the backend, got %v", err)
	}

	err = s.Register(context.Background(), r, backend.Registration{Email: "a@example.org", Username: "alice", Password: "pw"})
	if err != nil || r.registered != "alice" {
		t.Errorf("expected alice to be registered, got %q %v", r.registered, err)
	}
	if s.SignedIn() {
		t.Error("registering should not sign in")
	}
}

func TestThatRegisterRefusesASignedInSession(t *testing.T) {
	s := NewSession("test", nil, logging.NewDiscardLogger())
	s.SignIn(newToken(t, jwt.MapClaims{"role": "member"}))

	err := s.Register(context.Background(), &registrarMock{}, backend.Registration{Email: "a", Username: "b", Password: "c"})
	if !errors.Is(err, ErrSignedIn) {
		t.Errorf("expected ErrSignedIn, got %v", err)
	}
}

func TestThatForgotPasswordNeedsAnEmail(t *testing.T) {
	s := NewSession("test", nil, logging.NewDiscardLogger())
	r := &registrarMock{}

	if err := s.ForgotPassword(context.Background(), r, ""); err == nil {
		t.Error("expected an error without email")
	}
	if err := s.ForgotPassword(context.Background(), r, "a@example.org"); err != nil || r.reset != "a@example.org" {
		t.Errorf("reset not requested: %q %v", r.reset, err)
	}
}

func newToken(t *testing.T, claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

type authMock struct {
	token string
	err   error
}

func (a authMock) Login(ctx context.Context, identity, password string) (string, error) {
	return a.token, a.err
}

type registrarMock struct {
	registered string
	reset      string
}

func (r *registrarMock) Register(ctx context.Context, reg backend.Registration) error {
	r.registered = reg.Username
	return nil
}

func (r *registrarMock) ForgotPassword(ctx context.Context, email string) error {
	r.reset = email
	return nil
}

type storeMock struct {
	saved   *models.Session
	deleted bool
}

func (s *storeMock) SaveSession(owner string, session models.Session) (*models.Session, error) {
	s.saved = &session
	return s.saved, nil
}

func (s *storeMock) GetSession(owner string) (*models.Session, error) {
	if s.saved == nil {
		return nil, database.ErrNoSession
	}
	return s.saved, nil
}

func (s *storeMock) DeleteSession(owner string) error {
	s.deleted = true
	s.saved = nil
	return nil
}
