package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/backend"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/repositories/models"
)

var (
	//ErrSignedOut is returned by operations that need a signed-in user
	ErrSignedOut = errors.New("not signed in")
	//ErrIncompleteRegistration is returned when the sign up form lacks a required field
	ErrIncompleteRegistration = errors.New("email, username and password are required")
	//ErrSignedIn is returned when an account operation needs a signed-out session
	ErrSignedIn = errors.New("already signed in")
)

//Authenticator exchanges credentials for a token
type Authenticator interface {
	Login(ctx context.Context, identity, password string) (string, error)
}

//Registrar handles the account operations that happen before sign in
type Registrar interface {
	Register(ctx context.Context, reg backend.Registration) error
	ForgotPassword(ctx context.Context, email string) error
}

//Session holds the signed-in user's token. It is created once at startup, restored from the
//store, and cleared on sign out. The backend verifies the token; we only read its claims.
type Session struct {
	mu      sync.RWMutex
	owner   string
	store   database.Datastore
	log     logging.Logger
	token   string
	role    string
	subject string
	expires *time.Time
	now     func() time.Time
}

//NewSession creates an empty session persisted under owner. store may be nil to keep it in memory only.
func NewSession(owner string, store database.Datastore, log logging.Logger) *Session {
	return &Session{owner: owner, store: store, log: log, now: time.Now}
}

//Restore loads a previously stored token. Expired tokens are discarded.
func (s *Session) Restore() error {
	if s.store == nil {
		return nil
	}

	stored, err := s.store.GetSession(s.owner)
	if errors.Is(err, database.ErrNoSession) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if stored.Expired(s.now()) {
		s.log.Infof("stored session for %s has expired, discarding it", s.owner)
		return s.store.DeleteSession(s.owner)
	}

	s.mu.Lock()
	s.token, s.role, s.subject, s.expires = stored.Token, stored.Role, stored.Subject, stored.ExpiresAt
	s.mu.Unlock()

	return nil
}

//Token implements backend.TokenSource
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expires != nil && s.now().After(*s.expires) {
		return ""
	}
	return s.token
}

//Role is the platform role claimed by the token, e.g. "admin"
func (s *Session) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

//Subject is the user id claimed by the token
func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

//SignedIn reports whether a usable token is present
func (s *Session) SignedIn() bool {
	return s.Token() != ""
}

//Login authenticates against the backend and signs in with the returned token
func (s *Session) Login(ctx context.Context, a Authenticator, identity, password string) error {
	token, err := a.Login(ctx, identity, password)
	if err != nil {
		return err
	}
	return s.SignIn(token)
}

//Register creates an account. It does not sign in: the new user logs in once the account exists.
func (s *Session) Register(ctx context.Context, r Registrar, reg backend.Registration) error {
	if s.SignedIn() {
		return ErrSignedIn
	}
	if reg.Email == "" || reg.Username == "" || reg.Password == "" {
		return ErrIncompleteRegistration
	}

	if err := r.Register(ctx, reg); err != nil {
		return err
	}

	s.log.Infof("registered account %s", reg.Username)
	return nil
}

//ForgotPassword asks for a password reset link to be mailed to email
func (s *Session) ForgotPassword(ctx context.Context, r Registrar, email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	return r.ForgotPassword(ctx, email)
}

//SignIn reads the claims of token, keeps it and persists it
func (s *Session) SignIn(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("token is not a readable jwt: %w", err)
	}

	role, _ := claims["role"].(string)
	subject, _ := claims.GetSubject()
	if subject == "" {
		subject, _ = claims["id"].(string)
	}

	var expires *time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		expires = &t
	}

	s.mu.Lock()
	s.token, s.role, s.subject, s.expires = token, role, subject, expires
	s.mu.Unlock()

	if s.store != nil {
		_, err := s.store.SaveSession(s.owner, models.Session{Token: token, Role: role, Subject: subject, ExpiresAt: expires})
		if err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
	}

	s.log.Infof("signed in as %s (%s)", subject, role)
	return nil
}

//SignOut forgets the token in memory and in the store
func (s *Session) SignOut() error {
	s.mu.Lock()
	s.token, s.role, s.subject, s.expires = "", "", "", nil
	s.mu.Unlock()

	if s.store != nil {
		return s.store.DeleteSession(s.owner)
	}
	return nil
}
