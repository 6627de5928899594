package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cinchat/internal/domain"
)

// DefaultEmailDomain is the institutional suffix required for registration.
const DefaultEmailDomain = "@cin.ufpe.br"

type AuthAPI interface {
	Login(ctx context.Context, email, password string) (domain.Identity, error)
	Register(ctx context.Context, email, password string) error
	ResetPassword(ctx context.Context, email, newPassword string) error
	DeleteAccount(ctx context.Context, token string) error
}

// SessionStorage is the durable client storage holding the two session
// entries: the bearer token and the serialized user record. Missing entries
// are returned as empty strings.
type SessionStorage interface {
	LoadSession(ctx context.Context) (token, user string, err error)
	SaveSession(ctx context.Context, token, user string) error
	ClearSession(ctx context.Context) error
}

// SessionManager owns the authenticated identity of this client.
type SessionManager struct {
	auth        AuthAPI
	storage     SessionStorage
	notifier    Notifier
	emailDomain string
	logger      *slog.Logger

	mu       sync.RWMutex
	identity *domain.Identity
}

type SessionOption func(*SessionManager)

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEmailDomain overrides the institutional suffix checked by Register.
func WithEmailDomain(suffix string) SessionOption {
	return func(m *SessionManager) {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix != "" {
			m.emailDomain = suffix
		}
	}
}

func NewSessionManager(auth AuthAPI, storage SessionStorage, notifier Notifier, opts ...SessionOption) (*SessionManager, error) {
	if auth == nil {
		return nil, errors.New("usecase: auth api must not be nil")
	}
	if storage == nil {
		return nil, errors.New("usecase: session storage must not be nil")
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	m := &SessionManager{
		auth:        auth,
		storage:     storage,
		notifier:    notifier,
		emailDomain: DefaultEmailDomain,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Identity returns the active identity, if any.
func (m *SessionManager) Identity() (domain.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return domain.Identity{}, false
	}
	return *m.identity, true
}

// Token returns the bearer credential, or "" when logged out.
func (m *SessionManager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return ""
	}
	return m.identity.Token
}

func (m *SessionManager) IsAuthenticated() bool {
	return m.Token() != ""
}

// Restore loads a previously persisted session without contacting the
// service. Incomplete or unparsable entries are cleared.
func (m *SessionManager) Restore(ctx context.Context) bool {
	token, rawUser, err := m.storage.LoadSession(ctx)
	if err != nil {
		m.logger.Error("failed to read stored session", "err", err)
		return false
	}
	if token == "" && rawUser == "" {
		return false
	}
	id, err := decodeIdentity(token, rawUser)
	if err != nil {
		m.logger.Warn("discarding stored session", "err", err)
		m.clearStorage(ctx)
		return false
	}
	m.setIdentity(&id)
	m.logger.Debug("session restored", "user_id", id.UserID)
	return true
}

func (m *SessionManager) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		m.notifier.Notify(failure("Login failed", "Email and password are required."))
		return newError(ErrorValidation, "missing_credentials", nil)
	}

	id, err := m.auth.Login(ctx, email, password)
	if err != nil {
		m.logger.Warn("login failed", "err", err)
		m.notifier.Notify(rejectionOrTransport(err, "Login failed", "Invalid credentials."))
		return classify(err, "login_failed")
	}

	if err := m.persist(ctx, id); err != nil {
		m.logger.Error("failed to persist session", "err", err)
		m.notifier.Notify(failure("Login failed", "Could not save the session."))
		return newError(ErrorStorage, "session_persist_error", err)
	}
	m.setIdentity(&id)
	m.notifier.Notify(info("Logged in", "Welcome to CIn Chat."))
	return nil
}

// Register creates an account. It never authenticates the caller.
func (m *SessionManager) Register(ctx context.Context, email, password, confirmPassword string) error {
	email = strings.TrimSpace(email)
	if !strings.HasSuffix(strings.ToLower(email), m.emailDomain) {
		m.notifier.Notify(failure("Invalid email", fmt.Sprintf("Use an %s email to register.", m.emailDomain)))
		return newError(ErrorValidation, "email_domain", nil)
	}
	if password != confirmPassword {
		m.notifier.Notify(failure("Passwords do not match", "The passwords entered are not the same."))
		return newError(ErrorValidation, "password_mismatch", nil)
	}
	if password == "" {
		m.notifier.Notify(failure("Registration failed", "A password is required."))
		return newError(ErrorValidation, "missing_password", nil)
	}

	if err := m.auth.Register(ctx, email, password); err != nil {
		m.logger.Warn("registration failed", "err", err)
		m.notifier.Notify(rejectionOrTransport(err, "Registration failed", "Could not create the account."))
		return classify(err, "register_failed")
	}
	m.notifier.Notify(info("Account created", "Log in to continue."))
	return nil
}

// ResetPassword works without an active identity and never changes it.
func (m *SessionManager) ResetPassword(ctx context.Context, email, newPassword string) error {
	email = strings.TrimSpace(email)
	if email == "" || newPassword == "" {
		m.notifier.Notify(failure("Password not changed", "Email and new password are required."))
		return newError(ErrorValidation, "missing_fields", nil)
	}
	if err := m.auth.ResetPassword(ctx, email, newPassword); err != nil {
		m.logger.Warn("password reset failed", "err", err)
		m.notifier.Notify(rejectionOrTransport(err, "Password not changed", "Could not change the password."))
		return classify(err, "reset_password_failed")
	}
	m.notifier.Notify(info("Password changed", "Your password was updated."))
	return nil
}

// Logout drops the identity from memory and storage. Calling it while
// logged out only makes sure storage is empty.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	wasAuthenticated := m.identity != nil
	m.identity = nil
	m.mu.Unlock()

	m.clearStorage(ctx)
	if wasAuthenticated {
		m.notifier.Notify(info("Logged out", "You were disconnected."))
	}
}

// DeleteAccount removes the account on the service. The identity is left in
// place; callers chain Logout on success.
func (m *SessionManager) DeleteAccount(ctx context.Context) error {
	token := m.Token()
	if token == "" {
		m.notifier.Notify(failure("Account not deleted", "You are not logged in."))
		return ErrNoIdentity
	}
	if err := m.auth.DeleteAccount(ctx, token); err != nil {
		m.logger.Warn("account deletion failed", "err", err)
		m.notifier.Notify(rejectionOrTransport(err, "Account not deleted", "Could not delete your account."))
		return classify(err, "delete_account_failed")
	}
	m.notifier.Notify(info("Account deleted", "Your account was removed."))
	return nil
}

// HandleAuthorizationExpired reacts to the service rejecting token. The
// session is dropped only if token is still the active credential, so a
// rejection racing a fresh login does not log the new session out.
func (m *SessionManager) HandleAuthorizationExpired(ctx context.Context, token string) {
	m.mu.Lock()
	if m.identity == nil || m.identity.Token != token {
		m.mu.Unlock()
		return
	}
	m.identity = nil
	m.mu.Unlock()

	m.logger.Info("stored credential rejected, session cleared")
	m.clearStorage(ctx)
}

func (m *SessionManager) setIdentity(id *domain.Identity) {
	m.mu.Lock()
	m.identity = id
	m.mu.Unlock()
}

func (m *SessionManager) persist(ctx context.Context, id domain.Identity) error {
	user, err := json.Marshal(id.User())
	if err != nil {
		return fmt.Errorf("usecase: encode user record: %w", err)
	}
	return m.storage.SaveSession(ctx, id.Token, string(user))
}

func (m *SessionManager) clearStorage(ctx context.Context) {
	if err := m.storage.ClearSession(ctx); err != nil {
		m.logger.Error("failed to clear stored session", "err", err)
	}
}

func decodeIdentity(token, rawUser string) (domain.Identity, error) {
	if token == "" || rawUser == "" {
		return domain.Identity{}, errors.New("usecase: stored session is incomplete")
	}
	var user domain.User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return domain.Identity{}, fmt.Errorf("usecase: decode stored user: %w", err)
	}
	if user.ID == "" {
		return domain.Identity{}, errors.New("usecase: stored user has no id")
	}
	return domain.Identity{UserID: user.ID, Email: user.Email, Token: token}, nil
}
