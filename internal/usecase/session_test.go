package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"cinchat/internal/domain"
	"cinchat/internal/integrations/chatapi"
)

type mockAuth struct {
	identity  domain.Identity
	loginErr  error
	regErr    error
	resetErr  error
	deleteErr error

	loginCalls    int
	registerCalls int
	resetCalls    int
	deleteCalls   int
	deleteToken   string
	emails        []string
}

func (m *mockAuth) Login(_ context.Context, email, _ string) (domain.Identity, error) {
	m.loginCalls++
	m.emails = append(m.emails, email)
	return m.identity, m.loginErr
}

func (m *mockAuth) Register(_ context.Context, email, _ string) error {
	m.registerCalls++
	m.emails = append(m.emails, email)
	return m.regErr
}

func (m *mockAuth) ResetPassword(_ context.Context, email, _ string) error {
	m.resetCalls++
	m.emails = append(m.emails, email)
	return m.resetErr
}

func (m *mockAuth) DeleteAccount(_ context.Context, token string) error {
	m.deleteCalls++
	m.deleteToken = token
	return m.deleteErr
}

type memStorage struct {
	token    string
	user     string
	loadErr  error
	saveErr  error
	clearErr error
	cleared  int
}

func (m *memStorage) LoadSession(_ context.Context) (string, string, error) {
	return m.token, m.user, m.loadErr
}

func (m *memStorage) SaveSession(_ context.Context, token, user string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.token, m.user = token, user
	return nil
}

func (m *memStorage) ClearSession(_ context.Context) error {
	m.cleared++
	if m.clearErr != nil {
		return m.clearErr
	}
	m.token, m.user = "", ""
	return nil
}

type recorder struct {
	got []domain.Notification
}

func (r *recorder) Notify(n domain.Notification) { r.got = append(r.got, n) }

func (r *recorder) last(t *testing.T) domain.Notification {
	t.Helper()
	require.NotEmpty(t, r.got)
	return r.got[len(r.got)-1]
}

func rejection(status int, message string) error {
	return &chatapi.HTTPStatusError{StatusCode: status, URL: "http://svc/auth", Message: message}
}

func validIdentity() domain.Identity {
	return domain.Identity{UserID: "u1", Email: "a@cin.ufpe.br", Token: "t1"}
}

func newTestSession(t *testing.T, auth AuthAPI, st SessionStorage) (*SessionManager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m, err := NewSessionManager(auth, st, rec)
	require.NoError(t, err)
	return m, rec
}

func expectCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	if reason != "" {
		require.Equal(t, reason, usecaseErr.Reason)
	}
}

func TestNewSessionManager_ValidatesDependencies(t *testing.T) {
	_, err := NewSessionManager(nil, &memStorage{}, nil)
	require.Error(t, err)

	_, err = NewSessionManager(&mockAuth{}, nil, nil)
	require.Error(t, err)

	m, err := NewSessionManager(&mockAuth{}, &memStorage{}, nil, WithEmailDomain(" @EXAMPLE.edu "))
	require.NoError(t, err)
	require.Equal(t, "@example.edu", m.emailDomain)
}

func TestLogin_HappyPath(t *testing.T) {
	st := &memStorage{}
	auth := &mockAuth{identity: validIdentity()}
	m, rec := newTestSession(t, auth, st)

	require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

	id, ok := m.Identity()
	require.True(t, ok)
	require.Equal(t, validIdentity(), id)
	require.Equal(t, "t1", m.Token())
	require.True(t, m.IsAuthenticated())
	require.Equal(t, "t1", st.token)
	require.JSONEq(t, `{"id":"u1","email":"a@cin.ufpe.br"}`, st.user)
	require.Equal(t, domain.SeverityInfo, rec.last(t).Severity)
}

func TestLogin_RejectionSurfacesServerMessage(t *testing.T) {
	st := &memStorage{}
	m, rec := newTestSession(t, &mockAuth{loginErr: rejection(http.StatusUnauthorized, "Senha incorreta")}, st)

	err := m.Login(context.Background(), "a@cin.ufpe.br", "bad")
	expectCode(t, err, ErrorRejected, "login_failed")
	require.False(t, m.IsAuthenticated())
	require.Empty(t, st.token)
	require.Equal(t, domain.Notification{Title: "Login failed", Description: "Senha incorreta", Severity: domain.SeverityError}, rec.last(t))
}

func TestLogin_RejectionWithoutMessageUsesFallback(t *testing.T) {
	m, rec := newTestSession(t, &mockAuth{loginErr: rejection(http.StatusBadRequest, "")}, &memStorage{})

	err := m.Login(context.Background(), "a@cin.ufpe.br", "bad")
	expectCode(t, err, ErrorRejected, "")
	require.Equal(t, "Invalid credentials.", rec.last(t).Description)
}

func TestLogin_TransportFailure(t *testing.T) {
	m, rec := newTestSession(t, &mockAuth{loginErr: errors.New("dial tcp: connection refused")}, &memStorage{})

	err := m.Login(context.Background(), "a@cin.ufpe.br", "x")
	expectCode(t, err, ErrorTransport, "login_failed")
	require.Equal(t, titleConnectionError, rec.last(t).Title)
	require.Equal(t, descConnectionError, rec.last(t).Description)
}

func TestLogin_MalformedResponseIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	api, err := chatapi.NewClient(srv.URL)
	require.NoError(t, err)
	st := &memStorage{}
	m, rec := newTestSession(t, api, st)

	err = m.Login(context.Background(), "a@cin.ufpe.br", "x")
	expectCode(t, err, ErrorRejected, "login_failed")
	require.False(t, m.IsAuthenticated())
	require.Empty(t, st.token)
	require.Equal(t, domain.Notification{Title: "Login failed", Description: "Invalid credentials.", Severity: domain.SeverityError}, rec.last(t))
}

func TestLogin_FailureKeepsExistingIdentity(t *testing.T) {
	st := &memStorage{}
	auth := &mockAuth{identity: validIdentity()}
	m, _ := newTestSession(t, auth, st)
	require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

	auth.loginErr = rejection(http.StatusUnauthorized, "")
	require.Error(t, m.Login(context.Background(), "b@cin.ufpe.br", "y"))

	id, ok := m.Identity()
	require.True(t, ok)
	require.Equal(t, "u1", id.UserID)
	require.Equal(t, "t1", st.token)
}

func TestLogin_StorageFailureLeavesIdentityUnset(t *testing.T) {
	m, rec := newTestSession(t, &mockAuth{identity: validIdentity()}, &memStorage{saveErr: errors.New("disk full")})

	err := m.Login(context.Background(), "a@cin.ufpe.br", "x")
	expectCode(t, err, ErrorStorage, "session_persist_error")
	require.False(t, m.IsAuthenticated())
	require.Equal(t, domain.SeverityError, rec.last(t).Severity)
}

func TestLogin_MissingCredentialsSkipsNetwork(t *testing.T) {
	auth := &mockAuth{identity: validIdentity()}
	m, _ := newTestSession(t, auth, &memStorage{})

	expectCode(t, m.Login(context.Background(), " ", "x"), ErrorValidation, "missing_credentials")
	expectCode(t, m.Login(context.Background(), "a@cin.ufpe.br", ""), ErrorValidation, "missing_credentials")
	require.Zero(t, auth.loginCalls)
}

func TestRegister_DomainGate(t *testing.T) {
	for _, email := range []string{"a@gmail.com", "a@cin.ufpe.br.evil.com", ""} {
		auth := &mockAuth{}
		m, rec := newTestSession(t, auth, &memStorage{})

		err := m.Register(context.Background(), email, "x", "x")
		expectCode(t, err, ErrorValidation, "email_domain")
		require.Zero(t, auth.registerCalls, "email=%q", email)
		require.Equal(t, "Invalid email", rec.last(t).Title)
		require.Equal(t, domain.SeverityError, rec.last(t).Severity)
	}
}

func TestRegister_PasswordConfirmationGate(t *testing.T) {
	for _, email := range []string{"a@cin.ufpe.br", "a@gmail.com"} {
		auth := &mockAuth{}
		m, _ := newTestSession(t, auth, &memStorage{})

		err := m.Register(context.Background(), email, "x", "y")
		expectCode(t, err, ErrorValidation, "")
		require.Zero(t, auth.registerCalls)
	}
}

func TestRegister_HappyPathDoesNotAuthenticate(t *testing.T) {
	auth := &mockAuth{}
	st := &memStorage{}
	m, rec := newTestSession(t, auth, st)

	require.NoError(t, m.Register(context.Background(), "A@CIN.UFPE.BR", "x", "x"))
	require.Equal(t, 1, auth.registerCalls)
	require.False(t, m.IsAuthenticated())
	require.Empty(t, st.token)
	require.Equal(t, "Account created", rec.last(t).Title)
}

func TestSession_SendsTrimmedEmail(t *testing.T) {
	auth := &mockAuth{identity: validIdentity()}
	m, _ := newTestSession(t, auth, &memStorage{})

	require.NoError(t, m.Register(context.Background(), "  a@cin.ufpe.br\t", "x", "x"))
	require.NoError(t, m.Login(context.Background(), " a@cin.ufpe.br ", "x"))
	require.NoError(t, m.ResetPassword(context.Background(), "a@cin.ufpe.br\n", "y"))
	require.Equal(t, []string{"a@cin.ufpe.br", "a@cin.ufpe.br", "a@cin.ufpe.br"}, auth.emails)
}

func TestRegister_RejectedByService(t *testing.T) {
	m, rec := newTestSession(t, &mockAuth{regErr: rejection(http.StatusConflict, "Email already registered")}, &memStorage{})

	err := m.Register(context.Background(), "a@cin.ufpe.br", "x", "x")
	expectCode(t, err, ErrorRejected, "register_failed")
	require.Equal(t, "Email already registered", rec.last(t).Description)
}

func TestResetPassword_DoesNotNeedOrChangeIdentity(t *testing.T) {
	auth := &mockAuth{}
	m, rec := newTestSession(t, auth, &memStorage{})

	require.NoError(t, m.ResetPassword(context.Background(), "a@cin.ufpe.br", "new"))
	require.Equal(t, 1, auth.resetCalls)
	require.False(t, m.IsAuthenticated())
	require.Equal(t, domain.SeverityInfo, rec.last(t).Severity)

	auth.resetErr = errors.New("timeout")
	expectCode(t, m.ResetPassword(context.Background(), "a@cin.ufpe.br", "new"), ErrorTransport, "reset_password_failed")
}

func TestLogout_ClearsMemoryAndStorage(t *testing.T) {
	st := &memStorage{}
	m, rec := newTestSession(t, &mockAuth{identity: validIdentity()}, st)
	require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

	m.Logout(context.Background())
	require.False(t, m.IsAuthenticated())
	require.Empty(t, st.token)
	require.Empty(t, st.user)
	require.Equal(t, "Logged out", rec.last(t).Title)

	notified := len(rec.got)
	m.Logout(context.Background())
	require.Len(t, rec.got, notified, "second logout must be a silent no-op")
	require.False(t, m.IsAuthenticated())
}

func TestLogout_StorageErrorIsNotFatal(t *testing.T) {
	st := &memStorage{}
	m, _ := newTestSession(t, &mockAuth{identity: validIdentity()}, st)
	require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

	st.clearErr = errors.New("locked")
	m.Logout(context.Background())
	require.False(t, m.IsAuthenticated())
}

func TestDeleteAccount_RequiresIdentity(t *testing.T) {
	auth := &mockAuth{}
	m, _ := newTestSession(t, auth, &memStorage{})

	err := m.DeleteAccount(context.Background())
	require.ErrorIs(t, err, ErrNoIdentity)
	require.Zero(t, auth.deleteCalls)
}

func TestDeleteAccount_KeepsIdentityForCaller(t *testing.T) {
	auth := &mockAuth{identity: validIdentity()}
	m, _ := newTestSession(t, auth, &memStorage{})
	require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

	require.NoError(t, m.DeleteAccount(context.Background()))
	require.Equal(t, "t1", auth.deleteToken)
	require.True(t, m.IsAuthenticated())

	m.Logout(context.Background())
	require.False(t, m.IsAuthenticated())
}

func TestDeleteAccount_Failure(t *testing.T) {
	auth := &mockAuth{identity: validIdentity(), deleteErr: rejection(http.StatusInternalServerError, "")}
	m, rec := newTestSession(t, auth, &memStorage{})
	require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

	expectCode(t, m.DeleteAccount(context.Background()), ErrorRejected, "delete_account_failed")
	require.Equal(t, "Could not delete your account.", rec.last(t).Description)
	require.True(t, m.IsAuthenticated())
}

func TestRestore_RoundTrip(t *testing.T) {
	identities := []domain.Identity{
		validIdentity(),
		{UserID: "42", Email: "weird\"quote@cin.ufpe.br", Token: "eyJhbGciOi.x.y"},
		{UserID: "u-ç", Email: "", Token: "t"},
	}
	for _, want := range identities {
		st := &memStorage{}
		m, _ := newTestSession(t, &mockAuth{identity: want}, st)
		require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

		restored, _ := newTestSession(t, &mockAuth{}, st)
		require.True(t, restored.Restore(context.Background()))
		got, ok := restored.Identity()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestRestore_NoNetworkCall(t *testing.T) {
	auth := &mockAuth{}
	m, _ := newTestSession(t, auth, &memStorage{token: "t1", user: `{"id":"u1","email":"a@cin.ufpe.br"}`})
	require.True(t, m.Restore(context.Background()))
	require.Zero(t, auth.loginCalls)
}

func TestRestore_InvalidEntriesAreCleared(t *testing.T) {
	cases := []struct {
		name  string
		token string
		user  string
	}{
		{"missing user", "t1", ""},
		{"missing token", "", `{"id":"u1"}`},
		{"malformed user", "t1", `{"id":`},
		{"user without id", "t1", `{"email":"a@cin.ufpe.br"}`},
	}
	for _, tc := range cases {
		st := &memStorage{token: tc.token, user: tc.user}
		m, _ := newTestSession(t, &mockAuth{}, st)
		require.False(t, m.Restore(context.Background()), tc.name)
		require.False(t, m.IsAuthenticated(), tc.name)
		require.Equal(t, 1, st.cleared, tc.name)
		require.Empty(t, st.token, tc.name)
		require.Empty(t, st.user, tc.name)
	}
}

func TestRestore_EmptyStorage(t *testing.T) {
	st := &memStorage{}
	m, _ := newTestSession(t, &mockAuth{}, st)
	require.False(t, m.Restore(context.Background()))
	require.Zero(t, st.cleared)
}

func TestRestore_ReadError(t *testing.T) {
	st := &memStorage{loadErr: errors.New("io error")}
	m, _ := newTestSession(t, &mockAuth{}, st)
	require.False(t, m.Restore(context.Background()))
	require.Zero(t, st.cleared)
}

func TestHandleAuthorizationExpired(t *testing.T) {
	st := &memStorage{}
	m, _ := newTestSession(t, &mockAuth{identity: validIdentity()}, st)
	require.NoError(t, m.Login(context.Background(), "a@cin.ufpe.br", "x"))

	m.HandleAuthorizationExpired(context.Background(), "older-token")
	require.True(t, m.IsAuthenticated(), "a rejection of a stale token must not end the current session")

	m.HandleAuthorizationExpired(context.Background(), "t1")
	require.False(t, m.IsAuthenticated())
	require.Empty(t, st.token)
}
