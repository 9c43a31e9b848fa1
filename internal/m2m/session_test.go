package m2m

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/handiism/m2m-downloader/internal/m2m/m2mtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	username, token string
	saves           int
	loadErr         error
}

func (m *memStore) Load() (string, string, error) {
	return m.username, m.token, m.loadErr
}

func (m *memStore) Save(username, token string) error {
	m.username, m.token = username, token
	m.saves++
	return nil
}

type scriptPrompter struct {
	answers   []string
	questions []string
	secrets   int
}

func (p *scriptPrompter) next(q string) (string, error) {
	p.questions = append(p.questions, q)
	if len(p.answers) == 0 {
		return "", errors.New("no more answers")
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptPrompter) Prompt(q string) (string, error) { return p.next(q) }

func (p *scriptPrompter) PromptSecret(q string) (string, error) {
	p.secrets++
	return p.next(q)
}

func newTestSession(srv *m2mtest.Server, store CredentialStore, prompter Prompter) *Session {
	return NewSession(srv.ServiceURL(), SessionOptions{Store: store, Prompter: prompter})
}

func TestAuthenticate_Password(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	store := &memStore{}
	s := newTestSession(srv, store, nil)

	err := s.Authenticate(context.Background(), Credentials{Username: "user", Password: "secret"})
	require.NoError(t, err)
	assert.True(t, s.Authenticated())
	assert.Equal(t, "api-key-1", s.Token())
	assert.Equal(t, "user", s.Username())
	assert.Equal(t, 1, srv.CallCount("login"))
	assert.Zero(t, store.saves, "passwords must never be persisted")
}

func TestAuthenticate_PasswordTakesPriorityOverToken(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	store := &memStore{}
	s := newTestSession(srv, store, nil)

	err := s.Authenticate(context.Background(), Credentials{Username: "user", Password: "secret", Token: "app-token"})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.CallCount("login"))
	assert.Zero(t, srv.CallCount("login-token"))
	assert.Zero(t, store.saves)
}

func TestAuthenticate_ExplicitTokenIsPersisted(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	store := &memStore{}
	s := newTestSession(srv, store, nil)

	err := s.Authenticate(context.Background(), Credentials{Username: "user", Token: "app-token"})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.CallCount("login-token"))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, "user", store.username)
	assert.Equal(t, "app-token", store.token)
}

func TestAuthenticate_StoredToken(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	store := &memStore{username: "user", token: "app-token"}
	s := newTestSession(srv, store, nil)

	require.NoError(t, s.Authenticate(context.Background(), Credentials{}))
	assert.True(t, s.Authenticated())

	calls := srv.Calls("login-token")
	require.Len(t, calls, 1)
	assert.Equal(t, "user", calls[0].Body["username"])
	assert.Equal(t, "app-token", calls[0].Body["token"])
	assert.Zero(t, store.saves)
}

func TestAuthenticate_PromptToken(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	store := &memStore{}
	prompter := &scriptPrompter{answers: []string{"user", "t", "app-token"}}
	s := newTestSession(srv, store, prompter)

	require.NoError(t, s.Authenticate(context.Background(), Credentials{}))
	assert.True(t, s.Authenticated())
	assert.Len(t, prompter.questions, 3)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, "app-token", store.token)
	assert.Equal(t, "user", store.username)
}

func TestAuthenticate_PromptPassword(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	store := &memStore{username: "user"}
	prompter := &scriptPrompter{answers: []string{"P", "secret"}}
	s := newTestSession(srv, store, prompter)

	require.NoError(t, s.Authenticate(context.Background(), Credentials{}))
	assert.Equal(t, 1, srv.CallCount("login"))
	assert.Equal(t, 1, prompter.secrets)
	assert.Zero(t, store.saves, "passwords must never be persisted")
}

func TestAuthenticate_StoreReadFailureFallsBackToPrompt(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	store := &memStore{loadErr: errors.New("corrupt")}
	prompter := &scriptPrompter{answers: []string{"user", "t", "app-token"}}
	s := newTestSession(srv, store, prompter)

	require.NoError(t, s.Authenticate(context.Background(), Credentials{}))
	assert.True(t, s.Authenticated())
}

func TestAuthenticate_Rejected(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	s := newTestSession(srv, nil, nil)
	err := s.Authenticate(context.Background(), Credentials{Username: "user", Password: "wrong"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "AUTH_INVALID", apiErr.Code)
	assert.False(t, s.Authenticated())
}

func TestAuthenticate_NoPrompter(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	s := newTestSession(srv, nil, nil)
	err := s.Authenticate(context.Background(), Credentials{})

	assert.True(t, IsAuth(err), "expected AuthError, got %v", err)
	assert.Empty(t, srv.Calls(), "no request should be sent without credentials")
}

func TestSend_NotAuthenticated(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	s := newTestSession(srv, nil, nil)
	err := s.Send(context.Background(), "permissions", nil, nil)

	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.True(t, IsAuth(err))
	assert.Empty(t, srv.Calls())
}

func TestSend_SetsAuthHeader(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	s := newTestSession(srv, nil, nil)
	require.NoError(t, s.Authenticate(context.Background(), Credentials{Username: "user", Password: "secret"}))

	var perms []string
	require.NoError(t, s.Send(context.Background(), "permissions", nil, &perms))
	assert.Equal(t, []string{"user", "download"}, perms)

	calls := srv.Calls("permissions")
	require.Len(t, calls, 1)
	assert.Equal(t, "api-key-1", calls[0].Token)
}

func TestSend_ErrorCode(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()
	srv.Fail("permissions", m2mtest.Failure{Code: "INPUT_INVALID", Message: "bad input"})

	s := newTestSession(srv, nil, nil)
	require.NoError(t, s.Authenticate(context.Background(), Credentials{Username: "user", Password: "secret"}))

	err := s.Send(context.Background(), "permissions", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 200, apiErr.Status)
	assert.Equal(t, "INPUT_INVALID", apiErr.Code)
	assert.Equal(t, "bad input", apiErr.Message)
	assert.False(t, IsAuth(err))
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewSession(url, SessionOptions{})
	err := s.Authenticate(context.Background(), Credentials{Username: "user", Password: "secret"})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "login", transportErr.Endpoint)
}

func TestLogout(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	s := newTestSession(srv, nil, nil)
	require.NoError(t, s.Authenticate(context.Background(), Credentials{Username: "user", Password: "secret"}))
	require.NoError(t, s.Logout(context.Background()))

	assert.False(t, s.Authenticated())
	assert.False(t, srv.LoggedIn())

	err := s.Send(context.Background(), "permissions", nil, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 0, srv.CallCount("permissions"))

	// Logging out twice is a no-op.
	assert.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, 1, srv.CallCount("logout"))
}

func TestLogout_UnexpectedData(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()
	srv.Respond("logout", "still here")

	s := newTestSession(srv, nil, nil)
	require.NoError(t, s.Authenticate(context.Background(), Credentials{Username: "user", Password: "secret"}))

	err := s.Logout(context.Background())
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.False(t, s.Authenticated(), "token is discarded even when logout fails")
}

func TestTerminalPrompter(t *testing.T) {
	in := strings.NewReader("alice\r\nhunter2\n")
	var out strings.Builder
	p := &TerminalPrompter{In: in, Out: &out}

	name, err := p.Prompt("Name: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	secret, err := p.PromptSecret("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)

	assert.Equal(t, "Name: Password: ", out.String())

	_, err = p.Prompt("More: ")
	assert.Error(t, err)
}

