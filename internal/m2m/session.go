package m2m

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/handiism/m2m-downloader/internal/http"
	"github.com/rs/zerolog"
)

// DefaultServiceURL is the production JSON endpoint root.
const DefaultServiceURL = "https://m2m.cr.usgs.gov/api/api/json/stable/"

// Credentials supplied by the caller. Empty fields are resolved from the
// credential store or by prompting.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// CredentialStore persists a username and application token between runs.
// Passwords are never handed to a store.
type CredentialStore interface {
	// Load returns the stored values. A store with nothing saved returns
	// empty strings and a nil error.
	Load() (username, token string, err error)
	Save(username, token string) error
}

// Prompter asks the user for missing credentials.
type Prompter interface {
	Prompt(question string) (string, error)
	PromptSecret(question string) (string, error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// HTTP performs requests. Default: http.NewClient(http.DefaultOptions())
	HTTP *http.Client

	// Store, when set, supplies and receives tokens.
	Store CredentialStore

	// Prompter, when set, is asked for anything neither the caller nor
	// the store provided. Without one such credentials fail authentication.
	Prompter Prompter

	Logger zerolog.Logger
}

// Session holds the service address and the auth token of one login.
//
// A Session is created unauthenticated. Authenticate obtains a token,
// every request made through Send carries it in the X-Auth-Token header,
// and Logout discards it. A Session is safe for concurrent use.
type Session struct {
	baseURL  string
	http     *http.Client
	store    CredentialStore
	prompter Prompter
	logger   zerolog.Logger

	mu       sync.RWMutex
	username string
	token    string
}

// NewSession creates an unauthenticated session for the service at baseURL.
func NewSession(baseURL string, opts SessionOptions) *Session {
	if baseURL == "" {
		baseURL = DefaultServiceURL
	}
	if opts.HTTP == nil {
		opts.HTTP = http.NewClient(http.DefaultOptions())
	}
	return &Session{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     opts.HTTP,
		store:    opts.Store,
		prompter: opts.Prompter,
		logger:   opts.Logger,
	}
}

// Authenticate logs in and keeps the resulting token.
//
// Credentials are resolved in this order:
//  1. an explicit password
//  2. an explicit token, which is saved to the store
//  3. the token in the store
//  4. the prompter, which asks for a password or a token; an entered
//     token is saved to the store
//
// The username comes from creds, then the store, then the prompter.
// A rejected login is returned as an *AuthError.
func (s *Session) Authenticate(ctx context.Context, creds Credentials) error {
	storedUser, storedToken := s.loadStored()

	username := creds.Username
	if username == "" {
		username = storedUser
	}
	if username == "" {
		u, err := s.prompt("Enter your username (or email): ", false)
		if err != nil {
			return err
		}
		username = u
	}

	switch {
	case creds.Password != "":
		return s.login(ctx, username, creds.Password)

	case creds.Token != "":
		s.persist(username, creds.Token)
		return s.loginToken(ctx, username, creds.Token)

	case storedToken != "":
		return s.loginToken(ctx, username, storedToken)
	}

	option, err := s.prompt("Use password (p) or token (t)? ", false)
	if err != nil {
		return err
	}
	if strings.EqualFold(option, "p") {
		password, err := s.prompt("Password: ", true)
		if err != nil {
			return err
		}
		return s.login(ctx, username, password)
	}

	token, err := s.prompt("Enter your token: ", false)
	if err != nil {
		return err
	}
	s.persist(username, token)
	return s.loginToken(ctx, username, token)
}

func (s *Session) login(ctx context.Context, username, password string) error {
	if password == "" {
		return &AuthError{Err: errors.New("password not provided")}
	}
	return s.obtainToken(ctx, "login", map[string]string{
		"username": username,
		"password": password,
	}, username)
}

func (s *Session) loginToken(ctx context.Context, username, token string) error {
	if token == "" {
		return &AuthError{Err: errors.New("token not provided")}
	}
	return s.obtainToken(ctx, "login-token", map[string]string{
		"username": username,
		"token":    token,
	}, username)
}

func (s *Session) obtainToken(ctx context.Context, endpoint string, payload map[string]string, username string) error {
	var apiKey string
	if err := s.Send(ctx, endpoint, payload, &apiKey); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !IsAuth(err) {
			return &AuthError{Err: apiErr}
		}
		return err
	}
	if apiKey == "" {
		return &AuthError{Err: fmt.Errorf("%s returned no token", endpoint)}
	}

	s.mu.Lock()
	s.username = username
	s.token = apiKey
	s.mu.Unlock()

	s.logger.Info().Str("username", username).Str("method", endpoint).Msg("authenticated")
	return nil
}

func (s *Session) loadStored() (username, token string) {
	if s.store == nil {
		return "", ""
	}
	username, token, err := s.store.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not read stored credentials")
		return "", ""
	}
	return username, token
}

func (s *Session) persist(username, token string) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(username, token); err != nil {
		s.logger.Warn().Err(err).Msg("could not save credentials")
	}
}

func (s *Session) prompt(question string, secret bool) (string, error) {
	if s.prompter == nil {
		return "", &AuthError{Err: fmt.Errorf("credentials required but no prompt available (%s)", strings.TrimSpace(question))}
	}
	var (
		answer string
		err    error
	)
	if secret {
		answer, err = s.prompter.PromptSecret(question)
	} else {
		answer, err = s.prompter.Prompt(question)
	}
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("prompt: %w", err)}
	}
	return strings.TrimSpace(answer), nil
}

// Send posts payload to endpoint and decodes the data member of the
// response into out. A nil payload is sent as an empty object; a nil out
// discards the data.
//
// Errors are one of *AuthError, *TransportError or *APIError.
func (s *Session) Send(ctx context.Context, endpoint string, payload, out any) error {
	token := s.Token()
	if token == "" && !isLoginEndpoint(endpoint) {
		return &AuthError{Err: ErrNotAuthenticated}
	}

	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("m2m: encode %s request: %w", endpoint, err)
	}

	headers := map[string]string{}
	if token != "" {
		headers["X-Auth-Token"] = token
	}

	url := s.baseURL + "/" + endpoint
	s.logger.Debug().Str("url", url).Msg("sending request")

	resp, err := s.http.PostJSON(ctx, url, headers, body)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}

	data, err := decodeEnvelope(endpoint, resp.StatusCode, resp.Body)
	if err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &APIError{
				Endpoint: endpoint,
				Status:   resp.StatusCode,
				Message:  "decode data: " + err.Error(),
			}
		}
	}
	return nil
}

// Logout invalidates the token on the service and forgets it locally.
// The local token is discarded even when the call fails.
func (s *Session) Logout(ctx context.Context) error {
	if !s.Authenticated() {
		return nil
	}

	var data json.RawMessage
	err := s.Send(ctx, "logout", nil, &data)

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if len(data) > 0 && string(data) != "null" {
		return &APIError{Endpoint: "logout", Status: statusOK, Message: "not able to logout"}
	}
	s.logger.Info().Msg("logged out")
	return nil
}

// Authenticated reports whether the session holds a token.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Token returns the current auth token, or "" if not authenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Username returns the name the session authenticated as.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func isLoginEndpoint(endpoint string) bool {
	return endpoint == "login" || endpoint == "login-token"
}
