/*
Package account implements the terminal client's identity provider on top of the
server's HTTP authentication API.

The Provider owns the access token and the identity snapshot derived from it. Login,
Refresh and Restore replace both wholesale; Logout resets them to the guest identity.
The refresh token never leaves the provider's cookie jar. The access token and the
session's client id are persisted in a YAML file so a restarted client resumes the
same session.
*/
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"supportchat/internal/app/session"
	"supportchat/internal/app/user"
	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/observe"
	"supportchat/internal/pkg/resp"
	"supportchat/internal/pkg/wire"
)

const (
	// requestTimeout bounds every call to the authentication API.
	requestTimeout = 15 * time.Second

	// maxResponseSize caps the decoded size of an API response.
	maxResponseSize = 1 << 20

	// logoutTimeout bounds the best-effort server logout.
	logoutTimeout = 5 * time.Second
)

// API paths served by the support-chat server.
const (
	LoginPath   = "/api/login"
	LogoutPath  = "/api/logout"
	MePath      = "/api/me"
	RefreshPath = "/api/refresh"
)

// APIError is a non-success response of the authentication API. A 401 unwraps to
// session.ErrUnauthorized.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("server answered %d (code %d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return session.ErrUnauthorized
	}
	return nil
}

// tokenResponse is the data of login and refresh responses.
type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// meResponse is the data of the /api/me response.
type meResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
	Role          string `json:"role"`
}

// Provider implements session.IdentityProvider over HTTP.
type Provider struct {
	base   *url.URL
	client *http.Client
	jar    *sessionJar
	store  *FileStore

	identity *observe.Cell[user.Identity]

	mu         sync.Mutex
	credential string

	logger zerolog.Logger
}

var _ session.IdentityProvider = (*Provider)(nil)

// NewProvider returns a guest provider for the server at serverURL. client may be nil;
// when given, it is copied and its cookie jar replaced by the provider's own.
func NewProvider(serverURL string, store *FileStore, client *http.Client) (*Provider, error) {
	base, err := url.Parse(serverURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", serverURL)
	}

	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}

	c := &http.Client{Timeout: requestTimeout}
	if client != nil {
		copied := *client
		c = &copied
	}
	c.Jar = jar

	return &Provider{
		base:     base,
		client:   c,
		jar:      jar,
		store:    store,
		identity: observe.NewCell(user.Guest),
		logger:   logx.Component("account"),
	}, nil
}

// Identity implements session.IdentityProvider.
func (p *Provider) Identity() observe.Value[user.Identity] {
	return p.identity
}

// Credential implements session.IdentityProvider.
func (p *Provider) Credential() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credential
}

func (p *Provider) setCredential(credential string) {
	p.mu.Lock()
	p.credential = credential
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	if err := p.store.SaveCredential(credential); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to persist credential.")
	}
}

// Login authenticates with a username and password.
func (p *Provider) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}

	var out tokenResponse
	if err := p.call(ctx, http.MethodPost, LoginPath, "", body, &out); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := p.adopt(out); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	p.logger.Info().Str("username", out.Username).Str("role", out.Role).Msg("Logged in.")
	return nil
}

// Refresh implements session.IdentityProvider. It exchanges the refresh cookie for a
// new access token.
func (p *Provider) Refresh(ctx context.Context) error {
	var out tokenResponse
	if err := p.call(ctx, http.MethodPost, RefreshPath, "", nil, &out); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if err := p.adopt(out); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	p.logger.Debug().Str("username", out.Username).Msg("Access token refreshed.")
	return nil
}

// Logout implements session.IdentityProvider. The server call is best effort; the
// local session always ends.
func (p *Provider) Logout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()

	if err := p.call(ctx, http.MethodGet, LogoutPath, "", nil, nil); err != nil {
		p.logger.Warn().Err(err).Msg("Server logout failed, clearing local session anyway.")
	}

	p.jar.reset()
	p.setCredential("")
	p.identity.Set(user.Guest)
}

// Restore resumes a persisted session at startup. The identity lookup runs through
// auth, so a rejected credential is refreshed once and, if that fails too, the session
// is logged out and auth publishes a notice. Transport failures leave the client a
// guest for this run and keep the stored credential for the next one.
func (p *Provider) Restore(ctx context.Context, auth *session.Coordinator) error {
	if p.store == nil {
		return nil
	}

	st, err := p.store.Load()
	if err != nil {
		return err
	}
	if st.Credential == "" {
		return nil
	}

	p.mu.Lock()
	p.credential = st.Credential
	p.mu.Unlock()

	var id user.Identity
	err = auth.Do(ctx, func(ctx context.Context) error {
		var merr error
		id, merr = p.me(ctx)
		return merr
	})
	if errors.Is(err, session.ErrSessionExpired) {
		p.logger.Info().Err(err).Msg("Stored session expired.")
		return nil
	}
	if err != nil {
		p.mu.Lock()
		p.credential = ""
		p.mu.Unlock()
		return fmt.Errorf("restore session: %w", err)
	}

	if id.IsGuest() {
		p.Logout(ctx)
		return nil
	}

	p.identity.Set(id)
	p.logger.Info().Str("username", id.Username).Msg("Session restored.")
	return nil
}

// me asks the server who the current credential belongs to.
func (p *Provider) me(ctx context.Context) (user.Identity, error) {
	var out meResponse
	if err := p.call(ctx, http.MethodGet, MePath, p.Credential(), nil, &out); err != nil {
		return user.Identity{}, err
	}
	if !out.Authenticated {
		return user.Guest, nil
	}

	role, ok := user.ParseRole(out.Role)
	if !ok {
		return user.Identity{}, fmt.Errorf("server reported unknown role %q", out.Role)
	}
	return user.Identity{Authenticated: true, Username: out.Username, Role: role}, nil
}

// adopt replaces the credential and identity with a token response.
func (p *Provider) adopt(out tokenResponse) error {
	role, ok := user.ParseRole(out.Role)
	if !ok || out.Token == "" || out.Username == "" {
		return fmt.Errorf("incomplete token response (role %q)", out.Role)
	}

	p.setCredential(out.Token)
	p.identity.Set(user.Identity{Authenticated: true, Username: out.Username, Role: role})
	return nil
}

// call performs one API request and decodes the data of the response envelope into out.
func (p *Provider) call(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.base.JoinPath(path).String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set(wire.AuthorizationHeader, wire.BearerValue(bearer))
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return nil
	}

	env, decodeErr := resp.DecodeEnvelope(res.Body, maxResponseSize)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Status: res.StatusCode, Code: env.Code, Message: env.Message}
	}
	if decodeErr != nil {
		return fmt.Errorf("%s %s: %w", method, path, decodeErr)
	}
	if err := env.DecodeData(out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}

// sessionJar is an in-memory cookie jar that can be emptied on logout.
type sessionJar struct {
	mu  sync.Mutex
	jar *cookiejar.Jar
}

func newSessionJar() (*sessionJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &sessionJar{jar: jar}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

func (j *sessionJar) reset() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}
