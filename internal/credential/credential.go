// Package credential supplies authenticated HTTP clients for data nodes that
// refuse anonymous downloads.
package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"sync"
)

// ErrNoSession is returned by Client when no credentials have been
// established.
var ErrNoSession = errors.New("credential: no active session")

// Provider hands out clients that carry the user's credentials.
type Provider interface {
	// HasActiveSession reports whether credentials are available.
	HasActiveSession() bool

	// Client returns an HTTP client that authenticates requests to url.
	Client(ctx context.Context, url string) (*http.Client, error)
}

// None is a Provider without credentials.
type None struct{}

func (None) HasActiveSession() bool { return false }

func (None) Client(context.Context, string) (*http.Client, error) {
	return nil, ErrNoSession
}

// Session is a Provider whose credentials can be set and cleared at run
// time. Authenticated clients share one cookie jar so that data nodes which
// exchange credentials for a session cookie only see the credentials once.
type Session struct {
	base http.RoundTripper

	mu       sync.RWMutex
	username string
	password string
	token    string
	jar      http.CookieJar
}

// NewSession returns a Session without credentials. base is the transport
// authenticated requests are sent through; nil means http.DefaultTransport.
func NewSession(base http.RoundTripper) *Session {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Session{base: base}
}

// LoginBasic sets HTTP basic credentials.
func (s *Session) LoginBasic(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password, s.token = username, password, ""
	s.jar = newJar()
}

// LoginToken sets a bearer token.
func (s *Session) LoginToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password, s.token = "", "", token
	s.jar = newJar()
}

// Logout clears the credentials and session cookies.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password, s.token = "", "", ""
	s.jar = nil
}

func (s *Session) HasActiveSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" || s.username != ""
}

// Client returns a client that adds the current credentials to every
// request. Redirects are not followed: a data node redirecting an
// authenticated request to a login page has rejected the credentials, and
// the caller needs to see the redirect status to tell.
func (s *Session) Client(_ context.Context, _ string) (*http.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" && s.username == "" {
		return nil, ErrNoSession
	}
	return &http.Client{
		Transport: &authTransport{
			base:     s.base,
			username: s.username,
			password: s.password,
			token:    s.token,
		},
		Jar: s.jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

type authTransport struct {
	base     http.RoundTripper
	username string
	password string
	token    string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	} else {
		req.SetBasicAuth(t.username, t.password)
	}
	return t.base.RoundTrip(req)
}

func newJar() http.CookieJar {
	// cookiejar.New only fails with a non-nil PublicSuffixList option.
	jar, _ := cookiejar.New(nil)
	return jar
}
