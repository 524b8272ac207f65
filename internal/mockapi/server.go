// Package mockapi is an in-process fake of the admin API. It implements the
// login, refresh and logout endpoints with rotating single-use refresh tokens and
// guards every other path with bearer-token authentication, echoing the request
// back. Tests drive it to exercise the client end to end.
package mockapi

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/supplyops/opsconsole/internal/common/uuid"
)

const (
	// APIVersion is reported by GET /version.
	APIVersion = "1.4.0"
	// DefaultTokenTTL is the lifetime written into minted access tokens.
	DefaultTokenTTL = 15 * time.Minute
)

// Server is the fake backend. Its zero value is not usable; call New.
type Server struct {
	Router *chi.Mux

	signingKey []byte
	tokenTTL   time.Duration

	mu            sync.Mutex
	users         map[string]string // username -> password
	accessTokens  map[string]string // access token -> username
	refreshTokens map[string]string // refresh token -> username, deleted on use
	refreshDelay  time.Duration
	failRefresh   bool
	rejectAll     bool

	refreshCalls atomic.Int64
	unauthorized atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithUser registers a user that can log in.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithTokenTTL sets the expiry written into access tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = ttl
	}
}

// New creates a server with its routes mounted.
func New(opts ...Option) *Server {
	s := &Server{
		signingKey:    []byte(uuid.New().String()),
		tokenTTL:      DefaultTokenTTL,
		users:         make(map[string]string),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Router = chi.NewRouter()
	s.MountHandlers()
	return s
}

// IssueTokens mints a valid token pair for username without a login call.
func (s *Server) IssueTokens(username string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(username)
}

func (s *Server) issueLocked(username string) (string, string) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		panic(err)
	}
	refresh := uuid.New().String()
	s.accessTokens[access] = username
	s.refreshTokens[refresh] = username
	return access, refresh
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]string)
}

// SetRefreshDelay delays every refresh response by d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetFailRefresh makes the refresh endpoint answer 500.
func (s *Server) SetFailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRejectAll makes every protected route answer 401 regardless of the token.
func (s *Server) SetRejectAll(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = reject
}

// RefreshCalls returns the number of requests received by the refresh endpoint.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// Unauthorized returns the number of 401 answers given by protected routes.
func (s *Server) Unauthorized() int64 {
	return s.unauthorized.Load()
}

func (s *Server) authenticate(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectAll {
		return "", false
	}
	user, ok := s.accessTokens[token]
	if !ok {
		return "", false
	}
	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		delete(s.accessTokens, token)
		return "", false
	}
	return user, true
}
