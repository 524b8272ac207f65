package mockapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MountHandlers sets up middleware and routes.
func (s *Server) MountHandlers() {
	s.Router.Use(RequestLogger)
	s.Router.Use(PanicHandler)

	s.Router.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Post("/refresh", s.refresh)
		r.With(s.requireToken).Post("/logout", s.logout)
	})
	s.Router.Get("/version", s.getVersion)

	s.Router.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/plain", s.plain)
		r.HandleFunc("/status/{code}", s.status)
		r.HandleFunc("/*", s.echo)
	})
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRsp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *Server) tokenResponse(access, refresh string) *tokenRsp {
	return &tokenRsp{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokenTTL.Seconds()),
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrUnableToParseReqData().Send(w)
		return
	}
	s.mu.Lock()
	password, ok := s.users[req.Username]
	if !ok || password != req.Password {
		s.mu.Unlock()
		ErrInvalidCredentials().Send(w)
		return
	}
	access, refresh := s.issueLocked(req.Username)
	s.mu.Unlock()
	SendJsonRsp(r.Context(), w, http.StatusOK, s.tokenResponse(access, refresh))
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	delay, fail := s.refreshDelay, s.failRefresh
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		ErrApplicationError("refresh unavailable").Send(w)
		return
	}

	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrUnableToParseReqData().Send(w)
		return
	}
	s.mu.Lock()
	user, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		s.mu.Unlock()
		ErrInvalidRefreshToken().Send(w)
		return
	}
	delete(s.refreshTokens, req.RefreshToken)
	access, refresh := s.issueLocked(user)
	s.mu.Unlock()

	log.Ctx(r.Context()).Debug().Str("user", user).Msg("tokens rotated")
	SendJsonRsp(r.Context(), w, http.StatusOK, s.tokenResponse(access, refresh))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	s.mu.Lock()
	delete(s.accessTokens, token)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// GetVersionRsp represents the response for version information.
type GetVersionRsp struct {
	ServerVersion string `json:"server_version"`
	APIVersion    string `json:"api_version"`
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	SendJsonRsp(r.Context(), w, http.StatusOK, &GetVersionRsp{
		ServerVersion: "opsconsole mock api",
		APIVersion:    APIVersion,
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(bearerToken(r))
		if !ok {
			s.unauthorized.Add(1)
			ErrTokenExpired().Send(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// EchoRsp is returned by every protected path without a dedicated handler.
type EchoRsp struct {
	User        string              `json:"user"`
	Method      string              `json:"method"`
	Path        string              `json:"path"`
	RawQuery    string              `json:"raw_query"`
	Query       map[string][]string `json:"query"`
	ContentType string              `json:"content_type"`
	RequestID   string              `json:"request_id"`
	Body        string              `json:"body"`
}

func (s *Server) echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		ErrUnableToReadRequest().Send(w)
		return
	}
	SendJsonRsp(r.Context(), w, http.StatusOK, &EchoRsp{
		User:        userFromContext(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
		RawQuery:    r.URL.RawQuery,
		Query:       r.URL.Query(),
		ContentType: r.Header.Get("Content-Type"),
		RequestID:   r.Header.Get("X-Request-ID"),
		Body:        string(body),
	})
}

func (s *Server) plain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 200 || code > 599 {
		ErrUnableToParseReqData().Send(w)
		return
	}
	(&Error{StatusCode: code, Description: "status " + strconv.Itoa(code)}).Send(w)
}
