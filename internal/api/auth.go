// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/log"
)

type ctxKey int

const userKey ctxKey = iota

// userFrom returns the authenticated user, or nil outside the auth
// middleware.
func userFrom(ctx context.Context) *db.User {
	u, _ := ctx.Value(userKey).(*db.User)
	return u
}

// authenticate resolves the caller's identity. Bearer tokens map to the
// users table; Basic credentials matching the configured admin account are
// the bootstrap path before any API key exists.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := s.resolveUser(r)
		if user == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stemsync"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if err := s.db.TouchUser(r.Context(), user.ID); err != nil {
			s.logger.Debug().Err(err).Int64(log.FieldUserID, user.ID).Msg("touch user failed")
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) resolveUser(r *http.Request) *db.User {
	if token, ok := bearerToken(r); ok {
		user, err := s.db.UserByAPIKey(r.Context(), token)
		if err == nil {
			return user
		}
		if !errors.Is(err, db.ErrUserNotFound) {
			s.logger.Warn().Err(err).Msg("api key lookup failed")
		}
		return nil
	}
	return s.resolveBasicAdmin(r)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// resolveBasicAdmin accepts the configured admin credentials. Comparison is
// constant time; an empty configured password disables the path entirely.
func (s *Server) resolveBasicAdmin(r *http.Request) *db.User {
	if s.cfg.Admin.Username == "" || s.cfg.Admin.Password == "" {
		return nil
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Admin.Password)) == 1
	if !userOK || !passOK {
		return nil
	}

	user, err := s.db.UserByUsername(r.Context(), s.cfg.Admin.Username)
	if err != nil {
		// Row is created at startup; losing it mid-flight still must not
		// lock the operator out.
		s.logger.Warn().Err(err).Msg("admin row lookup failed")
		return &db.User{Username: s.cfg.Admin.Username, IsAdmin: true}
	}
	return user
}

// requireAdmin gates the admin subtree.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if user == nil || !user.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
