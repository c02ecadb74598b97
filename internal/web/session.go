package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/JonMunkholm/bridgette/internal/logging"
	"github.com/google/uuid"
)

// SessionCookie names the cookie holding the caller's upload session id.
const SessionCookie = "bridgette_session"

type sessionKey struct{}

// sessionMiddleware gives every request a session id, issuing a cookie on
// first contact. Ids that are not UUIDs are replaced.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(SessionCookie); err == nil {
			if _, perr := uuid.Parse(c.Value); perr == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = core.NewSessionID()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   r.TLS != nil,
			})
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, id)
		ctx = logging.ContextWithSession(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionID returns the session id set by sessionMiddleware.
func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionKey{}).(string)
	return id
}
