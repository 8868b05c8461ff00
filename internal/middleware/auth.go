package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
)

const SessionCookieName = "notez_session"

// PrincipalResolver identifies the caller of a request. It returns
// model.ErrUnauthenticated when the request carries no valid credential; any
// other error is an internal failure.
type PrincipalResolver interface {
	Resolve(r *http.Request) (auth.Principal, error)
}

// TokenResolver reads an "Authorization: Bearer" JWT.
type TokenResolver struct {
	Tokens *auth.TokenIssuer
	Users  *store.UserStore
}

func (tr TokenResolver) Resolve(r *http.Request) (auth.Principal, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return auth.Principal{}, model.ErrUnauthenticated
	}
	userID, err := tr.Tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		return auth.Principal{}, model.ErrUnauthenticated
	}

	// Tokens outlive account deletion, so the user is checked on every request.
	user, err := tr.Users.GetByID(r.Context(), userID)
	if err != nil {
		return auth.Principal{}, err
	}
	if user == nil {
		return auth.Principal{}, model.ErrUnauthenticated
	}
	return auth.Principal{UserID: userID}, nil
}

// SessionResolver reads the session cookie.
type SessionResolver struct {
	Sessions *store.SessionStore
}

func (sr SessionResolver) Resolve(r *http.Request) (auth.Principal, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return auth.Principal{}, model.ErrUnauthenticated
	}
	sess, err := sr.Sessions.GetByToken(r.Context(), cookie.Value)
	if err != nil {
		return auth.Principal{}, err
	}
	if sess == nil {
		return auth.Principal{}, model.ErrUnauthenticated
	}
	return auth.Principal{UserID: sess.UserID, SessionID: sess.ID}, nil
}

// RequireAuth rejects requests without a valid principal with a JSON 401
// and otherwise stores the principal in the request context.
func RequireAuth(resolver PrincipalResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return requireAuth(resolver, logger, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := resolver.(TokenResolver); ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="notez"`)
		}
		writeJSONError(w, http.StatusUnauthorized, "Unauthenticated")
	})
}

// RequirePage is RequireAuth for server-rendered pages: unauthenticated
// visitors are redirected to the landing page.
func RequirePage(resolver PrincipalResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return requireAuth(resolver, logger, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index", http.StatusSeeOther)
	})
}

func requireAuth(resolver PrincipalResolver, logger *slog.Logger, deny http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolver.Resolve(r)
			if errors.Is(err, model.ErrUnauthenticated) {
				deny(w, r)
				return
			}
			if err != nil {
				logger.Error("resolve principal", "error", err, "request_id", RequestIDFromContext(r.Context()))
				writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, title string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": title})
}
