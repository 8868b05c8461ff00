package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/notez/internal/account"
	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/avatar"
	"github.com/dukerupert/notez/internal/config"
	"github.com/dukerupert/notez/internal/metrics"
	"github.com/dukerupert/notez/internal/middleware"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
)

const welcomeTimeout = 15 * time.Second

// WelcomeSender delivers the post-registration greeting.
type WelcomeSender interface {
	SendWelcome(ctx context.Context, user *model.User) error
}

// Welcomer sends welcome emails in the background; a mail failure never
// fails the registration. A nil Welcomer sends nothing.
type Welcomer struct {
	mailer WelcomeSender
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewWelcomer(mailer WelcomeSender, logger *slog.Logger) *Welcomer {
	return &Welcomer{mailer: mailer, logger: logger}
}

func (wl *Welcomer) Send(ctx context.Context, user *model.User) {
	if wl == nil || wl.mailer == nil {
		return
	}
	wl.wg.Add(1)
	go func() {
		defer wl.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), welcomeTimeout)
		defer cancel()
		if err := wl.mailer.SendWelcome(ctx, user); err != nil {
			wl.logger.Warn("welcome email failed", "user_id", user.ID, "error", err)
		}
	}()
}

// Wait blocks until pending welcome emails have been handed off.
func (wl *Welcomer) Wait() {
	if wl != nil {
		wl.wg.Wait()
	}
}

// AuthSettings selects the login mode and session lifetimes.
type AuthSettings struct {
	Mode        config.AuthMode
	SessionTTL  time.Duration
	RememberTTL time.Duration
	AvatarURL   string
}

type AuthHandler struct {
	accounts *account.Service
	users    *store.UserStore
	sessions *store.SessionStore
	tokens   *auth.TokenIssuer
	welcome  *Welcomer
	settings AuthSettings
	logger   *slog.Logger
}

// NewAuthHandler wires the account endpoints. tokens is only used in token
// mode and welcome may be nil.
func NewAuthHandler(
	accounts *account.Service,
	us *store.UserStore,
	ss *store.SessionStore,
	tokens *auth.TokenIssuer,
	welcome *Welcomer,
	settings AuthSettings,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		users:    us,
		sessions: ss,
		tokens:   tokens,
		welcome:  welcome,
		settings: settings,
		logger:   logger,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in account.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		badRequest(w, "Request body must be valid JSON")
		return
	}

	user, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues(registrationOutcome(err)).Inc()
		writeDomainError(w, r, h.logger, err)
		return
	}
	metrics.RegistrationsTotal.WithLabelValues("created").Inc()

	h.welcome.Send(r.Context(), user)

	writeJSON(w, http.StatusCreated, map[string]string{"message": "User created successfully"})
}

func registrationOutcome(err error) string {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, model.ErrDuplicateIdentity):
		return "conflict"
	}
	return "error"
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing username or password"})
		return
	}

	user, err := h.accounts.Verify(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if errors.Is(err, model.ErrUnauthenticated) {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		h.logger.Info("login failed", "username", req.Username, "ip", middleware.RealIP(r))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid username or password"})
		return
	}
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		writeDomainError(w, r, h.logger, err)
		return
	}

	if h.settings.Mode == config.AuthModeSession {
		if err := startSession(w, r, h.sessions, h.settings, user.ID, req.RememberMe); err != nil {
			metrics.LoginsTotal.WithLabelValues("error").Inc()
			writeDomainError(w, r, h.logger, err)
			return
		}
		metrics.LoginsTotal.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged in"})
		return
	}

	token, expires, err := h.tokens.Issue(user.ID)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		writeDomainError(w, r, h.logger, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expires})
}

// startSession creates a session row and hands its token to the browser.
func startSession(w http.ResponseWriter, r *http.Request, sessions *store.SessionStore, settings AuthSettings, userID int64, remember bool) error {
	ttl := settings.SessionTTL
	if remember {
		ttl = settings.RememberTTL
	}
	sess, err := sessions.Create(r.Context(), userID, ttl, remember)
	if err != nil {
		return err
	}
	setSessionCookie(w, r, sess)
	return nil
}

// setSessionCookie writes the session cookie. Without remember-me the cookie
// has no Max-Age and ends with the browser session.
func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *model.Session) {
	c := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	if sess.Remember {
		c.MaxAge = int(time.Until(sess.ExpiresAt).Seconds())
	}
	http.SetCookie(w, c)
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type profileResponse struct {
	ID        int64        `json:"id"`
	Username  string       `json:"username"`
	Email     string       `json:"email"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Gender    model.Gender `json:"gender,omitempty"`
	Avatar    string       `json:"avatar"`
	CreatedAt time.Time    `json:"created_at"`
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Gender:    user.Gender,
		Avatar:    avatar.URL(h.settings.AvatarURL, user.Username, user.Gender),
		CreatedAt: user.CreatedAt,
	})
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), auth.UserID(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	// Every session of the user was revoked, including this one.
	if h.settings.Mode == config.AuthModeSession {
		clearSessionCookie(w)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), auth.UserID(r.Context())); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if h.settings.Mode == config.AuthModeSession {
		clearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout ends the current session. Only routed in session mode.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := auth.SessionID(r.Context()); id != 0 {
		if err := h.sessions.Delete(r.Context(), id); err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
