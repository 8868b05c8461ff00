package handler

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/notez/internal/account"
	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/avatar"
	"github.com/dukerupert/notez/internal/metrics"
	"github.com/dukerupert/notez/internal/middleware"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

const maxFormBytes = 64 << 10

// pageData is the union of everything the page templates read.
type pageData struct {
	Title string
	User  *model.User

	Flash         string
	LoginError    string
	LoginUsername string
	Signup        account.RegisterInput
	Errors        map[string][]string

	Notes []model.Note
	Lists []model.TodoList

	Profile *model.User
	Avatar  string
	IsSelf  bool
}

// PageHandler serves the server-rendered, session based surface.
type PageHandler struct {
	accounts *account.Service
	users    *store.UserStore
	sessions *store.SessionStore
	notes    *store.NoteStore
	lists    *store.TodoListStore
	resolver middleware.PrincipalResolver
	welcome  *Welcomer
	settings AuthSettings
	pages    map[string]*template.Template
	logger   *slog.Logger
}

func NewPageHandler(
	accounts *account.Service,
	us *store.UserStore,
	ss *store.SessionStore,
	ns *store.NoteStore,
	ls *store.TodoListStore,
	welcome *Welcomer,
	settings AuthSettings,
	logger *slog.Logger,
) *PageHandler {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"index", "dashboard", "profile"} {
		pages[name] = template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html"))
	}
	return &PageHandler{
		accounts: accounts,
		users:    us,
		sessions: ss,
		notes:    ns,
		lists:    ls,
		resolver: middleware.SessionResolver{Sessions: ss},
		welcome:  welcome,
		settings: settings,
		pages:    pages,
		logger:   logger,
	}
}

func (h *PageHandler) render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.pages[name].ExecuteTemplate(w, "base", data); err != nil {
		h.logger.Error("template error", "page", name, "error", err)
	}
}

func (h *PageHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("page failed", "path", r.URL.Path, "request_id", middleware.RequestIDFromContext(r.Context()), "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// Index is the landing page with the login and signup forms. Signed-in
// visitors go straight to the dashboard.
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	if _, err := h.resolver.Resolve(r); err == nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	data := pageData{Title: "Welcome Page"}
	if r.URL.Query().Get("registered") == "1" {
		data.Flash = "Congratulations, you are now a registered user!"
	}
	h.render(w, http.StatusOK, "index", data)
}

// Submit handles both landing page forms, told apart by the action field.
func (h *PageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	switch r.PostFormValue("action") {
	case "login":
		h.login(w, r)
	case "signup":
		h.signup(w, r)
	default:
		http.Error(w, "Bad Request", http.StatusBadRequest)
	}
}

func (h *PageHandler) login(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	data := pageData{Title: "Welcome Page", LoginUsername: username}

	if username == "" || password == "" {
		metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		data.LoginError = "Missing username or password"
		h.render(w, http.StatusBadRequest, "index", data)
		return
	}

	user, err := h.accounts.Verify(r.Context(), username, password)
	if errors.Is(err, model.ErrUnauthenticated) {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		data.LoginError = "Invalid username or password"
		h.render(w, http.StatusUnauthorized, "index", data)
		return
	}
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		h.fail(w, r, err)
		return
	}

	remember := r.PostFormValue("remember_me") != ""
	if err := startSession(w, r, h.sessions, h.settings, user.ID, remember); err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		h.fail(w, r, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *PageHandler) signup(w http.ResponseWriter, r *http.Request) {
	password2 := r.PostFormValue("password2")
	in := account.RegisterInput{
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Username:  r.PostFormValue("username"),
		Email:     r.PostFormValue("email"),
		Password:  r.PostFormValue("password"),
		Password2: &password2,
		Gender:    r.PostFormValue("gender"),
	}

	user, err := h.accounts.Register(r.Context(), in)
	if err == nil {
		metrics.RegistrationsTotal.WithLabelValues("created").Inc()
		h.welcome.Send(r.Context(), user)
		http.Redirect(w, r, "/index?registered=1", http.StatusSeeOther)
		return
	}
	metrics.RegistrationsTotal.WithLabelValues(registrationOutcome(err)).Inc()

	in.Password, in.Password2 = "", nil
	data := pageData{Title: "Welcome Page", Signup: in}

	var verr *model.ValidationError
	var cerr *model.ConflictError
	switch {
	case errors.As(err, &verr):
		data.Errors = verr.Fields
		h.render(w, http.StatusUnprocessableEntity, "index", data)
	case errors.As(err, &cerr):
		data.Errors = map[string][]string{cerr.Field: {conflictMessage(cerr.Field)}}
		h.render(w, http.StatusConflict, "index", data)
	default:
		h.fail(w, r, err)
	}
}

// currentUser loads the signed-in user. A nil user with a nil error means the
// account no longer exists.
func (h *PageHandler) currentUser(r *http.Request) (*model.User, error) {
	return h.users.GetByID(r.Context(), auth.UserID(r.Context()))
}

// Dashboard lists the caller's notes and to-do lists.
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		http.Redirect(w, r, "/logout", http.StatusSeeOther)
		return
	}

	notes, err := h.notes.List(r.Context(), user.ID, store.NoteFilter{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lists, err := h.lists.List(r.Context(), user.ID, store.TodoListFilter{})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.render(w, http.StatusOK, "dashboard", pageData{Title: "Home", User: user, Notes: notes, Lists: lists})
}

// Profile shows a user's public profile. The email address is only shown to
// the user themselves.
func (h *PageHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	profile, err := h.users.GetByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if profile == nil {
		http.NotFound(w, r)
		return
	}

	h.render(w, http.StatusOK, "profile", pageData{
		Title:   profile.Username,
		User:    user,
		Profile: profile,
		Avatar:  avatar.URL(h.settings.AvatarURL, profile.Username, profile.Gender),
		IsSelf:  user != nil && user.ID == profile.ID,
	})
}

// Logout drops the session, if any, and returns to the landing page.
func (h *PageHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if p, err := h.resolver.Resolve(r); err == nil {
		if err := h.sessions.Delete(r.Context(), p.SessionID); err != nil {
			h.logger.Error("delete session", "session_id", p.SessionID, "error", err)
		}
	}
	clearSessionCookie(w)
	http.Redirect(w, r, "/index", http.StatusSeeOther)
}
