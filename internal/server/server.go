package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/notez/internal/account"
	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/backup"
	"github.com/dukerupert/notez/internal/config"
	"github.com/dukerupert/notez/internal/database"
	"github.com/dukerupert/notez/internal/email"
	"github.com/dukerupert/notez/internal/handler"
	"github.com/dukerupert/notez/internal/metrics"
	"github.com/dukerupert/notez/internal/middleware"
	"github.com/dukerupert/notez/internal/reminder"
	"github.com/dukerupert/notez/internal/store"
	ws "github.com/dukerupert/notez/internal/websocket"
)

type Server struct {
	cfg    *config.Config
	db     *sql.DB
	logger *slog.Logger

	sessionStore *store.SessionStore
	noteStore    *store.NoteStore
	groupStore   *store.GroupStore
	listStore    *store.TodoListStore

	hub           *ws.Hub
	resolver      middleware.PrincipalResolver
	limiter       middleware.Limiter
	memLimiter    *middleware.RateLimiter
	welcomer      *handler.Welcomer
	scheduler     *reminder.Scheduler
	backupManager *backup.Manager

	authH  *handler.AuthHandler
	noteH  *handler.NoteHandler
	groupH *handler.GroupHandler
	tagH   *handler.TagHandler
	todoH  *handler.TodoHandler
	pageH  *handler.PageHandler
}

// New wires stores, services and handlers. emailClient and redisClient may
// be nil.
func New(cfg *config.Config, db *sql.DB, emailClient *email.Client, redisClient *redis.Client, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	noteStore := store.NewNoteStore(db)
	groupStore := store.NewGroupStore(db)
	tagStore := store.NewTagStore(db)
	listStore := store.NewTodoListStore(db)
	itemStore := store.NewTodoItemStore(db)

	hub := ws.NewHub(logger.With("component", "websocket"))
	accounts := account.NewService(userStore, sessionStore, account.WithLogger(logger.With("component", "account")))

	var tokens *auth.TokenIssuer
	var resolver middleware.PrincipalResolver
	if cfg.Auth.Mode == config.AuthModeSession {
		resolver = middleware.SessionResolver{Sessions: sessionStore}
	} else {
		tokens = auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.TokenTTL)
		resolver = middleware.TokenResolver{Tokens: tokens, Users: userStore}
	}

	memLimiter := middleware.NewRateLimiter()
	var limiter middleware.Limiter = memLimiter
	if redisClient != nil {
		limiter = middleware.NewRedisLimiter(redisClient, memLimiter, logger.With("component", "ratelimit"))
	}

	// A nil *email.Client must not reach the interfaces below.
	var welcomer *handler.Welcomer
	var scheduler *reminder.Scheduler
	if emailClient != nil && emailClient.Configured() {
		welcomer = handler.NewWelcomer(emailClient, logger.With("component", "welcome"))
		scheduler = reminder.NewScheduler(itemStore, emailClient, hub, logger.With("component", "reminder"))
	}

	backupManager := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		},
		Passphrase: cfg.Backup.Passphrase,
		Interval:   cfg.Backup.Interval,
		Retention:  cfg.Backup.Retention,
	}, db, store.NewBackupStore(db), logger.With("component", "backup"))

	settings := handler.AuthSettings{
		Mode:        cfg.Auth.Mode,
		SessionTTL:  cfg.Auth.SessionTTL,
		RememberTTL: cfg.Auth.RememberTTL,
		AvatarURL:   cfg.AvatarURL,
	}
	httpLogger := logger.With("component", "http")

	s := &Server{
		cfg:           cfg,
		db:            db,
		logger:        logger,
		sessionStore:  sessionStore,
		noteStore:     noteStore,
		groupStore:    groupStore,
		listStore:     listStore,
		hub:           hub,
		resolver:      resolver,
		limiter:       limiter,
		memLimiter:    memLimiter,
		welcomer:      welcomer,
		scheduler:     scheduler,
		backupManager: backupManager,
		authH:         handler.NewAuthHandler(accounts, userStore, sessionStore, tokens, welcomer, settings, httpLogger),
		noteH:         handler.NewNoteHandler(noteStore, groupStore, tagStore, hub, httpLogger),
		groupH:        handler.NewGroupHandler(groupStore, hub, httpLogger),
		tagH:          handler.NewTagHandler(tagStore, httpLogger),
		todoH:         handler.NewTodoHandler(listStore, itemStore, groupStore, tagStore, hub, httpLogger),
	}
	if cfg.Auth.Mode == config.AuthModeSession {
		s.pageH = handler.NewPageHandler(accounts, userStore, sessionStore, noteStore, listStore, welcomer, settings, httpLogger)
	}
	return s
}

// ReminderScheduler returns nil when email is not configured.
func (s *Server) ReminderScheduler() *reminder.Scheduler {
	return s.scheduler
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// Welcomer returns the background welcome mailer, nil when email is off.
func (s *Server) Welcomer() *handler.Welcomer {
	return s.welcomer
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/auth/register", s.authH.Register)
	mux.Handle("POST /api/auth/login", s.loginRateLimit(http.HandlerFunc(s.authH.Login)))

	s.registerAPIRoutes(mux)
	if s.pageH != nil {
		s.registerPageRoutes(mux)
	}

	return middleware.RequestID(
		middleware.ProxyHeaders(s.cfg.Auth.TrustedProxies)(
			middleware.RequestLogger(s.logger.With("component", "http"))(
				middleware.Metrics(mux),
			),
		),
	)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	version, err := database.SchemaVersion(r.Context(), s.db)
	if err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"schema_version": version,
		"backup":         s.backupManager.Status(),
	})
}

func (s *Server) loginRateLimit(next http.Handler) http.Handler {
	return middleware.RateLimit(s.limiter, middleware.RealIP, s.cfg.Auth.LoginRateLimit, time.Minute)(next)
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	protect := middleware.RequireAuth(s.resolver, s.logger.With("component", "auth"))
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(h))
	}

	// Account
	handle("GET /api/auth/me", s.authH.Me)
	handle("DELETE /api/auth/me", s.authH.DeleteAccount)
	handle("PUT /api/auth/password", s.authH.ChangePassword)
	if s.cfg.Auth.Mode == config.AuthModeSession {
		handle("POST /api/auth/logout", s.authH.Logout)
	}

	// Notes
	handle("POST /api/notes", s.noteH.Create)
	handle("GET /api/notes", s.noteH.List)
	handle("GET /api/notes/{id}", s.noteH.Get)
	handle("PUT /api/notes/{id}", s.noteH.Update)
	handle("DELETE /api/notes/{id}", s.noteH.Delete)
	handle("POST /api/notes/{id}/restore", s.noteH.Restore)
	handle("PUT /api/notes/{id}/tags/{tag_id}", s.noteH.AttachTag)
	handle("DELETE /api/notes/{id}/tags/{tag_id}", s.noteH.DetachTag)

	// Groups
	handle("POST /api/groups", s.groupH.Create)
	handle("GET /api/groups", s.groupH.List)
	handle("GET /api/groups/{id}", s.groupH.Get)
	handle("PUT /api/groups/{id}", s.groupH.Update)
	handle("DELETE /api/groups/{id}", s.groupH.Delete)

	// To-do lists
	handle("POST /api/todolists", s.todoH.CreateList)
	handle("GET /api/todolists", s.todoH.ListLists)
	handle("GET /api/todolists/{id}", s.todoH.GetList)
	handle("PUT /api/todolists/{id}", s.todoH.UpdateList)
	handle("DELETE /api/todolists/{id}", s.todoH.DeleteList)
	handle("PUT /api/todolists/{id}/tags/{tag_id}", s.todoH.AttachTag)
	handle("DELETE /api/todolists/{id}/tags/{tag_id}", s.todoH.DetachTag)

	// To-do items
	handle("POST /api/todolists/{id}/items", s.todoH.CreateItem)
	handle("GET /api/todolists/{id}/items", s.todoH.ListItems)
	handle("PUT /api/todolists/{id}/items/{item_id}", s.todoH.UpdateItem)
	handle("DELETE /api/todolists/{id}/items/{item_id}", s.todoH.DeleteItem)
	handle("POST /api/todolists/{id}/items/{item_id}/complete", s.todoH.Complete)

	// Tags
	handle("POST /api/tags", s.tagH.Create)
	handle("GET /api/tags", s.tagH.List)
	handle("DELETE /api/tags/{id}", s.tagH.Delete)

	// WebSocket
	handle("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}

func (s *Server) registerPageRoutes(mux *http.ServeMux) {
	csrf := http.NewCrossOriginProtection()
	page := middleware.RequirePage(s.resolver, s.logger.With("component", "auth"))

	for _, path := range []string{"/{$}", "/index"} {
		mux.HandleFunc("GET "+path, s.pageH.Index)
		mux.Handle("POST "+path, s.loginRateLimit(csrf.Handler(http.HandlerFunc(s.pageH.Submit))))
	}
	mux.Handle("GET /home", page(http.HandlerFunc(s.pageH.Dashboard)))
	mux.Handle("GET /dashboard", page(http.HandlerFunc(s.pageH.Dashboard)))
	mux.Handle("GET /user/{username}", page(http.HandlerFunc(s.pageH.Profile)))
	mux.HandleFunc("GET /logout", s.pageH.Logout)
}

// Maintain removes expired sessions and stale rate limiter entries, and
// permanently deletes trash older than the configured retention.
func (s *Server) Maintain(ctx context.Context) {
	if n, err := s.sessionStore.DeleteExpired(ctx); err != nil {
		s.logger.Error("cleanup expired sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired sessions", "count", n)
	}
	s.memLimiter.Cleanup()

	cutoff := time.Now().Add(-s.cfg.TrashRetention)
	purges := []struct {
		entity string
		purge  func(context.Context, time.Time) (int64, error)
	}{
		{"note", s.noteStore.PurgeDeleted},
		{"todo_list", s.listStore.PurgeDeleted},
		{"group", s.groupStore.PurgeDeleted},
	}
	for _, p := range purges {
		n, err := p.purge(ctx, cutoff)
		if err != nil {
			s.logger.Error("purge trash", "entity", p.entity, "error", err)
			continue
		}
		if n > 0 {
			metrics.PurgedTotal.WithLabelValues(p.entity).Add(float64(n))
			s.logger.Info("purged trash", "entity", p.entity, "count", n)
		}
	}
}
