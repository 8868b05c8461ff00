package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/notez/internal/account"
	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/config"
	"github.com/dukerupert/notez/internal/database"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
)

const testPassword = "Str0ng!Pw"

type testEnv struct {
	accounts *account.Service
	users    *store.UserStore
	sessions *store.SessionStore
	notes    *store.NoteStore
	groups   *store.GroupStore
	tags     *store.TagStore
	lists    *store.TodoListStore
	items    *store.TodoItemStore
	tokens   *auth.TokenIssuer
	settings AuthSettings
	logger   *slog.Logger
}

func setupHandlerTest(t *testing.T, mode config.AuthMode) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	sessions := store.NewSessionStore(db)
	return &testEnv{
		accounts: account.NewService(users, sessions, account.WithBcryptCost(bcrypt.MinCost)),
		users:    users,
		sessions: sessions,
		notes:    store.NewNoteStore(db),
		groups:   store.NewGroupStore(db),
		tags:     store.NewTagStore(db),
		lists:    store.NewTodoListStore(db),
		items:    store.NewTodoItemStore(db),
		tokens:   auth.NewTokenIssuer("test-secret", 15*time.Minute),
		settings: AuthSettings{
			Mode:        mode,
			SessionTTL:  24 * time.Hour,
			RememberTTL: 30 * 24 * time.Hour,
			AvatarURL:   "https://avatar.example/public",
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (env *testEnv) register(t *testing.T, username string) *model.User {
	t.Helper()
	u, err := env.accounts.Register(context.Background(), account.RegisterInput{
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		Username:  username,
		Email:     username + "@example.com",
		Password:  testPassword,
		Gender:    "female",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

// request builds a request as the given user; userID 0 means anonymous.
// Path values are given as name, value pairs.
func request(method, target string, body any, userID int64, pathValues ...string) *http.Request {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	if userID != 0 {
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: userID}))
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	return req
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}
