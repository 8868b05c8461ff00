package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/notez/internal/config"
	"github.com/dukerupert/notez/internal/database"
)

const testPassword = "Str0ng!Pw"

func testConfig(mode config.AuthMode) *config.Config {
	return &config.Config{
		Env:       "test",
		AvatarURL: "https://avatar.example/public",
		Auth: config.AuthConfig{
			Mode:           mode,
			SecretKey:      "test-secret",
			TokenTTL:       15 * time.Minute,
			SessionTTL:     24 * time.Hour,
			RememberTTL:    30 * 24 * time.Hour,
			LoginRateLimit: 100,
		},
		Backup:         config.BackupConfig{Interval: time.Hour, Retention: time.Hour},
		TrashRetention: 30 * 24 * time.Hour,
	}
}

func setupServer(t *testing.T, cfg *config.Config) (*Server, http.Handler, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := New(cfg, db, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return srv, srv.Router(), db
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body, token string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func registerBody(username string) string {
	return `{"first_name":"Ada","last_name":"Lovelace","username":"` + username +
		`","email":"` + username + `@example.com","password":"` + testPassword + `","gender":"female"}`
}

func loginToken(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rec := do(h, jsonRequest("POST", "/api/auth/register", registerBody(username), ""))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = do(h, jsonRequest("POST", "/api/auth/login", `{"username":"`+username+`","password":"`+testPassword+`"}`, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Fatalf("login response = %+v", resp)
	}
	return resp.AccessToken
}

func TestHealth(t *testing.T) {
	_, h, _ := setupServer(t, testConfig(config.AuthModeToken))

	rec := do(h, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status        string `json:"status"`
		SchemaVersion int64  `json:"schema_version"`
		Backup struct {
			State string `json:"state"`
		} `json:"backup"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.SchemaVersion == 0 {
		t.Error("schema_version missing")
	}
	if body.Backup.State != "disabled" {
		t.Errorf("backup state = %q, want disabled", body.Backup.State)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h, _ := setupServer(t, testConfig(config.AuthModeToken))

	do(h, httptest.NewRequest("GET", "/health", nil))
	rec := do(h, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "notez_http_requests_total") {
		t.Error("metrics output missing notez_http_requests_total")
	}
}

func TestTokenModeAPI(t *testing.T) {
	_, h, _ := setupServer(t, testConfig(config.AuthModeToken))
	token := loginToken(t, h, "adalove")

	rec := do(h, jsonRequest("GET", "/api/auth/me", "", token))
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status = %d", rec.Code)
	}
	var me struct {
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	json.NewDecoder(rec.Body).Decode(&me)
	if me.Username != "adalove" {
		t.Errorf("username = %q, want adalove", me.Username)
	}
	if me.Avatar != "https://avatar.example/public/girl?username=adalove" {
		t.Errorf("avatar = %q", me.Avatar)
	}

	rec = do(h, jsonRequest("POST", "/api/notes", `{"title":"first","content":"hello"}`, token))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create note: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var note struct {
		ID int64 `json:"id"`
	}
	json.NewDecoder(rec.Body).Decode(&note)

	rec = do(h, jsonRequest("GET", "/api/notes", "", token))
	if rec.Code != http.StatusOK {
		t.Fatalf("list notes: status = %d", rec.Code)
	}
	var notes []map[string]any
	json.NewDecoder(rec.Body).Decode(&notes)
	if len(notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(notes))
	}

	// Another user cannot read it.
	other := loginToken(t, h, "grace")
	rec = do(h, jsonRequest("GET", "/api/notes/"+itoa(note.ID), "", other))
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign note: status = %d, want 403", rec.Code)
	}

	// Logout is a session mode route.
	rec = do(h, jsonRequest("POST", "/api/auth/logout", "", token))
	if rec.Code != http.StatusNotFound {
		t.Errorf("logout in token mode: status = %d, want 404", rec.Code)
	}
}

func TestUnauthenticatedAPI(t *testing.T) {
	_, h, _ := setupServer(t, testConfig(config.AuthModeToken))

	for _, target := range []string{"/api/auth/me", "/api/notes", "/api/todolists", "/api/tags", "/ws"} {
		rec := do(h, httptest.NewRequest("GET", target, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s: status = %d, want 401", target, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
			t.Errorf("GET %s: WWW-Authenticate = %q", target, got)
		}
	}

	rec := do(h, jsonRequest("GET", "/api/notes", "", "not-a-jwt"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	cfg := testConfig(config.AuthModeToken)
	cfg.Auth.LoginRateLimit = 2
	_, h, _ := setupServer(t, cfg)

	body := `{"username":"nobody","password":"wrong"}`
	for i := 0; i < 2; i++ {
		rec := do(h, jsonRequest("POST", "/api/auth/login", body, ""))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}
	rec := do(h, jsonRequest("POST", "/api/auth/login", body, ""))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}

	// Registration is not limited.
	rec = do(h, jsonRequest("POST", "/api/auth/register", registerBody("adalove"), ""))
	if rec.Code != http.StatusCreated {
		t.Errorf("register: status = %d, want 201", rec.Code)
	}
}

func TestLoginRateLimitIgnoresForwardingHeaders(t *testing.T) {
	cfg := testConfig(config.AuthModeToken)
	cfg.Auth.LoginRateLimit = 2
	_, h, _ := setupServer(t, cfg)

	body := `{"username":"nobody","password":"wrong"}`
	var last int
	for i := 1; i <= 3; i++ {
		req := jsonRequest("POST", "/api/auth/login", body, "")
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		req.Header.Set("CF-Connecting-IP", "198.51.101."+strconv.Itoa(i))
		last = do(h, req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third attempt with fresh headers: status = %d, want 429", last)
	}
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	cfg := testConfig(config.AuthModeToken)
	cfg.Auth.LoginRateLimit = 1
	cfg.Auth.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}
	_, h, _ := setupServer(t, cfg)

	body := `{"username":"nobody","password":"wrong"}`
	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		req := jsonRequest("POST", "/api/auth/login", body, "")
		req.Header.Set("X-Forwarded-For", client)
		if rec := do(h, req); rec.Code != http.StatusUnauthorized {
			t.Errorf("client %s: status = %d, want 401", client, rec.Code)
		}
	}
}

func TestFormLoginRateLimit(t *testing.T) {
	cfg := testConfig(config.AuthModeSession)
	cfg.Auth.LoginRateLimit = 2
	_, h, _ := setupServer(t, cfg)

	form := url.Values{"action": {"login"}, "username": {"nobody"}, "password": {"wrong"}}
	for i, target := range []string{"/", "/index"} {
		if rec := do(h, postForm(target, form)); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}
	req := postForm("/", form)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	if rec := do(h, req); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}

	// The form and the API share one budget per client.
	rec := do(h, jsonRequest("POST", "/api/auth/login", `{"username":"nobody","password":"wrong"}`, ""))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("api login after form attempts: status = %d, want 429", rec.Code)
	}
}

func TestPagesOnlyInSessionMode(t *testing.T) {
	_, h, _ := setupServer(t, testConfig(config.AuthModeToken))

	for _, target := range []string{"/", "/index", "/dashboard"} {
		rec := do(h, httptest.NewRequest("GET", target, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s in token mode: status = %d, want 404", target, rec.Code)
		}
	}
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestSessionModePages(t *testing.T) {
	_, h, _ := setupServer(t, testConfig(config.AuthModeSession))

	rec := do(h, httptest.NewRequest("GET", "/dashboard", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/index" {
		t.Fatalf("anonymous dashboard: status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = do(h, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("landing: status = %d", rec.Code)
	}

	rec = do(h, postForm("/index", url.Values{
		"action":     {"signup"},
		"first_name": {"Ada"},
		"last_name":  {"Lovelace"},
		"username":   {"adalove"},
		"email":      {"adalove@example.com"},
		"password":   {testPassword},
		"password2":  {testPassword},
		"gender":     {"female"},
	}))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/index?registered=1" {
		t.Fatalf("signup: status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = do(h, postForm("/", url.Values{"action": {"login"}, "username": {"adalove"}, "password": {testPassword}}))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("login: status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login set no cookie")
	}

	for _, target := range []string{"/dashboard", "/home", "/user/adalove", "/api/auth/me"} {
		req := httptest.NewRequest("GET", target, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		if rec := do(h, req); rec.Code != http.StatusOK {
			t.Errorf("GET %s with session: status = %d, want 200", target, rec.Code)
		}
	}
}

func TestSessionModeRejectsCrossOriginForms(t *testing.T) {
	_, h, _ := setupServer(t, testConfig(config.AuthModeSession))

	req := postForm("/index", url.Values{"action": {"login"}, "username": {"adalove"}, "password": {testPassword}})
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	if rec := do(h, req); rec.Code != http.StatusForbidden {
		t.Errorf("cross-site form: status = %d, want 403", rec.Code)
	}
}

func TestMaintainPurgesTrash(t *testing.T) {
	cfg := testConfig(config.AuthModeToken)
	srv, h, db := setupServer(t, cfg)
	token := loginToken(t, h, "adalove")

	rec := do(h, jsonRequest("POST", "/api/notes", `{"title":"gone"}`, token))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create note: status = %d", rec.Code)
	}
	var note struct {
		ID int64 `json:"id"`
	}
	json.NewDecoder(rec.Body).Decode(&note)
	do(h, jsonRequest("POST", "/api/notes", `{"title":"kept"}`, token))

	if rec := do(h, jsonRequest("DELETE", "/api/notes/"+itoa(note.ID), "", token)); rec.Code != http.StatusNoContent {
		t.Fatalf("delete note: status = %d", rec.Code)
	}

	// Within the retention window nothing is purged.
	srv.Maintain(context.Background())
	if n := countNotes(t, db); n != 2 {
		t.Fatalf("notes after maintain = %d, want 2", n)
	}

	cfg.TrashRetention = -time.Minute
	srv.Maintain(context.Background())
	if n := countNotes(t, db); n != 1 {
		t.Errorf("notes after purge = %d, want 1", n)
	}
}

func countNotes(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		t.Fatalf("count notes: %v", err)
	}
	return n
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
