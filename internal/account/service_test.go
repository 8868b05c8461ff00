package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/notez/internal/database"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
)

type testEnv struct {
	svc      *Service
	users    *store.UserStore
	sessions *store.SessionStore
}

func setupService(t *testing.T) testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	sessions := store.NewSessionStore(db)
	return testEnv{
		svc:      NewService(users, sessions, WithBcryptCost(bcrypt.MinCost)),
		users:    users,
		sessions: sessions,
	}
}

func validInput(username, email string) RegisterInput {
	return RegisterInput{
		FirstName: "Test",
		Username:  username,
		Email:     email,
		Password:  "Str0ng!Pw",
	}
}

func asValidation(t *testing.T, err error) *model.ValidationError {
	t.Helper()
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *model.ValidationError", err)
	}
	return ve
}

func TestRegisterAndVerify(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	in := validInput(" alice ", "alice@example.com")
	in.Gender = "Female"
	user, err := env.svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("username = %q, want trimmed", user.Username)
	}
	if user.Gender != model.GenderFemale {
		t.Errorf("gender = %q, want female", user.Gender)
	}
	if user.PasswordHash == "" || user.PasswordHash == "Str0ng!Pw" {
		t.Errorf("password hash = %q", user.PasswordHash)
	}
	if time.Since(user.CreatedAt) > time.Minute {
		t.Errorf("created_at = %v, want about now", user.CreatedAt)
	}

	got, err := env.svc.Verify(ctx, "alice", "Str0ng!Pw")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("verified id = %d, want %d", got.ID, user.ID)
	}

	for _, tt := range []struct{ username, password string }{
		{"alice", "str0ng!Pw"},
		{"alice", ""},
		{"nobody", "Str0ng!Pw"},
	} {
		if _, err := env.svc.Verify(ctx, tt.username, tt.password); !errors.Is(err, model.ErrUnauthenticated) {
			t.Errorf("Verify(%q, %q) err = %v, want ErrUnauthenticated", tt.username, tt.password, err)
		}
	}
}

func TestRegisterWeakPassword(t *testing.T) {
	env := setupService(t)
	in := validInput("alice", "alice@example.com")
	in.Password = "weakpass1"

	_, err := env.svc.Register(context.Background(), in)
	ve := asValidation(t, err)
	if len(ve.Fields["password"]) != 2 {
		t.Errorf("password errors = %v", ve.Fields["password"])
	}
	if u, _ := env.users.GetByUsername(context.Background(), "alice"); u != nil {
		t.Error("rejected registration must not persist a user")
	}
}

func TestRegisterOverlongPassword(t *testing.T) {
	env := setupService(t)
	in := validInput("alice", "alice@example.com")
	in.Password = "Str0ng!Pw" + strings.Repeat("a", 80)

	_, err := env.svc.Register(context.Background(), in)
	ve := asValidation(t, err)
	if len(ve.Fields["password"]) != 1 {
		t.Errorf("password errors = %v", ve.Fields["password"])
	}
}

func TestChangePasswordOverlong(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user, _ := env.svc.Register(ctx, validInput("alice", "alice@example.com"))

	err := env.svc.ChangePassword(ctx, user.ID, "Str0ng!Pw", "N3w!pass"+strings.Repeat("b", 80))
	if ve := asValidation(t, err); len(ve.Fields["new_password"]) != 1 {
		t.Errorf("fields = %v, want one new_password error", ve.Fields)
	}
	if _, err := env.svc.Verify(ctx, "alice", "Str0ng!Pw"); err != nil {
		t.Errorf("old password should still work: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	tests := []struct {
		name      string
		second    RegisterInput
		wantField string
	}{
		{"same username", validInput("alice", "other@example.com"), "username"},
		{"same username other case", validInput("ALICE", "other@example.com"), "username"},
		{"same email", validInput("alice2", "alice@example.com"), "email"},
		{"same email other case", validInput("alice2", "Alice@Example.com"), "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupService(t)
			ctx := context.Background()
			if _, err := env.svc.Register(ctx, validInput("alice", "alice@example.com")); err != nil {
				t.Fatalf("first register: %v", err)
			}

			_, err := env.svc.Register(ctx, tt.second)
			if !errors.Is(err, model.ErrDuplicateIdentity) {
				t.Fatalf("err = %v, want ErrDuplicateIdentity", err)
			}
			var ce *model.ConflictError
			if !errors.As(err, &ce) || ce.Field != tt.wantField {
				t.Errorf("conflict = %v, want field %s", err, tt.wantField)
			}
		})
	}
}

func TestRegisterConcurrent(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.Register(ctx, validInput("alice", "alice@example.com"))
		}()
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrDuplicateIdentity):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Errorf("ok = %d, dup = %d; want 1 and 1", ok, dup)
	}
}

func TestChangePassword(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user, _ := env.svc.Register(ctx, validInput("alice", "alice@example.com"))
	sess, _ := env.sessions.Create(ctx, user.ID, time.Hour, false)

	err := env.svc.ChangePassword(ctx, user.ID, "wrong", "N3w!pass")
	if ve := asValidation(t, err); ve.Fields["current_password"] == nil {
		t.Errorf("fields = %v, want current_password", ve.Fields)
	}

	err = env.svc.ChangePassword(ctx, user.ID, "Str0ng!Pw", "weak")
	if ve := asValidation(t, err); ve.Fields["new_password"] == nil {
		t.Errorf("fields = %v, want new_password", ve.Fields)
	}

	if err := env.svc.ChangePassword(ctx, user.ID, "Str0ng!Pw", "N3w!pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := env.svc.Verify(ctx, "alice", "Str0ng!Pw"); !errors.Is(err, model.ErrUnauthenticated) {
		t.Errorf("old password err = %v, want ErrUnauthenticated", err)
	}
	if _, err := env.svc.Verify(ctx, "alice", "N3w!pass"); err != nil {
		t.Errorf("new password: %v", err)
	}
	if got, _ := env.sessions.GetByToken(ctx, sess.Token); got != nil {
		t.Error("sessions should be revoked after a password change")
	}

	if err := env.svc.ChangePassword(ctx, 999, "x", "N3w!pass"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing user err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	user, _ := env.svc.Register(ctx, validInput("alice", "alice@example.com"))

	if err := env.svc.Delete(ctx, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.svc.Verify(ctx, "alice", "Str0ng!Pw"); !errors.Is(err, model.ErrUnauthenticated) {
		t.Errorf("verify after delete err = %v", err)
	}
	if err := env.svc.Delete(ctx, user.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}
