// Package account registers users and verifies their credentials.
package account

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
)

// RegisterInput is the signup payload. Password2 is the optional
// confirmation field of the signup form.
type RegisterInput struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Password2 *string `json:"password2,omitempty"`
	Gender    string  `json:"gender,omitempty"`
}

type Service struct {
	users    *store.UserStore
	sessions *store.SessionStore
	cost     int
	logger   *slog.Logger
}

type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(users *store.UserStore, sessions *store.SessionStore, opts ...Option) *Service {
	s := &Service{
		users:    users,
		sessions: sessions,
		cost:     bcrypt.DefaultCost,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates in, then stores a new user with a bcrypt hash of the
// password. A taken username or email yields a *model.ConflictError.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	// The UNIQUE constraints still decide races between these checks and the insert.
	existing, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &model.ConflictError{Field: "username"}
	}
	existing, err = s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &model.ConflictError{Field: "email"}
	}

	hash, err := auth.HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &model.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Gender:       model.Gender(in.Gender),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Verify returns the user whose credentials match, or model.ErrUnauthenticated.
func (s *Service) Verify(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := auth.CheckPassword(hash, password)
	if err != nil {
		return nil, err
	}
	if !ok || user == nil {
		return nil, model.ErrUnauthenticated
	}
	return user, nil
}

// ChangePassword replaces the user's password after checking the current one
// and revokes every session the user holds.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return model.ErrNotFound
	}

	ok, err := auth.CheckPassword(user.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewValidationError("current_password", "Current password is incorrect.")
	}
	if problems := PasswordProblems(next); len(problems) > 0 {
		ve := &model.ValidationError{}
		for _, msg := range problems {
			ve.Add("new_password", msg)
		}
		return ve
	}

	hash, err := auth.HashPassword(next, s.cost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Info("password changed", "user_id", userID)
	return nil
}

// Delete removes the user and everything they own.
func (s *Service) Delete(ctx context.Context, userID int64) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", userID)
	return nil
}
