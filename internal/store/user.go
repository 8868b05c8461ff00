package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/notez/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var gender sql.NullString
	err := scanner.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.Email,
		&u.PasswordHash, &gender, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Gender = model.Gender(gender.String)
	return &u, nil
}

const userCols = `id, first_name, last_name, username, email, password_hash, gender, created_at, updated_at`

// Create inserts a user. A username or email that is already taken (compared
// case-insensitively) yields a *model.ConflictError.
func (s *UserStore) Create(ctx context.Context, u *model.User) (*model.User, error) {
	ts := now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name, username, email, password_hash, gender, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.FirstName, u.LastName, u.Username, u.Email, u.PasswordHash, nullString(string(u.Gender)), ts, ts,
	)
	if err != nil {
		switch {
		case uniqueViolation(err, "users.username"):
			return nil, &model.ConflictError{Field: "username"}
		case uniqueViolation(err, "users.email"):
			return nil, &model.ConflictError{Field: "email"}
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, now(), id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// userCascade removes everything a user owns, children before parents.
var userCascade = []string{
	`DELETE FROM note_tags WHERE note_id IN (SELECT id FROM notes WHERE user_id = ?)`,
	`DELETE FROM note_tags WHERE tag_id IN (SELECT id FROM tags WHERE user_id = ?)`,
	`DELETE FROM todo_list_tags WHERE todo_list_id IN (SELECT id FROM todo_lists WHERE user_id = ?)`,
	`DELETE FROM todo_list_tags WHERE tag_id IN (SELECT id FROM tags WHERE user_id = ?)`,
	`DELETE FROM todo_items WHERE todo_list_id IN (SELECT id FROM todo_lists WHERE user_id = ?)`,
	`DELETE FROM todo_lists WHERE user_id = ?`,
	`DELETE FROM notes WHERE user_id = ?`,
	`DELETE FROM note_groups WHERE user_id = ?`,
	`DELETE FROM sessions WHERE user_id = ?`,
	`DELETE FROM tags WHERE user_id = ?`,
}

// Delete removes the user and, in the same transaction, every note, group,
// to-do list, to-do item, session and owned tag that belongs to them.
// Global tags survive. Returns model.ErrNotFound if the user does not exist.
func (s *UserStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range userCascade {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete user content: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}

	return tx.Commit()
}
