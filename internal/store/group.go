package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/notez/internal/model"
)

const maxGroupNameLen = 64

type GroupStore struct {
	db *sql.DB
}

func NewGroupStore(db *sql.DB) *GroupStore {
	return &GroupStore{db: db}
}

func scanGroup(scanner interface{ Scan(...any) error }) (*model.Group, error) {
	var g model.Group
	var description sql.NullString
	var deletedAt sql.NullTime
	err := scanner.Scan(&g.ID, &g.UserID, &g.Name, &description, &g.CreatedAt, &g.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	g.Description = description.String
	g.DeletedAt = timePtr(deletedAt)
	return &g, nil
}

const groupCols = `id, user_id, name, description, created_at, updated_at, deleted_at`

func validateGroupName(name string) error {
	switch {
	case name == "":
		return model.NewValidationError("name", "Group name is required.")
	case len([]rune(name)) > maxGroupNameLen:
		return model.NewValidationError("name", fmt.Sprintf("Group name must be at most %d characters long.", maxGroupNameLen))
	}
	return nil
}

func (s *GroupStore) Create(ctx context.Context, userID int64, name, description string) (*model.Group, error) {
	name = strings.TrimSpace(name)
	if err := validateGroupName(name); err != nil {
		return nil, err
	}

	ts := now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO note_groups (user_id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, name, nullString(description), ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns a live group, or nil.
func (s *GroupStore) GetByID(ctx context.Context, id int64) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupCols+` FROM note_groups WHERE id = ? AND deleted_at IS NULL`, id,
	)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (s *GroupStore) List(ctx context.Context, userID int64) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupCols+` FROM note_groups WHERE user_id = ? AND deleted_at IS NULL ORDER BY name, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (s *GroupStore) Update(ctx context.Context, id int64, name, description string) (*model.Group, error) {
	name = strings.TrimSpace(name)
	if err := validateGroupName(name); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE note_groups SET name = ?, description = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		name, nullString(description), now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}
	return s.GetByID(ctx, id)
}

// SoftDelete marks the group deleted and, in the same transaction, detaches
// its notes and to-do lists so they survive uncategorized.
func (s *GroupStore) SoftDelete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE note_groups SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now(), id,
	); err != nil {
		return fmt.Errorf("soft delete group: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE notes SET group_id = NULL WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("ungroup notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE todo_lists SET group_id = NULL WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("ungroup todo lists: %w", err)
	}
	return tx.Commit()
}

// PurgeDeleted hard-deletes groups soft-deleted before the cutoff.
func (s *GroupStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stale := `SELECT id FROM note_groups WHERE deleted_at IS NOT NULL AND deleted_at < ?`
	cutoff := before.UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE notes SET group_id = NULL WHERE group_id IN (`+stale+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("ungroup notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE todo_lists SET group_id = NULL WHERE group_id IN (`+stale+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("ungroup todo lists: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM note_groups WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge groups: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, tx.Commit()
}
