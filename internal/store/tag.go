package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dukerupert/notez/internal/model"
)

const maxTagNameLen = 64

type TagStore struct {
	db *sql.DB
}

func NewTagStore(db *sql.DB) *TagStore {
	return &TagStore{db: db}
}

func scanTag(scanner interface{ Scan(...any) error }) (*model.Tag, error) {
	var t model.Tag
	var userID sql.NullInt64
	if err := scanner.Scan(&t.ID, &t.Name, &userID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.UserID = int64Ptr(userID)
	return &t, nil
}

const tagCols = `id, name, user_id, created_at`

// Create inserts a tag. A nil ownerID makes the tag global. Tag names are
// unique across all users, ignoring case.
func (s *TagStore) Create(ctx context.Context, name string, ownerID *int64) (*model.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("name", "Tag name is required.")
	}
	if len([]rune(name)) > maxTagNameLen {
		return nil, model.NewValidationError("name", fmt.Sprintf("Tag name must be at most %d characters long.", maxTagNameLen))
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (name, user_id, created_at) VALUES (?, ?, ?)`,
		name, nullInt64(ownerID), now(),
	)
	if err != nil {
		if uniqueViolation(err, "tags.name") {
			return nil, &model.ConflictError{Field: "name"}
		}
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *TagStore) GetByID(ctx context.Context, id int64) (*model.Tag, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tagCols+` FROM tags WHERE id = ?`, id)
	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

// ListVisible returns global tags plus the tags owned by userID, by name.
func (s *TagStore) ListVisible(ctx context.Context, userID int64) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagCols+` FROM tags WHERE user_id IS NULL OR user_id = ? ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, *t)
	}
	return tags, rows.Err()
}

// Delete removes a tag and every link to it.
func (s *TagStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE tag_id = ?`, id); err != nil {
		return fmt.Errorf("delete note links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM todo_list_tags WHERE tag_id = ?`, id); err != nil {
		return fmt.Errorf("delete list links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return tx.Commit()
}

// MissingIDs returns the ids in ids that do not name an existing tag.
func (s *TagStore) MissingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sq.Select("id").From("tags").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tag ids: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tag id: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// linkTable describes a join table between some entity and tags.
type linkTable struct {
	name   string
	fk     string
	parent string
}

var (
	noteTagLinks = linkTable{name: "note_tags", fk: "note_id", parent: "notes"}
	listTagLinks = linkTable{name: "todo_list_tags", fk: "todo_list_id", parent: "todo_lists"}
)

// loadTags returns the tags of every owner in ids, keyed by owner id.
func loadTags(ctx context.Context, q sq.BaseRunner, lt linkTable, ids []int64) (map[int64][]model.Tag, error) {
	out := make(map[int64][]model.Tag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := sq.Select("l."+lt.fk, "t.id", "t.name", "t.user_id", "t.created_at").
		From(lt.name + " l").
		Join("tags t ON t.id = l.tag_id").
		Where(sq.Eq{"l." + lt.fk: ids}).
		OrderBy("t.name").
		RunWith(q).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", lt.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ownerID int64
		var t model.Tag
		var userID sql.NullInt64
		if err := rows.Scan(&ownerID, &t.ID, &t.Name, &userID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", lt.name, err)
		}
		t.UserID = int64Ptr(userID)
		out[ownerID] = append(out[ownerID], t)
	}
	return out, rows.Err()
}

func attachTag(ctx context.Context, db *sql.DB, lt linkTable, ownerID, tagID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO `+lt.name+` (`+lt.fk+`, tag_id) VALUES (?, ?)`,
		ownerID, tagID,
	)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func detachTag(ctx context.Context, db *sql.DB, lt linkTable, ownerID, tagID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM `+lt.name+` WHERE `+lt.fk+` = ? AND tag_id = ?`,
		ownerID, tagID,
	)
	if err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}
	return nil
}

func insertTagLinks(ctx context.Context, tx *sql.Tx, lt linkTable, ownerID int64, tagIDs []int64) error {
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+lt.name+` (`+lt.fk+`, tag_id) VALUES (?, ?)`,
			ownerID, tagID,
		); err != nil {
			return fmt.Errorf("insert %s: %w", lt.name, err)
		}
	}
	return nil
}

// purgeDeleted hard-deletes rows of lt.parent soft-deleted before the cutoff,
// removing their tag links first. extra statements run between the two,
// each taking the cutoff as its only argument.
func purgeDeleted(ctx context.Context, db *sql.DB, lt linkTable, before time.Time, extra ...string) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stale := `SELECT id FROM ` + lt.parent + ` WHERE deleted_at IS NOT NULL AND deleted_at < ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+lt.name+` WHERE `+lt.fk+` IN (`+stale+`)`, before); err != nil {
		return 0, fmt.Errorf("purge %s: %w", lt.name, err)
	}
	for _, stmt := range extra {
		if _, err := tx.ExecContext(ctx, stmt, before); err != nil {
			return 0, fmt.Errorf("purge %s children: %w", lt.parent, err)
		}
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM `+lt.parent+` WHERE deleted_at IS NOT NULL AND deleted_at < ?`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", lt.parent, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, tx.Commit()
}
