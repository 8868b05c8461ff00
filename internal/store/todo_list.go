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

const maxListTitleLen = 128

type TodoListStore struct {
	db *sql.DB
}

func NewTodoListStore(db *sql.DB) *TodoListStore {
	return &TodoListStore{db: db}
}

type TodoListInput struct {
	Title   string
	GroupID *int64
	TagIDs  []int64
}

func (in TodoListInput) Validate() error {
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return model.NewValidationError("title", "Title is required.")
	case len([]rune(title)) > maxListTitleLen:
		return model.NewValidationError("title", fmt.Sprintf("Title must be at most %d characters long.", maxListTitleLen))
	}
	return nil
}

type TodoListFilter struct {
	GroupID *int64
	TagID   *int64
}

func scanTodoList(scanner interface{ Scan(...any) error }) (*model.TodoList, error) {
	var l model.TodoList
	var groupID sql.NullInt64
	var deletedAt sql.NullTime
	err := scanner.Scan(&l.ID, &l.UserID, &groupID, &l.Title, &l.CreatedAt, &l.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	l.GroupID = int64Ptr(groupID)
	l.DeletedAt = timePtr(deletedAt)
	l.Tags = []model.Tag{}
	return &l, nil
}

const todoListCols = `id, user_id, group_id, title, created_at, updated_at, deleted_at`

var todoListColumns = []string{
	"todo_lists.id", "todo_lists.user_id", "todo_lists.group_id", "todo_lists.title",
	"todo_lists.created_at", "todo_lists.updated_at", "todo_lists.deleted_at",
}

func (s *TodoListStore) Create(ctx context.Context, userID int64, in TodoListInput) (*model.TodoList, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO todo_lists (user_id, group_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, nullInt64(in.GroupID), strings.TrimSpace(in.Title), ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert todo list: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := insertTagLinks(ctx, tx, listTagLinks, id, in.TagIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns a live list with its tags, or nil.
func (s *TodoListStore) GetByID(ctx context.Context, id int64) (*model.TodoList, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+todoListCols+` FROM todo_lists WHERE id = ? AND deleted_at IS NULL`, id,
	)
	l, err := scanTodoList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get todo list: %w", err)
	}

	tags, err := loadTags(ctx, s.db, listTagLinks, []int64{l.ID})
	if err != nil {
		return nil, err
	}
	if t, ok := tags[l.ID]; ok {
		l.Tags = t
	}
	return l, nil
}

// List returns the owner's live lists, most recently updated first.
func (s *TodoListStore) List(ctx context.Context, userID int64, f TodoListFilter) ([]model.TodoList, error) {
	qb := sq.Select(todoListColumns...).
		From("todo_lists").
		Where(sq.Eq{"todo_lists.user_id": userID}).
		Where("todo_lists.deleted_at IS NULL")

	if f.GroupID != nil {
		qb = qb.Where(sq.Eq{"todo_lists.group_id": *f.GroupID})
	}
	if f.TagID != nil {
		qb = qb.Join("todo_list_tags ON todo_list_tags.todo_list_id = todo_lists.id").
			Where(sq.Eq{"todo_list_tags.tag_id": *f.TagID})
	}

	query, args, err := qb.OrderBy("todo_lists.updated_at DESC", "todo_lists.id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list todo lists: %w", err)
	}
	defer rows.Close()

	var lists []model.TodoList
	var ids []int64
	for rows.Next() {
		l, err := scanTodoList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo list: %w", err)
		}
		lists = append(lists, *l)
		ids = append(ids, l.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	tags, err := loadTags(ctx, s.db, listTagLinks, ids)
	if err != nil {
		return nil, err
	}
	for i := range lists {
		if t, ok := tags[lists[i].ID]; ok {
			lists[i].Tags = t
		}
	}
	return lists, nil
}

func (s *TodoListStore) Update(ctx context.Context, id int64, in TodoListInput) (*model.TodoList, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE todo_lists SET title = ?, group_id = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		strings.TrimSpace(in.Title), nullInt64(in.GroupID), now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update todo list: %w", err)
	}
	return s.GetByID(ctx, id)
}

// SoftDelete hides the list and its items from default reads.
func (s *TodoListStore) SoftDelete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE todo_lists SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now(), id,
	)
	if err != nil {
		return fmt.Errorf("soft delete todo list: %w", err)
	}
	return nil
}

// PurgeDeleted hard-deletes lists soft-deleted before the cutoff, items first.
func (s *TodoListStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	return purgeDeleted(ctx, s.db, listTagLinks, before.UTC(),
		`DELETE FROM todo_items WHERE todo_list_id IN (SELECT id FROM todo_lists WHERE deleted_at IS NOT NULL AND deleted_at < ?)`,
	)
}

func (s *TodoListStore) AttachTag(ctx context.Context, listID, tagID int64) error {
	return attachTag(ctx, s.db, listTagLinks, listID, tagID)
}

func (s *TodoListStore) DetachTag(ctx context.Context, listID, tagID int64) error {
	return detachTag(ctx, s.db, listTagLinks, listID, tagID)
}
