package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/notez/internal/model"
)

const maxItemDescriptionLen = 256

type TodoItemStore struct {
	db *sql.DB
}

func NewTodoItemStore(db *sql.DB) *TodoItemStore {
	return &TodoItemStore{db: db}
}

type TodoItemInput struct {
	Description  string
	DueDate      *time.Time
	ReminderTime *time.Time
}

func (in TodoItemInput) Validate() error {
	desc := strings.TrimSpace(in.Description)
	switch {
	case desc == "":
		return model.NewValidationError("description", "Description is required.")
	case len([]rune(desc)) > maxItemDescriptionLen:
		return model.NewValidationError("description", fmt.Sprintf("Description must be at most %d characters long.", maxItemDescriptionLen))
	}
	return nil
}

func scanTodoItem(scanner interface{ Scan(...any) error }) (*model.TodoItem, error) {
	var it model.TodoItem
	var completed int
	var completedAt, dueDate, reminderTime, reminderSentAt sql.NullTime
	err := scanner.Scan(
		&it.ID, &it.TodoListID, &it.Description, &completed, &it.CreatedAt,
		&completedAt, &dueDate, &reminderTime, &reminderSentAt,
	)
	if err != nil {
		return nil, err
	}
	it.IsCompleted = completed != 0
	it.CompletedAt = timePtr(completedAt)
	it.DueDate = timePtr(dueDate)
	it.ReminderTime = timePtr(reminderTime)
	it.ReminderSentAt = timePtr(reminderSentAt)
	return &it, nil
}

const todoItemCols = `id, todo_list_id, description, is_completed, created_at, completed_at, due_date, reminder_time, reminder_sent_at`

// Create adds an item to a live list and bumps the list's updated_at.
// Returns model.ErrNotFound when the list does not exist or has been deleted.
func (s *TodoItemStore) Create(ctx context.Context, listID int64, in TodoItemInput) (*model.TodoItem, error) {
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
		`INSERT INTO todo_items (todo_list_id, description, created_at, due_date, reminder_time)
		 SELECT id, ?, ?, ?, ? FROM todo_lists WHERE id = ? AND deleted_at IS NULL`,
		strings.TrimSpace(in.Description), ts, nullTime(in.DueDate), nullTime(in.ReminderTime), listID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert todo item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, model.ErrNotFound
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := touchList(ctx, tx, id, ts); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

// touchList bumps updated_at on the list that holds item id.
func touchList(ctx context.Context, tx *sql.Tx, itemID int64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE todo_lists SET updated_at = ? WHERE id = (SELECT todo_list_id FROM todo_items WHERE id = ?)`,
		at, itemID,
	)
	if err != nil {
		return fmt.Errorf("touch todo list: %w", err)
	}
	return nil
}

// GetByID returns an item whose list is live, or nil.
func (s *TodoItemStore) GetByID(ctx context.Context, id int64) (*model.TodoItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+todoItemCols+` FROM todo_items
		 WHERE id = ? AND todo_list_id IN (SELECT id FROM todo_lists WHERE deleted_at IS NULL)`,
		id,
	)
	it, err := scanTodoItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get todo item: %w", err)
	}
	return it, nil
}

// ListByList returns the items of a list in creation order.
func (s *TodoItemStore) ListByList(ctx context.Context, listID int64) ([]model.TodoItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+todoItemCols+` FROM todo_items WHERE todo_list_id = ? ORDER BY created_at, id`,
		listID,
	)
	if err != nil {
		return nil, fmt.Errorf("list todo items: %w", err)
	}
	defer rows.Close()

	var items []model.TodoItem
	for rows.Next() {
		it, err := scanTodoItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Update rewrites the item's description and dates. Moving the reminder
// re-arms it.
func (s *TodoItemStore) Update(ctx context.Context, id int64, in TodoItemInput) (*model.TodoItem, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.modify(ctx, id, func(tx *sql.Tx, existing *model.TodoItem) error {
		sentAt := nullTime(existing.ReminderSentAt)
		if !sameTime(existing.ReminderTime, in.ReminderTime) {
			sentAt = sql.NullTime{}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE todo_items SET description = ?, due_date = ?, reminder_time = ?, reminder_sent_at = ? WHERE id = ?`,
			strings.TrimSpace(in.Description), nullTime(in.DueDate), nullTime(in.ReminderTime), sentAt, id,
		)
		if err != nil {
			return fmt.Errorf("update todo item: %w", err)
		}
		return nil
	})
}

// SetCompleted marks an item done or not done. completed_at is set when the
// item first becomes done, never earlier than its created_at, and kept if it
// was already done. An open item has no completed_at.
func (s *TodoItemStore) SetCompleted(ctx context.Context, id int64, done bool) (*model.TodoItem, error) {
	return s.modify(ctx, id, func(tx *sql.Tx, existing *model.TodoItem) error {
		var completedAt sql.NullTime
		switch {
		case done && existing.IsCompleted && existing.CompletedAt != nil:
			completedAt = nullTime(existing.CompletedAt)
		case done:
			ts := now()
			if ts.Before(existing.CreatedAt) {
				ts = existing.CreatedAt.UTC()
			}
			completedAt = sql.NullTime{Time: ts, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE todo_items SET is_completed = ?, completed_at = ? WHERE id = ?`,
			boolInt(done), completedAt, id,
		)
		if err != nil {
			return fmt.Errorf("set completed: %w", err)
		}
		return nil
	})
}

// modify runs write against a live item and touches its list in the same
// transaction. It returns (nil, nil) when the item is missing.
func (s *TodoItemStore) modify(ctx context.Context, id int64, write func(*sql.Tx, *model.TodoItem) error) (*model.TodoItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+todoItemCols+` FROM todo_items
		 WHERE id = ? AND todo_list_id IN (SELECT id FROM todo_lists WHERE deleted_at IS NULL)`,
		id,
	)
	existing, err := scanTodoItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get todo item: %w", err)
	}

	if err := write(tx, existing); err != nil {
		return nil, err
	}
	if err := touchList(ctx, tx, id, now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes the item and touches its list.
func (s *TodoItemStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := touchList(ctx, tx, id, now()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM todo_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete todo item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DueReminders returns open items whose reminder time has passed and that
// have not been reminded yet, along with the owner's contact details.
func (s *TodoItemStore) DueReminders(ctx context.Context, at time.Time) ([]model.DueReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.todo_list_id, i.description, i.is_completed, i.created_at,
		        i.completed_at, i.due_date, i.reminder_time, i.reminder_sent_at,
		        l.title, u.id, u.email, u.first_name
		 FROM todo_items i
		 JOIN todo_lists l ON l.id = i.todo_list_id
		 JOIN users u ON u.id = l.user_id
		 WHERE i.reminder_time IS NOT NULL AND i.reminder_time <= ?
		   AND i.reminder_sent_at IS NULL
		   AND i.is_completed = 0
		   AND l.deleted_at IS NULL
		 ORDER BY i.reminder_time, i.id`,
		at.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var out []model.DueReminder
	for rows.Next() {
		var r model.DueReminder
		var completed int
		var completedAt, dueDate, reminderTime, reminderSentAt sql.NullTime
		err := rows.Scan(
			&r.Item.ID, &r.Item.TodoListID, &r.Item.Description, &completed, &r.Item.CreatedAt,
			&completedAt, &dueDate, &reminderTime, &reminderSentAt,
			&r.ListTitle, &r.UserID, &r.Email, &r.FirstName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due reminder: %w", err)
		}
		r.Item.IsCompleted = completed != 0
		r.Item.CompletedAt = timePtr(completedAt)
		r.Item.DueDate = timePtr(dueDate)
		r.Item.ReminderTime = timePtr(reminderTime)
		r.Item.ReminderSentAt = timePtr(reminderSentAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *TodoItemStore) MarkReminderSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE todo_items SET reminder_sent_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
