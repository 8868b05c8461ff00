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

const maxNoteTitleLen = 128

type NoteStore struct {
	db *sql.DB
}

func NewNoteStore(db *sql.DB) *NoteStore {
	return &NoteStore{db: db}
}

// NoteInput carries the writable fields of a note.
type NoteInput struct {
	Title   string
	Content string
	GroupID *int64
	TagIDs  []int64
}

// Validate rejects a note with neither a title nor content.
func (in NoteInput) Validate() error {
	var v model.ValidationError
	if strings.TrimSpace(in.Title) == "" && strings.TrimSpace(in.Content) == "" {
		v.Add("content", "A note needs a title or content.")
	}
	if len([]rune(in.Title)) > maxNoteTitleLen {
		v.Add("title", fmt.Sprintf("Title must be at most %d characters long.", maxNoteTitleLen))
	}
	return v.Err()
}

// NoteFilter narrows List. Nil fields do not filter.
type NoteFilter struct {
	GroupID *int64
	TagID   *int64
}

func scanNote(scanner interface{ Scan(...any) error }) (*model.Note, error) {
	var n model.Note
	var groupID sql.NullInt64
	var title sql.NullString
	var deletedAt sql.NullTime

	err := scanner.Scan(
		&n.ID, &n.UserID, &groupID, &title, &n.Content,
		&n.CreatedAt, &n.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	n.GroupID = int64Ptr(groupID)
	n.Title = title.String
	n.DeletedAt = timePtr(deletedAt)
	n.Tags = []model.Tag{}
	return &n, nil
}

const noteCols = `id, user_id, group_id, title, content, created_at, updated_at, deleted_at`

var noteColumns = []string{
	"notes.id", "notes.user_id", "notes.group_id", "notes.title", "notes.content",
	"notes.created_at", "notes.updated_at", "notes.deleted_at",
}

// Create validates and inserts a note together with its tag links. Nothing is
// written when validation fails.
func (s *NoteStore) Create(ctx context.Context, userID int64, in NoteInput) (*model.Note, error) {
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
		`INSERT INTO notes (user_id, group_id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, nullInt64(in.GroupID), nullString(strings.TrimSpace(in.Title)), in.Content, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := insertTagLinks(ctx, tx, noteTagLinks, id, in.TagIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns a note with its tags, or nil if it does not exist or has
// been soft-deleted.
func (s *NoteStore) GetByID(ctx context.Context, id int64) (*model.Note, error) {
	return s.get(ctx, id, false)
}

// GetDeleted returns a soft-deleted note, or nil.
func (s *NoteStore) GetDeleted(ctx context.Context, id int64) (*model.Note, error) {
	return s.get(ctx, id, true)
}

func (s *NoteStore) get(ctx context.Context, id int64, deleted bool) (*model.Note, error) {
	cond := `deleted_at IS NULL`
	if deleted {
		cond = `deleted_at IS NOT NULL`
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+noteCols+` FROM notes WHERE id = ? AND `+cond, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}

	tags, err := loadTags(ctx, s.db, noteTagLinks, []int64{n.ID})
	if err != nil {
		return nil, err
	}
	if t, ok := tags[n.ID]; ok {
		n.Tags = t
	}
	return n, nil
}

// List returns the owner's live notes, most recently updated first.
func (s *NoteStore) List(ctx context.Context, userID int64, f NoteFilter) ([]model.Note, error) {
	qb := sq.Select(noteColumns...).
		From("notes").
		Where(sq.Eq{"notes.user_id": userID}).
		Where("notes.deleted_at IS NULL")

	if f.GroupID != nil {
		qb = qb.Where(sq.Eq{"notes.group_id": *f.GroupID})
	}
	if f.TagID != nil {
		qb = qb.Join("note_tags ON note_tags.note_id = notes.id").
			Where(sq.Eq{"note_tags.tag_id": *f.TagID})
	}

	query, args, err := qb.OrderBy("notes.updated_at DESC", "notes.id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []model.Note
	var ids []int64
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
		ids = append(ids, n.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	tags, err := loadTags(ctx, s.db, noteTagLinks, ids)
	if err != nil {
		return nil, err
	}
	for i := range notes {
		if t, ok := tags[notes[i].ID]; ok {
			notes[i].Tags = t
		}
	}
	return notes, nil
}

// Update rewrites title, content and group and bumps updated_at. Tags are
// managed through AttachTag and DetachTag.
func (s *NoteStore) Update(ctx context.Context, id int64, in NoteInput) (*model.Note, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, group_id = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		nullString(strings.TrimSpace(in.Title)), in.Content, nullInt64(in.GroupID), now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *NoteStore) SoftDelete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notes SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now(), id,
	)
	if err != nil {
		return fmt.Errorf("soft delete note: %w", err)
	}
	return nil
}

// Restore brings a soft-deleted note back.
func (s *NoteStore) Restore(ctx context.Context, id int64) (*model.Note, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notes SET deleted_at = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL`,
		now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("restore note: %w", err)
	}
	return s.GetByID(ctx, id)
}

// PurgeDeleted hard-deletes notes soft-deleted before the cutoff and returns
// the number removed.
func (s *NoteStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	return purgeDeleted(ctx, s.db, noteTagLinks, before.UTC())
}

// AttachTag links a tag to a note. Attaching an already linked tag is a no-op.
func (s *NoteStore) AttachTag(ctx context.Context, noteID, tagID int64) error {
	return attachTag(ctx, s.db, noteTagLinks, noteID, tagID)
}

func (s *NoteStore) DetachTag(ctx context.Context, noteID, tagID int64) error {
	return detachTag(ctx, s.db, noteTagLinks, noteID, tagID)
}
