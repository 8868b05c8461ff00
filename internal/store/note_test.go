package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/notez/internal/model"
)

func setupNoteTest(t *testing.T) (*NoteStore, *UserStore, *TagStore, *GroupStore) {
	t.Helper()
	db := setupTestDB(t)
	return NewNoteStore(db), NewUserStore(db), NewTagStore(db), NewGroupStore(db)
}

func TestNoteCreateRequiresTitleOrContent(t *testing.T) {
	ns, us, _, _ := setupNoteTest(t)
	ctx := context.Background()
	u := createTestUser(t, us, "alice")

	_, err := ns.Create(ctx, u.ID, NoteInput{Title: "", Content: "  "})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	notes, err := ns.List(ctx, u.ID, NoteFilter{})
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("expected no notes persisted, got %d", len(notes))
	}

	for _, in := range []NoteInput{{Title: "only title"}, {Content: "only content"}} {
		if _, err := ns.Create(ctx, u.ID, in); err != nil {
			t.Errorf("create %+v: %v", in, err)
		}
	}
}

func TestNoteCRUD(t *testing.T) {
	ns, us, _, gs := setupNoteTest(t)
	ctx := context.Background()
	u := createTestUser(t, us, "alice")
	g, _ := gs.Create(ctx, u.ID, "Work", "")

	note, err := ns.Create(ctx, u.ID, NoteInput{Title: "Test Note", Content: "body", GroupID: &g.ID})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	if note.Title != "Test Note" {
		t.Errorf("title = %q, want %q", note.Title, "Test Note")
	}
	if note.UserID != u.ID {
		t.Errorf("user_id = %d, want %d", note.UserID, u.ID)
	}
	if note.GroupID == nil || *note.GroupID != g.ID {
		t.Errorf("group_id = %v, want %d", note.GroupID, g.ID)
	}
	if note.Tags == nil {
		t.Error("expected empty, non-nil tags")
	}

	updated, err := ns.Update(ctx, note.ID, NoteInput{Title: "Renamed", Content: "new body"})
	if err != nil {
		t.Fatalf("update note: %v", err)
	}
	if updated.Title != "Renamed" || updated.Content != "new body" {
		t.Errorf("updated = %q/%q", updated.Title, updated.Content)
	}
	if updated.GroupID != nil {
		t.Errorf("group_id = %v, want nil", updated.GroupID)
	}
	if !updated.UpdatedAt.After(note.UpdatedAt) {
		t.Error("expected updated_at to advance")
	}

	if err := ns.SoftDelete(ctx, note.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, err := ns.GetByID(ctx, note.ID)
	if err != nil {
		t.Fatalf("get deleted note: %v", err)
	}
	if got != nil {
		t.Error("soft-deleted note should be hidden from GetByID")
	}
	if got, _ := ns.GetDeleted(ctx, note.ID); got == nil || got.DeletedAt == nil {
		t.Error("expected GetDeleted to return the note with deleted_at set")
	}

	restored, err := ns.Restore(ctx, note.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored == nil || restored.DeletedAt != nil {
		t.Errorf("restored = %+v, want live note", restored)
	}
}

func TestNoteListOwnerOnlyNewestFirst(t *testing.T) {
	ns, us, _, _ := setupNoteTest(t)
	ctx := context.Background()
	alice := createTestUser(t, us, "alice")
	bob := createTestUser(t, us, "bobby")

	first, _ := ns.Create(ctx, alice.ID, NoteInput{Title: "first"})
	ns.Create(ctx, alice.ID, NoteInput{Title: "second"})
	ns.Create(ctx, alice.ID, NoteInput{Title: "third"})
	ns.Create(ctx, bob.ID, NoteInput{Title: "bob's"})
	deleted, _ := ns.Create(ctx, alice.ID, NoteInput{Title: "deleted"})
	ns.SoftDelete(ctx, deleted.ID)

	// Editing the oldest note moves it to the front.
	if _, err := ns.Update(ctx, first.ID, NoteInput{Title: "first", Content: "edited"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	notes, err := ns.List(ctx, alice.ID, NoteFilter{})
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	want := []string{"first", "third", "second"}
	if len(notes) != len(want) {
		t.Fatalf("got %d notes, want %d", len(notes), len(want))
	}
	for i, w := range want {
		if notes[i].Title != w {
			t.Errorf("notes[%d].Title = %q, want %q", i, notes[i].Title, w)
		}
		if notes[i].UserID != alice.ID {
			t.Errorf("notes[%d] belongs to %d", i, notes[i].UserID)
		}
	}
}

func TestNoteListFilters(t *testing.T) {
	ns, us, ts, gs := setupNoteTest(t)
	ctx := context.Background()
	u := createTestUser(t, us, "alice")
	g, _ := gs.Create(ctx, u.ID, "Work", "")
	tag, _ := ts.Create(ctx, "urgent", nil)

	ns.Create(ctx, u.ID, NoteInput{Title: "grouped", GroupID: &g.ID})
	ns.Create(ctx, u.ID, NoteInput{Title: "tagged", TagIDs: []int64{tag.ID}})
	ns.Create(ctx, u.ID, NoteInput{Title: "plain"})

	byGroup, err := ns.List(ctx, u.ID, NoteFilter{GroupID: &g.ID})
	if err != nil {
		t.Fatalf("list by group: %v", err)
	}
	if len(byGroup) != 1 || byGroup[0].Title != "grouped" {
		t.Errorf("by group = %+v", byGroup)
	}

	byTag, err := ns.List(ctx, u.ID, NoteFilter{TagID: &tag.ID})
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(byTag) != 1 || byTag[0].Title != "tagged" {
		t.Fatalf("by tag = %+v", byTag)
	}
	if len(byTag[0].Tags) != 1 || byTag[0].Tags[0].Name != "urgent" {
		t.Errorf("tags = %+v, want [urgent]", byTag[0].Tags)
	}
}

func TestNoteAttachTagIdempotent(t *testing.T) {
	ns, us, ts, _ := setupNoteTest(t)
	ctx := context.Background()
	u := createTestUser(t, us, "alice")
	tag, _ := ts.Create(ctx, "ideas", nil)
	note, _ := ns.Create(ctx, u.ID, NoteInput{Title: "n"})

	for i := 0; i < 3; i++ {
		if err := ns.AttachTag(ctx, note.ID, tag.ID); err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}
	got, _ := ns.GetByID(ctx, note.ID)
	if len(got.Tags) != 1 {
		t.Fatalf("tags = %d, want 1", len(got.Tags))
	}

	if err := ns.DetachTag(ctx, note.ID, tag.ID); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := ns.DetachTag(ctx, note.ID, tag.ID); err != nil {
		t.Fatalf("second detach: %v", err)
	}
	got, _ = ns.GetByID(ctx, note.ID)
	if len(got.Tags) != 0 {
		t.Errorf("tags = %d, want 0", len(got.Tags))
	}
}

func TestNotePurgeDeleted(t *testing.T) {
	ns, us, ts, _ := setupNoteTest(t)
	ctx := context.Background()
	u := createTestUser(t, us, "alice")
	tag, _ := ts.Create(ctx, "old", nil)

	stale, _ := ns.Create(ctx, u.ID, NoteInput{Title: "stale", TagIDs: []int64{tag.ID}})
	ns.SoftDelete(ctx, stale.ID)
	live, _ := ns.Create(ctx, u.ID, NoteInput{Title: "live"})

	n, err := ns.PurgeDeleted(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if got, _ := ns.GetDeleted(ctx, stale.ID); got != nil {
		t.Error("stale note should be gone")
	}
	if got, _ := ns.GetByID(ctx, live.ID); got == nil {
		t.Error("live note should survive purge")
	}

	// A cutoff in the past leaves recent trash alone.
	recent, _ := ns.Create(ctx, u.ID, NoteInput{Title: "recent"})
	ns.SoftDelete(ctx, recent.ID)
	n, _ = ns.PurgeDeleted(ctx, time.Now().Add(-time.Hour))
	if n != 0 {
		t.Errorf("purged %d, want 0", n)
	}
}
