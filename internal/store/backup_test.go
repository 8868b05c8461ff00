package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/notez/internal/model"
)

func TestBackupLifecycle(t *testing.T) {
	bs := NewBackupStore(setupTestDB(t))
	ctx := context.Background()

	b, err := bs.Create(ctx, "backup-1.db.enc", "backups/backup-1.db.enc")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if b.Status != model.BackupStatusPending {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusPending)
	}

	if err := bs.UpdateStatus(ctx, b.ID, model.BackupStatusFailed, "boom"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := bs.GetByID(ctx, b.ID)
	if got.Status != model.BackupStatusFailed || got.ErrorMessage != "boom" {
		t.Errorf("backup = %+v", got)
	}

	if err := bs.UpdateCompleted(ctx, b.ID, 2048); err != nil {
		t.Fatalf("update completed: %v", err)
	}
	got, _ = bs.GetByID(ctx, b.ID)
	if got.Status != model.BackupStatusCompleted || got.SizeBytes != 2048 || got.CompletedAt == nil {
		t.Errorf("backup = %+v", got)
	}

	list, err := bs.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d backups, want 1", len(list))
	}
}

func TestBackupDeleteOlderThan(t *testing.T) {
	bs := NewBackupStore(setupTestDB(t))
	ctx := context.Background()

	bs.Create(ctx, "a", "k/a")
	bs.Create(ctx, "b", "k/b")

	keys, err := bs.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("deleted %v, want nothing", keys)
	}

	keys, err = bs.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("deleted %v, want 2 keys", keys)
	}
}
