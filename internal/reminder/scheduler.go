// Package reminder emails list owners when a to-do item's reminder time
// passes.
package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/notez/internal/metrics"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
	"github.com/dukerupert/notez/internal/websocket"
)

// Sender delivers one reminder.
type Sender interface {
	SendReminder(ctx context.Context, r model.DueReminder) error
}

// Scheduler periodically sends due to-do reminders.
type Scheduler struct {
	mu       sync.RWMutex
	items    *store.TodoItemStore
	sender   Sender
	hub      *websocket.Hub
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(items *store.TodoItemStore, sender Sender, hub *websocket.Hub, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		items:    items,
		sender:   sender,
		hub:      hub,
		logger:   logger,
		interval: time.Minute,
		now:      time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick sends every reminder that is due now and returns how many were sent.
// A reminder whose email fails stays pending and is retried next tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	at := s.now()
	due, err := s.items.DueReminders(ctx, at)
	if err != nil {
		s.logger.Error("list due reminders", "error", err)
		return 0
	}

	sent := 0
	for _, r := range due {
		if err := s.sender.SendReminder(ctx, r); err != nil {
			s.logger.Error("send reminder", "item_id", r.Item.ID, "user_id", r.UserID, "error", err)
			metrics.RemindersTotal.WithLabelValues("error").Inc()
			continue
		}
		if err := s.items.MarkReminderSent(ctx, r.Item.ID, at); err != nil {
			s.logger.Error("mark reminder sent", "item_id", r.Item.ID, "error", err)
			continue
		}
		metrics.RemindersTotal.WithLabelValues("sent").Inc()
		sent++

		if s.hub != nil {
			s.hub.Send(r.UserID, websocket.NewMessage("todo_item", "reminded", r.Item.ID,
				map[string]any{"todo_list_id": r.Item.TodoListID}))
		}
	}
	if sent > 0 {
		s.logger.Info("reminders sent", "count", sent)
	}
	return sent
}
