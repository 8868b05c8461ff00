package model

import "time"

type TodoList struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	GroupID   *int64     `json:"group_id"`
	Title     string     `json:"title"`
	Tags      []Tag      `json:"tags"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type TodoItem struct {
	ID             int64      `json:"id"`
	TodoListID     int64      `json:"todo_list_id"`
	Description    string     `json:"description"`
	IsCompleted    bool       `json:"is_completed"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	DueDate        *time.Time `json:"due_date"`
	ReminderTime   *time.Time `json:"reminder_time"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
}

// DueReminder is a pending reminder joined with the data needed to send it.
type DueReminder struct {
	Item      TodoItem
	ListTitle string
	UserID    int64
	Email     string
	FirstName string
}
