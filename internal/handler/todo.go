package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
	"github.com/dukerupert/notez/internal/websocket"
)

// TodoHandler serves to-do lists and the items nested under them.
type TodoHandler struct {
	lists  *store.TodoListStore
	items  *store.TodoItemStore
	refs   refChecker
	notify notifier
	logger *slog.Logger
}

func NewTodoHandler(ls *store.TodoListStore, is *store.TodoItemStore, gs *store.GroupStore, ts *store.TagStore, hub *websocket.Hub, logger *slog.Logger) *TodoHandler {
	return &TodoHandler{
		lists:  ls,
		items:  is,
		refs:   refChecker{groups: gs, tags: ts},
		notify: notifier{hub: hub},
		logger: logger,
	}
}

type todoListRequest struct {
	Title   string  `json:"title"`
	GroupID *int64  `json:"group_id"`
	TagIDs  []int64 `json:"tag_ids"`
}

func (req todoListRequest) input() store.TodoListInput {
	return store.TodoListInput{Title: req.Title, GroupID: req.GroupID, TagIDs: req.TagIDs}
}

func (h *TodoHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req todoListRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	in := req.input()
	if err := in.Validate(); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	userID := auth.UserID(r.Context())
	if err := h.refs.check(r.Context(), userID, req.GroupID, req.TagIDs); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	list, err := h.lists.Create(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(userID, "todo_list", "created", list.ID, nil)
	writeJSON(w, http.StatusCreated, list)
}

func (h *TodoHandler) ListLists(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseQueryID(r, "group_id")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	tagID, err := parseQueryID(r, "tag_id")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	lists, err := h.lists.List(r.Context(), auth.UserID(r.Context()), store.TodoListFilter{GroupID: groupID, TagID: tagID})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if lists == nil {
		lists = []model.TodoList{}
	}
	writeJSON(w, http.StatusOK, lists)
}

func (h *TodoHandler) loadList(r *http.Request) (*model.TodoList, error) {
	id, err := parseIDParam(r)
	if err != nil {
		return nil, err
	}
	list, err := h.lists.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, model.ErrNotFound
	}
	if err := owned(list.UserID, auth.UserID(r.Context())); err != nil {
		return nil, err
	}
	return list, nil
}

type todoListDetail struct {
	*model.TodoList
	Items []model.TodoItem `json:"items"`
}

// GetList returns the list with its items.
func (h *TodoHandler) GetList(w http.ResponseWriter, r *http.Request) {
	list, err := h.loadList(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	items, err := h.items.ListByList(r.Context(), list.ID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []model.TodoItem{}
	}
	writeJSON(w, http.StatusOK, todoListDetail{TodoList: list, Items: items})
}

func (h *TodoHandler) UpdateList(w http.ResponseWriter, r *http.Request) {
	existing, err := h.loadList(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var req todoListRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	in := req.input()
	if err := in.Validate(); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.refs.check(r.Context(), existing.UserID, req.GroupID, nil); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	list, err := h.lists.Update(r.Context(), existing.ID, in)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if list == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}

	h.notify.send(existing.UserID, "todo_list", "updated", list.ID, nil)
	writeJSON(w, http.StatusOK, list)
}

func (h *TodoHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	list, err := h.loadList(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if err := h.lists.SoftDelete(r.Context(), list.ID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(list.UserID, "todo_list", "deleted", list.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *TodoHandler) AttachTag(w http.ResponseWriter, r *http.Request) {
	h.changeTag(w, r, "tagged", h.lists.AttachTag)
}

func (h *TodoHandler) DetachTag(w http.ResponseWriter, r *http.Request) {
	h.changeTag(w, r, "untagged", h.lists.DetachTag)
}

func (h *TodoHandler) changeTag(w http.ResponseWriter, r *http.Request, action string, apply tagLinkFunc) {
	list, err := h.loadList(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	tagID, err := parsePathID(r, "tag_id")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.refs.tagExists(r.Context(), tagID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := apply(r.Context(), list.ID, tagID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(list.UserID, "todo_list", action, list.ID, map[string]any{"tag_id": tagID})
	w.WriteHeader(http.StatusNoContent)
}

type todoItemRequest struct {
	Description  string     `json:"description"`
	DueDate      *time.Time `json:"due_date"`
	ReminderTime *time.Time `json:"reminder_time"`
}

func (req todoItemRequest) input() store.TodoItemInput {
	return store.TodoItemInput{Description: req.Description, DueDate: req.DueDate, ReminderTime: req.ReminderTime}
}

func (h *TodoHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	list, err := h.loadList(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var req todoItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	item, err := h.items.Create(r.Context(), list.ID, req.input())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(list.UserID, "todo_item", "created", item.ID, map[string]any{"todo_list_id": list.ID})
	writeJSON(w, http.StatusCreated, item)
}

func (h *TodoHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	list, err := h.loadList(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	items, err := h.items.ListByList(r.Context(), list.ID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []model.TodoItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// loadItem resolves {id}/items/{item_id}. An item that belongs to a
// different list is reported as missing.
func (h *TodoHandler) loadItem(r *http.Request) (*model.TodoList, *model.TodoItem, error) {
	list, err := h.loadList(r)
	if err != nil {
		return nil, nil, err
	}
	itemID, err := parsePathID(r, "item_id")
	if err != nil {
		return nil, nil, err
	}
	item, err := h.items.GetByID(r.Context(), itemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil || item.TodoListID != list.ID {
		return nil, nil, model.ErrNotFound
	}
	return list, item, nil
}

func (h *TodoHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	list, existing, err := h.loadItem(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var req todoItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	item, err := h.items.Update(r.Context(), existing.ID, req.input())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if item == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}

	h.notify.send(list.UserID, "todo_item", "updated", item.ID, map[string]any{"todo_list_id": list.ID})
	writeJSON(w, http.StatusOK, item)
}

func (h *TodoHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	list, item, err := h.loadItem(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if err := h.items.Delete(r.Context(), item.ID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(list.UserID, "todo_item", "deleted", item.ID, map[string]any{"todo_list_id": list.ID})
	w.WriteHeader(http.StatusNoContent)
}

type completeRequest struct {
	Completed *bool `json:"completed"`
}

// Complete marks an item done or reopens it.
func (h *TodoHandler) Complete(w http.ResponseWriter, r *http.Request) {
	list, existing, err := h.loadItem(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Completed == nil {
		badRequest(w, "completed is required")
		return
	}

	item, err := h.items.SetCompleted(r.Context(), existing.ID, *req.Completed)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if item == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}

	action := "reopened"
	if item.IsCompleted {
		action = "completed"
	}
	h.notify.send(list.UserID, "todo_item", action, item.ID, map[string]any{"todo_list_id": list.ID})
	writeJSON(w, http.StatusOK, item)
}
