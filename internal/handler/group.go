package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
	"github.com/dukerupert/notez/internal/websocket"
)

type GroupHandler struct {
	groupStore *store.GroupStore
	notify     notifier
	logger     *slog.Logger
}

func NewGroupHandler(gs *store.GroupStore, hub *websocket.Hub, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{groupStore: gs, notify: notifier{hub: hub}, logger: logger}
}

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	userID := auth.UserID(r.Context())
	group, err := h.groupStore.Create(r.Context(), userID, req.Name, req.Description)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(userID, "group", "created", group.ID, nil)
	writeJSON(w, http.StatusCreated, group)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groupStore.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) load(r *http.Request) (*model.Group, error) {
	id, err := parseIDParam(r)
	if err != nil {
		return nil, err
	}
	group, err := h.groupStore.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, model.ErrNotFound
	}
	if err := owned(group.UserID, auth.UserID(r.Context())); err != nil {
		return nil, err
	}
	return group, nil
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.load(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, err := h.load(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	group, err := h.groupStore.Update(r.Context(), existing.ID, req.Name, req.Description)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if group == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}

	h.notify.send(existing.UserID, "group", "updated", group.ID, nil)
	writeJSON(w, http.StatusOK, group)
}

// Delete soft-deletes the group; its notes and lists stay, ungrouped.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	group, err := h.load(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if err := h.groupStore.SoftDelete(r.Context(), group.ID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(group.UserID, "group", "deleted", group.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}
