package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
)

type TagHandler struct {
	tagStore *store.TagStore
	logger   *slog.Logger
}

func NewTagHandler(ts *store.TagStore, logger *slog.Logger) *TagHandler {
	return &TagHandler{tagStore: ts, logger: logger}
}

type tagRequest struct {
	Name   string `json:"name"`
	Global bool   `json:"global"`
}

// Create adds a tag owned by the caller, or a global tag when requested.
func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	var owner *int64
	if !req.Global {
		userID := auth.UserID(r.Context())
		owner = &userID
	}

	tag, err := h.tagStore.Create(r.Context(), req.Name, owner)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// List returns the global tags and the caller's own tags.
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tagStore.ListVisible(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if tags == nil {
		tags = []model.Tag{}
	}
	writeJSON(w, http.StatusOK, tags)
}

// Delete removes one of the caller's tags. Global tags cannot be deleted
// through the API.
func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	tag, err := h.tagStore.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if tag == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}
	if tag.Global() || *tag.UserID != auth.UserID(r.Context()) {
		writeDomainError(w, r, h.logger, model.ErrUnauthorized)
		return
	}

	if err := h.tagStore.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
