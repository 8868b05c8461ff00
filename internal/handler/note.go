package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/notez/internal/auth"
	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
	"github.com/dukerupert/notez/internal/websocket"
)

type NoteHandler struct {
	noteStore *store.NoteStore
	refs      refChecker
	notify    notifier
	logger    *slog.Logger
}

func NewNoteHandler(ns *store.NoteStore, gs *store.GroupStore, ts *store.TagStore, hub *websocket.Hub, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{
		noteStore: ns,
		refs:      refChecker{groups: gs, tags: ts},
		notify:    notifier{hub: hub},
		logger:    logger,
	}
}

type noteRequest struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	GroupID *int64  `json:"group_id"`
	TagIDs  []int64 `json:"tag_ids"`
}

func (req noteRequest) input() store.NoteInput {
	return store.NoteInput{Title: req.Title, Content: req.Content, GroupID: req.GroupID, TagIDs: req.TagIDs}
}

func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	in := req.input()
	if err := in.Validate(); err != nil {
		writePayloadError(w, r, h.logger, err)
		return
	}

	userID := auth.UserID(r.Context())
	if err := h.refs.check(r.Context(), userID, req.GroupID, req.TagIDs); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	note, err := h.noteStore.Create(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(userID, "note", "created", note.ID, nil)
	writeJSON(w, http.StatusCreated, note)
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
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

	notes, err := h.noteStore.List(r.Context(), auth.UserID(r.Context()), store.NoteFilter{GroupID: groupID, TagID: tagID})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if notes == nil {
		notes = []model.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// load fetches a live note and checks that the caller owns it.
func (h *NoteHandler) load(r *http.Request) (*model.Note, error) {
	id, err := parseIDParam(r)
	if err != nil {
		return nil, err
	}
	note, err := h.noteStore.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, model.ErrNotFound
	}
	if err := owned(note.UserID, auth.UserID(r.Context())); err != nil {
		return nil, err
	}
	return note, nil
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	note, err := h.load(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, err := h.load(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	in := req.input()
	if err := in.Validate(); err != nil {
		writePayloadError(w, r, h.logger, err)
		return
	}
	if err := h.refs.check(r.Context(), existing.UserID, req.GroupID, nil); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	note, err := h.noteStore.Update(r.Context(), existing.ID, in)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if note == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}

	h.notify.send(existing.UserID, "note", "updated", note.ID, nil)
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	note, err := h.load(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if err := h.noteStore.SoftDelete(r.Context(), note.ID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(note.UserID, "note", "deleted", note.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *NoteHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	deleted, err := h.noteStore.GetDeleted(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if deleted == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}
	userID := auth.UserID(r.Context())
	if err := owned(deleted.UserID, userID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	note, err := h.noteStore.Restore(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if note == nil {
		writeDomainError(w, r, h.logger, model.ErrNotFound)
		return
	}

	h.notify.send(userID, "note", "restored", note.ID, nil)
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) AttachTag(w http.ResponseWriter, r *http.Request) {
	h.changeTag(w, r, "tagged", h.noteStore.AttachTag)
}

func (h *NoteHandler) DetachTag(w http.ResponseWriter, r *http.Request) {
	h.changeTag(w, r, "untagged", h.noteStore.DetachTag)
}

func (h *NoteHandler) changeTag(w http.ResponseWriter, r *http.Request, action string, apply tagLinkFunc) {
	note, err := h.load(r)
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
	if err := apply(r.Context(), note.ID, tagID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.notify.send(note.UserID, "note", action, note.ID, map[string]any{"tag_id": tagID})
	w.WriteHeader(http.StatusNoContent)
}
