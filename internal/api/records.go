package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/streamer-sales/sales-gateway/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "storage is not configured", nil)
		return
	}
	msgs, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, http.StatusInternalServerError, "failed to load conversation", err)
		return
	}
	if msgs == nil {
		msgs = []storage.ConversationMessage{}
	}
	h.writeData(w, msgs)
}

func (h *Handler) handlePutConversation(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "storage is not configured", nil)
		return
	}

	var raws []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		h.writeFailure(w, r, http.StatusBadRequest, "conversation must be a list of messages", err)
		return
	}
	msgs := make([]storage.ConversationMessage, 0, len(raws))
	for _, raw := range raws {
		m, err := storage.ParseConversationMessage(raw)
		if err != nil {
			h.writeFailure(w, r, http.StatusBadRequest, err.Error(), err)
			return
		}
		msgs = append(msgs, m)
	}
	storage.SortByIndex(msgs)

	if err := h.store.PutConversation(r.Context(), chi.URLParam(r, "id"), msgs); err != nil {
		h.writeFailure(w, r, http.StatusInternalServerError, "failed to save conversation", err)
		return
	}
	h.writeData(w, msgs)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "storage is not configured", nil)
		return
	}

	opts := storage.ListOptions{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  defaultListLimit,
	}
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= maxListLimit {
			opts.Limit = v
		}
	}
	if q := r.URL.Query().Get("offset"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 0 {
			opts.Offset = v
		}
	}

	recs, err := h.store.ListRequests(r.Context(), opts)
	if err != nil {
		h.writeFailure(w, r, http.StatusInternalServerError, "failed to list requests", err)
		return
	}
	if recs == nil {
		recs = []*storage.RequestRecord{}
	}
	h.writeData(w, recs)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "storage is not configured", nil)
		return
	}
	rec, err := h.store.GetRequest(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		h.storeFailure(w, r, "request", err)
		return
	}
	h.writeData(w, rec)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "storage is not configured", nil)
		return
	}
	id, ok := intParam(r, "id")
	if !ok {
		h.writeFailure(w, r, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.storeFailure(w, r, "user", err)
		return
	}
	h.writeData(w, u)
}

func (h *Handler) storeFailure(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		h.writeFailure(w, r, http.StatusNotFound, what+" not found", err)
		return
	}
	h.writeFailure(w, r, http.StatusInternalServerError, "failed to load "+what, err)
}
