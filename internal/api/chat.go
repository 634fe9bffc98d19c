package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/streamer-sales/sales-gateway/internal/domain"
	"github.com/streamer-sales/sales-gateway/internal/server"
)

// maxChatBody bounds the decoded chat request.
const maxChatBody = 1 << 20

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "chat is not configured", nil)
		return
	}

	item := domain.NewChatItem()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(item); err != nil {
		h.writeFailure(w, r, http.StatusBadRequest, "invalid chat request", err)
		return
	}
	if len(item.Prompt) == 0 {
		h.writeFailure(w, r, http.StatusBadRequest, "prompt is empty", errors.New("empty prompt"))
		return
	}
	if item.RequestID == "" {
		item.RequestID = uuid.New().String()
	}
	if err := domain.ValidateRequestID(item.RequestID); err != nil {
		h.writeFailure(w, r, http.StatusBadRequest, "invalid request_id", err)
		return
	}
	server.AddLogField(r.Context(), "chat_request_id", item.RequestID)
	server.AddLogField(r.Context(), "user_id", item.UserID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeFailure(w, r, http.StatusInternalServerError, "streaming not supported", fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var (
		last     domain.Event
		writeErr error
	)
	// Keep draining after a write error so the pipeline goroutine can finish;
	// the disconnect has already cancelled r.Context().
	for ev := range h.chat.Stream(r.Context(), item) {
		last = ev
		if writeErr != nil {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			writeErr = err
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			writeErr = err
			continue
		}
		flusher.Flush()
	}

	if last.Failed {
		server.AddLogField(r.Context(), "pipeline_error", last.Error)
	}
	if writeErr != nil {
		server.AddError(r.Context(), writeErr)
	}
}
