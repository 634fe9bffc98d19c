package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/streamer-sales/sales-gateway/internal/catalog"
)

func (h *Handler) handleListStreamers(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "catalog is not configured", nil)
		return
	}
	h.writeData(w, h.catalog.Streamers())
}

func (h *Handler) handleGetStreamer(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "catalog is not configured", nil)
		return
	}
	id, ok := intParam(r, "id")
	if !ok {
		h.writeFailure(w, r, http.StatusBadRequest, "invalid streamer id", nil)
		return
	}
	s, err := h.catalog.Streamer(int(id))
	if err != nil {
		h.catalogFailure(w, r, "streamer", err)
		return
	}
	h.writeData(w, s)
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "catalog is not configured", nil)
		return
	}
	h.writeData(w, h.catalog.Rooms())
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "catalog is not configured", nil)
		return
	}
	id, ok := intParam(r, "id")
	if !ok {
		h.writeFailure(w, r, http.StatusBadRequest, "invalid room id", nil)
		return
	}
	room, err := h.catalog.Room(int(id))
	if err != nil {
		h.catalogFailure(w, r, "room", err)
		return
	}
	h.writeData(w, room)
}

func (h *Handler) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "catalog is not configured", nil)
		return
	}
	id, ok := intParam(r, "id")
	if !ok {
		h.writeFailure(w, r, http.StatusBadRequest, "invalid room id", nil)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var room catalog.Room
	if err := dec.Decode(&room); err != nil || room == nil {
		h.writeFailure(w, r, http.StatusBadRequest, "invalid room document", err)
		return
	}
	if room.ID() != int(id) {
		h.writeFailure(w, r, http.StatusBadRequest, "room_id does not match path", nil)
		return
	}

	if err := h.catalog.UpdateRoom(int(id), room); err != nil {
		h.catalogFailure(w, r, "room", err)
		return
	}
	h.writeData(w, room)
}

func (h *Handler) handleGetPromptBase(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeFailure(w, r, http.StatusServiceUnavailable, "catalog is not configured", nil)
		return
	}
	doc, err := h.catalog.PromptBase()
	if err != nil {
		h.catalogFailure(w, r, "prompt base", err)
		return
	}
	h.writeData(w, doc)
}

func (h *Handler) catalogFailure(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		h.writeFailure(w, r, http.StatusNotFound, what+" not found", err)
		return
	}
	h.writeFailure(w, r, http.StatusInternalServerError, "failed to access "+what, err)
}
