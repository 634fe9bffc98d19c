package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Chat    bool   `json:"chat"`
	Catalog bool   `json:"catalog"`
	Storage bool   `json:"storage"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, healthResponse{
		Status:  "ok",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Chat:    h.chat != nil,
		Catalog: h.catalog != nil,
		Storage: h.store != nil,
	})
}
