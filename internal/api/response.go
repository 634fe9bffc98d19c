package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/streamer-sales/sales-gateway/internal/server"
)

// Envelope codes.
const (
	CodeSuccess = 0
	CodeFailure = 1000
)

// TimestampLayout formats Envelope.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Envelope wraps every JSON response.
type Envelope struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) writeData(w http.ResponseWriter, data any) {
	h.writeEnvelope(w, http.StatusOK, Envelope{
		Success: true,
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// writeFailure answers with a failure envelope. err, when set, is logged
// with the request but only message reaches the client.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	server.AddError(r.Context(), err)
	h.writeEnvelope(w, status, Envelope{
		Code:    CodeFailure,
		Message: message,
	})
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	env.Timestamp = h.now().Format(TimestampLayout)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// intParam reads a non-negative integer path parameter.
func intParam(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
