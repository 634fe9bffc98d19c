// Package api exposes the chat stream and the JSON endpoints the streamer
// frontend uses.
//
// Every JSON endpoint answers with the same envelope:
//
//	{
//	  "success": true,
//	  "code": 0,            // 1000 on failure
//	  "message": "success",
//	  "data": ...,
//	  "timestamp": "2006-01-02 15:04:05"
//	}
//
// The chat endpoint streams one "data: <event json>\n\n" frame per pipeline
// event and closes after the event with end_flag set.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamer-sales/sales-gateway/internal/catalog"
	"github.com/streamer-sales/sales-gateway/internal/domain"
	"github.com/streamer-sales/sales-gateway/internal/server"
	"github.com/streamer-sales/sales-gateway/internal/storage"
)

// ChatStreamer runs one chat request.
type ChatStreamer interface {
	Stream(ctx context.Context, item *domain.ChatItem) <-chan domain.Event
}

// Catalog reads and edits streamer and room documents and reads the prompt
// base document.
type Catalog interface {
	Streamers() []catalog.Streamer
	Streamer(id int) (catalog.Streamer, error)
	Rooms() []catalog.Room
	Room(id int) (catalog.Room, error)
	UpdateRoom(id int, room catalog.Room) error
	PromptBase() (map[string]any, error)
}

// Config wires the handler's collaborators. Nil collaborators make their
// endpoints answer 503.
type Config struct {
	Chat    ChatStreamer
	Catalog Catalog
	Store   storage.Store
	Logger  *slog.Logger
	// RequestTimeout bounds the JSON endpoints. The chat stream is not bounded.
	RequestTimeout time.Duration
}

type Handler struct {
	chat           ChatStreamer
	catalog        Catalog
	store          storage.Store
	logger         *slog.Logger
	requestTimeout time.Duration
	started        time.Time
	now            func() time.Time
}

func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:           cfg.Chat,
		catalog:        cfg.Catalog,
		store:          cfg.Store,
		logger:         logger,
		requestTimeout: cfg.RequestTimeout,
		started:        time.Now(),
		now:            time.Now,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/streamer-sales/chat", h.handleChat)

	r.Group(func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(h.requestTimeout))

		r.Get("/healthz", h.handleHealth)

		r.Get("/streamer/info", h.handleListStreamers)
		r.Get("/streamer/info/{id}", h.handleGetStreamer)

		r.Get("/streaming-room/info", h.handleListRooms)
		r.Get("/streaming-room/info/{id}", h.handleGetRoom)
		r.Put("/streaming-room/info/{id}", h.handleUpdateRoom)

		r.Get("/prompt-base/info", h.handleGetPromptBase)

		r.Get("/conversation/{id}", h.handleGetConversation)
		r.Put("/conversation/{id}", h.handlePutConversation)

		r.Get("/requests", h.handleListRequests)
		r.Get("/requests/{request_id}", h.handleGetRequest)

		r.Get("/user/info/{id}", h.handleGetUser)
	})
}
