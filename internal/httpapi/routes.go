package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/partycrab/lobby/internal/catalog"
	"github.com/partycrab/lobby/internal/hub"
	"github.com/partycrab/lobby/internal/ws"
)

func SetupRoutes(h *hub.Hub, lib catalog.Library, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/library", Library(lib))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))
	return r
}
