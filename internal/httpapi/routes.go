package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/hub"
	"github.com/DoyleJ11/tetris-versus/internal/ws"
)

func SetupRoutes(h *hub.Hub, wsOpts ws.Options, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(h))
	r.Get("/rooms", Rooms(h))
	r.Get("/players/{id}", Player(h))
	r.Get("/ws", ws.Handler(h, wsOpts, log))
	return r
}
