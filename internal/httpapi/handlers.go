package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/tetris-versus/internal/hub"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func Stats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, ok := hub.Ask(h, func(reply chan hub.Stats) hub.HubMsg { return hub.GetStats{Reply: reply} })
		if !ok {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func Rooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, ok := hub.Ask(h, func(reply chan []protocol.RoomSummary) hub.HubMsg { return hub.GetRooms{Reply: reply} })
		if !ok {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, protocol.RoomList{Rooms: rooms})
	}
}

func Player(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		view, ok := hub.Ask(h, func(reply chan *hub.PlayerView) hub.HubMsg {
			return hub.GetPlayer{PlayerID: id, Reply: reply}
		})
		switch {
		case !ok:
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		case view == nil:
			http.Error(w, "player not found", http.StatusNotFound)
		default:
			writeJSON(w, http.StatusOK, view)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
