package hub

import (
	"github.com/DoyleJ11/tetris-versus/internal/room"
)

// roomHashed and passwordChecked bring bcrypt results computed off the loop
// back into it. Everything else about the request is re-checked on arrival.
type roomHashed struct {
	PlayerID   string
	RoomID     string
	MaxPlayers int
	Hash       []byte
	Err        error
}

type passwordChecked struct {
	PlayerID string
	Room     *room.Room // carried through the worker untouched
	OK       bool
}

func (roomHashed) isHubMsg()      {}
func (passwordChecked) isHubMsg() {}

// offload runs work on its own goroutine, at most PasswordWorkers at a time,
// and posts the result to the inbox. Results are dropped once the hub stops.
func (h *Hub) offload(work func() HubMsg) {
	go func() {
		if err := h.hashers.Acquire(h.ctx, 1); err != nil {
			return
		}
		m := work()
		h.hashers.Release(1)
		h.Post(m)
	}()
}
