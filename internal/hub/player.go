package hub

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Session is the hub's handle on one transport connection. Both methods must
// return without blocking: Send reports false when the outbox is full or
// closed, and Close only signals the transport to tear the connection down.
type Session interface {
	Send(payload []byte) bool
	Close()
	RemoteAddr() string
}

type Player struct {
	ID            string
	Name          string
	RoomID        string
	Connected     bool
	LastSeen      time.Time
	Timeout       time.Duration
	Transport     string
	EchoHeartbeat bool

	sess Session
}

// PlayerView is a read-only copy handed out of the hub goroutine.
type PlayerView struct {
	ID        string    `json:"player_id"`
	Name      string    `json:"name"`
	RoomID    string    `json:"room_id,omitempty"`
	Transport string    `json:"transport"`
	Remote    string    `json:"remote"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

func (p *Player) view() PlayerView {
	return PlayerView{
		ID:        p.ID,
		Name:      p.Name,
		RoomID:    p.RoomID,
		Transport: p.Transport,
		Remote:    p.sess.RemoteAddr(),
		Connected: p.Connected,
		LastSeen:  p.LastSeen,
	}
}

const maxNameRunes = 32

// sanitizeName folds full-width ASCII, normalises to NFC, strips control
// characters and caps the length. An empty result falls back to fallback.
func sanitizeName(raw, fallback string) string {
	s := norm.NFC.String(width.Fold.String(strings.TrimSpace(raw)))
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if r := []rune(s); len(r) > maxNameRunes {
		s = string(r[:maxNameRunes])
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}
