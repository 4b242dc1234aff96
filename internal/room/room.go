package room

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

var (
	ErrFull          = errors.New("room is full")
	ErrAlreadyMember = errors.New("already a member")
	ErrNoCapacity    = errors.New("room capacity must be positive")
)

const DefaultMaxPlayers = 2

// Room is a membership container for one match. It is not safe for
// concurrent use; the hub goroutine owns every Room.
type Room struct {
	ID         string
	MaxPlayers int
	CreatedAt  time.Time

	passwordHash []byte
	members      []string // player ids in join order
}

// New builds an empty room. A nil passwordHash leaves the room open; build
// one with HashPassword.
func New(id string, passwordHash []byte, maxPlayers int, now time.Time) (*Room, error) {
	if maxPlayers <= 0 {
		return nil, ErrNoCapacity
	}
	return &Room{ID: id, MaxPlayers: maxPlayers, CreatedAt: now, passwordHash: passwordHash}, nil
}

// HashPassword runs bcrypt; call it off the hub goroutine. The
// password is run through SHA-256 first so bcrypt's 72 byte limit never
// applies.
func HashPassword(password string, cost int) ([]byte, error) {
	if password == "" {
		return nil, nil
	}
	return bcrypt.GenerateFromPassword(prehash(password), cost)
}

// VerifyPassword reports whether password matches hash. An empty hash
// matches anything. Like HashPassword it is slow.
func VerifyPassword(hash []byte, password string) bool {
	if len(hash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(hash, prehash(password)) == nil
}

func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

func (r *Room) HasPassword() bool { return len(r.passwordHash) > 0 }

// PasswordHash is safe to hand to another goroutine; it is never mutated.
func (r *Room) PasswordHash() []byte { return r.passwordHash }

func (r *Room) Add(playerID string) error {
	if r.Has(playerID) {
		return ErrAlreadyMember
	}
	if r.IsFull() {
		return ErrFull
	}
	r.members = append(r.members, playerID)
	return nil
}

func (r *Room) Remove(playerID string) bool {
	i := slices.Index(r.members, playerID)
	if i < 0 {
		return false
	}
	r.members = slices.Delete(r.members, i, i+1)
	return true
}

func (r *Room) Has(playerID string) bool { return slices.Contains(r.members, playerID) }

func (r *Room) Members() []string { return slices.Clone(r.members) }

func (r *Room) Len() int { return len(r.members) }

func (r *Room) IsFull() bool { return len(r.members) >= r.MaxPlayers }

func (r *Room) IsEmpty() bool { return len(r.members) == 0 }

// Summary describes the room for list_rooms. names are the display names of
// Members, in the same order; the room only knows player ids.
func (r *Room) Summary(names []string) protocol.RoomSummary {
	return protocol.RoomSummary{
		RoomID:      r.ID,
		Name:        r.ID,
		Players:     names,
		MaxPlayers:  r.MaxPlayers,
		HasPassword: r.HasPassword(),
	}
}
