package room

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRoom(t *testing.T, password string, maxPlayers int) *Room {
	t.Helper()
	hash, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	r, err := New("r1", hash, maxPlayers, time.Now())
	require.NoError(t, err)
	return r
}

func TestRoom_CapacityNeverExceeded(t *testing.T) {
	for _, maxPlayers := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("max=%d", maxPlayers), func(t *testing.T) {
			r := newRoom(t, "", maxPlayers)
			for i := 0; i < maxPlayers; i++ {
				require.NoError(t, r.Add(fmt.Sprintf("p%d", i)))
				assert.LessOrEqual(t, r.Len(), r.MaxPlayers)
			}
			assert.True(t, r.IsFull())

			err := r.Add("late")
			assert.ErrorIs(t, err, ErrFull)
			assert.Equal(t, maxPlayers, r.Len())
		})
	}
}

func TestRoom_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := New("r1", nil, 0, time.Now())
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestRoom_RemoveKeepsOrderAndReopens(t *testing.T) {
	r := newRoom(t, "", 3)
	require.NoError(t, r.Add("a"))
	require.NoError(t, r.Add("b"))
	require.NoError(t, r.Add("c"))

	assert.True(t, r.Remove("b"))
	assert.False(t, r.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, r.Members())
	assert.False(t, r.IsFull())

	r.Remove("a")
	r.Remove("c")
	assert.True(t, r.IsEmpty())
}

func TestRoom_DuplicateAdd(t *testing.T) {
	r := newRoom(t, "", 2)
	require.NoError(t, r.Add("a"))
	assert.ErrorIs(t, r.Add("a"), ErrAlreadyMember)
	assert.Equal(t, 1, r.Len())
}

func TestRoom_PasswordIsHashed(t *testing.T) {
	r := newRoom(t, "hunter2", 2)
	assert.True(t, r.HasPassword())
	assert.NotEqual(t, "hunter2", string(r.passwordHash))

	assert.False(t, VerifyPassword(r.PasswordHash(), "wrong"))
	assert.False(t, VerifyPassword(r.PasswordHash(), ""))
	assert.True(t, VerifyPassword(r.PasswordHash(), "hunter2"))
}

func TestRoom_LongPasswords(t *testing.T) {
	long := strings.Repeat("x", 80)
	r := newRoom(t, long, 2)
	assert.True(t, VerifyPassword(r.PasswordHash(), long))
	// bcrypt alone would ignore everything past byte 72
	assert.False(t, VerifyPassword(r.PasswordHash(), strings.Repeat("x", 79)+"y"))
}

func TestRoom_OpenRoomIgnoresPassword(t *testing.T) {
	r := newRoom(t, "", 2)
	assert.False(t, r.HasPassword())
	assert.True(t, VerifyPassword(r.PasswordHash(), "anything"))
}

func TestRoom_MembersIsACopy(t *testing.T) {
	r := newRoom(t, "", 2)
	require.NoError(t, r.Add("a"))
	m := r.Members()
	m[0] = "mutated"
	assert.True(t, r.Has("a"))
}

func TestRoom_Summary(t *testing.T) {
	r := newRoom(t, "secret", 2)
	require.NoError(t, r.Add("p1"))
	s := r.Summary([]string{"alice"})
	assert.Equal(t, "r1", s.RoomID)
	assert.Equal(t, []string{"alice"}, s.Players)
	assert.Equal(t, 2, s.MaxPlayers)
	assert.True(t, s.HasPassword)
}
