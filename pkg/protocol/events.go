package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind discriminates the payloads carried inside game_state messages.
type EventKind string

const (
	EventSnapshot      EventKind = "game_state"
	EventAttackWarning EventKind = "attack_warning"
	EventAttack        EventKind = "attack"
	EventGameOver      EventKind = "game_over"
	EventGameStart     EventKind = "game_start"
)

var ErrUnknownEvent = errors.New("unknown game event")

type GameEvent interface {
	Kind() EventKind
}

type Piece struct {
	Shape [][]int `json:"shape"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Color int     `json:"color"`
}

// Snapshot is informational only; receivers render it and never resolve
// authority from it.
type Snapshot struct {
	Grid         [][]int `json:"grid"`
	Score        int     `json:"score"`
	Level        int     `json:"level"`
	LinesCleared int     `json:"lines_cleared"`
	CurrentPiece *Piece  `json:"current_piece,omitempty"`
}

type AttackWarning struct {
	AttackID string  `json:"attack_id,omitempty"`
	Lines    int     `json:"lines"`
	Delay    float64 `json:"delay"` // seconds
}

type Attack struct {
	AttackID string `json:"attack_id,omitempty"`
	Lines    int    `json:"lines"`
}

type GameOver struct {
	Result string `json:"result"` // "win" | "lose"
}

type GameStart struct{}

func (Snapshot) Kind() EventKind      { return EventSnapshot }
func (AttackWarning) Kind() EventKind { return EventAttackWarning }
func (Attack) Kind() EventKind        { return EventAttack }
func (GameOver) Kind() EventKind      { return EventGameOver }
func (GameStart) Kind() EventKind     { return EventGameStart }

func EncodeEvent(ev GameEvent) (json.RawMessage, error) {
	if ev == nil {
		return nil, ErrUnknownEvent
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	kind, _ := json.Marshal(ev.Kind())
	fields["event"] = kind
	return json.Marshal(fields)
}

// DecodeEvent reads the game_state payload of m into its concrete event type.
func DecodeEvent(m Message) (GameEvent, error) {
	var head struct {
		Event EventKind `json:"event"`
	}
	if err := json.Unmarshal(m.Data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch head.Event {
	case EventSnapshot:
		return decodeEvent[Snapshot](m)
	case EventAttackWarning:
		return decodeEvent[AttackWarning](m)
	case EventAttack:
		return decodeEvent[Attack](m)
	case EventGameOver:
		return decodeEvent[GameOver](m)
	case EventGameStart:
		return GameStart{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Event)
	}
}

func decodeEvent[T GameEvent](m Message) (GameEvent, error) {
	ev, err := DecodeData[T](m)
	if err != nil {
		return nil, err
	}
	return ev, nil
}
