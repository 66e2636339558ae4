package engine

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrNotPlayerTurn = errors.New("not player's turn")
var ErrNoSuchAction = errors.New("no such action")
var ErrIncorrectActionData = errors.New("incorrect action data")
var ErrIncorrectMove = errors.New("incorrect move")

// State is an opaque, game-specific value. It is marshalled into the
// game-state member of notifications, so implementations must treat it as
// immutable and return a fresh value from Apply.
type State any

// Hint is what a game reports after a player joins.
type Hint int

const (
	HintWaiting Hint = iota // not enough players yet
	HintReady               // enough players, match may begin
	HintStarted             // enough players, match is already underway
)

// Action is a game-specific move submitted by a player.
type Action struct {
	Name string
	Data json.RawMessage
}

// Outcome is the result of a successfully applied action.
type Outcome struct {
	State  State
	Result any // returned to the acting player, nil means {}
	Done   bool
	Winner string // empty on a draw
}

// Rules is the pluggable rules engine for one game.
type Rules interface {
	MinPlayers() int
	MaxPlayers() int
	// OnPlayerJoined is called with the full roster in seat order after every join.
	OnPlayerJoined(players []string) (Hint, State)
	// Turn returns the name of the player allowed to act next.
	Turn(s State) string
	Apply(ctx context.Context, s State, player string, a Action) (Outcome, error)
}
