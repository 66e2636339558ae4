package engine

import (
	"context"
	"encoding/json"
)

const ActionMove = "move"

type Mark string

const (
	MarkX     Mark = "X"
	MarkO     Mark = "O"
	MarkEmpty Mark = " "
)

// Board is a value type so every applied move produces an independent copy.
type Board [3][3]Mark

// TicTacToeState mirrors the classic game-state layout clients render.
type TicTacToeState struct {
	X     string `json:"X"`
	O     string `json:"O"`
	Turn  Mark   `json:"turn"`
	Board Board  `json:"board"`
}

type moveData struct {
	Row *int `json:"row"`
	Col *int `json:"col"`
}

// winLines are the eight rows, columns and diagonals.
var winLines = [][3][2]int{
	{{0, 0}, {0, 1}, {0, 2}},
	{{1, 0}, {1, 1}, {1, 2}},
	{{2, 0}, {2, 1}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{0, 2}, {1, 1}, {2, 0}},
}

type TicTacToe struct{}

func NewTicTacToe() Rules { return TicTacToe{} }

func (TicTacToe) MinPlayers() int { return 2 }
func (TicTacToe) MaxPlayers() int { return 2 }

func (g TicTacToe) OnPlayerJoined(players []string) (Hint, State) {
	if len(players) < g.MinPlayers() {
		return HintWaiting, nil
	}
	s := TicTacToeState{X: players[0], O: players[1], Turn: MarkX}
	for r := range s.Board {
		for c := range s.Board[r] {
			s.Board[r][c] = MarkEmpty
		}
	}
	return HintStarted, s
}

func (TicTacToe) Turn(s State) string {
	st, ok := s.(TicTacToeState)
	if !ok {
		return ""
	}
	return st.player(st.Turn)
}

func (g TicTacToe) Apply(_ context.Context, s State, player string, a Action) (Outcome, error) {
	st, ok := s.(TicTacToeState)
	if !ok {
		return Outcome{}, ErrIncorrectActionData
	}
	if a.Name != ActionMove {
		return Outcome{}, ErrNoSuchAction
	}
	if player != st.player(st.Turn) {
		return Outcome{}, ErrNotPlayerTurn
	}

	var mv moveData
	if err := json.Unmarshal(a.Data, &mv); err != nil || mv.Row == nil || mv.Col == nil {
		return Outcome{}, ErrIncorrectActionData
	}
	row, col := *mv.Row, *mv.Col
	if row < 0 || row > 2 || col < 0 || col > 2 {
		return Outcome{}, ErrIncorrectMove
	}
	if st.Board[row][col] != MarkEmpty {
		return Outcome{}, ErrIncorrectMove
	}

	next := st
	next.Board[row][col] = st.Turn

	if winner, ok := next.winner(); ok {
		return Outcome{State: next, Done: true, Winner: next.player(winner)}, nil
	}
	if next.full() {
		return Outcome{State: next, Done: true}, nil
	}

	next.Turn = other(st.Turn)
	return Outcome{State: next}, nil
}

func (s TicTacToeState) player(m Mark) string {
	switch m {
	case MarkX:
		return s.X
	case MarkO:
		return s.O
	default:
		return ""
	}
}

func (s TicTacToeState) winner() (Mark, bool) {
	for _, line := range winLines {
		a := s.Board[line[0][0]][line[0][1]]
		if a == MarkEmpty {
			continue
		}
		if a == s.Board[line[1][0]][line[1][1]] && a == s.Board[line[2][0]][line[2][1]] {
			return a, true
		}
	}
	return MarkEmpty, false
}

func (s TicTacToeState) full() bool {
	for _, row := range s.Board {
		for _, cell := range row {
			if cell == MarkEmpty {
				return false
			}
		}
	}
	return true
}

func other(m Mark) Mark {
	if m == MarkX {
		return MarkO
	}
	return MarkX
}
