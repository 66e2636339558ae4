package engine

import "context"

const ActionWin = "win"

// P1WinsState is the game state of a p1wins match.
type P1WinsState struct {
	Players []string `json:"players"`
	Turn    string   `json:"turn"`
	Winner  string   `json:"winner,omitempty"`
}

// P1Wins is the smallest possible game: two players join, only the first
// one can act, and acting wins.
type P1Wins struct{}

func NewP1Wins() Rules { return P1Wins{} }

func (P1Wins) MinPlayers() int { return 2 }
func (P1Wins) MaxPlayers() int { return 2 }

func (g P1Wins) OnPlayerJoined(players []string) (Hint, State) {
	if len(players) < g.MinPlayers() {
		return HintWaiting, nil
	}
	return HintReady, P1WinsState{Players: append([]string(nil), players...), Turn: players[0]}
}

func (P1Wins) Turn(s State) string {
	st, ok := s.(P1WinsState)
	if !ok {
		return ""
	}
	return st.Turn
}

func (P1Wins) Apply(_ context.Context, s State, player string, a Action) (Outcome, error) {
	st, ok := s.(P1WinsState)
	if !ok {
		return Outcome{}, ErrIncorrectActionData
	}
	if player != st.Turn {
		return Outcome{}, ErrNotPlayerTurn
	}
	if a.Name != ActionWin {
		return Outcome{}, ErrNoSuchAction
	}

	st.Winner = player
	st.Turn = ""
	return Outcome{State: st, Done: true, Winner: player}, nil
}
