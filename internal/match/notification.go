package match

import (
	"github.com/DoyleJ11/match-server/internal/engine"
	"github.com/DoyleJ11/match-server/internal/protocol"
	"github.com/DoyleJ11/match-server/internal/session"
)

type Event string

const (
	EventStart  Event = protocol.EventStart
	EventUpdate Event = protocol.EventUpdate
	EventEnd    Event = protocol.EventEnd
)

// Notification is an immutable record of one match state change. It is
// consumed exactly once by the match worker.
type Notification struct {
	match     *Match
	event     Event
	status    Status
	gameState engine.State
	winner    string

	// target, when set, receives the notification alone instead of a broadcast.
	target *session.Session
}

func (n Notification) data() protocol.MatchData {
	return protocol.MatchData{
		MatchID:     n.match.id,
		MatchStatus: string(n.status),
		GameID:      n.match.gameID,
		GameState:   n.gameState,
		Winner:      n.winner,
	}
}
