package protocol

import "strings"

// Operation is the closed set of requests the server understands.
type Operation int

const (
	OpUnknown Operation = iota
	OpListGames
	OpCreateMatch
	OpJoinMatch
	OpSpectateMatch
	OpGameAction
)

var operationNames = map[Operation]string{
	OpListGames:     "list-games",
	OpCreateMatch:   "create-match",
	OpJoinMatch:     "join-match",
	OpSpectateMatch: "spectate-match",
	OpGameAction:    "game-action",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

// ParseOperation maps a wire operation name to an Operation.
func ParseOperation(name string) (Operation, bool) {
	name = strings.TrimSpace(name)
	for op, s := range operationNames {
		if s == name {
			return op, true
		}
	}
	return OpUnknown, false
}
