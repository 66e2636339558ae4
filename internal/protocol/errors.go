package protocol

import "fmt"

// Code is a stable numeric error code. Clients branch on the code alone, the
// message is always derived from it.
type Code int

const (
	// General protocol errors
	ParseError       Code = -32700
	IncorrectRequest Code = -32600
	NoSuchOperation  Code = -32601
	IncorrectParams  Code = -32602
	InternalError    Code = -32603

	// Match operation errors
	UnknownGame     Code = -40100
	AlreadyInMatch  Code = -40101
	UnknownMatch    Code = -40102
	DuplicatePlayer Code = -40103
	IncorrectMatch  Code = -40104

	// Game action errors
	GameNotPlayerTurn       Code = -50100
	GameNoSuchAction        Code = -50101
	GameIncorrectActionData Code = -50102
	GameIncorrectMove       Code = -50103
)

var messages = map[Code]string{
	ParseError:       "Parse error",
	IncorrectRequest: "Incorrect request",
	NoSuchOperation:  "No such operation",
	IncorrectParams:  "Incorrect parameters",
	InternalError:    "Internal error",

	UnknownGame:     "Unknown game",
	AlreadyInMatch:  "Already in a match",
	UnknownMatch:    "Unknown match",
	DuplicatePlayer: "Duplicate player name",
	IncorrectMatch:  "Incorrect match",

	GameNotPlayerTurn:       "Action not allowed outside player's turn",
	GameNoSuchAction:        "Unsupported action in game",
	GameIncorrectActionData: "Incorrect data in game action",
	GameIncorrectMove:       "Incorrect move",
}

// Message returns the fixed human-readable message for the code.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[InternalError]
}

// Error is a protocol-level error reported to a single client.
type Error struct {
	Code Code
	Data map[string]any
}

// NewError builds an Error whose data carries a free-form details string.
// An empty details string produces no data member.
func NewError(code Code, details string) *Error {
	e := &Error{Code: code}
	if details != "" {
		e.Data = map[string]any{"details": details}
	}
	return e
}

func (e *Error) Error() string {
	if d, ok := e.Data["details"]; ok {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Code.Message(), d)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Code.Message())
}
