package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeNotification = "notification"

	ScopeMatch = "match"

	EventStart  = "start"
	EventUpdate = "update"
	EventEnd    = "end"
)

// Request is a validated inbound request envelope.
type Request struct {
	ID        json.RawMessage
	Operation string
	Params    json.RawMessage
}

type envelope struct {
	Type      json.RawMessage `json:"type"`
	ID        json.RawMessage `json:"id"`
	Operation json.RawMessage `json:"operation"`
	Params    json.RawMessage `json:"params"`
}

// Decode parses and validates a raw request. It never touches match state.
//
// When the envelope carries an id but no operation, the returned Request has
// ID populated alongside the error so the caller can still echo the id.
func Decode(raw []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			line, col := position(raw, syn.Offset)
			return Request{}, NewError(ParseError,
				fmt.Sprintf("Incorrect JSON (parsing failed at line %d column %d)", line, col))
		}
		// Valid JSON that is not an object.
		return Request{}, NewError(IncorrectRequest, "Message is not a JSON object")
	}

	if isNull(env.Type) {
		return Request{}, NewError(IncorrectRequest, "Message has no 'type' member")
	}
	var typ string
	if err := json.Unmarshal(env.Type, &typ); err != nil || typ != TypeRequest {
		return Request{}, NewError(IncorrectRequest, fmt.Sprintf("Incorrect message type: %s", env.Type))
	}

	if isNull(env.ID) {
		return Request{}, NewError(IncorrectRequest, "No id specified")
	}
	req := Request{ID: env.ID, Params: env.Params}

	if isNull(env.Operation) {
		return req, NewError(IncorrectRequest, "No operation specified")
	}
	if err := json.Unmarshal(env.Operation, &req.Operation); err != nil {
		return req, NewError(IncorrectRequest, "Operation must be a string")
	}
	return req, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// position converts a byte offset into a 1-based line and column.
func position(raw []byte, offset int64) (line, col int) {
	if offset > int64(len(raw)) {
		offset = int64(len(raw))
	}
	line, col = 1, 1
	for _, b := range raw[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

// Response is a successful response envelope.
type Response struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
}

// ErrorBody is the error member of an error response.
type ErrorBody struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ErrorResponse is an error response envelope.
type ErrorResponse struct {
	Type  string          `json:"type"`
	ID    json.RawMessage `json:"id"`
	Error ErrorBody       `json:"error"`
}

// Notification is a server push envelope.
type Notification struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// MatchData is the data member of a match-scoped notification.
type MatchData struct {
	MatchID     string `json:"match-id"`
	MatchStatus string `json:"match-status"`
	GameID      string `json:"game-id"`
	GameState   any    `json:"game-state,omitempty"`
	Winner      string `json:"match-winner,omitempty"`
}

func EncodeResponse(id json.RawMessage, result any) ([]byte, error) {
	return json.Marshal(Response{Type: TypeResponse, ID: id, Result: result})
}

func EncodeError(id json.RawMessage, e *Error) ([]byte, error) {
	return json.Marshal(ErrorResponse{
		Type: TypeResponse,
		ID:   id,
		Error: ErrorBody{
			Code:    e.Code,
			Message: e.Code.Message(),
			Data:    e.Data,
		},
	})
}

func EncodeNotification(scope, event string, data any) ([]byte, error) {
	return json.Marshal(Notification{Type: TypeNotification, Scope: scope, Event: event, Data: data})
}
