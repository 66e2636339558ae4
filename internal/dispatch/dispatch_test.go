package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/match-server/internal/engine"
	"github.com/DoyleJ11/match-server/internal/hub"
	"github.com/DoyleJ11/match-server/internal/match"
	"github.com/DoyleJ11/match-server/internal/protocol"
	"github.com/DoyleJ11/match-server/internal/session"
	"github.com/DoyleJ11/match-server/internal/session/sessiontest"
)

type harness struct {
	t   *testing.T
	hub *hub.Hub
	d   *Dispatcher
}

type client struct {
	sess *session.Session
	rec  *sessiontest.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := hub.New(context.Background(), engine.DefaultCatalog(), hub.Options{}, logger)
	t.Cleanup(h.Close)
	return &harness{t: t, hub: h, d: New(h, logger)}
}

func (h *harness) client() client {
	rec := sessiontest.NewRecorder()
	return client{sess: session.New(rec, zaptest.NewLogger(h.t), time.Second), rec: rec}
}

// send dispatches raw and returns the response it produced.
func (h *harness) send(c client, raw string) map[string]any {
	h.t.Helper()
	require.NoError(h.t, h.d.Handle(context.Background(), c.sess, []byte(raw)))

	var last map[string]any
	for _, m := range c.rec.Messages() {
		if m["type"] == "response" {
			last = m
		}
	}
	require.NotNil(h.t, last, "no response written")
	return last
}

func (h *harness) request(c client, op string, params any) map[string]any {
	h.t.Helper()
	body, err := json.Marshal(map[string]any{
		"type":      "request",
		"id":        op,
		"operation": op,
		"params":    params,
	})
	require.NoError(h.t, err)
	return h.send(c, string(body))
}

func (h *harness) createMatch(game string) string {
	h.t.Helper()
	resp := h.request(h.client(), "create-match", map[string]any{"game-id": game})
	require.Contains(h.t, resp, "result")
	return resp["result"].(map[string]any)["match-id"].(string)
}

func errorCode(t *testing.T, resp map[string]any) protocol.Code {
	t.Helper()
	require.Contains(t, resp, "error", "expected an error response, got %v", resp)
	return protocol.Code(resp["error"].(map[string]any)["code"].(float64))
}

func TestHandle_ListGames(t *testing.T) {
	h := newHarness(t)
	resp := h.request(h.client(), "list-games", nil)

	games := resp["result"].(map[string]any)["games"].([]any)
	require.Len(t, games, 2)
	assert.Equal(t, map[string]any{"id": "p1wins", "description": "player 1 wins"}, games[0])
	assert.Equal(t, "list-games", resp["id"])
}

func TestHandle_CreateMatch(t *testing.T) {
	h := newHarness(t)
	c := h.client()

	resp := h.request(c, "create-match", map[string]any{"game-id": "p1wins"})
	id := resp["result"].(map[string]any)["match-id"].(string)
	m, err := h.hub.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, match.StatusAwaitingPlayers, m.Status())

	resp = h.request(c, "create-match", map[string]any{"game": "tictactoe"})
	assert.Contains(t, resp, "result")

	assert.Equal(t, protocol.UnknownGame, errorCode(t, h.request(c, "create-match", map[string]any{"game-id": "chess"})))
	assert.Equal(t, protocol.IncorrectParams, errorCode(t, h.request(c, "create-match", nil)))
	assert.Equal(t, protocol.IncorrectParams, errorCode(t, h.request(c, "create-match", map[string]any{})))
	assert.Equal(t, protocol.IncorrectParams, errorCode(t, h.request(c, "create-match", []int{1})))
}

func TestHandle_JoinStartsMatch(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	a, b := h.client(), h.client()

	resp := h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "alice"})
	assert.Equal(t, map[string]any{}, resp["result"])
	resp = h.request(b, "join-match", map[string]any{"match-id": id, "player-name": "bob"})
	assert.Equal(t, map[string]any{}, resp["result"])

	for _, c := range []client{a, b} {
		require.True(t, c.rec.WaitFor(3, 2*time.Second))
		notes := c.rec.Notifications()
		require.NotEmpty(t, notes)
		assert.Equal(t, "match", notes[0]["scope"])
		assert.Equal(t, "start", notes[0]["event"])
		data := notes[0]["data"].(map[string]any)
		assert.Equal(t, id, data["match-id"])
		assert.Equal(t, "ready", data["match-status"])
		assert.Equal(t, "p1wins", data["game-id"])
	}
}

func TestHandle_JoinErrors(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	other := h.createMatch("p1wins")
	a, b := h.client(), h.client()

	h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "alice"})

	tests := []struct {
		name   string
		c      client
		params any
		want   protocol.Code
	}{
		{"duplicate name", b, map[string]any{"match-id": id, "player-name": "alice"}, protocol.DuplicatePlayer},
		{"already in a match", a, map[string]any{"match-id": other, "player-name": "alice2"}, protocol.AlreadyInMatch},
		{"unknown match", b, map[string]any{"match-id": "nope", "player-name": "bob"}, protocol.UnknownMatch},
		{"missing name", b, map[string]any{"match-id": id}, protocol.IncorrectParams},
		{"missing match", b, map[string]any{"player-name": "bob"}, protocol.IncorrectParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(t, h.request(tt.c, "join-match", tt.params)))
		})
	}

	m, err := h.hub.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, m.Snapshot().Players)
}

func TestHandle_DuplicateErrorShape(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	h.request(h.client(), "join-match", map[string]any{"match-id": id, "player-name": "alice"})

	resp := h.request(h.client(), "join-match", map[string]any{"match-id": id, "player-name": "alice"})
	e := resp["error"].(map[string]any)
	assert.Equal(t, float64(-40103), e["code"])
	assert.Equal(t, "Duplicate player name", e["message"])
	assert.Equal(t, "join-match", resp["id"])
	assert.NotContains(t, resp, "result")
}

func TestHandle_GameActionBeforeStart(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	a := h.client()
	h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "alice"})

	resp := h.request(a, "game-action", map[string]any{"action": "win"})
	assert.Equal(t, protocol.GameNotPlayerTurn, errorCode(t, resp))
}

func TestHandle_GameActionWithoutMatch(t *testing.T) {
	h := newHarness(t)
	resp := h.request(h.client(), "game-action", map[string]any{"action": "win"})
	assert.Equal(t, protocol.IncorrectMatch, errorCode(t, resp))
}

func TestHandle_GameActionWrongMatchID(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	a := h.client()
	h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "alice"})

	resp := h.request(a, "game-action", map[string]any{"match-id": "elsewhere", "action": "win"})
	assert.Equal(t, protocol.IncorrectMatch, errorCode(t, resp))
}

func TestHandle_P1WinsToCompletion(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	a, b := h.client(), h.client()
	h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "alice"})
	h.request(b, "join-match", map[string]any{"match-id": id, "player-name": "bob"})

	assert.Equal(t, protocol.GameNotPlayerTurn, errorCode(t, h.request(b, "game-action", map[string]any{"action": "win"})))
	assert.Equal(t, protocol.GameNoSuchAction, errorCode(t, h.request(a, "game-action", map[string]any{"action": "lose"})))

	resp := h.request(a, "game-action", map[string]any{"match-id": id, "action": "win"})
	assert.Equal(t, map[string]any{}, resp["result"])

	m, err := h.hub.Lookup(id)
	require.NoError(t, err)
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("match did not finish")
	}

	assert.Equal(t, []string{"start", "update", "end"}, b.rec.Events())
	notes := b.rec.Notifications()
	end := notes[len(notes)-1]["data"].(map[string]any)
	assert.Equal(t, "done", end["match-status"])
	assert.Equal(t, "alice", end["match-winner"])

	// The session is free again once the match is over.
	assert.Equal(t, protocol.IncorrectMatch, errorCode(t, h.request(a, "game-action", map[string]any{"action": "win"})))
	other := h.createMatch("p1wins")
	assert.Contains(t, h.request(a, "join-match", map[string]any{"match-id": other, "player-name": "alice"}), "result")
}

func TestHandle_TicTacToeErrors(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("tictactoe")
	x, o := h.client(), h.client()
	h.request(x, "join-match", map[string]any{"match-id": id, "player-name": "x"})
	h.request(o, "join-match", map[string]any{"match-id": id, "player-name": "o"})

	tests := []struct {
		name   string
		params any
		want   protocol.Code
	}{
		{"no data", map[string]any{"action": "move"}, protocol.GameIncorrectActionData},
		{"bad data", map[string]any{"action": "move", "data": map[string]any{"row": "a"}}, protocol.GameIncorrectActionData},
		{"off board", map[string]any{"action": "move", "data": map[string]any{"row": 3, "col": 0}}, protocol.GameIncorrectMove},
		{"unknown action", map[string]any{"action": "resign"}, protocol.GameNoSuchAction},
		{"no action", map[string]any{"data": map[string]any{"row": 0, "col": 0}}, protocol.IncorrectParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(t, h.request(x, "game-action", tt.params)))
		})
	}

	resp := h.request(x, "game-action", map[string]any{"action": "move", "data": map[string]any{"row": 1, "col": 1}})
	assert.Contains(t, resp, "result")
	resp = h.request(o, "game-action", map[string]any{"action": "move", "data": map[string]any{"row": 1, "col": 1}})
	assert.Equal(t, protocol.GameIncorrectMove, errorCode(t, resp))
}

func TestHandle_SpectateDoneMatch(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	a, b := h.client(), h.client()
	h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "alice"})
	h.request(b, "join-match", map[string]any{"match-id": id, "player-name": "bob"})
	h.request(a, "game-action", map[string]any{"action": "win"})

	s := h.client()
	resp := h.request(s, "spectate-match", map[string]any{"match-id": id})
	assert.Equal(t, protocol.IncorrectMatch, errorCode(t, resp))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.rec.Notifications())
}

func TestHandle_Spectate(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("tictactoe")
	s := h.client()

	resp := h.request(s, "spectate-match", map[string]any{"match-id": id, "player-name": "ignored"})
	assert.Equal(t, map[string]any{}, resp["result"])
	require.True(t, s.rec.WaitFor(2, 2*time.Second))
	assert.Equal(t, []string{"update"}, s.rec.Events())

	assert.Equal(t, protocol.IncorrectMatch, errorCode(t, h.request(s, "spectate-match", map[string]any{"match-id": id})))
	assert.Equal(t, protocol.UnknownMatch, errorCode(t, h.request(s, "spectate-match", map[string]any{"match-id": "zzz"})))
	assert.Equal(t, protocol.IncorrectParams, errorCode(t, h.request(s, "spectate-match", map[string]any{})))
}

func TestHandle_Envelope(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   protocol.Code
		wantID any
	}{
		{"malformed json", `{"type":`, protocol.ParseError, nil},
		{"not an object", `[1,2]`, protocol.IncorrectRequest, nil},
		{"missing type", `{"id":1,"operation":"list-games"}`, protocol.IncorrectRequest, nil},
		{"wrong type", `{"type":"response","id":1,"operation":"list-games"}`, protocol.IncorrectRequest, nil},
		{"missing id", `{"type":"request","operation":"list-games"}`, protocol.IncorrectRequest, nil},
		{"missing operation", `{"type":"request","id":7}`, protocol.IncorrectRequest, float64(7)},
		{"unknown operation", `{"type":"request","id":"x","operation":"fly"}`, protocol.NoSuchOperation, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			resp := h.send(h.client(), tt.raw)
			assert.Equal(t, tt.want, errorCode(t, resp))
			assert.Equal(t, tt.wantID, resp["id"])
		})
	}
}

func TestHandle_ConnectionSurvivesErrors(t *testing.T) {
	h := newHarness(t)
	c := h.client()

	h.send(c, `not json`)
	resp := h.request(c, "list-games", nil)
	assert.Contains(t, resp, "result")
}

func TestHandle_EnvelopeErrorKeepsCorrelationID(t *testing.T) {
	h := newHarness(t)
	c := h.client()

	resp := h.send(c, `{"type":"request","id":"abc","operation":"list-games"}`)
	require.Equal(t, "abc", resp["id"])

	for _, raw := range []string{`{not json`, `{"id":1}`, `{"type":"request","operation":"list-games"}`} {
		resp = h.send(c, raw)
		assert.Contains(t, resp, "error")
		assert.Equal(t, "abc", resp["id"], "raw %s", raw)
	}

	resp = h.send(c, `{"type":"request","id":9}`)
	assert.Equal(t, float64(9), resp["id"])
}

type panickyRegistry struct{ Registry }

func (panickyRegistry) ListGames() []engine.GameInfo { panic("catalog exploded") }

func TestHandle_RecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.d = New(panickyRegistry{Registry: h.hub}, zaptest.NewLogger(t))
	c := h.client()

	resp := h.request(c, "list-games", nil)
	assert.Equal(t, protocol.InternalError, errorCode(t, resp))
	assert.NotContains(t, resp["error"].(map[string]any), "data")

	resp = h.request(c, "create-match", map[string]any{"game-id": "p1wins"})
	assert.Contains(t, resp, "result")
}

func TestDisconnect_RemovesFromMatches(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("p1wins")
	watched := h.createMatch("tictactoe")
	a, b := h.client(), h.client()
	h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "alice"})
	h.request(a, "spectate-match", map[string]any{"match-id": watched})

	h.d.Disconnect(a.sess)

	m, err := h.hub.Lookup(id)
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot().Players)
	w, err := h.hub.Lookup(watched)
	require.NoError(t, err)
	assert.Zero(t, w.Snapshot().Spectators)

	// The name is free again.
	assert.Contains(t, h.request(b, "join-match", map[string]any{"match-id": id, "player-name": "alice"}), "result")
}

func TestToProtocolError_WrapsKeepCode(t *testing.T) {
	_, err := newHarness(t).hub.Lookup("missing")
	assert.Equal(t, protocol.UnknownMatch, toProtocolError(err).Code)
	assert.Equal(t, protocol.InternalError, toProtocolError(match.ErrActionTimeout).Code)
	assert.Equal(t, protocol.AlreadyInMatch, toProtocolError(match.ErrAlreadyInMatch).Code)
}

func TestDisconnect_MidGameReleasesOpponent(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("tictactoe")
	a, b := h.client(), h.client()
	h.request(a, "join-match", map[string]any{"match-id": id, "player-name": "a"})
	h.request(b, "join-match", map[string]any{"match-id": id, "player-name": "b"})

	h.d.Disconnect(a.sess)

	m, err := h.hub.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, match.StatusDone, m.Status())

	other := h.createMatch("tictactoe")
	assert.Contains(t, h.request(b, "join-match", map[string]any{"match-id": other, "player-name": "b"}), "result")
}
