// Package dispatch routes decoded requests from a session to the registry and
// its matches, and turns domain failures into protocol errors.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/DoyleJ11/match-server/internal/engine"
	"github.com/DoyleJ11/match-server/internal/hub"
	"github.com/DoyleJ11/match-server/internal/match"
	"github.com/DoyleJ11/match-server/internal/protocol"
	"github.com/DoyleJ11/match-server/internal/session"
)

// Registry is the part of the hub the dispatcher needs.
type Registry interface {
	CreateMatch(gameID string) (*match.Match, error)
	Lookup(id string) (*match.Match, error)
	ListGames() []engine.GameInfo
}

type Dispatcher struct {
	registry Registry
	logger   *zap.Logger
}

func New(registry Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

type gamesResult struct {
	Games []engine.GameInfo `json:"games"`
}

type createResult struct {
	MatchID string `json:"match-id"`
}

type createParams struct {
	GameID string `json:"game-id"`
	Game   string `json:"game"`
}

type joinParams struct {
	MatchID    string `json:"match-id"`
	PlayerName string `json:"player-name"`
}

type spectateParams struct {
	MatchID string `json:"match-id"`
}

type actionParams struct {
	MatchID string          `json:"match-id"`
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data"`
}

// Handle processes one inbound message and writes exactly one response to
// sess. The returned error is non-nil only when that write failed.
func (d *Dispatcher) Handle(ctx context.Context, sess *session.Session, raw []byte) error {
	log := sess.Logger()
	log.Debug("received", zap.ByteString("message", raw))

	req, err := protocol.Decode(raw)
	// Envelope failures before the id is known keep the previous id.
	if len(req.ID) > 0 {
		sess.SetCorrelationID(req.ID)
	}
	if err != nil {
		return d.reply(ctx, sess, nil, err)
	}

	result, err := d.safeRoute(ctx, sess, req)
	return d.reply(ctx, sess, result, err)
}

// Disconnect removes sess from every match it belongs to.
func (d *Dispatcher) Disconnect(sess *session.Session) {
	for _, id := range sess.Memberships() {
		m, err := d.registry.Lookup(id)
		if err != nil {
			continue
		}
		m.Remove(sess)
	}
	sess.Logger().Info("session disconnected")
}

func (d *Dispatcher) safeRoute(ctx context.Context, sess *session.Session, req protocol.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess.Logger().Error("panic while routing",
				zap.String("operation", req.Operation),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return d.route(ctx, sess, req)
}

func (d *Dispatcher) route(ctx context.Context, sess *session.Session, req protocol.Request) (any, error) {
	op, ok := protocol.ParseOperation(req.Operation)
	if !ok {
		return nil, protocol.NewError(protocol.NoSuchOperation, req.Operation)
	}

	switch op {
	case protocol.OpListGames:
		return gamesResult{Games: d.registry.ListGames()}, nil
	case protocol.OpCreateMatch:
		return d.createMatch(req.Params)
	case protocol.OpJoinMatch:
		return d.joinMatch(sess, req.Params)
	case protocol.OpSpectateMatch:
		return d.spectateMatch(sess, req.Params)
	case protocol.OpGameAction:
		return d.gameAction(ctx, sess, req.Params)
	case protocol.OpUnknown:
	}
	return nil, protocol.NewError(protocol.NoSuchOperation, req.Operation)
}

func (d *Dispatcher) createMatch(raw json.RawMessage) (any, error) {
	var p createParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	gameID := p.GameID
	if gameID == "" {
		gameID = p.Game
	}
	if gameID == "" {
		return nil, protocol.NewError(protocol.IncorrectParams, "No game-id specified")
	}

	m, err := d.registry.CreateMatch(gameID)
	if err != nil {
		return nil, err
	}
	return createResult{MatchID: m.ID()}, nil
}

func (d *Dispatcher) joinMatch(sess *session.Session, raw json.RawMessage) (any, error) {
	var p joinParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.MatchID == "" {
		return nil, protocol.NewError(protocol.IncorrectParams, "No match-id specified")
	}
	if p.PlayerName == "" {
		return nil, protocol.NewError(protocol.IncorrectParams, "No player-name specified")
	}

	m, err := d.registry.Lookup(p.MatchID)
	if err != nil {
		return nil, err
	}
	if err := m.AddPlayer(sess, p.PlayerName); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (d *Dispatcher) spectateMatch(sess *session.Session, raw json.RawMessage) (any, error) {
	var p spectateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.MatchID == "" {
		return nil, protocol.NewError(protocol.IncorrectParams, "No match-id specified")
	}

	m, err := d.registry.Lookup(p.MatchID)
	if err != nil {
		return nil, err
	}
	if err := m.AddSpectator(sess); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (d *Dispatcher) gameAction(ctx context.Context, sess *session.Session, raw json.RawMessage) (any, error) {
	var p actionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Action == "" {
		return nil, protocol.NewError(protocol.IncorrectParams, "No action specified")
	}

	matchID := sess.PlayerMatch()
	if matchID == "" {
		return nil, protocol.NewError(protocol.IncorrectMatch, "Not playing in any match")
	}
	if p.MatchID != "" && p.MatchID != matchID {
		return nil, protocol.NewError(protocol.IncorrectMatch, "Playing in match "+matchID)
	}

	m, err := d.registry.Lookup(matchID)
	if err != nil {
		return nil, protocol.NewError(protocol.IncorrectMatch, err.Error())
	}
	return m.ApplyAction(ctx, sess, engine.Action{Name: p.Action, Data: p.Data})
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return protocol.NewError(protocol.IncorrectParams, "No params specified")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return protocol.NewError(protocol.IncorrectParams, err.Error())
	}
	return nil
}

func (d *Dispatcher) reply(ctx context.Context, sess *session.Session, result any, err error) error {
	if err == nil {
		return sess.SendResponse(ctx, result)
	}

	perr := toProtocolError(err)
	if perr.Code == protocol.InternalError {
		sess.Logger().Error("request failed", zap.Error(err))
	} else {
		sess.Logger().Warn("request rejected", zap.Int("code", int(perr.Code)), zap.Error(err))
	}
	return sess.SendError(ctx, perr)
}

// toProtocolError maps domain errors onto wire codes. Unrecognised errors
// become InternalError without leaking their text.
func toProtocolError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}

	code := protocol.InternalError
	switch {
	case errors.Is(err, hub.ErrUnknownGame):
		code = protocol.UnknownGame
	case errors.Is(err, hub.ErrUnknownMatch):
		code = protocol.UnknownMatch
	case errors.Is(err, match.ErrDuplicatePlayer):
		code = protocol.DuplicatePlayer
	case errors.Is(err, match.ErrAlreadyInMatch):
		code = protocol.AlreadyInMatch
	case errors.Is(err, match.ErrAlreadyStarted),
		errors.Is(err, match.ErrMatchFull),
		errors.Is(err, match.ErrMatchDone),
		errors.Is(err, match.ErrAlreadyPlaying),
		errors.Is(err, match.ErrAlreadySpectating),
		errors.Is(err, match.ErrNotPlayer):
		code = protocol.IncorrectMatch
	case errors.Is(err, match.ErrNotStarted),
		errors.Is(err, engine.ErrNotPlayerTurn):
		code = protocol.GameNotPlayerTurn
	case errors.Is(err, engine.ErrNoSuchAction):
		code = protocol.GameNoSuchAction
	case errors.Is(err, engine.ErrIncorrectActionData):
		code = protocol.GameIncorrectActionData
	case errors.Is(err, engine.ErrIncorrectMove):
		code = protocol.GameIncorrectMove
	}

	if code == protocol.InternalError {
		return protocol.NewError(code, "")
	}
	return protocol.NewError(code, err.Error())
}
