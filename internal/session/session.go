package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-server/internal/protocol"
)

const DefaultWriteTimeout = 5 * time.Second

// Transport is the outbound half of a client connection. Each Write is one
// complete message.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Session is one connected client.
//
// Match references are held by id only; the registry resolves them. A session
// plays in at most one live match and may spectate any number of others.
type Session struct {
	key          string
	transport    Transport
	writeTimeout time.Duration
	logger       *zap.Logger

	sendMu sync.Mutex // serialises writes to transport

	mu          sync.Mutex
	corrID      json.RawMessage
	playerName  string
	playerMatch string
	spectating  map[string]struct{}
}

func New(t Transport, logger *zap.Logger, writeTimeout time.Duration) *Session {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	key := uuid.NewString()
	return &Session{
		key:          key,
		transport:    t,
		writeTimeout: writeTimeout,
		logger:       logger.With(zap.String("session_id", key)),
		spectating:   make(map[string]struct{}),
	}
}

// Key is the server-side identifier used in logs.
func (s *Session) Key() string { return s.key }

func (s *Session) Logger() *zap.Logger { return s.logger }

func (s *Session) SetCorrelationID(id json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrID = append(json.RawMessage(nil), id...)
}

func (s *Session) CorrelationID() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrID
}

func (s *Session) PlayerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerName
}

// PlayerMatch returns the id of the live match this session plays in, or "".
func (s *Session) PlayerMatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerMatch
}

// BindPlayer attaches the session to a match as the named player. It fails if
// the session already plays in another live match.
func (s *Session) BindPlayer(matchID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playerMatch != "" && s.playerMatch != matchID {
		return false
	}
	s.playerMatch = matchID
	s.playerName = name
	return true
}

// ReleasePlayer detaches the session from matchID if it plays there.
func (s *Session) ReleasePlayer(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playerMatch == matchID {
		s.playerMatch = ""
		s.playerName = ""
	}
}

func (s *Session) AddSpectating(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spectating[matchID] = struct{}{}
}

func (s *Session) RemoveSpectating(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spectating, matchID)
}

func (s *Session) IsSpectating(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.spectating[matchID]
	return ok
}

// Memberships lists every match id the session belongs to, sorted.
func (s *Session) Memberships() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.spectating)+1)
	if s.playerMatch != "" {
		ids = append(ids, s.playerMatch)
	}
	for id := range s.spectating {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SendResponse sends a successful response echoing the correlation id.
// A nil result is a programming error.
func (s *Session) SendResponse(ctx context.Context, result any) error {
	if result == nil {
		panic("session: SendResponse called with nil result")
	}
	data, err := protocol.EncodeResponse(s.CorrelationID(), result)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return s.write(ctx, data)
}

func (s *Session) SendError(ctx context.Context, e *protocol.Error) error {
	data, err := protocol.EncodeError(s.CorrelationID(), e)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}
	return s.write(ctx, data)
}

func (s *Session) SendNotification(ctx context.Context, scope, event string, data any) error {
	payload, err := protocol.EncodeNotification(scope, event, data)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return s.write(ctx, payload)
}

func (s *Session) Close(reason string) error {
	return s.transport.Close(reason)
}

func (s *Session) write(ctx context.Context, data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	s.logger.Debug("sending", zap.ByteString("message", data))
	if err := s.transport.Write(ctx, data); err != nil {
		return fmt.Errorf("write to %s: %w", s.key, err)
	}
	return nil
}
