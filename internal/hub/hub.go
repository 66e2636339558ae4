// Package hub is the match registry. It owns every live match and hands them
// out by id.
package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/match-server/internal/engine"
	"github.com/DoyleJ11/match-server/internal/match"
)

var (
	ErrUnknownGame  = errors.New("unknown game")
	ErrUnknownMatch = errors.New("unknown match")
	ErrClosed       = errors.New("hub closed")
)

const (
	idCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength  = 10

	// DefaultRetention is how long a finished match stays resolvable.
	DefaultRetention = 10 * time.Minute
)

type Options struct {
	Match     match.Options
	Retention time.Duration
}

type Hub struct {
	ctx     context.Context
	cancel  context.CancelFunc
	catalog *engine.Catalog
	opts    Options
	logger  *zap.Logger

	mu      sync.RWMutex
	matches map[string]*match.Match
	closed  bool

	sessions atomic.Int64
	backlogs atomic.Int64
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Matches  int            `json:"matches"`
	ByStatus map[string]int `json:"by_status"`
	Sessions int            `json:"sessions"`
	Queued   int            `json:"queued_notifications"`
	Backlogs int            `json:"backlog_warnings"`
}

func New(parent context.Context, catalog *engine.Catalog, opts Options, logger *zap.Logger) *Hub {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		ctx:     ctx,
		cancel:  cancel,
		catalog: catalog,
		opts:    opts,
		logger:  logger,
		matches: make(map[string]*match.Match),
	}

	hook := opts.Match.OnBacklog
	h.opts.Match.OnBacklog = func(matchID string, depth int) {
		h.backlogs.Add(1)
		if hook != nil {
			hook(matchID, depth)
		}
	}
	return h
}

// GenerateID returns a random lowercase alphanumeric match id.
func GenerateID() (string, error) {
	id := make([]byte, idLength)
	for i := range id {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(idCharset))))
		if err != nil {
			return "", err
		}
		id[i] = idCharset[num.Int64()]
	}
	return string(id), nil
}

// CreateMatch builds a match of gameID under a fresh id, registers it and
// starts its notification worker.
func (h *Hub) CreateMatch(gameID string) (*match.Match, error) {
	rules, ok := h.catalog.New(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	var id string
	for {
		c, err := GenerateID()
		if err != nil {
			return nil, fmt.Errorf("generate match id: %w", err)
		}
		if _, taken := h.matches[c]; !taken {
			id = c
			break
		}
		h.logger.Debug("collision on match id, regenerating", zap.String("match_id", c))
	}

	m := match.New(id, gameID, rules, h.opts.Match, h.logger)
	h.matches[id] = m
	m.Start(h.ctx)
	go h.reap(m)

	h.logger.Info("match created", zap.String("match_id", id), zap.String("game_id", gameID))
	return m, nil
}

func (h *Hub) Lookup(id string) (*match.Match, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMatch, id)
	}
	return m, nil
}

func (h *Hub) ListGames() []engine.GameInfo { return h.catalog.List() }

func (h *Hub) SessionOpened() { h.sessions.Add(1) }
func (h *Hub) SessionClosed() { h.sessions.Add(-1) }

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	matches := make([]*match.Match, 0, len(h.matches))
	for _, m := range h.matches {
		matches = append(matches, m)
	}
	h.mu.RUnlock()

	st := Stats{
		Matches:  len(matches),
		ByStatus: make(map[string]int),
		Sessions: int(h.sessions.Load()),
		Backlogs: int(h.backlogs.Load()),
	}
	for _, m := range matches {
		snap := m.Snapshot()
		st.ByStatus[string(snap.Status)]++
		st.Queued += snap.Queued
	}
	return st
}

// Close stops every match worker and refuses new matches.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.logger.Info("hub closed")
}

// reap drops a finished match from the registry once its retention expires.
func (h *Hub) reap(m *match.Match) {
	select {
	case <-h.ctx.Done():
		return
	case <-m.Done():
	}

	t := time.NewTimer(h.opts.Retention)
	defer t.Stop()
	select {
	case <-h.ctx.Done():
	case <-t.C:
		h.mu.Lock()
		delete(h.matches, m.ID())
		h.mu.Unlock()
		h.logger.Debug("match reaped", zap.String("match_id", m.ID()))
	}
}
