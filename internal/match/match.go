package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-server/internal/engine"
	"github.com/DoyleJ11/match-server/internal/protocol"
	"github.com/DoyleJ11/match-server/internal/session"
)

var (
	ErrDuplicatePlayer   = errors.New("duplicate player name")
	ErrAlreadyInMatch    = errors.New("session already in a match")
	ErrAlreadyStarted    = errors.New("match already started")
	ErrMatchFull         = errors.New("match is full")
	ErrMatchDone         = errors.New("match is done")
	ErrAlreadyPlaying    = errors.New("session is a player in this match")
	ErrAlreadySpectating = errors.New("session already spectates this match")
	ErrNotPlayer         = errors.New("session is not a player in this match")
	ErrNotStarted        = errors.New("match is not in progress")
	ErrActionTimeout     = errors.New("rules engine timed out")
)

type Status string

const (
	StatusUnknown         Status = "unknown"
	StatusAwaitingPlayers Status = "awaiting-players"
	StatusReady           Status = "ready"
	StatusInProgress      Status = "in-progress"
	StatusDone            Status = "done"
)

var statusOrder = map[Status]int{
	StatusUnknown:         0,
	StatusAwaitingPlayers: 1,
	StatusReady:           2,
	StatusInProgress:      3,
	StatusDone:            4,
}

const (
	DefaultActionTimeout  = 2 * time.Second
	DefaultQueueWarnDepth = 256
)

// Options tunes a match. Zero values fall back to defaults.
type Options struct {
	ActionTimeout  time.Duration
	QueueWarnDepth int
	// OnBacklog is called from the enqueueing goroutine whenever the queue
	// depth reaches QueueWarnDepth or beyond.
	OnBacklog func(matchID string, depth int)
}

type player struct {
	name string
	sess *session.Session
}

// Match is one game instance: its rosters, status and notification queue.
//
// Roster and status mutations are serialised by mu. Every transition enqueues
// its notification while still holding mu, so queue order is transition order.
// A single worker goroutine drains the queue and broadcasts.
type Match struct {
	id     string
	gameID string
	rules  engine.Rules
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	status     Status
	winner     string
	state      engine.State
	players    []player
	spectators []*session.Session

	queue *queue
	done  chan struct{}

	// Written only by the worker.
	annMu        sync.RWMutex
	annStatus    Status
	annWinner    string
	annDelivered int
}

func New(id, gameID string, rules engine.Rules, opts Options, logger *zap.Logger) *Match {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.QueueWarnDepth <= 0 {
		opts.QueueWarnDepth = DefaultQueueWarnDepth
	}

	m := &Match{
		id:        id,
		gameID:    gameID,
		rules:     rules,
		opts:      opts,
		logger:    logger.With(zap.String("match_id", id), zap.String("game_id", gameID)),
		status:    StatusUnknown,
		queue:     newQueue(),
		done:      make(chan struct{}),
		annStatus: StatusUnknown,
	}
	m.advance(StatusAwaitingPlayers)
	return m
}

func (m *Match) ID() string     { return m.id }
func (m *Match) GameID() string { return m.gameID }

// Start launches the notification worker. It stops after broadcasting the
// end notification or when ctx is cancelled.
func (m *Match) Start(ctx context.Context) {
	go m.run(ctx)
}

// Done is closed when the worker has exited.
func (m *Match) Done() <-chan struct{} { return m.done }

func (m *Match) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// AddPlayer seats sess under name and, once the game reports enough players,
// moves the match forward and enqueues a start notification.
func (m *Match) AddPlayer(sess *session.Session, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lo.ContainsBy(m.players, func(p player) bool { return p.name == name }) {
		return ErrDuplicatePlayer
	}
	if m.status == StatusDone {
		return ErrMatchDone
	}
	if lo.Contains(m.spectators, sess) || m.isPlayer(sess) {
		return ErrAlreadyInMatch
	}
	if other := sess.PlayerMatch(); other != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyInMatch, other)
	}
	if m.status != StatusAwaitingPlayers {
		return ErrAlreadyStarted
	}
	if limit := m.rules.MaxPlayers(); limit > 0 && len(m.players) >= limit {
		return ErrMatchFull
	}
	if !sess.BindPlayer(m.id, name) {
		return ErrAlreadyInMatch
	}

	m.players = append(m.players, player{name: name, sess: sess})
	m.logger.Info("player joined", zap.String("player", name), zap.Int("players", len(m.players)))

	hint, state := m.rules.OnPlayerJoined(m.playerNames())
	switch hint {
	case engine.HintReady:
		m.state = state
		m.advance(StatusReady)
		m.enqueue(EventStart, nil)
		// Nothing else can start a ready match, so it begins straight away.
		m.advance(StatusInProgress)
		m.enqueue(EventUpdate, nil)
	case engine.HintStarted:
		m.state = state
		m.advance(StatusReady)
		m.advance(StatusInProgress)
		m.enqueue(EventStart, nil)
	}
	return nil
}

// AddSpectator attaches sess as an observer and queues a direct update with
// the current state for it.
func (m *Match) AddSpectator(sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusDone {
		return ErrMatchDone
	}
	if m.isPlayer(sess) {
		return ErrAlreadyPlaying
	}
	if lo.Contains(m.spectators, sess) {
		return ErrAlreadySpectating
	}

	m.spectators = append(m.spectators, sess)
	sess.AddSpectating(m.id)
	m.logger.Info("spectator joined", zap.String("session_id", sess.Key()), zap.Int("spectators", len(m.spectators)))

	m.enqueue(EventUpdate, sess)
	return nil
}

// ApplyAction runs a player's action through the rules engine. The returned
// result is game specific and never nil.
func (m *Match) ApplyAction(ctx context.Context, sess *session.Session, action engine.Action) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := lo.Find(m.players, func(p player) bool { return p.sess == sess })
	if !ok {
		return nil, ErrNotPlayer
	}
	if m.status == StatusDone {
		return nil, ErrMatchDone
	}
	if m.status != StatusInProgress {
		return nil, ErrNotStarted
	}
	if m.rules.Turn(m.state) != p.name {
		return nil, engine.ErrNotPlayerTurn
	}

	out, err := m.apply(ctx, p.name, action)
	if err != nil {
		return nil, err
	}

	m.state = out.State
	if out.Done {
		m.finish(out.Winner)
	} else {
		m.enqueue(EventUpdate, nil)
	}

	if out.Result == nil {
		return map[string]any{}, nil
	}
	return out.Result, nil
}

// Remove detaches sess from every roster of this match. If a started match
// drops below the game's minimum player count it ends without a winner.
func (m *Match) Remove(sess *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := lo.IndexOf(m.spectators, sess); i >= 0 {
		m.spectators = append(m.spectators[:i], m.spectators[i+1:]...)
		sess.RemoveSpectating(m.id)
		m.logger.Info("spectator left", zap.String("session_id", sess.Key()))
	}

	_, i, ok := lo.FindIndexOf(m.players, func(p player) bool { return p.sess == sess })
	if !ok {
		return
	}
	name := m.players[i].name
	m.players = append(m.players[:i], m.players[i+1:]...)
	sess.ReleasePlayer(m.id)
	m.logger.Info("player left", zap.String("player", name), zap.Int("players", len(m.players)))

	// A started match that can no longer be played ends without a winner.
	if (len(m.players) == 0 || len(m.players) < m.rules.MinPlayers()) && (m.status == StatusReady || m.status == StatusInProgress) {
		m.finish("")
	}
}

// Snapshot is a point-in-time view of a match.
type Snapshot struct {
	ID         string
	GameID     string
	Status     Status
	Winner     string
	Players    []string
	Spectators int
	State      engine.State
	Queued     int
	// Announced* describe the last notification the worker delivered.
	Announced       Status
	AnnouncedWinner string
	Delivered       int
}

func (m *Match) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		ID:         m.id,
		GameID:     m.gameID,
		Status:     m.status,
		Winner:     m.winner,
		Players:    m.playerNames(),
		Spectators: len(m.spectators),
		State:      m.state,
	}
	m.mu.Unlock()

	snap.Queued = m.queue.len()
	m.annMu.RLock()
	snap.Announced = m.annStatus
	snap.AnnouncedWinner = m.annWinner
	snap.Delivered = m.annDelivered
	m.annMu.RUnlock()
	return snap
}

func (m *Match) QueueDepth() int { return m.queue.len() }

// Caller holds mu.
func (m *Match) advance(to Status) {
	if statusOrder[to] <= statusOrder[m.status] {
		m.logger.Error("refusing backward status transition",
			zap.String("from", string(m.status)), zap.String("to", string(to)))
		return
	}
	m.logger.Debug("status transition", zap.String("from", string(m.status)), zap.String("to", string(to)))
	m.status = to
}

// Caller holds mu.
func (m *Match) finish(winner string) {
	m.winner = winner
	m.advance(StatusDone)
	m.enqueue(EventEnd, nil)

	for _, p := range m.players {
		p.sess.ReleasePlayer(m.id)
	}
	for _, s := range m.spectators {
		s.RemoveSpectating(m.id)
	}
	m.logger.Info("match finished", zap.String("winner", winner))
}

// Caller holds mu.
func (m *Match) enqueue(ev Event, target *session.Session) {
	n := Notification{
		match:     m,
		event:     ev,
		status:    m.status,
		gameState: m.state,
		winner:    m.winner,
		target:    target,
	}
	if depth := m.queue.push(n); depth >= m.opts.QueueWarnDepth {
		m.logger.Warn("notification backlog", zap.Int("depth", depth))
		if m.opts.OnBacklog != nil {
			m.opts.OnBacklog(m.id, depth)
		}
	}
}

// Caller holds mu.
func (m *Match) isPlayer(sess *session.Session) bool {
	return lo.ContainsBy(m.players, func(p player) bool { return p.sess == sess })
}

// Caller holds mu.
func (m *Match) playerNames() []string {
	return lo.Map(m.players, func(p player, _ int) string { return p.name })
}

// apply calls the rules engine with an upper bound on its run time. Caller
// holds mu.
func (m *Match) apply(ctx context.Context, name string, action engine.Action) (engine.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ActionTimeout)
	defer cancel()

	type result struct {
		out engine.Outcome
		err error
	}
	ch := make(chan result, 1)
	state := m.state
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("rules engine panic: %v", r)}
			}
		}()
		out, err := m.rules.Apply(ctx, state, name, action)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		m.logger.Error("rules engine did not return", zap.String("player", name), zap.String("action", action.Name))
		return engine.Outcome{}, ErrActionTimeout
	}
}

func (m *Match) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.queue.ready():
			for {
				n, ok := m.queue.pop()
				if !ok {
					break
				}
				m.processNotification(ctx, n)
				if n.event == EventEnd {
					return
				}
			}
		}
	}
}

// processNotification records what the notification announces and delivers it.
func (m *Match) processNotification(ctx context.Context, n Notification) {
	m.annMu.Lock()
	m.annStatus = n.status
	m.annWinner = n.winner
	m.annDelivered++
	m.annMu.Unlock()

	if n.target != nil {
		if err := n.target.SendNotification(ctx, protocol.ScopeMatch, string(n.event), n.data()); err != nil {
			m.logger.Warn("direct notification failed", zap.String("session_id", n.target.Key()), zap.Error(err))
		}
		return
	}

	if err := m.broadcast(ctx, n); err != nil {
		m.logger.Warn("broadcast partially failed", zap.String("event", string(n.event)), zap.Error(err))
	}
}

// broadcast delivers n to every current player and spectator concurrently and
// waits for all sends, so the next notification cannot overtake this one.
func (m *Match) broadcast(ctx context.Context, n Notification) error {
	m.mu.Lock()
	recipients := make([]*session.Session, 0, len(m.players)+len(m.spectators))
	for _, p := range m.players {
		recipients = append(recipients, p.sess)
	}
	recipients = append(recipients, m.spectators...)
	m.mu.Unlock()

	data := n.data()
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  error
	)
	for _, r := range recipients {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if err := s.SendNotification(ctx, protocol.ScopeMatch, string(n.event), data); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}(r)
	}
	wg.Wait()
	return errs
}
