// Package session maps conversation channels onto orchestrators. Each key
// owns one turn stack; distinct keys run in parallel while calls on the
// same key are serialized by its orchestrator.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/gamestate"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/agent/orchestrator"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

// ErrNoSession is returned for read operations on a key with no session
var ErrNoSession = errors.New("no session for this channel")

// Key identifies one game: a channel on one transport
type Key struct {
	ChannelType string `json:"channel_type"`
	ChannelID   string `json:"channel_id"`
}

func (k Key) String() string { return k.ChannelType + ":" + k.ChannelID }

// Reply is what one Submit produced
type Reply struct {
	SessionID string                  `json:"session_id"`
	Outputs   []string                `json:"outputs"`
	Deltas    []domain.AttributeDelta `json:"deltas,omitempty"`
	Awaiting  *domain.Awaiting        `json:"awaiting,omitempty"`
	// Error is set when the step ended early but still produced output
	Error string `json:"error,omitempty"`
}

// Service is the session surface shared by the gateway, the RPC server
// and the MCP server. Manager implements it in process; the RPC client
// implements it over the network.
type Service interface {
	Submit(ctx context.Context, key Key, inputs []turn.Declaration) (Reply, error)
	Dump(ctx context.Context, key Key) (string, error)
	Stats(ctx context.Context, key Key) (turn.Stats, error)
	Reset(ctx context.Context, key Key) error
}

// Game is the per-session state a Factory builds
type Game struct {
	Orchestrator *orchestrator.Orchestrator
	// State may be nil when the session tracks no game state
	State *gamestate.Store
}

// Factory builds a fresh game for a new session id
type Factory func(sessionID string) (*Game, error)

// Session is one live game
type Session struct {
	ID      string
	Key     Key
	Game    *Game
	Created time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity is when the session last handled a request
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Manager holds one Session per Key
type Manager struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
	factory  Factory
	logger   *pkgLogger.Logger
	now      func() time.Time
}

func NewManager(factory Factory, logger *pkgLogger.Logger) *Manager {
	if logger == nil {
		logger = pkgLogger.NewComponentLogger("session")
	}
	return &Manager{
		sessions: make(map[Key]*Session),
		factory:  factory,
		logger:   logger,
		now:      time.Now,
	}
}

// GetOrCreate returns the session for key, building one on first use
func (m *Manager) GetOrCreate(key Key) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		s.touch(m.now())
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.touch(m.now())
		return s, nil
	}

	id := uuid.NewString()
	game, err := m.factory(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", key)
	}
	now := m.now()
	s = &Session{ID: id, Key: key, Game: game, Created: now, lastActivity: now}
	m.sessions[key] = s
	m.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Session created", "key", key.String(), "session_id", id)
	return s, nil
}

// Get returns the session for key if one exists
func (m *Manager) Get(key Key) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Submit feeds inputs to the key's orchestrator, creating the session if needed
func (m *Manager) Submit(ctx context.Context, key Key, inputs []turn.Declaration) (Reply, error) {
	s, err := m.GetOrCreate(key)
	if err != nil {
		return Reply{}, err
	}
	res, err := s.Game.Orchestrator.Step(ctx, inputs)
	s.touch(m.now())
	reply := Reply{
		SessionID: s.ID,
		Outputs:   res.Outputs,
		Deltas:    res.Deltas,
		Awaiting:  res.Awaiting,
	}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	return reply, err
}

func (m *Manager) Dump(_ context.Context, key Key) (string, error) {
	s, ok := m.Get(key)
	if !ok {
		return "", ErrNoSession
	}
	return s.Game.Orchestrator.Dump(), nil
}

func (m *Manager) Stats(_ context.Context, key Key) (turn.Stats, error) {
	s, ok := m.Get(key)
	if !ok {
		return turn.Stats{}, ErrNoSession
	}
	return s.Game.Orchestrator.Stats(), nil
}

// Reset clears the key's turn stack. Game state is kept; a missing
// session is not an error.
func (m *Manager) Reset(_ context.Context, key Key) error {
	if s, ok := m.Get(key); ok {
		s.Game.Orchestrator.Reset()
		s.touch(m.now())
	}
	return nil
}

// Remove drops the key's session entirely
func (m *Manager) Remove(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	delete(m.sessions, key)
	return ok
}

// Keys lists live sessions in a stable order
func (m *Manager) Keys() []Key {
	m.mu.RLock()
	keys := make([]Key, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// EvictIdle removes sessions idle for longer than maxIdle and returns how
// many it removed
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			delete(m.sessions, k)
			n++
			m.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Session evicted", "key", k.String(), "session_id", s.ID)
		}
	}
	return n
}

var _ Service = (*Manager)(nil)
