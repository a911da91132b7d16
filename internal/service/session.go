package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/regionmap/internal/metrics"
	"github.com/joeblew999/regionmap/internal/pipeline"
	"github.com/joeblew999/regionmap/internal/search"
	"github.com/joeblew999/regionmap/internal/viewport"
)

// ErrSessionNotFound is returned for an unknown or closed session id.
var ErrSessionNotFound = errors.New("session not found")

// Session is one mounted map: a viewport controller plus its search
// coordinator, fed with every published result.
type Session struct {
	ID         string
	Created    time.Time
	Controller *viewport.Controller
	Search     *search.Coordinator

	mu      sync.Mutex
	version uint64
	cancel  context.CancelFunc
}

// apply hands res to the controller and re-runs the search. Results older
// than the one already applied are ignored.
func (s *Session) apply(res *pipeline.Result) {
	if res == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != 0 && res.Version < s.version {
		return
	}
	s.version = res.Version
	s.Controller.SetResult(res)
	s.Search.Refresh(res.Snapshot)
}

// Version returns the version of the applied result.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Info describes the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{ID: s.ID, Created: s.Created, Version: s.Version(), Query: s.Search.Query()}
}

func (s *Session) close() {
	s.cancel()
	s.Controller.Close()
	metrics.Sessions.Dec()
}

// CreateSession mounts a new map of the given pixel size. Zero keeps the
// configured size.
func (m *MapService) CreateSession(width, height int) (*Session, error) {
	if err := m.ctx.Err(); err != nil {
		return nil, errors.New("map service closed")
	}
	id := uuid.NewString()
	sink := sessionSink{id: id, bus: m.bus}

	opts := m.cfg.ViewportOptions()
	if width > 0 {
		opts.Width = width
	}
	if height > 0 {
		opts.Height = height
	}
	opts.InitialBound = m.engine.Boundary().Bound()
	if m.cfg.Map.Basemap {
		opts.Unproject = m.proj.Inverse
	}

	ctx, cancel := context.WithCancel(m.ctx)
	ctrl := viewport.New(opts, sink)
	s := &Session{
		ID:         id,
		Created:    time.Now(),
		Controller: ctrl,
		Search: search.New(ctrl, sink, m.store.Snapshot(), search.Options{
			FocusZoom: m.cfg.Map.FocusZoom,
			Logger:    m.logger.With("session", id),
		}),
		cancel: cancel,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	metrics.Sessions.Inc()

	// registered before reading Current so no result is missed
	s.apply(m.engine.Current())

	go ctrl.Run(ctx, m.tickInterval())
	m.logger.Info("session created", "session", id, "width", opts.Width, "height", opts.Height)
	return s, nil
}

// Session returns a mounted session.
func (m *MapService) Session(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sessions lists the mounted sessions.
func (m *MapService) Sessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	out := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		out[i] = s.Info()
	}
	return out
}

// CloseSession unmounts a session.
func (m *MapService) CloseSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	m.bus.Publish(Event{Session: id, Kind: EventClosed})
	m.logger.Info("session closed", "session", id)
	return nil
}

func (m *MapService) sessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MapService) tickInterval() time.Duration {
	if d := m.cfg.Map.TickInterval; d > 0 {
		return d
	}
	return 16 * time.Millisecond
}
