package board

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultIdleTimeout = 2 * time.Minute

type session struct {
	m      *Manager
	cancel context.CancelFunc
	refs   int
	timer  *time.Timer
}

// Sessions hands out one running Manager per owner. A manager stays alive
// while it is acquired and for the idle timeout after its last release.
type Sessions struct {
	store  Store
	logger *log.Logger
	cfg    Config
	idle   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewSessions(store Store, logger *log.Logger, cfg Config, idle time.Duration) *Sessions {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sessions{
		store:    store,
		logger:   logger,
		cfg:      cfg,
		idle:     idle,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Acquire returns the owner's manager, starting a session when none is
// running. The release func must be called once the caller is done.
func (s *Sessions) Acquire(owner string) (*Manager, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}

	sess, ok := s.sessions[owner]
	if ok && sess.m.Closed() {
		sess.cancel()
		delete(s.sessions, owner)
		ok = false
	}
	if !ok {
		sess = s.startLocked(owner)
	}
	sess.refs++
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}

	var once sync.Once
	return sess.m, func() { once.Do(func() { s.release(owner, sess) }) }, nil
}

func (s *Sessions) startLocked(owner string) *session {
	ctx, cancel := context.WithCancel(s.ctx)
	m := New(owner, s.store, s.logger, s.cfg)
	sess := &session{m: m, cancel: cancel}
	s.sessions[owner] = sess

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := m.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).WithField("owner", owner).Error("board session ended")
		}
		// Writes run on their own deadline, so this always returns.
		_ = m.Flush(context.Background())
		s.mu.Lock()
		if s.sessions[owner] == sess {
			delete(s.sessions, owner)
		}
		s.mu.Unlock()
	}()
	s.logger.WithField("owner", owner).Debug("board session started")
	return sess
}

func (s *Sessions) release(owner string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.refs--
	if sess.refs > 0 || s.closed {
		return
	}
	sess.timer = time.AfterFunc(s.idle, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sess.refs > 0 {
			return
		}
		sess.cancel()
		if s.sessions[owner] == sess {
			delete(s.sessions, owner)
		}
		s.logger.WithField("owner", owner).Debug("idle board session torn down")
	})
}

// Active returns the number of running sessions.
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close ends every session and waits for their in-flight writes to reach
// the store or for ctx to end.
func (s *Sessions) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, sess := range s.sessions {
		if sess.timer != nil {
			sess.timer.Stop()
		}
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
