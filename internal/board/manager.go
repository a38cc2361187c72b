package board

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

// Store is the persistence collaborator owning a user's task records.
type Store interface {
	// Subscribe streams full task snapshots for the owner until ctx ends.
	Subscribe(ctx context.Context, ownerID string) (<-chan []domain.Task, error)
	Create(ctx context.Context, ownerID string, task domain.Task) (domain.Task, error)
	Update(ctx context.Context, ownerID, id string, upd domain.TaskUpdate) error
	Delete(ctx context.Context, ownerID, id string) error
}

// ErrClosed is returned by operations on a manager whose session has ended.
var ErrClosed = errors.New("board session closed")

// Config tunes a Manager. Zero values fall back to defaults.
type Config struct {
	SweepInterval time.Duration
	WriteTimeout  time.Duration
	Location      *time.Location
	Now           func() time.Time
}

const (
	defaultSweepInterval = time.Minute
	defaultWriteTimeout  = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type writeKind int

const (
	writeUpdate writeKind = iota
	writeDelete
)

// pendingWrite is an issued but unconfirmed write, overlaid on the snapshot.
type pendingWrite struct {
	seq  uint64
	kind writeKind
	upd  domain.TaskUpdate
}

// Manager keeps one owner's board: the latest store snapshot, the overlay of
// writes still in flight, and the local-only column ordering.
type Manager struct {
	owner  string
	store  Store
	cfg    Config
	logger *log.Entry
	writer *writer

	seq     atomic.Uint64
	created atomic.Uint64

	mu       sync.Mutex
	snapshot []domain.Task
	pending  map[string][]*pendingWrite
	order    map[domain.Status][]string
	closed   bool
	ready    chan struct{}
	gotFirst bool
	watchers map[chan struct{}]struct{}
}

// New creates a manager for owner. Call Run to start consuming snapshots.
func New(owner string, store Store, logger *log.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	return &Manager{
		owner:    owner,
		store:    store,
		cfg:      cfg,
		logger:   logger.WithField("owner", owner),
		writer:   newWriter(cfg.WriteTimeout),
		pending:  make(map[string][]*pendingWrite),
		order:    make(map[domain.Status][]string),
		ready:    make(chan struct{}),
		watchers: make(map[chan struct{}]struct{}),
	}
}

// Owner returns the user whose board this is.
func (m *Manager) Owner() string { return m.owner }

// Run consumes the store's snapshot stream and drives the periodic overdue
// sweep until ctx ends or the stream closes. The manager is closed afterwards.
func (m *Manager) Run(ctx context.Context) error {
	defer m.close()

	snapshots, err := m.store.Subscribe(ctx, m.owner)
	if err != nil {
		return &domain.StoreError{Op: "subscribe", Err: err}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case tasks, ok := <-snapshots:
				if !ok {
					if ctx.Err() != nil {
						return nil
					}
					return errors.New("snapshot stream closed")
				}
				m.ApplySnapshot(tasks)
				m.Sweep()
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.Sweep()
			}
		}
	})
	return g.Wait()
}

// Ready blocks until the first snapshot has been applied.
func (m *Manager) Ready(ctx context.Context) error {
	select {
	case <-m.ready:
		m.mu.Lock()
		closed := m.closed && !m.gotFirst
		m.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplySnapshot replaces the local view with tasks as delivered by the store.
// Local column reordering is discarded; the snapshot order is authoritative.
func (m *Manager) ApplySnapshot(tasks []domain.Task) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.snapshot = append([]domain.Task(nil), tasks...)
	m.order = make(map[domain.Status][]string)
	if !m.gotFirst {
		m.gotFirst = true
		close(m.ready)
	}
	m.mu.Unlock()
	m.notify()
}

// Tasks returns the current view: the snapshot with pending writes applied.
func (m *Manager) Tasks() []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Columns derives the board columns from the current view.
func (m *Manager) Columns() domain.Columns {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols := domain.Classify(m.viewLocked())
	for status, ids := range m.order {
		cols[status] = reorder(cols[status], ids)
	}
	return cols
}

func (m *Manager) viewLocked() []domain.Task {
	view := make([]domain.Task, 0, len(m.snapshot))
	for _, t := range m.snapshot {
		deleted := false
		for _, pw := range m.pending[t.ID] {
			if pw.kind == writeDelete {
				deleted = true
				break
			}
			t = pw.upd.Apply(t)
		}
		if !deleted {
			view = append(view, t)
		}
	}
	return view
}

func (m *Manager) lookupLocked(id string) (domain.Task, bool) {
	for _, t := range m.viewLocked() {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func (m *Manager) today() domain.Date {
	return domain.DateOf(m.cfg.Now().In(m.cfg.Location))
}

// Create validates fields, writes a new todo task and returns it once the
// store has confirmed it.
func (m *Manager) Create(ctx context.Context, fields domain.NewTask) (domain.Task, error) {
	fields = fields.WithDefaults(m.today())
	if err := fields.Validate(); err != nil {
		return domain.Task{}, err
	}
	task := fields.Task()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.Task{}, ErrClosed
	}
	m.mu.Unlock()

	var created domain.Task
	key := "new:" + strconv.FormatUint(m.created.Add(1), 10)
	done := m.writer.submit(key, func(ctx context.Context) error {
		t, err := m.store.Create(ctx, m.owner, task)
		if err != nil {
			return &domain.StoreError{Op: "create", Err: err}
		}
		created = t
		m.confirmCreate(t)
		return nil
	})

	select {
	case err := <-done:
		if err != nil {
			return domain.Task{}, err
		}
		return created, nil
	case <-ctx.Done():
		return domain.Task{}, ctx.Err()
	}
}

func (m *Manager) confirmCreate(t domain.Task) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	for _, existing := range m.snapshot {
		if existing.ID == t.ID {
			m.mu.Unlock()
			return
		}
	}
	m.snapshot = append(m.snapshot, t)
	m.mu.Unlock()
	m.notify()
}

// Edit applies a partial update. Caller supplied doneAt values are ignored;
// doneAt follows status transitions.
func (m *Manager) Edit(ctx context.Context, id string, upd domain.TaskUpdate) error {
	return m.update(ctx, id, func(cur domain.Task) (domain.TaskUpdate, error) {
		normalized, err := domain.ValidateEdit(cur, upd)
		if err != nil {
			return domain.TaskUpdate{}, err
		}
		domain.StampDone(&normalized, cur.Status, m.cfg.Now())
		return normalized, nil
	})
}

// Move changes a task's status. Moving to the current status is a no-op.
func (m *Manager) Move(ctx context.Context, id string, to domain.Status) error {
	if err := domain.CheckUserStatus(to); err != nil {
		return err
	}
	return m.update(ctx, id, func(cur domain.Task) (domain.TaskUpdate, error) {
		upd, _ := domain.StatusUpdate(cur, to, m.cfg.Now())
		return upd, nil
	})
}

func (m *Manager) update(ctx context.Context, id string, build func(cur domain.Task) (domain.TaskUpdate, error)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	cur, ok := m.lookupLocked(id)
	if !ok {
		m.mu.Unlock()
		return domain.NotFound(id)
	}
	upd, err := build(cur)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if upd.IsEmpty() {
		m.mu.Unlock()
		return nil
	}
	done := m.issueLocked(id, &pendingWrite{kind: writeUpdate, upd: upd})
	m.mu.Unlock()
	m.notify()

	return wait(ctx, done)
}

// Delete removes a task. A task that is already gone counts as deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	done := m.issueLocked(id, &pendingWrite{kind: writeDelete})
	m.mu.Unlock()
	m.notify()

	return wait(ctx, done)
}

// issueLocked records pw in the overlay and hands the write to the ordered
// writer. The overlay entry is resolved when the store answers.
func (m *Manager) issueLocked(id string, pw *pendingWrite) <-chan error {
	pw.seq = m.seq.Add(1)
	m.pending[id] = append(m.pending[id], pw)

	return m.writer.submit(id, func(ctx context.Context) error {
		var err error
		switch pw.kind {
		case writeDelete:
			err = m.store.Delete(ctx, m.owner, id)
			if errors.Is(err, domain.ErrNotFound) {
				err = nil
			}
		default:
			err = m.store.Update(ctx, m.owner, id, pw.upd)
		}
		m.resolve(id, pw, err)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrNotFound):
			return domain.NotFound(id)
		default:
			op := "update"
			if pw.kind == writeDelete {
				op = "delete"
			}
			return &domain.StoreError{Op: op, TaskID: id, Err: err}
		}
	})
}

// resolve drops pw from the overlay and, on success, folds it into the
// snapshot so the view stays stable until the store echoes the change.
func (m *Manager) resolve(id string, pw *pendingWrite, err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	list := m.pending[id]
	for i, p := range list {
		if p == pw {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.pending, id)
	} else {
		m.pending[id] = list
	}
	if err == nil {
		for i, t := range m.snapshot {
			if t.ID != id {
				continue
			}
			if pw.kind == writeDelete {
				m.snapshot = append(m.snapshot[:i:i], m.snapshot[i+1:]...)
			} else {
				m.snapshot[i] = pw.upd.Apply(t)
			}
			break
		}
	}
	m.mu.Unlock()
	m.notify()
}

// Sweep reclassifies overdue tasks against today and issues the resulting
// status writes without waiting for them. Failures are logged per task.
func (m *Manager) Sweep() []domain.StatusChange {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	view := m.viewLocked()
	changes := domain.Sweep(view, m.today())
	now := m.cfg.Now()
	byID := make(map[string]domain.Task, len(view))
	for _, t := range view {
		byID[t.ID] = t
	}
	for _, ch := range changes {
		upd, ok := domain.StatusUpdate(byID[ch.TaskID], ch.To, now)
		if !ok {
			continue
		}
		done := m.issueLocked(ch.TaskID, &pendingWrite{kind: writeUpdate, upd: upd})
		go m.logSweepResult(ch, done)
	}
	m.mu.Unlock()

	if len(changes) > 0 {
		m.notify()
		m.logger.WithField("changes", len(changes)).Debug("overdue sweep issued status changes")
	}
	return changes
}

func (m *Manager) logSweepResult(ch domain.StatusChange, done <-chan error) {
	if err := <-done; err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"task": ch.TaskID,
			"from": ch.From,
			"to":   ch.To,
		}).Warn("overdue sweep write failed")
	}
}

// Flush waits for every issued write to be answered by the store.
func (m *Manager) Flush(ctx context.Context) error {
	return m.writer.wait(ctx)
}

// Pending returns the number of writes not yet answered by the store.
func (m *Manager) Pending() int {
	return m.writer.pending()
}

// Updates returns a channel signalled whenever the board view changes, and a
// function to stop watching. The channel is closed when the session ends.
func (m *Manager) Updates() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			if _, ok := m.watchers[ch]; ok {
				delete(m.watchers, ch)
				close(ch)
			}
			m.mu.Unlock()
		})
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	for ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.mu.Unlock()
}

func (m *Manager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if !m.gotFirst {
		close(m.ready)
	}
	for ch := range m.watchers {
		close(ch)
	}
	m.watchers = make(map[chan struct{}]struct{})
}

// Closed reports whether the session has ended.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for store confirmation: %w", ctx.Err())
	}
}
