package interview

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"parley/internal/metrics"
)

// Defaults for registry timing policy.
const (
	DefaultTickInterval   = time.Second
	DefaultDisconnectWait = 30 * time.Second
)

// Registry owns the live session instances: one per session id, created
// lazily when a connection attaches and retired when the session reaches a
// terminal state. It also runs the per-session 1 Hz tick loop so timers
// keep counting down while nobody is connected.
type Registry struct {
	log       *slog.Logger
	deps      Deps
	questions QuestionSource

	tickInterval   time.Duration
	disconnectWait time.Duration

	mu       sync.Mutex
	live     map[string]*liveEntry
	stopOnce sync.Once
	done     chan struct{}
}

type liveEntry struct {
	session *Session
	cancel  context.CancelFunc
	// abandon fires after the disconnect grace window with no reconnect.
	abandon *time.Timer
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithTickInterval overrides the tick cadence (tests).
func WithTickInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.tickInterval = d
		}
	}
}

// WithDisconnectWait overrides the post-disconnect abandon grace window.
func WithDisconnectWait(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.disconnectWait = d
		}
	}
}

// NewRegistry builds a Registry over the given collaborators.
func NewRegistry(log *slog.Logger, deps Deps, questions QuestionSource, opts ...RegistryOption) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Sessions == nil || deps.Results == nil || questions == nil {
		return nil, ErrInvalidInput
	}

	r := &Registry{
		log:            log,
		deps:           deps,
		questions:      questions,
		tickInterval:   DefaultTickInterval,
		disconnectWait: DefaultDisconnectWait,
		live:           make(map[string]*liveEntry),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Attach resolves the live session for id, creating it from the durable
// record on first attach, and binds conn as its event sink. The subject
// must match the record's candidate. A previously attached connection is
// evicted; a pending abandon timer is disarmed.
func (r *Registry) Attach(ctx context.Context, id, subject string, conn Conn, now time.Time) (*Session, error) {
	if id == "" || conn == nil {
		return nil, ErrInvalidInput
	}

	r.mu.Lock()
	entry, ok := r.live[id]
	if ok {
		if subject != "" && entry.session.Subject() != subject {
			r.mu.Unlock()
			return nil, ErrSessionNotFound
		}
		if entry.abandon != nil {
			entry.abandon.Stop()
			entry.abandon = nil
		}
		sess := entry.session
		r.mu.Unlock()

		sess.Attach(conn)
		if err := sess.Connect(now); err != nil {
			return nil, err
		}
		return sess, nil
	}
	r.mu.Unlock()

	// First attach for this id on this instance: load the record outside
	// the lock, then race-check on insert.
	rec, err := r.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if TerminalRecordStatus(rec.Status) {
		return nil, ErrSessionTerminal
	}
	if subject != "" && rec.CandidateID != subject {
		return nil, ErrSessionNotFound
	}

	questions, err := r.questions.QuestionsForJob(ctx, rec.TenantID, rec.JobID)
	if err != nil {
		return nil, err
	}

	sess, err := NewSession(r.log, r.deps, rec, questions)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.live[id]; ok {
		// Lost the insert race; use the winner.
		sess = existing.session
		if existing.abandon != nil {
			existing.abandon.Stop()
			existing.abandon = nil
		}
		r.mu.Unlock()
	} else {
		tickCtx, cancel := context.WithCancel(context.Background())
		r.live[id] = &liveEntry{session: sess, cancel: cancel}
		metrics.ActiveSessions.Inc()
		r.mu.Unlock()
		go r.tickLoop(tickCtx, sess)
	}

	sess.Attach(conn)
	if err := sess.Connect(now); err != nil {
		return nil, err
	}
	return sess, nil
}

// Detach reports a connection loss. If conn was the attached connection,
// the abandon grace timer is armed: the session survives the window and is
// abandoned only when no reconnect arrives in time.
func (r *Registry) Detach(id string, conn Conn) {
	r.mu.Lock()
	entry, ok := r.live[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess := entry.session
	r.mu.Unlock()

	if !sess.Detach(conn) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok = r.live[id]
	if !ok {
		return
	}
	if entry.abandon != nil {
		entry.abandon.Stop()
	}
	entry.abandon = time.AfterFunc(r.disconnectWait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sess.Abandon(ctx, time.Now().UTC(), "disconnect grace elapsed"); err != nil {
			r.log.Error("registry.abandon.fail", "session_id", id, "err", err)
		}
		r.retire(id)
	})
}

// Stop cancels every tick loop and pending abandon timer. Live sessions are
// left untouched; durable records carry the state across a restart.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		defer r.mu.Unlock()
		for id, entry := range r.live {
			entry.cancel()
			if entry.abandon != nil {
				entry.abandon.Stop()
			}
			delete(r.live, id)
			metrics.ActiveSessions.Dec()
		}
	})
}

func (r *Registry) tickLoop(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case now := <-ticker.C:
			tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := sess.Tick(tctx, now.UTC())
			cancel()
			if err != nil {
				r.log.Error("registry.tick.fail", "session_id", sess.ID(), "err", err)
			}
			if sess.State().Terminal() {
				r.retire(sess.ID())
				return
			}
		}
	}
}

func (r *Registry) retire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.live[id]
	if !ok {
		return
	}
	entry.cancel()
	if entry.abandon != nil {
		entry.abandon.Stop()
	}
	delete(r.live, id)
	metrics.ActiveSessions.Dec()
}

// liveCount is a test hook.
func (r *Registry) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
