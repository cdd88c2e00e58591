package interview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "parley/contracts/interview/v1"
	"parley/internal/metrics"
)

// State is the lifecycle state of a live session instance.
type State string

const (
	StateCreated   State = "created"
	StateConnected State = "connected"
	StateListening State = "listening"
	StateSpeaking  State = "speaking"
	StateSubmitted State = "submitted"
	StateAbandoned State = "abandoned"
	StateError     State = "error"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitted, StateAbandoned, StateError:
		return true
	default:
		return false
	}
}

// Conn is the attached transport connection, as seen by the session.
// Emit must never block; Evict asks the transport to close because a newer
// connection took over the session.
type Conn interface {
	Emit(ev v1.ServerEvent)
	Evict(reason string)
}

// Defaults for session timing policy.
const (
	DefaultIdleTimeout     = 90 * time.Second
	DefaultViolationBudget = 3
)

// Deps are the collaborator handles a Session needs.
type Deps struct {
	Transcriber Transcriber
	Speech      SpeechSynth
	Scorer      Scorer
	Results     ResultStore
	Sessions    SessionStore
}

// Session is the single authoritative state machine for one interview run.
//
// All methods are serialized by the internal mutex with short critical
// sections; callers are the owning connection's read loop plus the 1 Hz
// tick callback. Remaining time is computed and ticked exclusively here;
// the client only ever observes timer events.
type Session struct {
	log  *slog.Logger
	deps Deps

	id        string
	tenantID  string
	jobID     string
	subject   string
	questions []Question

	idleTimeout     time.Duration
	violationBudget int

	mu           sync.Mutex
	state        State
	qIndex       int
	remainingSec int
	awaitSubmit  bool
	violations   int
	sampleRate   int
	lastActivity time.Time
	conn         Conn
}

// NewSession builds a live instance for the given record and question list.
func NewSession(log *slog.Logger, deps Deps, rec SessionRecord, questions []Question) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(questions) == 0 {
		return nil, ErrInvalidInput
	}
	if deps.Transcriber == nil {
		deps.Transcriber = NoopTranscriber{}
	}
	if deps.Speech == nil {
		deps.Speech = NoopSpeechSynth{}
	}
	if deps.Results == nil || deps.Sessions == nil {
		return nil, ErrInvalidInput
	}

	return &Session{
		log:             log,
		deps:            deps,
		id:              rec.ID,
		tenantID:        rec.TenantID,
		jobID:           rec.JobID,
		subject:         rec.CandidateID,
		questions:       questions,
		idleTimeout:     DefaultIdleTimeout,
		violationBudget: DefaultViolationBudget,
		state:           StateCreated,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Subject returns the candidate subject the session belongs to.
func (s *Session) Subject() string { return s.subject }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QIndex returns the current question index.
func (s *Session) QIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qIndex
}

// RemainingSec returns the server-authoritative remaining seconds for the
// live question.
func (s *Session) RemainingSec() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingSec
}

// SetIdleTimeout overrides the idle-abandon window (tests and config).
func (s *Session) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.idleTimeout = d
	}
}

// Attach binds a transport connection as the session's event sink,
// evicting any previously attached connection: exactly one connection is
// authoritative for a session id at any instant.
func (s *Session) Attach(conn Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old != nil && old != conn {
		old.Evict("superseded by newer connection")
	}
}

// Detach unbinds the given connection if it is still the attached one.
// It reports whether the detach happened (false means a newer connection
// already took over and the caller must not arm abandonment).
func (s *Session) Detach(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	return true
}

// Connect handles a validated hello: first connect moves CREATED to
// CONNECTED; a reconnect to a non-terminal session resumes the exact state,
// question index and remaining time.
func (s *Session) Connect(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionTerminal
	}

	s.lastActivity = now

	switch s.state {
	case StateCreated:
		s.state = StateConnected
		s.emit(v1.StatePayload{Status: v1.StatusConnected})
	case StateConnected:
		s.emit(v1.StatePayload{Status: v1.StatusConnected})
	case StateListening:
		q := s.questions[s.qIndex]
		s.emitQuestionState()
		s.emit(v1.PromptPayload{Text: q.Prompt})
		s.emit(v1.TimerPayload{RemainingSec: s.remainingSec})
	case StateSpeaking:
		s.emit(v1.StatePayload{Status: v1.StatusSpeaking, QIndex: intPtr(s.qIndex), QTotal: intPtr(len(s.questions))})
	}
	return nil
}

// Start begins the interview at question 0.
func (s *Session) Start(ctx context.Context, now time.Time, sampleRateHz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	if s.state != StateConnected {
		return s.violation("start is only valid before the interview begins")
	}
	if sampleRateHz <= 0 {
		return s.violation("invalid sample rate")
	}

	s.sampleRate = sampleRateHz
	s.lastActivity = now
	s.qIndex = 0

	if err := s.deps.Sessions.SetStatus(ctx, s.id, RecordInProgress, now); err != nil {
		return s.fail(ctx, now, fmt.Errorf("session status: %w", err))
	}

	s.enterQuestion(ctx)
	return nil
}

// Audio appends one PCM chunk to the live question and relays the
// transcriber's caption output. Only valid while LISTENING.
func (s *Session) Audio(ctx context.Context, now time.Time, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	if s.state != StateListening {
		return s.violation("audio is only accepted while listening")
	}

	s.lastActivity = now

	q := s.questions[s.qIndex]
	caption, err := s.deps.Transcriber.TranscribeChunk(ctx, s.id, q.ID, chunk)
	if err != nil {
		return s.fail(ctx, now, fmt.Errorf("transcribe: %w", err))
	}
	if caption.Text != "" {
		s.emit(v1.CaptionPayload{Partial: caption.Partial, Text: caption.Text})
	}
	return nil
}

// EndQuestion finishes the live question before its timer expires.
func (s *Session) EndQuestion(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	if s.state != StateListening {
		return s.violation("end_question is only valid while listening")
	}

	s.lastActivity = now
	return s.finalizeQuestion(ctx, now)
}

// Submit finalizes the interview. Only valid once the last question's
// result has been emitted.
func (s *Session) Submit(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	if s.state != StateSpeaking || !s.awaitSubmit {
		return s.violation("submit is only valid after the final question's result")
	}

	// Fire-and-confirm: the terminal transition waits for the ack.
	if err := s.deps.Results.FinalizeSession(ctx, s.id, RecordSubmitted, now); err != nil {
		return s.fail(ctx, now, fmt.Errorf("finalize session: %w", err))
	}
	if err := s.deps.Sessions.SetStatus(ctx, s.id, RecordSubmitted, now); err != nil {
		s.log.Error("session.status.update.fail", "session_id", s.id, "err", err)
	}

	s.state = StateSubmitted
	metrics.SessionsFinished.WithLabelValues(RecordSubmitted).Inc()
	s.emit(v1.StatePayload{Status: v1.StatusSubmitted})
	s.log.Info("session.submitted", "session_id", s.id, "questions", len(s.questions))
	return nil
}

// Tick advances the server-side clock by one interval. It drives both the
// question countdown and the idle-abandonment check. Ticks after a terminal
// transition are no-ops.
func (s *Session) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil
	}

	if (s.state == StateConnected || s.state == StateListening) &&
		!s.lastActivity.IsZero() && now.Sub(s.lastActivity) > s.idleTimeout {
		return s.abandonLocked(ctx, now, "idle timeout")
	}

	if s.state != StateListening {
		return nil
	}

	s.remainingSec--
	if s.remainingSec > 0 {
		s.emit(v1.TimerPayload{RemainingSec: s.remainingSec})
		return nil
	}

	s.remainingSec = 0
	s.emit(v1.TimerPayload{RemainingSec: 0})
	return s.finalizeQuestion(ctx, now)
}

// Abandon forces the session into ABANDONED, persisting partial progress
// as-is. Used by the idle check and by the post-disconnect grace timer.
func (s *Session) Abandon(ctx context.Context, now time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil
	}
	return s.abandonLocked(ctx, now, reason)
}

// ---- internals (mu held) ----

func (s *Session) enterQuestion(ctx context.Context) {
	q := s.questions[s.qIndex]

	s.state = StateListening
	s.awaitSubmit = false
	s.remainingSec = q.BudgetSec

	s.emitQuestionState()
	s.emit(v1.PromptPayload{Text: q.Prompt})

	audio, err := s.deps.Speech.PromptAudio(ctx, s.id, q.Prompt)
	if err != nil {
		// Prompt audio is an enhancement; text already went out.
		s.log.Warn("session.tts.fail", "session_id", s.id, "question_id", q.ID, "err", err)
	} else {
		if audio.URL != "" {
			s.emit(v1.TTSPayload{URL: audio.URL})
		}
		for _, chunk := range audio.Chunks {
			if len(chunk) > 0 {
				s.emit(v1.TTSPayload{StreamChunk: chunk})
			}
		}
	}

	s.emit(v1.TimerPayload{RemainingSec: s.remainingSec})
}

func (s *Session) finalizeQuestion(ctx context.Context, now time.Time) error {
	q := s.questions[s.qIndex]

	duration := q.BudgetSec - s.remainingSec
	if duration < 0 {
		duration = 0
	}
	if duration > q.BudgetSec {
		duration = q.BudgetSec
	}

	s.state = StateSpeaking
	s.emit(v1.StatePayload{Status: v1.StatusSpeaking, QIndex: intPtr(s.qIndex), QTotal: intPtr(len(s.questions))})

	transcript, err := s.deps.Transcriber.FinalizeTranscript(ctx, s.id, q.ID)
	if err != nil {
		return s.fail(ctx, now, fmt.Errorf("finalize transcript: %w", err))
	}

	var score *float64
	if s.deps.Scorer != nil {
		score, err = s.deps.Scorer.Score(ctx, s.id, q.ID, transcript)
		if err != nil {
			// Scores are optional; a scoring failure never ends an interview.
			s.log.Warn("session.score.fail", "session_id", s.id, "question_id", q.ID, "err", err)
			score = nil
		}
		score = clampScore(score)
	}

	if err := s.deps.Results.PersistResult(ctx, Result{
		SessionID:   s.id,
		QuestionID:  q.ID,
		Transcript:  transcript,
		DurationSec: duration,
		Score:       score,
		RecordedAt:  now,
	}); err != nil {
		return s.fail(ctx, now, fmt.Errorf("persist result: %w", err))
	}

	s.emit(v1.ResultPayload{
		QuestionID:  q.ID,
		Transcript:  transcript,
		DurationSec: duration,
		Score:       score,
	})

	if s.qIndex == len(s.questions)-1 {
		s.awaitSubmit = true
		return nil
	}

	s.qIndex++
	s.enterQuestion(ctx)
	return nil
}

func (s *Session) abandonLocked(ctx context.Context, now time.Time, reason string) error {
	// Persist whatever the live question produced; abandonment must not
	// discard partial progress.
	if s.state == StateListening {
		q := s.questions[s.qIndex]
		duration := q.BudgetSec - s.remainingSec
		if duration < 0 {
			duration = 0
		}
		transcript, err := s.deps.Transcriber.FinalizeTranscript(ctx, s.id, q.ID)
		if err != nil {
			s.log.Warn("session.abandon.transcript.fail", "session_id", s.id, "err", err)
		} else if err := s.deps.Results.PersistResult(ctx, Result{
			SessionID:   s.id,
			QuestionID:  q.ID,
			Transcript:  transcript,
			DurationSec: duration,
			RecordedAt:  now,
		}); err != nil {
			s.log.Error("session.abandon.persist.fail", "session_id", s.id, "err", err)
		}
	}

	if err := s.deps.Results.FinalizeSession(ctx, s.id, RecordAbandoned, now); err != nil {
		s.log.Error("session.abandon.finalize.fail", "session_id", s.id, "err", err)
	}
	if err := s.deps.Sessions.SetStatus(ctx, s.id, RecordAbandoned, now); err != nil {
		s.log.Error("session.status.update.fail", "session_id", s.id, "err", err)
	}

	s.state = StateAbandoned
	metrics.SessionsFinished.WithLabelValues(RecordAbandoned).Inc()
	s.log.Info("session.abandoned", "session_id", s.id, "reason", reason, "q_index", s.qIndex)
	return nil
}

// violation reports a message inconsistent with the current state. State is
// unchanged unless the budget is exceeded, which forces ERROR.
func (s *Session) violation(msg string) error {
	s.violations++
	if s.violations > s.violationBudget {
		s.state = StateError
		metrics.SessionsFinished.WithLabelValues(RecordError).Inc()
		s.emit(v1.ErrorPayload{Code: v1.CodeProtocolViolation, Message: "violation budget exceeded"})
		if err := s.deps.Sessions.SetStatus(context.Background(), s.id, RecordError, time.Now().UTC()); err != nil {
			s.log.Error("session.status.update.fail", "session_id", s.id, "err", err)
		}
		s.log.Info("session.violation.budget", "session_id", s.id, "violations", s.violations)
		return ErrViolationBudget
	}

	s.emit(v1.ErrorPayload{Code: v1.CodeProtocolViolation, Message: msg})
	return nil
}

// fail forces the session into ERROR after a fatal collaborator failure.
func (s *Session) fail(ctx context.Context, now time.Time, cause error) error {
	s.emit(v1.ErrorPayload{Code: v1.CodeInternal, Message: "internal failure"})
	s.state = StateError
	metrics.SessionsFinished.WithLabelValues(RecordError).Inc()
	if err := s.deps.Sessions.SetStatus(ctx, s.id, RecordError, now); err != nil {
		s.log.Error("session.status.update.fail", "session_id", s.id, "err", err)
	}
	s.log.Error("session.fail", "session_id", s.id, "err", cause)
	return fmt.Errorf("%w: %v", ErrInternal, cause)
}

func (s *Session) emitQuestionState() {
	s.emit(v1.StatePayload{
		Status: v1.StatusListening,
		QIndex: intPtr(s.qIndex),
		QTotal: intPtr(len(s.questions)),
	})
}

func (s *Session) emit(ev v1.ServerEvent) {
	if s.conn != nil {
		s.conn.Emit(ev)
	}
}

func clampScore(score *float64) *float64 {
	if score == nil {
		return nil
	}
	v := *score
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}

func intPtr(v int) *int { return &v }
