// Package stream coordinates live code-generation updates. Each step gets
// at most one open session backed by a placeholder message; incoming chunks
// are coalesced through a rate-limited flusher so the UI sees around ten
// updates per second no matter how fast the model emits.
package stream

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultFlushInterval yields roughly 10 visible updates per second.
const DefaultFlushInterval = 100 * time.Millisecond

var (
	// ErrSessionOpen is returned by Start when the step already has an
	// open session. Duplicate starts are rejected deterministically.
	ErrSessionOpen = errors.New("stream: session already open for step")

	// ErrNoSession is returned when a chunk, completion, or failure
	// targets a step with no open session.
	ErrNoSession = errors.New("stream: no open session for step")
)

// Sink receives message lifecycle events. The chat UI implements this;
// tests substitute a recorder.
type Sink interface {
	// MessageStarted announces the placeholder for a step's code.
	MessageStarted(stepID, messageID string)

	// MessageUpdated delivers the accumulated code so far. Called at
	// most once per flush interval per step.
	MessageUpdated(stepID, messageID, accumulated string)

	// MessageCompleted replaces the placeholder with the final code.
	MessageCompleted(stepID, messageID, finalCode string, success bool)

	// MessageFailed marks the placeholder failed with the error text.
	MessageFailed(stepID, messageID string, err error)
}

// Session is the transient state of one in-progress generation.
type Session struct {
	StepID    string
	MessageID string

	accumulated strings.Builder
	dirty       bool
}

// AccumulatedCode returns the text received so far.
func (s *Session) AccumulatedCode() string {
	return s.accumulated.String()
}

// Orchestrator owns the session registry and the flush loop.
type Orchestrator struct {
	sink     Sink
	logger   *zap.Logger
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	stop chan struct{}
	done chan struct{}
}

// Option adjusts Orchestrator construction.
type Option func(*Orchestrator)

// WithFlushInterval overrides the batching interval. Tests use a short one.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// NewOrchestrator creates the registry and starts the flush loop.
// Call Close when done to stop the loop.
func NewOrchestrator(sink Sink, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		sink:     sink,
		logger:   logger,
		interval: DefaultFlushInterval,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.runFlusher(o.stop, o.done)
	return o
}

// Start opens a session for a step and announces its placeholder message.
// A second Start before Complete or Fail returns ErrSessionOpen.
func (o *Orchestrator) Start(stepID string) error {
	o.mu.Lock()
	if _, open := o.sessions[stepID]; open {
		o.mu.Unlock()
		return ErrSessionOpen
	}
	s := &Session{StepID: stepID, MessageID: uuid.NewString()}
	o.sessions[stepID] = s
	o.mu.Unlock()

	o.sink.MessageStarted(stepID, s.MessageID)
	o.logger.Debug("stream session opened",
		zap.String("step_id", stepID), zap.String("message_id", s.MessageID))
	return nil
}

// Chunk appends incremental text to the step's session. The update is
// queued for the next flush tick rather than pushed immediately.
func (o *Orchestrator) Chunk(stepID, chunk string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, open := o.sessions[stepID]
	if !open {
		return ErrNoSession
	}
	s.accumulated.WriteString(chunk)
	s.dirty = true
	return nil
}

// Complete finalizes the step's message with the caller's final code and
// success flag, then destroys the session.
func (o *Orchestrator) Complete(stepID, finalCode string, success bool) error {
	s, err := o.take(stepID)
	if err != nil {
		return err
	}
	o.sink.MessageCompleted(stepID, s.MessageID, finalCode, success)
	o.logger.Debug("stream session completed",
		zap.String("step_id", stepID), zap.Bool("success", success))
	return nil
}

// Fail marks the step's message failed and discards the session.
func (o *Orchestrator) Fail(stepID string, failure error) error {
	s, err := o.take(stepID)
	if err != nil {
		return err
	}
	o.sink.MessageFailed(stepID, s.MessageID, failure)
	o.logger.Debug("stream session failed",
		zap.String("step_id", stepID), zap.Error(failure))
	return nil
}

// Open reports whether the step currently has a session.
func (o *Orchestrator) Open(stepID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, open := o.sessions[stepID]
	return open
}

// Close stops the flush loop after one final flush of pending updates.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	stop := o.stop
	o.stop = nil
	o.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-o.done:
	case <-time.After(2 * time.Second):
	}
}

func (o *Orchestrator) take(stepID string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, open := o.sessions[stepID]
	if !open {
		return nil, ErrNoSession
	}
	delete(o.sessions, stepID)
	return s, nil
}

func (o *Orchestrator) runFlusher(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			o.flushDirty()
			return
		case <-ticker.C:
			o.flushDirty()
		}
	}
}

// flushDirty pushes one MessageUpdated per dirty session. Snapshot under
// the lock, emit outside it so a slow sink never blocks Chunk.
func (o *Orchestrator) flushDirty() {
	type update struct {
		stepID, messageID, accumulated string
	}

	o.mu.Lock()
	var updates []update
	for _, s := range o.sessions {
		if !s.dirty {
			continue
		}
		s.dirty = false
		updates = append(updates, update{s.StepID, s.MessageID, s.AccumulatedCode()})
	}
	o.mu.Unlock()

	for _, u := range updates {
		o.sink.MessageUpdated(u.stepID, u.messageID, u.accumulated)
	}
}
