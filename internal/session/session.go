// Package session owns the per-document state behind inline evaluation.
//
// A Manager keeps one session per open document. Each session debounces
// change and selection events, runs at most one live evaluation per quiet
// period, and tags every evaluation it issues with a sequence number. Only
// the result carrying the latest sequence number reaches the Presenter; older
// ones are dropped, so a slow run can never overwrite a newer annotation.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/phpinline/internal/annotation"
	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/executor"
	"github.com/sakif/phpinline/internal/metrics"
	"github.com/sakif/phpinline/internal/model"
	"github.com/sakif/phpinline/internal/service"
	"github.com/sakif/phpinline/internal/trigger"
)

// State is where a session sits in its evaluation cycle.
type State int

const (
	Idle State = iota
	// Pending means a debounce timer is armed.
	Pending
	// Evaluating means an interpreter run is in flight.
	Evaluating
	// Annotated means the latest result is on screen.
	Annotated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Evaluating:
		return "evaluating"
	case Annotated:
		return "annotated"
	default:
		return "unknown"
	}
}

// Evaluator runs evaluations. *service.EvaluationService satisfies it.
type Evaluator interface {
	Live(ctx context.Context, req service.LiveRequest) (*model.Outcome, error)
	Block(ctx context.Context, req service.BlockRequest) (*model.Outcome, error)
}

// Presenter renders annotations for a document. Calls for one document are
// serialized and never overlap.
type Presenter interface {
	Show(uri string, a annotation.Annotation)
	Clear(uri string)
}

// Settings supplies the delay and color at the moment they are needed.
type Settings interface {
	Snapshot() config.Config
}

// Document is what a host knows about a document when it opens.
type Document struct {
	URI string
	// Path is the file on disk, empty for unsaved buffers.
	Path  string
	Text  string
	Saved bool
	Line  int
}

type session struct {
	mu sync.Mutex

	doc   Document
	state State

	timer *time.Timer
	// gen invalidates timer callbacks that fire after being replaced.
	gen uint64
	// seq is the latest evaluation issued; results carrying an older one are stale.
	seq uint64

	annotated bool
	closed    bool
}

// Manager owns every open session.
type Manager struct {
	eval     Evaluator
	present  Presenter
	settings Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewManager creates a Manager. m may be nil.
func NewManager(eval Evaluator, present Presenter, settings Settings, m *metrics.Metrics, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		eval:     eval,
		present:  present,
		settings: settings,
		metrics:  m,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Open starts a session for doc. Opening a document that already has a
// session replaces its contents and keeps its annotation.
func (m *Manager) Open(doc Document) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperror.Unavailable("session manager")
	}
	s, ok := m.sessions[doc.URI]
	if !ok {
		m.sessions[doc.URI] = &session{doc: doc}
	}
	m.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.doc = doc
		s.mu.Unlock()
		return nil
	}
	m.logger.Debug("session opened", slog.String("uri", doc.URI))
	return nil
}

// Change records new document text and schedules a live evaluation. The
// cursor is moved to the first line that changed; a later Select overrides
// it. The buffer is dirty until Saved is called.
func (m *Manager) Change(uri, text string) error {
	s, err := m.get(uri)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperror.NotFound("session", uri)
	}
	if text != s.doc.Text {
		s.doc.Line = trigger.FirstChangedLine(s.doc.Text, text)
	}
	s.doc.Text = text
	s.doc.Saved = false
	m.arm(s)
	return nil
}

// Select moves the cursor and schedules a live evaluation.
func (m *Manager) Select(uri string, line int) error {
	s, err := m.get(uri)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperror.NotFound("session", uri)
	}
	s.doc.Line = line
	m.arm(s)
	return nil
}

// Saved marks the buffer as matching the file at path, so the next live
// evaluation runs that file directly. An empty path keeps the known one.
func (m *Manager) Saved(uri, path string) error {
	s, err := m.get(uri)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" {
		s.doc.Path = path
	}
	s.doc.Saved = true
	return nil
}

// Close tears a session down: the timer is stopped, the annotation cleared,
// and any result still in flight is discarded.
func (m *Manager) Close(uri string) error {
	m.mu.Lock()
	s, ok := m.sessions[uri]
	delete(m.sessions, uri)
	m.mu.Unlock()
	if !ok {
		return apperror.NotFound("session", uri)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.teardown(uri, s)
	m.logger.Debug("session closed", slog.String("uri", uri))
	return nil
}

// RunBlock evaluates selection and annotates line. It waits for the run and
// returns its outcome. A selection the service would refuse (empty or
// oversized) is rejected before a sequence number is taken, so it cannot
// supersede a live result still in flight.
// The run takes a sequence number like any live evaluation, so a live result
// still in flight cannot replace the block result.
func (m *Manager) RunBlock(ctx context.Context, uri, selection string, line int) (*model.Outcome, error) {
	if err := service.ValidateSelection(selection); err != nil {
		return nil, err
	}

	s, err := m.get(uri)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperror.NotFound("session", uri)
	}
	s.seq++
	seq := s.seq
	s.state = Evaluating
	s.mu.Unlock()

	outcome, err := m.eval.Block(ctx, service.BlockRequest{
		DocumentURI: uri,
		Selection:   selection,
		Line:        line,
	})
	if err != nil && errors.Is(err, apperror.ErrValidation) {
		m.settle(s)
		return nil, err
	}

	outcome = m.apply(uri, s, seq, model.ModeBlock, line, outcome, err)
	return outcome, nil
}

// State reports the current state of a session.
func (m *Manager) State(uri string) (State, bool) {
	s, err := m.get(uri)
	if err != nil {
		return Idle, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// URIs lists the documents with an open session.
func (m *Manager) URIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	uris := make([]string, 0, len(m.sessions))
	for uri := range m.sessions {
		uris = append(uris, uri)
	}
	return uris
}

// Shutdown closes every session and waits for in-flight evaluations. When
// ctx ends first, running evaluations are cancelled and ctx's error returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for uri, s := range sessions {
		s.mu.Lock()
		m.teardown(uri, s)
		s.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	defer m.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) get(uri string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uri]
	if !ok {
		return nil, apperror.NotFound("session", uri)
	}
	return s, nil
}

// arm restarts the debounce timer. Caller holds s.mu.
func (m *Manager) arm(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(m.settings.Snapshot().Delay(), func() {
		m.fire(s, gen)
	})
	s.state = Pending
}

// fire runs when a debounce window closes. The cursor line and text are read
// now, not when the timer was armed.
func (m *Manager) fire(s *session, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return
	}
	s.timer = nil

	doc := s.doc
	s.seq++
	seq := s.seq

	if !trigger.ShouldEvaluate(trigger.LineAt(doc.Text, doc.Line)) {
		m.clear(doc.URI, s)
		s.state = Idle
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.state = Idle
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	s.state = Evaluating
	go func() {
		defer m.wg.Done()
		outcome, err := m.eval.Live(m.ctx, service.LiveRequest{
			DocumentURI: doc.URI,
			Path:        doc.Path,
			Saved:       doc.Saved,
			Source:      doc.Text,
			Line:        doc.Line,
		})
		m.apply(doc.URI, s, seq, model.ModeLive, doc.Line, outcome, err)
	}()
}

// apply presents a finished evaluation if it is still the latest one issued
// for its session. Errors become failure outcomes.
func (m *Manager) apply(uri string, s *session, seq uint64, mode model.Mode, line int, outcome *model.Outcome, err error) *model.Outcome {
	if err != nil {
		m.logger.Warn("evaluation failed",
			slog.String("uri", uri),
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()),
		)
		outcome = &model.Outcome{
			Mode:   mode,
			Line:   line,
			Text:   executor.FailurePrefix + err.Error(),
			Failed: true,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq != s.seq {
		m.logger.Debug("discarding stale result",
			slog.String("uri", uri),
			slog.Uint64("seq", seq),
			slog.Uint64("latest", s.seq),
		)
		if m.metrics != nil {
			m.metrics.ObserveStale()
		}
		return outcome
	}

	ann, ok := annotation.FromOutcome(*outcome, m.settings.Snapshot().Color())
	if !ok {
		m.clear(uri, s)
		m.settleLocked(s, Idle)
		return outcome
	}

	if s.annotated {
		m.present.Clear(uri)
	}
	m.present.Show(uri, ann)
	s.annotated = true
	m.settleLocked(s, Annotated)
	return outcome
}

// settle returns a session to rest after a run that produced nothing.
func (m *Manager) settle(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := Idle
	if s.annotated {
		next = Annotated
	}
	m.settleLocked(s, next)
}

// settleLocked moves to next unless a newer timer is already armed.
func (m *Manager) settleLocked(s *session, next State) {
	if s.timer != nil {
		s.state = Pending
		return
	}
	s.state = next
}

// clear removes the annotation if one is shown. Caller holds s.mu.
func (m *Manager) clear(uri string, s *session) {
	if !s.annotated {
		return
	}
	m.present.Clear(uri)
	s.annotated = false
}

// teardown stops a session for good. Caller holds s.mu.
func (m *Manager) teardown(uri string, s *session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.closed = true
	m.clear(uri, s)
	s.state = Idle
}
