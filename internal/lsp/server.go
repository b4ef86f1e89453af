// Package lsp exposes inline evaluation as a language server.
//
// Document sync events drive the session manager, a custom notification
// carries cursor moves, and block mode is a workspace command. Results come
// back as diagnostics plus a custom decoration notification that editor
// extensions render at the end of the line.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/metrics"
	"github.com/sakif/phpinline/internal/session"
)

const serverName = "phpinline"

const shutdownTimeout = 5 * time.Second

// Server bridges LSP clients to the session manager.
type Server struct {
	sessions  *session.Manager
	settings  *config.Store
	presenter *Presenter
	logger    *slog.Logger
	log       commonlog.Logger

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	// blockCtx bounds block runs; Close cancels it.
	blockCtx    context.Context
	cancelBlock context.CancelFunc
	blocks      sync.WaitGroup

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// New creates a language server that evaluates through eval.
func New(eval session.Evaluator, settings *config.Store, m *metrics.Metrics, logger *slog.Logger, version string) *Server {
	s := &Server{
		settings: settings,
		logger:   logger,
		log:      commonlog.GetLogger(serverName),
		docs:     make(map[string]string),
		version:  version,
	}
	s.blockCtx, s.cancelBlock = context.WithCancel(context.Background())
	s.presenter = NewPresenter(s.text, logger)
	s.sessions = session.NewManager(eval, s.presenter, settings, m, logger)

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidSave:   s.textDocumentDidSave,
		TextDocumentDidClose:  s.textDocumentDidClose,

		WorkspaceDidChangeConfiguration: s.workspaceDidChangeConfiguration,
		WorkspaceExecuteCommand:         s.workspaceExecuteCommand,
	}

	s.server = glspserver.NewServer(s, serverName, false)
	return s
}

// Run serves on stdio until the client disconnects.
func (s *Server) Run() error {
	return s.server.RunStdio()
}

// Close stops every session and waits for running evaluations. Block runs
// still going when ctx ends are cancelled.
func (s *Server) Close(ctx context.Context) error {
	defer s.cancelBlock()

	done := make(chan struct{})
	go func() {
		s.blocks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.cancelBlock()
		s.logger.Warn("cancelled running block evaluations")
	}
	return s.sessions.Shutdown(ctx)
}

// Handle routes phpInline notifications and hands everything else to the
// standard protocol handler. The connection is captured on every message so
// results that finish later can still be delivered.
func (s *Server) Handle(ctx *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	s.presenter.Bind(ctx.Notify)

	switch ctx.Method {
	case MethodDidChangeSelection:
		var params SelectionParams
		if err := json.Unmarshal(ctx.Params, &params); err != nil {
			return nil, true, false, err
		}
		return nil, true, true, s.didChangeSelection(ctx, &params)
	}

	return s.handler.Handle(ctx)
}

// --- LSP lifecycle handlers ---

func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Infof("%s %s initializing", serverName, s.version)

	if params.InitializationOptions != nil {
		if err := s.settings.Apply(params.InitializationOptions); err != nil {
			s.logger.Warn("ignoring initialization options", slog.String("error", err.Error()))
		}
	}

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
		Save:      true,
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{CommandRunBlock},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &s.version,
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *Server) shutdown(ctx *glsp.Context) error {
	s.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Close(sctx); err != nil {
		s.logger.Warn("evaluations still running at shutdown", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Server) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// --- Document synchronization ---

func (s *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	text := params.TextDocument.Text
	path := pathFromURI(uri)

	s.mu.Lock()
	s.docs[uri] = text
	s.mu.Unlock()

	return s.report(s.sessions.Open(session.Document{
		URI:   uri,
		Path:  path,
		Text:  text,
		Saved: matchesDisk(path, text),
	}))
}

func (s *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := string(params.TextDocument.URI)

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	whole, ok := last.(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		return fmt.Errorf("%s: only full document sync is supported", uri)
	}

	s.mu.Lock()
	_, open := s.docs[uri]
	if open {
		s.docs[uri] = whole.Text
	}
	s.mu.Unlock()
	if !open {
		s.logger.Debug("change for unopened document", slog.String("uri", uri))
		return nil
	}

	return s.report(s.sessions.Change(uri, whole.Text))
}

func (s *Server) textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	return s.report(s.sessions.Saved(uri, pathFromURI(uri)))
}

func (s *Server) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := string(params.TextDocument.URI)

	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()

	return s.report(s.sessions.Close(uri))
}

func (s *Server) didChangeSelection(ctx *glsp.Context, params *SelectionParams) error {
	if params.Line < 0 {
		return fmt.Errorf("%s: line must be >= 0", MethodDidChangeSelection)
	}
	return s.report(s.sessions.Select(params.URI, params.Line))
}

// --- Workspace ---

func (s *Server) workspaceDidChangeConfiguration(ctx *glsp.Context, params *protocol.DidChangeConfigurationParams) error {
	if err := s.settings.Apply(params.Settings); err != nil {
		s.logger.Warn("rejected configuration", slog.String("error", err.Error()))
		s.presenter.ShowMessage(protocol.MessageTypeWarning, "phpinline: "+err.Error())
		return nil
	}
	s.logger.Debug("configuration updated")
	return nil
}

// workspaceExecuteCommand starts a block run and returns at once; the result
// arrives as an annotation, an empty selection as an error message.
func (s *Server) workspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	if params.Command != CommandRunBlock {
		return nil, fmt.Errorf("unknown command %q", params.Command)
	}

	uri, selection, line, err := parseRunBlockArgs(params.Arguments)
	if err != nil {
		return nil, err
	}

	s.blocks.Add(1)
	go func() {
		defer s.blocks.Done()
		s.runBlock(uri, selection, line)
	}()
	return nil, nil
}

func (s *Server) runBlock(uri, selection string, line int) {
	_, err := s.sessions.RunBlock(s.blockCtx, uri, selection, line)
	if err == nil {
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrValidation) {
		s.presenter.ShowMessage(protocol.MessageTypeError, appErr.Message)
		return
	}

	s.logger.Error("block evaluation failed",
		slog.String("uri", uri),
		slog.String("error", err.Error()),
	)
	s.presenter.ShowMessage(protocol.MessageTypeError, "phpinline: "+err.Error())
}

// report logs session errors. Events for documents the server never saw
// opened are not worth failing the client's request over.
func (s *Server) report(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperror.ErrNotFound) {
		s.logger.Debug("event for unknown document", slog.String("error", err.Error()))
		return nil
	}
	return err
}

func (s *Server) text(uri string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[uri]
}

// matchesDisk reports whether the file at path holds exactly text.
func matchesDisk(path, text string) bool {
	if path == "" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(data) == text
}

func boolPtr(b bool) *bool {
	return &b
}
