package lsp

import (
	"log/slog"
	"sync"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/sakif/phpinline/internal/annotation"
)

// Presenter renders annotations as LSP notifications: one diagnostic at the
// end of the target line plus a MethodAnnotation decoration.
type Presenter struct {
	mu     sync.Mutex
	notify glsp.NotifyFunc

	// text returns the current document text for end-of-line positions.
	text   func(uri string) string
	logger *slog.Logger
}

// NewPresenter creates a Presenter. It stays silent until bound to a client.
func NewPresenter(text func(uri string) string, logger *slog.Logger) *Presenter {
	return &Presenter{text: text, logger: logger}
}

// Bind sets the connection notifications are written to.
func (p *Presenter) Bind(notify glsp.NotifyFunc) {
	p.mu.Lock()
	p.notify = notify
	p.mu.Unlock()
}

// Show replaces the document's diagnostic and decoration with a.
func (p *Presenter) Show(uri string, a annotation.Annotation) {
	end := lineEnd(p.text(uri), a.Line)
	pos := protocol.Position{Line: protocol.UInteger(a.Line), Character: protocol.UInteger(end)}

	severity := protocol.DiagnosticSeverityInformation
	if a.Failed {
		severity = protocol.DiagnosticSeverityError
	}
	source := serverName

	p.send(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI: protocol.DocumentUri(uri),
		Diagnostics: []protocol.Diagnostic{{
			Range:    protocol.Range{Start: pos, End: pos},
			Severity: &severity,
			Source:   &source,
			Message:  a.Content(),
		}},
	})
	p.send(MethodAnnotation, AnnotationParams{
		URI:         uri,
		Line:        a.Line,
		ContentText: a.Content(),
		Color:       a.Color,
	})
}

// Clear removes the document's diagnostic and decoration.
func (p *Presenter) Clear(uri string) {
	p.send(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentUri(uri),
		Diagnostics: []protocol.Diagnostic{},
	})
	p.send(MethodAnnotation, AnnotationParams{URI: uri})
}

// ShowMessage pops up a message in the client.
func (p *Presenter) ShowMessage(kind protocol.MessageType, message string) {
	p.send(protocol.ServerWindowShowMessage, protocol.ShowMessageParams{
		Type:    kind,
		Message: message,
	})
}

func (p *Presenter) send(method string, params any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notify == nil {
		p.logger.Debug("dropping notification, no client bound", slog.String("method", method))
		return
	}
	p.notify(method, params)
}
