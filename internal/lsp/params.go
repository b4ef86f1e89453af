package lsp

import (
	"fmt"
	"net/url"
	"path/filepath"
	"unicode/utf16"

	"github.com/sakif/phpinline/internal/trigger"
)

const (
	// CommandRunBlock evaluates a selection. Arguments: [uri, selectionText, line].
	CommandRunBlock = "phpInline.runBlock"

	// MethodDidChangeSelection is sent by the client when the cursor moves.
	MethodDidChangeSelection = "phpInline/didChangeSelection"

	// MethodAnnotation carries the end-of-line decoration to the client.
	MethodAnnotation = "phpInline/annotation"
)

// SelectionParams is the payload of MethodDidChangeSelection.
type SelectionParams struct {
	URI  string `json:"uri"`
	Line int    `json:"line"`
}

// AnnotationParams is the payload of MethodAnnotation. An empty ContentText
// removes the decoration.
type AnnotationParams struct {
	URI         string `json:"uri"`
	Line        int    `json:"line"`
	ContentText string `json:"contentText"`
	Color       string `json:"color,omitempty"`
}

// parseRunBlockArgs validates the arguments of CommandRunBlock. JSON numbers
// arrive as float64.
func parseRunBlockArgs(args []any) (uri, selection string, line int, err error) {
	if len(args) != 3 {
		return "", "", 0, fmt.Errorf("%s: expected [uri, selection, line], got %d arguments", CommandRunBlock, len(args))
	}

	uri, ok := args[0].(string)
	if !ok || uri == "" {
		return "", "", 0, fmt.Errorf("%s: uri must be a non-empty string", CommandRunBlock)
	}
	selection, ok = args[1].(string)
	if !ok {
		return "", "", 0, fmt.Errorf("%s: selection must be a string", CommandRunBlock)
	}

	switch v := args[2].(type) {
	case float64:
		line = int(v)
	case int:
		line = v
	default:
		return "", "", 0, fmt.Errorf("%s: line must be a number", CommandRunBlock)
	}
	if line < 0 {
		return "", "", 0, fmt.Errorf("%s: line must be >= 0", CommandRunBlock)
	}
	return uri, selection, line, nil
}

// pathFromURI returns the local path of a file URI, or "" for any other scheme.
func pathFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return ""
	}
	return filepath.FromSlash(u.Path)
}

// lineEnd is the UTF-16 length of line n, which is what LSP positions count.
func lineEnd(text string, n int) uint32 {
	return uint32(len(utf16.Encode([]rune(trigger.LineAt(text, n)))))
}
