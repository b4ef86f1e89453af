package watch

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/sakif/phpinline/internal/annotation"
	"github.com/sakif/phpinline/internal/trigger"
)

// ansiColors maps the color names editors accept to terminal palette indexes.
var ansiColors = map[string]string{
	"black":   "0",
	"red":     "1",
	"green":   "2",
	"yellow":  "3",
	"blue":    "4",
	"magenta": "5",
	"cyan":    "6",
	"white":   "7",
	"gray":    "8",
	"grey":    "8",
}

// Terminal prints annotations after the source line they belong to.
type Terminal struct {
	mu   sync.Mutex
	out  *termenv.Output
	text func(uri string) string
}

// NewTerminal writes to w using the color profile w supports. text returns
// the current contents of a document so its source line can be echoed.
func NewTerminal(w io.Writer, text func(uri string) string, opts ...termenv.OutputOption) *Terminal {
	return &Terminal{out: termenv.NewOutput(w, opts...), text: text}
}

// Show prints the annotated line.
func (t *Terminal) Show(uri string, a annotation.Annotation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	source := strings.TrimRight(trigger.LineAt(t.text(uri), a.Line), " \t")
	gutter := t.out.String(fmt.Sprintf("%4d |", a.Line+1)).Faint()
	note := t.out.String(a.Content()).Foreground(t.color(a.Color))
	if a.Failed {
		note = note.Bold()
	}
	fmt.Fprintf(t.out, "%s %s  %s\n", gutter, source, note)
}

// Clear has nothing to erase in a scrolling terminal.
func (t *Terminal) Clear(string) {}

// Notice prints a status line.
func (t *Terminal) Notice(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.out.String(fmt.Sprintf(format, args...)).Faint())
}

func (t *Terminal) color(name string) termenv.Color {
	name = strings.ToLower(strings.TrimSpace(name))
	if idx, ok := ansiColors[name]; ok {
		return t.out.Color(idx)
	}
	if strings.HasPrefix(name, "#") {
		return t.out.Color(name)
	}
	return t.out.Color(ansiColors["gray"])
}
