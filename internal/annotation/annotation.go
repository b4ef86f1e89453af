// Package annotation turns an evaluation outcome into the single line of text
// shown at the end of the source line.
package annotation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/phpinline/internal/model"
)

// FailureColor is used for every failed evaluation regardless of settings.
const FailureColor = "red"

// lineSeparator replaces newlines; annotations never span lines.
const lineSeparator = " | "

// Annotation is one end-of-line decoration.
type Annotation struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Color  string `json:"color"`
	Failed bool   `json:"failed"`
}

// FromOutcome builds the annotation for o. successColor applies unless the
// outcome failed. It returns false when there is nothing to show, which
// callers treat as "clear the current annotation".
func FromOutcome(o model.Outcome, successColor string) (Annotation, bool) {
	text := flatten(o.Text)
	if text == "" {
		return Annotation{}, false
	}

	color := successColor
	if o.Failed {
		color = FailureColor
	}

	return Annotation{
		Line:   o.Line,
		Text:   fmt.Sprintf("%s (Execution Time: %ss)", text, Seconds(o.Duration)),
		Color:  color,
		Failed: o.Failed,
	}, true
}

// Content is the decoration text as rendered after the source line.
func (a Annotation) Content() string {
	return "// " + a.Text
}

// Seconds formats d as seconds with millisecond precision.
func Seconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func flatten(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, lineSeparator)
}
