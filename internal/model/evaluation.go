// Package model defines the data structures shared across phpinline's layers.
package model

import "time"

// Mode says which path produced an evaluation.
type Mode string

const (
	// ModeLive evaluates the editor's current buffer (or the saved file).
	ModeLive Mode = "live"
	// ModeBlock evaluates an explicit selection only.
	ModeBlock Mode = "block"
)

// Outcome is what one evaluation means to the user: the text to show, whether
// it failed, and how long the interpreter ran. Text is already mapped
// (failure prefix, temp paths hidden) but not yet decorated.
type Outcome struct {
	Mode     Mode          `json:"mode"`
	Line     int           `json:"line"`
	Text     string        `json:"text"`
	Failed   bool          `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Evaluation is a persisted history record of one Outcome.
type Evaluation struct {
	ID          string        `json:"id"`
	DocumentURI string        `json:"documentUri"`
	Line        int           `json:"line"`
	Mode        Mode          `json:"mode"`
	Output      string        `json:"output"`
	Failed      bool          `json:"failed"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"createdAt"`
}
