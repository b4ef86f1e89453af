// Package repository declares the storage interfaces the service layer needs.
package repository

import (
	"context"
	"time"

	"github.com/sakif/phpinline/internal/model"
)

// ListOptions pages and filters a history listing.
type ListOptions struct {
	Limit  int
	Offset int
	// DocumentURI restricts the listing to one document when set.
	DocumentURI string
}

// EvaluationRepository stores evaluation history.
type EvaluationRepository interface {
	Create(ctx context.Context, e *model.Evaluation) error
	GetByID(ctx context.Context, id string) (*model.Evaluation, error)
	List(ctx context.Context, opts ListOptions) ([]model.Evaluation, error)
	Delete(ctx context.Context, id string) error
	// Prune removes records created before cutoff and reports how many went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
