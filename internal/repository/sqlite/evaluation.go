package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/model"
	"github.com/sakif/phpinline/internal/repository"
)

var _ repository.EvaluationRepository = (*DB)(nil)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

const evaluationColumns = `id, document_uri, line, mode, output, failed, duration_us, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (model.Evaluation, error) {
	var (
		e          model.Evaluation
		mode       string
		failed     int
		durationUS int64
	)
	err := row.Scan(&e.ID, &e.DocumentURI, &e.Line, &mode, &e.Output, &failed, &durationUS, &e.CreatedAt)
	if err != nil {
		return model.Evaluation{}, err
	}
	e.Mode = model.Mode(mode)
	e.Failed = failed != 0
	e.Duration = time.Duration(durationUS) * time.Microsecond
	return e, nil
}

// Create inserts e, assigning its ID (an xid, sortable by time) and, when
// unset, its CreatedAt.
func (db *DB) Create(ctx context.Context, e *model.Evaluation) error {
	e.ID = xid.New().String()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	// stored in UTC so created_at compares correctly as text
	e.CreatedAt = e.CreatedAt.UTC()

	failed := 0
	if e.Failed {
		failed = 1
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO evaluations (`+evaluationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.DocumentURI,
		e.Line,
		string(e.Mode),
		e.Output,
		failed,
		e.Duration.Microseconds(),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating evaluation: %w", err)
	}
	return nil
}

// GetByID returns apperror.ErrNotFound when no row matches.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Evaluation, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`,
		id,
	)
	e, err := scanEvaluation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("evaluation", id)
		}
		return nil, fmt.Errorf("sqlite: getting evaluation %s: %w", id, err)
	}
	return &e, nil
}

// List returns evaluations newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Evaluation, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + evaluationColumns + ` FROM evaluations`
	args := []any{}
	if opts.DocumentURI != "" {
		query += ` WHERE document_uri = ?`
		args = append(args, opts.DocumentURI)
	}
	// rowid breaks ties between records created within one clock tick
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing evaluations: %w", err)
	}
	defer rows.Close()

	evaluations := make([]model.Evaluation, 0, limit)
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning evaluation row: %w", err)
		}
		evaluations = append(evaluations, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating evaluations: %w", err)
	}

	return evaluations, nil
}

// Delete removes one evaluation; apperror.ErrNotFound if it did not exist.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM evaluations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting evaluation %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("evaluation", id)
	}
	return nil
}

// Prune deletes every evaluation created before cutoff.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM evaluations WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: pruning evaluations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
