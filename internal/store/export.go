package store

import (
	"context"

	"github.com/rcliao/persona-state/internal/model"
)

// ExportAll returns every judgment version, optionally restricted to one
// subject, ordered by subject then version.
func (s *SQLiteStore) ExportAll(ctx context.Context, subjectRef string) ([]model.Judgment, error) {
	query := `SELECT ` + judgmentColumns + ` FROM persona_judgments`
	args := []interface{}{}
	if subjectRef != "" {
		query += ` WHERE subject_ref = ?`
		args = append(args, subjectRef)
	}
	query += ` ORDER BY subject_ref, version`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}
