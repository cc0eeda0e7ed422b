package store

import (
	"context"
	"os"
)

// Stats holds judgment database statistics.
type Stats struct {
	DBPath         string       `json:"db_path"`
	DBSizeBytes    int64        `json:"db_size_bytes"`
	TotalJudgments int          `json:"total_judgments"`
	Subjects       int          `json:"subjects"`
	ActiveByLabel  []LabelStats `json:"active_by_label"`
}

// LabelStats holds per-label counts of active judgments.
type LabelStats struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	dbPath := s.pkg.JudgmentDBPath()
	st := &Stats{DBPath: dbPath, ActiveByLabel: []LabelStats{}}

	// DB file size, including the write-ahead log
	for _, path := range []string{dbPath, dbPath + "-wal"} {
		if info, err := os.Stat(path); err == nil {
			st.DBSizeBytes += info.Size()
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persona_judgments`).Scan(&st.TotalJudgments); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT subject_ref) FROM persona_judgments`).Scan(&st.Subjects); err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT label, COUNT(*) as cnt
		FROM persona_judgments WHERE is_active = 1
		GROUP BY label ORDER BY cnt DESC, label`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ls LabelStats
		if err := rows.Scan(&ls.Label, &ls.Count); err != nil {
			return st, err
		}
		st.ActiveByLabel = append(st.ActiveByLabel, ls)
	}

	return st, rows.Err()
}
