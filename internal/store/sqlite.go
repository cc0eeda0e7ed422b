package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
)

// createdAtLayout is fixed-width so created_at sorts chronologically as text.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	pkg *persona.Package
}

// NewSQLiteStore opens or creates the judgment database of a persona package.
func NewSQLiteStore(pkg *persona.Package) (*SQLiteStore, error) {
	dsn := pkg.JudgmentDBPath() + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, pkg: pkg}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS persona_judgments (
		subject_ref        TEXT NOT NULL,
		label              TEXT NOT NULL,
		confidence         REAL NOT NULL,
		rationale          TEXT NOT NULL DEFAULT '',
		evidence_refs      TEXT NOT NULL DEFAULT '[]',
		version            INTEGER NOT NULL,
		is_active          INTEGER NOT NULL DEFAULT 0,
		supersedes_version INTEGER,
		created_at         TEXT NOT NULL,
		PRIMARY KEY (subject_ref, version)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_judgments_one_active
		ON persona_judgments(subject_ref) WHERE is_active = 1;
	CREATE INDEX IF NOT EXISTS idx_judgments_label ON persona_judgments(label, is_active);
	`
	_, err := s.db.Exec(schema)
	return err
}

func validate(p JudgmentParams) error {
	switch {
	case strings.TrimSpace(p.SubjectRef) == "":
		return fmt.Errorf("%w: subject ref is required", ErrInvalidJudgment)
	case strings.TrimSpace(p.Label) == "":
		return fmt.Errorf("%w: label is required", ErrInvalidJudgment)
	case math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1:
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidJudgment, p.Confidence)
	}
	return nil
}

func (s *SQLiteStore) UpsertJudgment(ctx context.Context, p JudgmentParams) (*model.Judgment, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	held, err := s.pkg.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire package lock: %w", err)
	}
	defer held.Release()

	now := s.pkg.Now()
	evidence := p.EvidenceRefs
	if evidence == nil {
		evidence = []string{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	prev, err := activeVersion(ctx, tx, p.SubjectRef)
	if err != nil {
		return nil, err
	}

	version := 1
	var supersedes *int
	if prev > 0 {
		version = prev + 1
		v := prev
		supersedes = &v
		if _, err := tx.ExecContext(ctx,
			`UPDATE persona_judgments SET is_active = 0 WHERE subject_ref = ? AND version = ?`,
			p.SubjectRef, prev); err != nil {
			return nil, fmt.Errorf("deactivate judgment: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO persona_judgments (subject_ref, label, confidence, rationale, evidence_refs, version, is_active, supersedes_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		p.SubjectRef, p.Label, p.Confidence, p.Rationale, string(evidenceJSON), version, supersedes,
		now.UTC().Format(createdAtLayout))
	if err != nil {
		return nil, fmt.Errorf("insert judgment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.pkg.Logger().Debug().
		Str("subject", p.SubjectRef).
		Int("version", version).
		Msg("judgment recorded")

	return &model.Judgment{
		SubjectRef:        p.SubjectRef,
		Label:             p.Label,
		Confidence:        p.Confidence,
		Rationale:         p.Rationale,
		EvidenceRefs:      evidence,
		Version:           version,
		Active:            true,
		SupersedesVersion: supersedes,
		CreatedAt:         now,
	}, nil
}

// activeVersion returns the active version for subject, or 0 when the subject
// has no records. A subject with records but not exactly one active row
// violates the invariant.
func activeVersion(ctx context.Context, tx *sql.Tx, subject string) (int, error) {
	var total, active int
	var version sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active), 0), MAX(CASE WHEN is_active = 1 THEN version END)
		 FROM persona_judgments WHERE subject_ref = ?`, subject).Scan(&total, &active, &version)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	if active != 1 {
		return 0, fmt.Errorf("%w: subject %q has %d active judgments", ErrJudgmentInvariant, subject, active)
	}
	return int(version.Int64), nil
}

const judgmentColumns = `subject_ref, label, confidence, rationale, evidence_refs, version, is_active, supersedes_version, created_at`

func (s *SQLiteStore) GetActiveJudgment(ctx context.Context, subjectRef string) (*model.Judgment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+judgmentColumns+` FROM persona_judgments
		 WHERE subject_ref = ? AND is_active = 1`, subjectRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []model.Judgment
	for rows.Next() {
		j, err := scanJudgment(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: subject %q has %d active judgments", ErrJudgmentInvariant, subjectRef, len(found))
	}
}

func (s *SQLiteStore) History(ctx context.Context, subjectRef string) ([]model.Judgment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+judgmentColumns+` FROM persona_judgments
		 WHERE subject_ref = ? ORDER BY version DESC`, subjectRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *SQLiteStore) ListActive(ctx context.Context, p ListParams) ([]model.Judgment, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"is_active = 1"}
	args := []interface{}{}
	if p.Label != "" {
		where = append(where, "label = ?")
		args = append(args, p.Label)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+judgmentColumns+` FROM persona_judgments
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJudgment(row scanner) (model.Judgment, error) {
	var j model.Judgment
	var evidence, createdAt string
	var active int
	var supersedes sql.NullInt64

	err := row.Scan(
		&j.SubjectRef, &j.Label, &j.Confidence, &j.Rationale, &evidence,
		&j.Version, &active, &supersedes, &createdAt,
	)
	if err != nil {
		return j, err
	}

	j.Active = active == 1
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if supersedes.Valid {
		v := int(supersedes.Int64)
		j.SupersedesVersion = &v
	}
	if err := json.Unmarshal([]byte(evidence), &j.EvidenceRefs); err != nil {
		return j, fmt.Errorf("decode evidence refs for %s v%d: %w", j.SubjectRef, j.Version, err)
	}
	if j.EvidenceRefs == nil {
		j.EvidenceRefs = []string{}
	}
	return j, nil
}

func scanAll(rows *sql.Rows) ([]model.Judgment, error) {
	var out []model.Judgment
	for rows.Next() {
		j, err := scanJudgment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
