package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/persona-state/internal/persona"
)

func newTestStore(t *testing.T) (*SQLiteStore, *persona.Package) {
	t.Helper()
	var mu sync.Mutex
	clock := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return newTestStoreWithClock(t, func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
}

func newTestStoreWithClock(t *testing.T, now func() time.Time) (*SQLiteStore, *persona.Package) {
	t.Helper()
	pkg, err := persona.Open(t.TempDir(), persona.WithClock(now))
	require.NoError(t, err)

	s, err := NewSQLiteStore(pkg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, pkg
}

func TestUpsertVersionsAndSupersedes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	labels := []string{"trusted", "uncertain", "distrusted"}
	for i, label := range labels {
		j, err := s.UpsertJudgment(ctx, JudgmentParams{
			SubjectRef:   "user:alice",
			Label:        label,
			Confidence:   0.5 + float64(i)/10,
			EvidenceRefs: []string{fmt.Sprintf("evt:%d", i)},
		})
		require.NoError(t, err)
		assert.Equal(t, i+1, j.Version)
		assert.True(t, j.Active)
		if i == 0 {
			assert.Nil(t, j.SupersedesVersion)
		} else {
			require.NotNil(t, j.SupersedesVersion)
			assert.Equal(t, i, *j.SupersedesVersion)
		}

		active, err := s.GetActiveJudgment(ctx, "user:alice")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, label, active.Label)
		assert.Equal(t, i+1, active.Version)
	}

	hist, err := s.History(ctx, "user:alice")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{hist[0].Version, hist[1].Version, hist[2].Version})

	activeCount := 0
	for _, j := range hist {
		if j.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
	assert.Equal(t, []string{"evt:0"}, hist[2].EvidenceRefs)
	assert.True(t, hist[0].CreatedAt.After(hist[2].CreatedAt))
}

func TestGetActiveUnknownSubject(t *testing.T) {
	s, _ := newTestStore(t)
	j, err := s.GetActiveJudgment(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestUpsertValidation(t *testing.T) {
	s, _ := newTestStore(t)
	cases := map[string]JudgmentParams{
		"missing subject":     {Label: "x", Confidence: 0.5},
		"missing label":       {SubjectRef: "s", Confidence: 0.5},
		"confidence too high": {SubjectRef: "s", Label: "x", Confidence: 1.5},
		"negative confidence": {SubjectRef: "s", Label: "x", Confidence: -0.1},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpsertJudgment(context.Background(), p)
			assert.ErrorIs(t, err, ErrInvalidJudgment)
		})
	}

	hist, err := s.History(context.Background(), "s")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestEmptyEvidenceRoundTripsAsEmptySlice(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "topic:go", Label: "liked", Confidence: 1})
	require.NoError(t, err)

	j, err := s.GetActiveJudgment(ctx, "topic:go")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.NotNil(t, j.EvidenceRefs)
	assert.Empty(t, j.EvidenceRefs)
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	upsert := func(subject, label string) {
		_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: subject, Label: label, Confidence: 0.7})
		require.NoError(t, err)
	}
	upsert("a", "trusted")
	upsert("b", "trusted")
	upsert("a", "distrusted")
	upsert("c", "trusted")

	all, err := s.ListActive(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// newest first
	assert.Equal(t, "c", all[0].SubjectRef)
	assert.Equal(t, "a", all[1].SubjectRef)
	assert.Equal(t, 2, all[1].Version)

	trusted, err := s.ListActive(ctx, ListParams{Label: "trusted"})
	require.NoError(t, err)
	require.Len(t, trusted, 2)
	for _, j := range trusted {
		assert.NotEqual(t, "a", j.SubjectRef)
	}

	limited, err := s.ListActive(ctx, ListParams{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListActiveOrdersWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	stamps := []time.Time{
		base.Add(100 * time.Millisecond),
		base.Add(120 * time.Millisecond),
		base.Add(120 * time.Millisecond),
	}
	next := 0
	s, _ := newTestStoreWithClock(t, func() time.Time {
		ts := stamps[min(next, len(stamps)-1)]
		next++
		return ts
	})

	for _, subject := range []string{"older", "newer", "same-instant"} {
		_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: subject, Label: "l", Confidence: 0.5})
		require.NoError(t, err)
	}

	list, err := s.ListActive(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"same-instant", "newer", "older"},
		[]string{list[0].SubjectRef, list[1].SubjectRef, list[2].SubjectRef})
	assert.True(t, list[2].CreatedAt.Equal(stamps[0]))

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT created_at FROM persona_judgments WHERE subject_ref = 'older'`).Scan(&raw))
	assert.Equal(t, "2026-03-04T05:06:07.100000000Z", raw)
}

func TestConcurrentUpsertsKeepOneActive(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		label := fmt.Sprintf("label-%d", i)
		g.Go(func() error {
			_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "shared", Label: label, Confidence: 0.5})
			return err
		})
	}
	require.NoError(t, g.Wait())

	hist, err := s.History(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, hist, n)

	active := 0
	for i, j := range hist {
		assert.Equal(t, n-i, j.Version)
		if j.Active {
			active++
			assert.Equal(t, n, j.Version)
		}
		if j.Version > 1 {
			require.NotNil(t, j.SupersedesVersion)
			assert.Equal(t, j.Version-1, *j.SupersedesVersion)
		}
	}
	assert.Equal(t, 1, active)
}

func TestInvariantViolationSurfaces(t *testing.T) {
	ctx := context.Background()

	t.Run("two active rows", func(t *testing.T) {
		s, _ := newTestStore(t)
		_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "x", Label: "a", Confidence: 0.5})
		require.NoError(t, err)

		_, err = s.db.Exec(`DROP INDEX idx_judgments_one_active`)
		require.NoError(t, err)
		_, err = s.db.Exec(`INSERT INTO persona_judgments (subject_ref, label, confidence, version, is_active, created_at)
			VALUES ('x', 'b', 0.5, 2, 1, '2026-01-01T00:00:00Z')`)
		require.NoError(t, err)

		_, err = s.GetActiveJudgment(ctx, "x")
		assert.ErrorIs(t, err, ErrJudgmentInvariant)
		_, err = s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "x", Label: "c", Confidence: 0.5})
		assert.ErrorIs(t, err, ErrJudgmentInvariant)
	})

	t.Run("no active row", func(t *testing.T) {
		s, _ := newTestStore(t)
		_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "y", Label: "a", Confidence: 0.5})
		require.NoError(t, err)
		_, err = s.db.Exec(`UPDATE persona_judgments SET is_active = 0 WHERE subject_ref = 'y'`)
		require.NoError(t, err)

		_, err = s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "y", Label: "b", Confidence: 0.5})
		assert.ErrorIs(t, err, ErrJudgmentInvariant)

		hist, err := s.History(ctx, "y")
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	})
}

func TestPartialIndexRejectsSecondActiveRow(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertJudgment(context.Background(), JudgmentParams{SubjectRef: "z", Label: "a", Confidence: 0.5})
	require.NoError(t, err)

	_, err = s.db.Exec(`INSERT INTO persona_judgments (subject_ref, label, confidence, version, is_active, created_at)
		VALUES ('z', 'b', 0.5, 2, 1, '2026-01-01T00:00:00Z')`)
	assert.Error(t, err)
}

func TestQueryIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "q", Label: "a", Confidence: 0.25})
	require.NoError(t, err)

	rows, err := s.Query(ctx, `SELECT subject_ref, label, version FROM persona_judgments WHERE is_active = ?`, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "q", rows[0]["subject_ref"])
	assert.Equal(t, "a", rows[0]["label"])
	assert.EqualValues(t, 1, rows[0]["version"])

	_, err = s.Query(ctx, `DELETE FROM persona_judgments`)
	assert.Error(t, err)

	hist, err := s.History(ctx, "q")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s, pkg := newTestStore(t)

	for _, p := range []JudgmentParams{
		{SubjectRef: "a", Label: "trusted", Confidence: 0.5},
		{SubjectRef: "a", Label: "trusted", Confidence: 0.6},
		{SubjectRef: "b", Label: "trusted", Confidence: 0.5},
		{SubjectRef: "c", Label: "wary", Confidence: 0.5},
	} {
		_, err := s.UpsertJudgment(ctx, p)
		require.NoError(t, err)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, pkg.JudgmentDBPath(), st.DBPath)
	assert.Equal(t, 4, st.TotalJudgments)
	assert.Equal(t, 3, st.Subjects)
	assert.Equal(t, []LabelStats{{Label: "trusted", Count: 2}, {Label: "wary", Count: 1}}, st.ActiveByLabel)
	assert.Positive(t, st.DBSizeBytes)
}

func TestExportAll(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for _, subj := range []string{"b", "a", "b"} {
		_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: subj, Label: "l", Confidence: 0.5})
		require.NoError(t, err)
	}

	all, err := s.ExportAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].SubjectRef)
	assert.Equal(t, "b", all[1].SubjectRef)
	assert.Equal(t, 1, all[1].Version)
	assert.Equal(t, 2, all[2].Version)

	onlyB, err := s.ExportAll(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, onlyB, 2)
}

func TestBackupCopiesPackageFiles(t *testing.T) {
	ctx := context.Background()
	s, pkg := newTestStore(t)

	require.NoError(t, os.WriteFile(pkg.LogPath(), []byte("{\"line\":1}\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(pkg.WorkingSetPath()), 0o755))
	require.NoError(t, os.WriteFile(pkg.WorkingSetPath(), []byte(`{"items":[]}`), 0o644))
	_, err := s.UpsertJudgment(ctx, JudgmentParams{SubjectRef: "a", Label: "l", Confidence: 0.5})
	require.NoError(t, err)

	res, err := s.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, pkg.BackupDir(), filepath.Dir(res.Dir))
	assert.Contains(t, res.Files, persona.LogFile)
	assert.Contains(t, res.Files, filepath.Join(persona.SummariesDir, persona.WorkingSetFile))
	assert.Contains(t, res.Files, persona.JudgmentDBFile)
	assert.NotContains(t, res.Files, persona.WeightsFile)

	data, err := os.ReadFile(filepath.Join(res.Dir, persona.LogFile))
	require.NoError(t, err)
	assert.Equal(t, "{\"line\":1}\n", string(data))

	pkgCopy, err := persona.Open(res.Dir)
	require.NoError(t, err)
	restored, err := NewSQLiteStore(pkgCopy)
	require.NoError(t, err)
	defer restored.Close()
	j, err := restored.GetActiveJudgment(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "l", j.Label)
}
