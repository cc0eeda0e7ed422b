package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rcliao/persona-state/internal/persona"
)

// BackupResult describes a package backup.
type BackupResult struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

// Backup copies the package's core files into migration-backups/<timestamp>/
// while holding the package lock, so the log, working set, weights and
// judgment database are captured at one consistent point.
func (s *SQLiteStore) Backup(ctx context.Context) (*BackupResult, error) {
	held, err := s.pkg.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire package lock: %w", err)
	}
	defer held.Release()

	pkg := s.pkg
	dir := filepath.Join(pkg.BackupDir(), persona.Stamp(pkg.Now()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	res := &BackupResult{Dir: dir, Files: []string{}}
	for _, src := range []string{pkg.LogPath(), pkg.WorkingSetPath(), pkg.WeightsPath(), pkg.ConfigPath()} {
		rel, err := filepath.Rel(pkg.Root(), src)
		if err != nil {
			return nil, err
		}
		copied, err := copyFile(src, filepath.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", rel, err)
		}
		if copied {
			res.Files = append(res.Files, rel)
		}
	}

	dbDst := filepath.Join(dir, persona.JudgmentDBFile)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dbDst); err != nil {
		return nil, fmt.Errorf("backup judgments: %w", err)
	}
	res.Files = append(res.Files, persona.JudgmentDBFile)

	pkg.Logger().Info().Str("dir", dir).Strs("files", res.Files).Msg("package backed up")
	return res, nil
}

// copyFile copies src to dst, reporting false when src does not exist.
func copyFile(src, dst string) (bool, error) {
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, err
	}
	if err := out.Close(); err != nil {
		return false, err
	}
	return true, nil
}
