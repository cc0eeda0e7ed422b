// Package persona resolves persona package directories and coordinates
// exclusive writers on them.
package persona

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// File layout inside a persona package.
const (
	LogFile        = "life.log.jsonl"
	SummariesDir   = "summaries"
	WorkingSetFile = "working_set.json"
	JudgmentDBFile = "judgments.db"
	WeightsFile    = "weights.yaml"
	ConfigFile     = "persona.yaml"
	BackupDirName  = "migration-backups"
)

// Package is a handle on one persona package directory. Handles opened on
// the same directory share a single write lock.
type Package struct {
	root   string
	lock   *pkgLock
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Package.
type Option func(*Package)

// WithLogger sets the logger used by operations on the package.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Package) { p.logger = l }
}

// WithClock overrides the clock used to stamp events and file names.
func WithClock(now func() time.Time) Option {
	return func(p *Package) { p.now = now }
}

// Open resolves root to its canonical path, creates it if missing and
// returns a handle bound to the process-wide lock for that path.
func Open(root string, opts ...Option) (*Package, error) {
	if root == "" {
		return nil, errors.New("persona: empty package path")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve package path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create package dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	abs = filepath.Clean(abs)

	p := &Package{
		root:   abs,
		lock:   locks.get(abs),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("package", abs).Logger()
	return p, nil
}

// Root returns the canonical package directory.
func (p *Package) Root() string { return p.root }

// Logger returns the package-scoped logger.
func (p *Package) Logger() *zerolog.Logger { return &p.logger }

// Now returns the current time in UTC from the package clock.
func (p *Package) Now() time.Time { return p.now().UTC() }

// Held is a token proving the package write lock is held. Operations that
// must run under the lock take a *Held instead of a *Package.
type Held struct {
	pkg     *Package
	release func()
}

// Package returns the locked package.
func (h *Held) Package() *Package { return h.pkg }

// Release gives up the lock. Extra calls are no-ops.
func (h *Held) Release() { h.release() }

// Lock blocks until the package's exclusive write lock is held or ctx is
// done. Waiters are served in arrival order.
func (p *Package) Lock(ctx context.Context) (*Held, error) {
	release, err := p.lock.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Held{pkg: p, release: release}, nil
}

func (p *Package) LogPath() string { return filepath.Join(p.root, LogFile) }

func (p *Package) WorkingSetPath() string {
	return filepath.Join(p.root, SummariesDir, WorkingSetFile)
}

func (p *Package) JudgmentDBPath() string { return filepath.Join(p.root, JudgmentDBFile) }

func (p *Package) WeightsPath() string { return filepath.Join(p.root, WeightsFile) }

func (p *Package) ConfigPath() string { return filepath.Join(p.root, ConfigFile) }

func (p *Package) BackupDir() string { return filepath.Join(p.root, BackupDirName) }

// Stamp formats t for use in file names (quarantine copies, backups).
func Stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405.000000000Z")
}
