// Package store provides the judgment storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/persona-state/internal/model"
)

// ErrJudgmentInvariant means a subject was observed with more or fewer than
// one active judgment. It indicates a storage bug and is never repaired.
var ErrJudgmentInvariant = errors.New("judgment invariant violation")

// ErrInvalidJudgment is returned for judgments that fail validation.
var ErrInvalidJudgment = errors.New("invalid judgment")

// JudgmentParams holds parameters for recording a judgment.
type JudgmentParams struct {
	SubjectRef   string
	Label        string
	Confidence   float64
	Rationale    string
	EvidenceRefs []string
}

// ListParams holds parameters for listing active judgments.
type ListParams struct {
	Label string
	Limit int
}

// Store defines the judgment storage interface.
type Store interface {
	// UpsertJudgment records a new active version for the subject and
	// retires the previous one in a single atomic step.
	UpsertJudgment(ctx context.Context, p JudgmentParams) (*model.Judgment, error)

	// GetActiveJudgment returns the active judgment, or nil if the subject
	// has none.
	GetActiveJudgment(ctx context.Context, subjectRef string) (*model.Judgment, error)

	// History returns every version for the subject, newest first.
	History(ctx context.Context, subjectRef string) ([]model.Judgment, error)

	// ListActive lists the active judgment of every subject.
	ListActive(ctx context.Context, p ListParams) ([]model.Judgment, error)

	// Close closes the store.
	Close() error
}
