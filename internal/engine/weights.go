package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/persona-state/internal/atomicfile"
	"github.com/rcliao/persona-state/internal/eventlog"
	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
	"github.com/rcliao/persona-state/internal/scoring"
)

// LoadWeights reads weights.yaml. A missing file yields the default vector;
// a file that breaks the bounds is renormalized on read.
func LoadWeights(pkg *persona.Package) (model.WeightVector, error) {
	b, err := os.ReadFile(pkg.WeightsPath())
	if errors.Is(err, os.ErrNotExist) {
		return model.DefaultWeights(), nil
	}
	if err != nil {
		return model.WeightVector{}, fmt.Errorf("read weights: %w", err)
	}
	var w model.WeightVector
	if err := yaml.Unmarshal(b, &w); err != nil {
		return model.WeightVector{}, fmt.Errorf("parse weights: %w", err)
	}
	return scoring.AdaptWeights(w, scoring.WeightDeltas{}), nil
}

// SaveWeights atomically replaces weights.yaml.
func SaveWeights(pkg *persona.Package, w model.WeightVector) error {
	if err := atomicfile.WriteYAML(pkg.WeightsPath(), w); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return nil
}

// AdaptWeights applies deltas to the persisted weight vector, saves it and
// records a weights_adapted event, all under one package lock. If the event
// cannot be appended the previous weights file is put back.
func AdaptWeights(ctx context.Context, pkg *persona.Package, d scoring.WeightDeltas) (model.WeightVector, error) {
	held, err := pkg.Lock(ctx)
	if err != nil {
		return model.WeightVector{}, fmt.Errorf("acquire package lock: %w", err)
	}
	defer held.Release()

	current, err := LoadWeights(pkg)
	if err != nil {
		return model.WeightVector{}, err
	}
	next := scoring.AdaptWeights(current, d)
	in, err := model.NewEventInput(model.TypeWeightsAdapted, model.WeightsPayload(next))
	if err != nil {
		return model.WeightVector{}, err
	}

	prev, err := os.ReadFile(pkg.WeightsPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return model.WeightVector{}, fmt.Errorf("read weights: %w", err)
	}
	existed := err == nil

	if err := SaveWeights(pkg, next); err != nil {
		return model.WeightVector{}, err
	}
	if _, err := eventlog.AppendHeld(held, in); err != nil {
		restoreWeights(pkg, prev, existed)
		return model.WeightVector{}, fmt.Errorf("log weights: %w", err)
	}

	pkg.Logger().Info().
		Float64("activation", next.Activation).
		Float64("emotion", next.Emotion).
		Float64("narrative", next.Narrative).
		Float64("relational", next.Relational).
		Msg("weights adapted")
	return next, nil
}

func restoreWeights(pkg *persona.Package, prev []byte, existed bool) {
	var err error
	if existed {
		err = atomicfile.WriteFile(pkg.WeightsPath(), prev, 0o644)
	} else {
		err = os.Remove(pkg.WeightsPath())
	}
	if err != nil {
		pkg.Logger().Error().Err(err).Msg("restore weights failed")
	}
}
