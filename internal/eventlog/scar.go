package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
)

// ScarResult is the outcome of EnsureScar.
type ScarResult struct {
	OK             bool   `json:"ok"`
	ScarWritten    bool   `json:"scarWritten"`
	BreakSignature string `json:"breakSignature,omitempty"`
}

// EnsureScar verifies the chain and, if it is broken and no scar for the same
// break exists yet, appends one scar event. Verification, the existence check
// and the append all run under the package lock, so concurrent callers racing
// on one break write a single scar.
func EnsureScar(ctx context.Context, pkg *persona.Package, detector string) (ScarResult, error) {
	if detector == "" {
		return ScarResult{}, errors.New("detector name is required")
	}

	held, err := pkg.Lock(ctx)
	if err != nil {
		return ScarResult{}, fmt.Errorf("acquire package lock: %w", err)
	}
	defer held.Release()

	res, err := verifyPath(ctx, pkg.LogPath())
	if err != nil {
		return ScarResult{}, fmt.Errorf("verify: %w", err)
	}
	if res.OK {
		return ScarResult{OK: true}, nil
	}

	sig := res.Signature()
	exists, err := scarExists(ctx, pkg, *res.BrokenAtIndex, res.BreakReason)
	if err != nil {
		return ScarResult{}, err
	}
	if exists {
		pkg.Logger().Debug().Str("signature", sig).Msg("scar already recorded")
		return ScarResult{OK: false, BreakSignature: sig}, nil
	}

	in, err := model.NewEventInput(model.TypeScar, model.ScarPayload{
		Detector:       detector,
		BreakReason:    res.BreakReason,
		BrokenAtIndex:  *res.BrokenAtIndex,
		BreakSignature: sig,
		Action:         model.ScarAction,
	})
	if err != nil {
		return ScarResult{}, err
	}
	if _, err := AppendHeld(held, in); err != nil {
		return ScarResult{}, fmt.Errorf("write scar: %w", err)
	}

	pkg.Logger().Warn().
		Str("detector", detector).
		Str("reason", res.BreakReason).
		Int("index", *res.BrokenAtIndex).
		Msg("chain break scarred")
	return ScarResult{OK: false, ScarWritten: true, BreakSignature: sig}, nil
}

// scarExists reports whether a scar for the given break is already in the log.
// Lines are inspected without a full decode so malformed neighbours are harmless.
func scarExists(ctx context.Context, pkg *persona.Package, index int, reason string) (bool, error) {
	found := false
	err := scanLines(ctx, pkg.LogPath(), func(_ int, line []byte, _ bool) error {
		if !gjson.ValidBytes(line) || gjson.GetBytes(line, "type").String() != model.TypeScar {
			return nil
		}
		p := gjson.GetBytes(line, "payload")
		idx := p.Get("brokenAtIndex")
		if idx.Exists() && int(idx.Int()) == index && p.Get("breakReason").String() == reason {
			found = true
			return errStop
		}
		return nil
	})
	return found, err
}
