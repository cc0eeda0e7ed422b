package eventlog

import (
	"context"
	"fmt"

	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
)

// Chain break reasons.
const (
	ReasonHashMismatch    = "hash_mismatch"
	ReasonMissingPrevLink = "missing_prevhash_link"
	ReasonMalformedEvent  = "malformed_event"
)

// VerifyResult reports the outcome of a chain walk. A broken chain is a fact
// about history, so it is returned as data rather than as an error.
type VerifyResult struct {
	OK            bool   `json:"ok"`
	BrokenAtIndex *int   `json:"brokenAtIndex,omitempty"`
	BreakReason   string `json:"breakReason,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Events        int    `json:"events"`
	LastHash      string `json:"lastHash"`
}

// Signature identifies a break so scars can be deduplicated.
func (r VerifyResult) Signature() string {
	if r.OK || r.BrokenAtIndex == nil {
		return ""
	}
	return fmt.Sprintf("%d:%s", *r.BrokenAtIndex, r.BreakReason)
}

// Verify walks the log from genesis, recomputing every hash, and reports the
// first break. It never writes. Blank lines are ignored, and so is an
// undecodable final line with no newline, which Read also treats as a write
// still in flight.
func Verify(ctx context.Context, pkg *persona.Package) (VerifyResult, error) {
	return verifyPath(ctx, pkg.LogPath())
}

func verifyPath(ctx context.Context, path string) (VerifyResult, error) {
	res := VerifyResult{OK: true, LastHash: model.GenesisHash}
	expectedPrev := model.GenesisHash

	brk := func(idx int, reason, detail string) {
		if !res.OK {
			return
		}
		i := idx
		res.OK = false
		res.BrokenAtIndex = &i
		res.BreakReason = reason
		res.Detail = detail
	}

	err := scanLines(ctx, path, func(idx int, line []byte, terminated bool) error {
		ev, ok := decodeLine(line)
		if !ok && !terminated {
			return nil
		}
		res.Events++
		if !ok || ev.Type == "" || ev.Hash == "" {
			brk(idx, ReasonMalformedEvent, "line does not decode to an event")
			return nil
		}
		res.LastHash = ev.Hash
		if !res.OK {
			return nil
		}
		if ev.PrevHash != expectedPrev {
			brk(idx, ReasonMissingPrevLink, fmt.Sprintf("prevHash %q does not link to %q", ev.PrevHash, expectedPrev))
			return nil
		}
		want, err := ExpectedHash(ev)
		if err != nil {
			brk(idx, ReasonMalformedEvent, err.Error())
			return nil
		}
		if want != ev.Hash {
			brk(idx, ReasonHashMismatch, fmt.Sprintf("stored hash %s, recomputed %s", ev.Hash, want))
			return nil
		}
		expectedPrev = ev.Hash
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return res, nil
}
