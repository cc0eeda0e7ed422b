package eventlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
)

// Issue is one problem found by Doctor.
type Issue struct {
	Index   int    `json:"index"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DoctorReport combines chain verification with payload schema checks.
type DoctorReport struct {
	OK     bool         `json:"ok"`
	Chain  VerifyResult `json:"chain"`
	Issues []Issue      `json:"issues"`
}

// Doctor validates the log on the read side. Append accepts any payload;
// this is where unknown types and out-of-range values are reported.
func Doctor(ctx context.Context, pkg *persona.Package) (DoctorReport, error) {
	chain, err := Verify(ctx, pkg)
	if err != nil {
		return DoctorReport{}, err
	}
	report := DoctorReport{Chain: chain, Issues: []Issue{}}
	if !chain.OK {
		report.Issues = append(report.Issues, Issue{
			Index:   *chain.BrokenAtIndex,
			Code:    "chain_break",
			Message: fmt.Sprintf("%s: %s", chain.BreakReason, chain.Detail),
		})
	}

	err = scanLines(ctx, pkg.LogPath(), func(idx int, line []byte, terminated bool) error {
		ev, ok := decodeLine(line)
		if !ok && !terminated {
			return nil
		}
		if !ok {
			report.Issues = append(report.Issues, Issue{Index: idx, Code: ReasonMalformedEvent, Message: "line does not decode to an event"})
			return nil
		}
		if !model.Known(ev.Type) {
			report.Issues = append(report.Issues, Issue{Index: idx, Type: ev.Type, Code: "unknown_event_type", Message: fmt.Sprintf("no schema for %q", ev.Type)})
			return nil
		}
		code := "invalid_" + ev.Type + "_event"
		p, err := model.DecodePayload(ev)
		if err != nil {
			report.Issues = append(report.Issues, Issue{Index: idx, Type: ev.Type, Code: code, Message: err.Error()})
			return nil
		}
		if problems := p.Problems(); len(problems) > 0 {
			report.Issues = append(report.Issues, Issue{Index: idx, Type: ev.Type, Code: code, Message: strings.Join(problems, "; ")})
		}
		return nil
	})
	if err != nil {
		return DoctorReport{}, err
	}
	report.OK = len(report.Issues) == 0
	return report, nil
}
