// Package snapshot manages the working set, a derived JSON cache that can be
// rebuilt from the life log and is therefore never fatal to lose.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rcliao/persona-state/internal/atomicfile"
	"github.com/rcliao/persona-state/internal/persona"
)

// WorkingSet is the persisted document {"items": [...]}.
type WorkingSet struct {
	Items []json.RawMessage `json:"items"`
}

// Empty returns a working set with a non-nil, empty item list.
func Empty() WorkingSet {
	return WorkingSet{Items: []json.RawMessage{}}
}

// Read returns the working set. A missing file reads as empty. An unreadable
// document is moved to working_set.json.corrupt-<timestamp>, replaced with an
// empty document, and reported only through the log and the quarantine file.
func Read(ctx context.Context, pkg *persona.Package) (WorkingSet, error) {
	path := pkg.WorkingSetPath()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return WorkingSet{}, fmt.Errorf("read working set: %w", err)
	}

	ws, perr := decode(b)
	if perr == nil {
		return ws, nil
	}

	quarantine := path + ".corrupt-" + persona.Stamp(pkg.Now())
	if err := os.Rename(path, quarantine); err != nil && !errors.Is(err, os.ErrNotExist) {
		return WorkingSet{}, fmt.Errorf("quarantine working set: %w", err)
	}
	if err := atomicfile.WriteJSON(path, Empty()); err != nil {
		return WorkingSet{}, fmt.Errorf("reset working set: %w", err)
	}
	pkg.Logger().Warn().
		Err(perr).
		Str("quarantine", quarantine).
		Msg("corrupt working set quarantined")
	return Empty(), nil
}

// Write atomically replaces the working set.
func Write(ctx context.Context, pkg *persona.Package, ws WorkingSet) error {
	if ws.Items == nil {
		ws.Items = []json.RawMessage{}
	}
	if err := atomicfile.WriteJSON(pkg.WorkingSetPath(), ws); err != nil {
		return fmt.Errorf("write working set: %w", err)
	}
	return nil
}

// FromValues marshals each value into a working set item.
func FromValues[T any](values []T) (WorkingSet, error) {
	ws := WorkingSet{Items: make([]json.RawMessage, 0, len(values))}
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return WorkingSet{}, err
		}
		ws.Items = append(ws.Items, b)
	}
	return ws, nil
}

func decode(b []byte) (WorkingSet, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return WorkingSet{}, errors.New("document is not a JSON object")
	}
	var ws WorkingSet
	if err := json.Unmarshal(b, &ws); err != nil {
		return WorkingSet{}, err
	}
	if ws.Items == nil {
		ws.Items = []json.RawMessage{}
	}
	return ws, nil
}
