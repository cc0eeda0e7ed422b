// Package eventlog implements the persona's append-only, hash-chained life
// log: appends, reads, chain verification and scar recording.
package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
)

// ErrMalformedEvent is returned by Read when a log line does not decode.
var ErrMalformedEvent = errors.New("malformed event")

// logFile is the slice of *os.File that appends need.
type logFile interface {
	io.ReaderAt
	io.Writer
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// openLogFile opens the log for appending. Tests replace it to inject I/O
// failures.
var openLogFile = func(path string) (logFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
}

// Append stamps, chains and durably appends one event. Appends to the same
// package are serialized by the package lock; the wait for the lock is the
// only part that honours ctx. On failure the log is left unmodified.
func Append(ctx context.Context, pkg *persona.Package, in model.EventInput) (model.Event, error) {
	held, err := pkg.Lock(ctx)
	if err != nil {
		return model.Event{}, fmt.Errorf("acquire package lock: %w", err)
	}
	defer held.Release()
	return AppendHeld(held, in)
}

// AppendHeld appends under a package lock the caller already holds, so an
// append can be combined atomically with other package mutations.
func AppendHeld(held *persona.Held, in model.EventInput) (model.Event, error) {
	pkg := held.Package()
	if in.Type == "" {
		return model.Event{}, errors.New("event type is required")
	}
	payload, err := Canonical(in.Payload)
	if err != nil {
		return model.Event{}, fmt.Errorf("payload: %w", err)
	}

	f, err := openLogFile(pkg.LogPath())
	if err != nil {
		return model.Event{}, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.Event{}, fmt.Errorf("stat log: %w", err)
	}
	size := info.Size()

	prev, terminated, err := tail(f, size)
	if err != nil {
		return model.Event{}, fmt.Errorf("read tail: %w", err)
	}

	ev := model.Event{
		TS:       pkg.Now().Format(model.TimeFormat),
		Type:     in.Type,
		Payload:  payload,
		PrevHash: prev,
	}
	if ev.Hash, err = ExpectedHash(ev); err != nil {
		return model.Event{}, err
	}

	line, err := encodeLine(ev)
	if err != nil {
		return model.Event{}, err
	}
	if !terminated {
		line = append([]byte{'\n'}, line...)
	}

	if _, err := f.Write(line); err != nil {
		rollback(pkg, f, size)
		return model.Event{}, fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		rollback(pkg, f, size)
		return model.Event{}, fmt.Errorf("sync log: %w", err)
	}

	pkg.Logger().Debug().
		Str("type", ev.Type).
		Str("hash", ev.Hash).
		Msg("event appended")
	return ev, nil
}

func rollback(pkg *persona.Package, f logFile, size int64) {
	if err := f.Truncate(size); err != nil {
		pkg.Logger().Error().Err(err).Int64("size", size).Msg("append rollback failed")
		return
	}
	pkg.Logger().Warn().Int64("size", size).Msg("append rolled back")
}

func encodeLine(ev model.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return buf.Bytes(), nil
}

const tailBlock = 4096

// tail returns the hash of the last decodable event (the genesis sentinel
// when there is none) and whether the file ends in a newline. It reads
// backwards so appends do not rescan the whole log.
func tail(f io.ReaderAt, size int64) (hash string, terminated bool, err error) {
	if size == 0 {
		return model.GenesisHash, true, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return "", false, err
	}
	terminated = last[0] == '\n'

	off := size
	var carry []byte
	for {
		n := int64(tailBlock)
		if off < n {
			n = off
		}
		off -= n
		chunk := make([]byte, n, n+int64(len(carry)))
		if _, err := f.ReadAt(chunk, off); err != nil && !errors.Is(err, io.EOF) {
			return "", false, err
		}
		lines := bytes.Split(append(chunk, carry...), []byte{'\n'})

		first := 1
		if off == 0 {
			first = 0
		}
		for i := len(lines) - 1; i >= first; i-- {
			if ev, ok := decodeLine(lines[i]); ok && ev.Hash != "" {
				return ev.Hash, terminated, nil
			}
		}
		if off == 0 {
			return model.GenesisHash, terminated, nil
		}
		carry = lines[0]
	}
}

func decodeLine(line []byte) (model.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return model.Event{}, false
	}
	var ev model.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return model.Event{}, false
	}
	return ev, true
}

// lineFunc receives each non-blank line with its zero-based index among
// non-blank lines. terminated is false only for a final line with no newline.
type lineFunc func(idx int, line []byte, terminated bool) error

var errStop = errors.New("stop scan")

// scanLines walks the log at path. A missing log is empty.
func scanLines(ctx context.Context, path string, fn lineFunc) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	idx := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read log: %w", readErr)
		}
		terminated := len(raw) > 0 && raw[len(raw)-1] == '\n'
		if line := bytes.TrimSpace(raw); len(line) > 0 {
			if err := fn(idx, line, terminated); err != nil {
				if errors.Is(err, errStop) {
					return nil
				}
				return err
			}
			idx++
		}
		if readErr != nil {
			return nil
		}
	}
}

// Read returns every event in log order. Blank lines are skipped. A
// malformed line is an error, except an unterminated final line, which is
// treated as a write still in flight and skipped.
func Read(ctx context.Context, pkg *persona.Package) ([]model.Event, error) {
	var events []model.Event
	err := scanLines(ctx, pkg.LogPath(), func(idx int, line []byte, terminated bool) error {
		ev, ok := decodeLine(line)
		if !ok {
			if !terminated {
				return nil
			}
			return fmt.Errorf("%w: line %d", ErrMalformedEvent, idx)
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ReadLenient returns every decodable event and the number of lines skipped.
func ReadLenient(ctx context.Context, pkg *persona.Package) ([]model.Event, int, error) {
	var events []model.Event
	skipped := 0
	err := scanLines(ctx, pkg.LogPath(), func(_ int, line []byte, _ bool) error {
		ev, ok := decodeLine(line)
		if !ok {
			skipped++
			return nil
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return events, skipped, nil
}
