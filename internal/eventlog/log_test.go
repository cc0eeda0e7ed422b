package eventlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
)

func newTestPackage(t *testing.T) *persona.Package {
	t.Helper()
	var mu sync.Mutex
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pkg, err := persona.Open(t.TempDir(), persona.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	require.NoError(t, err)
	return pkg
}

func userMessage(t *testing.T, text string) model.EventInput {
	t.Helper()
	in, err := model.NewEventInput(model.TypeUserMessage, model.MessagePayload{Text: text})
	require.NoError(t, err)
	return in
}

func logLines(t *testing.T, pkg *persona.Package) []string {
	t.Helper()
	f, err := os.Open(pkg.LogPath())
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestAppendChainsEvents(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	for i := 0; i < 10; i++ {
		_, err := Append(ctx, pkg, userMessage(t, fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	events, err := Read(ctx, pkg)
	require.NoError(t, err)
	require.Len(t, events, 10)

	for i, ev := range events {
		want, err := ExpectedHash(ev)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Hash, "event %d hash", i)
		if i == 0 {
			assert.Equal(t, model.GenesisHash, ev.PrevHash)
		} else {
			assert.Equal(t, events[i-1].Hash, ev.PrevHash, "event %d link", i)
		}
	}

	res, err := Verify(ctx, pkg)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 10, res.Events)
	assert.Equal(t, events[9].Hash, res.LastHash)
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	inputs := make([]model.EventInput, 40)
	for i := range inputs {
		inputs[i] = userMessage(t, fmt.Sprintf("msg-%d", i))
	}

	var g errgroup.Group
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			// Separate handles on the same directory share the lock.
			h, err := persona.Open(pkg.Root())
			if err != nil {
				return err
			}
			_, err = Append(ctx, h, in)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, logLines(t, pkg), 40)

	res, err := Verify(ctx, pkg)
	require.NoError(t, err)
	assert.True(t, res.OK, "break: %s %s", res.BreakReason, res.Detail)
	assert.Equal(t, 40, res.Events)

	events, err := Read(ctx, pkg)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, ev := range events {
		seen[string(ev.Payload)] = true
	}
	assert.Len(t, seen, 40)
}

func TestAppendCanonicalizesPayload(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	ev, err := Append(ctx, pkg, model.EventInput{
		Type:    "custom_thing",
		Payload: []byte(`{ "b": 1.50, "a": "<x>" }`),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1.50}`, string(ev.Payload))

	lines := logLines(t, pkg)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"payload":{"a":"<x>","b":1.50}`)
}

func TestAppendRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	_, err := Append(ctx, pkg, model.EventInput{Payload: []byte(`{}`)})
	require.Error(t, err)

	_, err = Append(ctx, pkg, model.EventInput{Type: "x", Payload: []byte(`{"a":`)})
	require.Error(t, err)

	_, err = os.Stat(pkg.LogPath())
	if err == nil {
		assert.Empty(t, logLines(t, pkg))
	}
}

func TestAppendAfterCancelledLockWait(t *testing.T) {
	pkg := newTestPackage(t)
	held, err := pkg.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Append(ctx, pkg, userMessage(t, "never"))
	require.ErrorIs(t, err, context.Canceled)
	held.Release()

	_, err = Append(context.Background(), pkg, userMessage(t, "later"))
	require.NoError(t, err)
	assert.Len(t, logLines(t, pkg), 1)
}

func TestAppendTerminatesUnterminatedTail(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	first, err := Append(ctx, pkg, userMessage(t, "one"))
	require.NoError(t, err)

	// Strip the trailing newline.
	b, err := os.ReadFile(pkg.LogPath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pkg.LogPath(), []byte(strings.TrimRight(string(b), "\n")), 0o644))

	second, err := Append(ctx, pkg, userMessage(t, "two"))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Len(t, logLines(t, pkg), 2)
}

func TestTailScansAcrossBlocks(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	big := strings.Repeat("x", 3*tailBlock)
	first, err := Append(ctx, pkg, userMessage(t, big))
	require.NoError(t, err)

	// A trailing garbage line larger than one block must be skipped.
	f, err := os.OpenFile(pkg.LogPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(strings.Repeat("z", 2*tailBlock) + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	next, err := Append(ctx, pkg, userMessage(t, "after garbage"))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, next.PrevHash)
}

func TestReadSkipsBlankLinesAndMissingLog(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	events, err := Read(ctx, pkg)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = Append(ctx, pkg, userMessage(t, "one"))
	require.NoError(t, err)
	f, err := os.OpenFile(pkg.LogPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n   \n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err = Read(ctx, pkg)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReadMalformedLine(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	_, err := Append(ctx, pkg, userMessage(t, "one"))
	require.NoError(t, err)
	f, err := os.OpenFile(pkg.LogPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Read(ctx, pkg)
	require.ErrorIs(t, err, ErrMalformedEvent)

	events, skipped, err := ReadLenient(ctx, pkg)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, skipped)
}

func TestCanonical(t *testing.T) {
	got, err := Canonical([]byte(`{"z":[3, 2,{"b":true,"a":null}],"a":"&"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"&","z":[3,2,{"a":null,"b":true}]}`, string(got))

	got, err = Canonical(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(got))

	_, err = Canonical([]byte(`{} {}`))
	require.Error(t, err)
}

func TestHashEventDependsOnPrevHash(t *testing.T) {
	a, err := HashEvent("GENESIS", "2026-01-01T00:00:00Z", "t", []byte(`{}`))
	require.NoError(t, err)
	b, err := HashEvent("other", "2026-01-01T00:00:00Z", "t", []byte(`{}`))
	require.NoError(t, err)
	c, err := HashEvent("GENESIS", "2026-01-01T00:00:00Z", "t", []byte(` { } `))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a, 64)
}

// faultyLog wraps the real log file and fails writes or syncs on demand.
type faultyLog struct {
	logFile
	writeAfter int // bytes written before the write fails; -1 never fails
	failSync   bool
}

func (f *faultyLog) Write(p []byte) (int, error) {
	if f.writeAfter < 0 || f.writeAfter >= len(p) {
		return f.logFile.Write(p)
	}
	n, err := f.logFile.Write(p[:f.writeAfter])
	if err != nil {
		return n, err
	}
	return n, errors.New("disk full")
}

func (f *faultyLog) Sync() error {
	if f.failSync {
		return errors.New("sync failed")
	}
	return f.logFile.Sync()
}

func withFaultyLog(t *testing.T, fault faultyLog) {
	t.Helper()
	orig := openLogFile
	openLogFile = func(path string) (logFile, error) {
		f, err := orig(path)
		if err != nil {
			return nil, err
		}
		wrapped := fault
		wrapped.logFile = f
		return &wrapped, nil
	}
	t.Cleanup(func() { openLogFile = orig })
}

func TestAppendFailureLeavesLogUnmodified(t *testing.T) {
	tests := []struct {
		name  string
		fault faultyLog
	}{
		{"partial write", faultyLog{writeAfter: 17}},
		{"write of nothing", faultyLog{writeAfter: 0}},
		{"sync", faultyLog{writeAfter: -1, failSync: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			pkg := newTestPackage(t)
			seedLog(t, pkg, 2)
			before, err := os.ReadFile(pkg.LogPath())
			require.NoError(t, err)
			last, err := Read(ctx, pkg)
			require.NoError(t, err)

			withFaultyLog(t, tt.fault)
			_, err = Append(ctx, pkg, userMessage(t, "lost"))
			require.Error(t, err)

			after, err := os.ReadFile(pkg.LogPath())
			require.NoError(t, err)
			assert.Equal(t, before, after)

			openLogFile = func(path string) (logFile, error) {
				return os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
			}
			ev, err := Append(ctx, pkg, userMessage(t, "retry"))
			require.NoError(t, err)
			assert.Equal(t, last[len(last)-1].Hash, ev.PrevHash)

			res, err := Verify(ctx, pkg)
			require.NoError(t, err)
			assert.True(t, res.OK)
			assert.Equal(t, 3, res.Events)
		})
	}
}
