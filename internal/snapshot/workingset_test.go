package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/persona-state/internal/persona"
)

func newTestPackage(t *testing.T) *persona.Package {
	t.Helper()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	pkg, err := persona.Open(t.TempDir(), persona.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return pkg
}

func quarantined(t *testing.T, pkg *persona.Package) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(pkg.WorkingSetPath()))
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "working_set.json.corrupt-") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestReadMissingIsEmpty(t *testing.T) {
	pkg := newTestPackage(t)
	ws, err := Read(context.Background(), pkg)
	require.NoError(t, err)
	assert.NotNil(t, ws.Items)
	assert.Empty(t, ws.Items)

	_, err = os.Stat(pkg.WorkingSetPath())
	assert.True(t, os.IsNotExist(err))
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	pkg := newTestPackage(t)

	ws, err := FromValues([]map[string]any{{"id": "a"}, {"id": "b"}})
	require.NoError(t, err)
	require.NoError(t, Write(ctx, pkg, ws))

	got, err := Read(ctx, pkg)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.JSONEq(t, `{"id":"b"}`, string(got.Items[1]))
}

func TestWriteNilItemsPersistsEmptyArray(t *testing.T) {
	pkg := newTestPackage(t)
	require.NoError(t, Write(context.Background(), pkg, WorkingSet{}))

	b, err := os.ReadFile(pkg.WorkingSetPath())
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(b))
}

func TestCorruptWorkingSetIsQuarantined(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"items": [{"id": "a"}, {"id`},
		{"not an object", `[1, 2, 3]`},
		{"items not an array", `{"items": 5}`},
		{"empty file", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			pkg := newTestPackage(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(pkg.WorkingSetPath()), 0o755))
			require.NoError(t, os.WriteFile(pkg.WorkingSetPath(), []byte(tt.content), 0o644))

			ws, err := Read(ctx, pkg)
			require.NoError(t, err)
			assert.Empty(t, ws.Items)

			q := quarantined(t, pkg)
			require.Len(t, q, 1)
			assert.Equal(t, "working_set.json.corrupt-20260304T050607.000000000Z", q[0])
			b, err := os.ReadFile(filepath.Join(filepath.Dir(pkg.WorkingSetPath()), q[0]))
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(b))

			// The reset document is valid, so a second read changes nothing.
			again, err := Read(ctx, pkg)
			require.NoError(t, err)
			assert.Equal(t, ws, again)
			assert.Len(t, quarantined(t, pkg), 1)

			var doc map[string]json.RawMessage
			b, err = os.ReadFile(pkg.WorkingSetPath())
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(b, &doc))
			assert.JSONEq(t, `[]`, string(doc["items"]))
		})
	}
}

func TestNullItemsReadAsEmpty(t *testing.T) {
	pkg := newTestPackage(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(pkg.WorkingSetPath()), 0o755))
	require.NoError(t, os.WriteFile(pkg.WorkingSetPath(), []byte(`{"items": null}`), 0o644))

	ws, err := Read(context.Background(), pkg)
	require.NoError(t, err)
	assert.NotNil(t, ws.Items)
	assert.Empty(t, quarantined(t, pkg))
}
