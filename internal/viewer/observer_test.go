package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogObserver_SessionAudit(t *testing.T) {
	var buf bytes.Buffer
	audit := NewLogObserver(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctrl := New("doc-7", okFetcher(threePages(t)), Options{
		Viewer:   "u@x.com",
		Clock:    newFakeClock(),
		Observer: audit,
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, ctrl.Open(context.Background()))
	ctrl.Key(KeyEvent{Key: "s", Ctrl: true})
	ctrl.Close()

	lines := auditLines(t, &buf)
	require.Len(t, lines, 4, "active, захват, locked, closed")

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "active", lines[0]["to"])
	assert.Equal(t, "u@x.com", lines[0]["viewer"])
	assert.Equal(t, "view_audit", lines[0]["component"])

	var capture, locked map[string]any
	for _, l := range lines[1:3] {
		if l["key"] != nil {
			capture = l
		} else {
			locked = l
		}
	}
	require.NotNil(t, capture)
	assert.Equal(t, "WARN", capture["level"])
	assert.Equal(t, "Ctrl+s", capture["key"])
	assert.Equal(t, "doc-7", capture["document_id"])
	require.NotNil(t, locked)
	assert.Equal(t, "WARN", locked["level"])
	assert.Equal(t, "capture_key", locked["reason"])

	assert.Equal(t, "closed", lines[3]["to"])
}
