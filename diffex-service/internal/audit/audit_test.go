package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/diffex/pkg/log"
)

func capture(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := log.NewWithWriter(log.Config{Level: "info"}, &buf)
	return log.WithLogger(context.Background(), logger), &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestLog(t *testing.T) {
	ctx, buf := capture(t)

	Log(ctx, ActionClearAll, SourceAPI, "caches cleared")

	entry := lastEntry(t, buf)
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionClearAll, entry[FieldAction])
	assert.Equal(t, SourceAPI, entry[FieldSource])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "caches cleared", entry["message"])
	assert.NotContains(t, entry, FieldDetail)
}

func TestLogResultSet(t *testing.T) {
	ctx, buf := capture(t)

	LogResultSet(ctx, ActionClearTopHits, SourceEvent, 42, "top hits cleared")

	entry := lastEntry(t, buf)
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionClearTopHits, entry[FieldAction])
	assert.Equal(t, SourceEvent, entry[FieldSource])
	assert.Equal(t, float64(42), entry[log.FieldResultSetID])
}

func TestLogWithDetail(t *testing.T) {
	ctx, buf := capture(t)

	LogWithDetail(ctx, ActionToggle, SourceAPI, "false", "result cache toggled")

	entry := lastEntry(t, buf)
	assert.Equal(t, ActionToggle, entry[FieldAction])
	assert.Equal(t, "false", entry[FieldDetail])
}

func TestLogDroppedBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), log.NewWithWriter(log.Config{Level: "warn"}, &buf))

	Log(ctx, ActionClearAll, SourceAPI, "caches cleared")
	assert.Empty(t, buf.String())
}
