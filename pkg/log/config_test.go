package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestNewWithWriterStampsService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", ServiceName: "diffex-service"}, &buf)

	logger.Debug().Msg("dropped")
	logger.Info().Int64(FieldResultSetID, 7).Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "diffex-service", entry[FieldService])
	assert.Equal(t, float64(7), entry[FieldResultSetID])
	assert.Equal(t, "kept", entry["message"])
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info"}, &buf)

	ctx := WithLogger(context.Background(), logger)
	l := Ctx(ctx)
	l.Info().Msg("scoped")
	assert.Contains(t, buf.String(), "scoped")

	// no logger stored: must not panic and must return a usable logger
	g := Ctx(context.Background())
	g.Debug().Msg("global")
}

func TestWithBatchTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "debug"}, &buf)

	ctx := WithBatch(WithLogger(context.Background(), logger), 3)
	l := Ctx(ctx)
	l.Info().Msg("batched")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(3), entry[FieldBatch])
}
