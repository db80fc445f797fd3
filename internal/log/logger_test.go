package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test-svc"})

	logger := WithComponent("merger")
	logger.Info().Str(FieldEvent, "test.event").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "merger", entry[FieldComponent])
	assert.Equal(t, "test.event", entry[FieldEvent])
	assert.Equal(t, "test-svc", entry["service"])
}

func TestContextCarriers(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-1")
	ctx = ContextWithFingerprint(ctx, "abc123")

	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "abc123", FingerprintFromContext(ctx))

	assert.Empty(t, RunIDFromContext(context.Background()))
	assert.Empty(t, FingerprintFromContext(nil)) //nolint:staticcheck // nil-tolerance is part of the contract
}

func TestWithComponentFromContext(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-42")
	logger := WithComponentFromContext(ctx, "orchestrator")

	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "orchestrator", entry[FieldComponent])
	assert.Equal(t, "run-42", entry[FieldRunID])
}
