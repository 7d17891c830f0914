package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "cells", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, 3.0, line["cells"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "text")
	logger.Debug("stage done", "stage", "thresholds")
	assert.Contains(t, buf.String(), "stage=thresholds")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	m.CellsProcessed.Add(12)
	m.RecordsPublished.WithLabelValues("kafka").Add(5)
	m.RunActive.Set(1)

	assert.Equal(t, 12.0, testutil.ToFloat64(m.CellsProcessed))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsPublished.WithLabelValues("kafka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunActive))
}
