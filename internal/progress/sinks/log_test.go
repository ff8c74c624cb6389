package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/patent-crawler/internal/progress"
)

func TestLogSinkUsesEventLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Seq: 1, TS: time.Now(), Level: progress.LevelInfo, Stage: progress.StageRunStart, Message: "run started"},
		{RunID: runID, Seq: 2, TS: time.Now(), Level: progress.LevelWarn, Stage: progress.StageFieldEmpty, Field: "claims", Message: "no claims"},
		{RunID: runID, Seq: 3, TS: time.Now(), Level: progress.LevelError, Stage: progress.StageSearchFailed, URL: "https://x", Message: "search failed"},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "claims", entries[1].ContextMap()["field"])
	require.Equal(t, zap.ErrorLevel, entries[2].Level)
	require.Equal(t, "https://x", entries[2].ContextMap()["url"])
	require.NoError(t, sink.Close(context.Background()))
}
