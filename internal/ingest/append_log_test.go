package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testEvents(ids ...string) []types.Event {
	events := make([]types.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, types.Event{
			ID:        id,
			Type:      "test",
			Data:      map[string]interface{}{"value": id},
			Timestamp: 1700000000000,
		})
	}
	return events
}

func TestAppendLogWriteReadDelete(t *testing.T) {
	log, err := NewAppendLog(t.TempDir(), testLogger())
	require.NoError(t, err)

	filename, err := log.WriteBatch(testEvents("e1", "e2", "e3"))
	require.NoError(t, err)
	assert.Contains(t, filename, "batch_")
	assert.Contains(t, filename, ".jsonl")

	events, err := log.ReadBatch(filename)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e3", events[2].ID)

	require.NoError(t, log.DeleteBatch(filename))

	pending, err := log.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAppendLogDeleteIsIdempotent(t *testing.T) {
	log, err := NewAppendLog(t.TempDir(), testLogger())
	require.NoError(t, err)

	assert.NoError(t, log.DeleteBatch("batch_19700101_000000_000000.jsonl"))
	assert.NoError(t, log.DeleteBatch("batch_19700101_000000_000000.jsonl"))
}

func TestAppendLogListPendingOrder(t *testing.T) {
	log, err := NewAppendLog(t.TempDir(), testLogger())
	require.NoError(t, err)

	// Batches written within the same second must still list in creation
	// order thanks to the zero-padded counter suffix.
	var written []string
	for i := 0; i < 12; i++ {
		filename, err := log.WriteBatch(testEvents("e"))
		require.NoError(t, err)
		written = append(written, filename)
	}

	pending, err := log.ListPending()
	require.NoError(t, err)
	assert.Equal(t, written, pending)
}

func TestAppendLogNoPartialFilesVisible(t *testing.T) {
	dir := t.TempDir()
	log, err := NewAppendLog(dir, testLogger())
	require.NoError(t, err)

	_, err = log.WriteBatch(testEvents("e1"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp")
	}
}

func TestAppendLogReadBatchCorrupt(t *testing.T) {
	dir := t.TempDir()
	log, err := NewAppendLog(dir, testLogger())
	require.NoError(t, err)

	filename := "batch_20260101_000000_000000.jsonl"
	content := `{"id":"e1","type":"test","data":null,"timestamp":1}` + "\nnot json at all\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644))

	_, err = log.ReadBatch(filename)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptBatch)
}

func TestAppendLogReadBatchMissingID(t *testing.T) {
	dir := t.TempDir()
	log, err := NewAppendLog(dir, testLogger())
	require.NoError(t, err)

	filename := "batch_20260101_000000_000001.jsonl"
	content := `{"type":"test","data":null,"timestamp":1}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644))

	_, err = log.ReadBatch(filename)
	assert.ErrorIs(t, err, ErrCorruptBatch)
}

func TestAppendLogReadBatchSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	log, err := NewAppendLog(dir, testLogger())
	require.NoError(t, err)

	filename := "batch_20260101_000000_000002.jsonl"
	content := "\n" + `{"id":"e1","type":"test","data":null,"timestamp":1}` + "\n\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644))

	events, err := log.ReadBatch(filename)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
}

func TestAppendLogReadBatchLargeEvent(t *testing.T) {
	log, err := NewAppendLog(t.TempDir(), testLogger())
	require.NoError(t, err)

	// An event near the 1MB request body limit far exceeds the default
	// scanner line cap; the batch must still read back for replay.
	big := types.Event{
		ID:        "big",
		Type:      "test",
		Data:      map[string]interface{}{"blob": strings.Repeat("x", 900*1024)},
		Timestamp: 1700000000000,
	}

	filename, err := log.WriteBatch([]types.Event{big, testEvents("small")[0]})
	require.NoError(t, err)

	events, err := log.ReadBatch(filename)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "big", events[0].ID)
	assert.Equal(t, "small", events[1].ID)
}

func TestAppendLogIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	log, err := NewAppendLog(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	pending, err := log.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
