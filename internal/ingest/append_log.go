// Package ingest implements the durable ingestion pipeline: a bounded
// accept queue in front of a size-or-time batcher that stages every
// batch in an append-only on-disk log before attempting delivery to the
// downstream sink. Files left in the log are replayed on startup, which
// gives at-least-once delivery across crashes.
package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

// ErrCorruptBatch indicates a batch file containing a line that is not
// a valid event record.
var ErrCorruptBatch = errors.New("corrupt batch file")

// AppendLog persiste batches de eventos em disco como arquivos JSONL.
//
// Each batch becomes one file named
// batch_<YYYYMMDD>_<HHMMSS>_<counter>.jsonl so that lexicographic order
// of filenames equals creation order within a process run. Files are
// written to a temporary name and renamed, so any file visible to
// ListPending is fully formed. The set of files on disk is exactly the
// set of batches not yet confirmed delivered.
type AppendLog struct {
	dir     string
	logger  *logrus.Logger
	mutex   sync.Mutex
	counter uint64
}

// NewAppendLog creates the log directory if needed and verifies it is
// writable.
func NewAppendLog(dir string, logger *logrus.Logger) (*AppendLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	// Probe writability up front so startup fails loudly instead of the
	// first flush.
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte{}, 0644); err != nil {
		return nil, fmt.Errorf("log directory %s is not writable: %w", dir, err)
	}
	os.Remove(probe)

	logger.WithField("log_dir", dir).Info("Append log initialized")

	return &AppendLog{dir: dir, logger: logger}, nil
}

// WriteBatch materializes the events as a newline-delimited JSON stream
// and returns the batch filename. The write goes to a temporary file
// which is renamed into place, so readers never observe a partial batch.
func (l *AppendLog) WriteBatch(events []types.Event) (string, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	// Zero-padded counter keeps lexicographic order equal to creation
	// order for batches written within the same second.
	filename := fmt.Sprintf("batch_%s_%06d.jsonl",
		time.Now().Format("20060102_150405"), l.counter)
	l.counter++

	tmpPath := filepath.Join(l.dir, filename+".tmp")
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create batch file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
		}
		writer.Write(line)
		writer.WriteByte('\n')
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to flush batch file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to sync batch file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close batch file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(l.dir, filename)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to publish batch file: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"filename":    filename,
		"event_count": len(events),
	}).Debug("Wrote batch to append log")

	return filename, nil
}

// DeleteBatch removes a batch file. Idempotent; a missing file is not
// an error.
func (l *AppendLog) DeleteBatch(filename string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	err := os.Remove(filepath.Join(l.dir, filename))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete batch file %s: %w", filename, err)
	}

	l.logger.WithField("filename", filename).Debug("Deleted batch file")
	return nil
}

// ListPending returns all batch filenames in the log directory in
// chronological (lexicographic) order.
func (l *AppendLog) ListPending() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		pending = append(pending, entry.Name())
	}

	sort.Strings(pending)
	return pending, nil
}

// ReadBatch parses a batch file line by line. Blank lines are ignored;
// any other unparseable line fails the whole batch with ErrCorruptBatch.
func (l *AppendLog) ReadBatch(filename string) ([]types.Event, error) {
	file, err := os.Open(filepath.Join(l.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file %s: %w", filename, err)
	}
	defer file.Close()

	var events []types.Event
	scanner := bufio.NewScanner(file)
	// The handler accepts bodies up to 1MB; the scanner's default 64KB
	// line cap would make such a batch unreadable on replay.
	scanner.Buffer(make([]byte, 0, 64*1024), 2<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event types.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorruptBatch, filename, lineNo, err)
		}
		if event.ID == "" {
			return nil, fmt.Errorf("%w: %s line %d: missing event id", ErrCorruptBatch, filename, lineNo)
		}

		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch file %s: %w", filename, err)
	}

	return events, nil
}

// Dir returns the log directory path.
func (l *AppendLog) Dir() string {
	return l.dir
}
