package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/solrelay/transfer-relay/logging"
)

// FileJournal appends JSON lines to a file opened with O_APPEND. Writes are
// serialized so concurrent jobs never interleave lines.
type FileJournal struct {
	logger logging.Logger
	path   string

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// OpenFileJournal opens (or creates) the journal at path.
func OpenFileJournal(logger logging.Logger, path string) (*FileJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	j := &FileJournal{
		logger: logging.ForComponent(logger, logging.ComponentFileJournal),
		path:   path,
		file:   f,
	}
	j.logger.Info().Str(logging.FieldPath, path).Msg("file journal opened")
	return j, nil
}

// Path returns the journal file path.
func (j *FileJournal) Path() string {
	return j.path
}

// Record appends rec as one line.
func (j *FileJournal) Record(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		observeWrite("file", rec.OutcomeKind, err)
		return fmt.Errorf("failed to encode journal record: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		observeWrite("file", rec.OutcomeKind, os.ErrClosed)
		return fmt.Errorf("journal is closed")
	}
	if _, err = j.file.Write(data); err != nil {
		observeWrite("file", rec.OutcomeKind, err)
		return fmt.Errorf("failed to append journal record: %w", err)
	}

	observeWrite("file", rec.OutcomeKind, nil)
	return nil
}

// Close syncs and closes the file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return fmt.Errorf("failed to sync journal file: %w", err)
	}
	return j.file.Close()
}

// ReadFile reads every record of the journal at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer f.Close()
	return ReadRecords(f)
}
