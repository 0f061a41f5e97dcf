// Package inbox relays credential list files dropped into a spool directory.
//
// Each file is claimed by moving it into the processed directory before its
// batch runs, so a file is relayed at most once even across restarts. The
// batch result is written as JSON into the results directory. Writers should
// create files under a dot-prefixed name and rename them into place; hidden
// files are ignored.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/relay"
)

const (
	// DefaultSettleDelay is how long a file must stay unchanged before it is
	// picked up.
	DefaultSettleDelay = 250 * time.Millisecond

	queueSize = 1024
)

// Config configures a Watcher.
type Config struct {
	// Dir is the spool directory.
	Dir string

	// Pattern filters file names. Default: "*"
	Pattern string

	// ResultsDir receives <name>.<batchID>.json per file. Default: {Dir}/results
	ResultsDir string

	// ProcessedDir receives claimed input files. Default: {Dir}/processed
	ProcessedDir string

	// DefaultAmount applies to entries without an amount.
	DefaultAmount int64

	SettleDelay time.Duration
}

// Runner runs one batch. *relay.Relay implements it.
type Runner interface {
	RunBatch(ctx context.Context, batchID string, jobs []relay.TransferJob) *relay.Result
}

// FileResult is what the results directory receives for one input file.
type FileResult struct {
	SourceFile string `json:"sourceFile"`

	// Error is set when the file could not be parsed; no batch ran.
	Error string `json:"error,omitempty"`

	*relay.Result
}

// Watcher turns spool files into batches.
type Watcher struct {
	logger logging.Logger
	config Config
	runner Runner

	// timers debounces events per file.
	timers *xsync.Map[string, *time.Timer]

	// mu serializes file processing.
	mu sync.Mutex
}

// New validates cfg and creates the results and processed directories.
func New(logger logging.Logger, cfg Config, runner Runner) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("inbox directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat inbox directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox path %s is not a directory", cfg.Dir)
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid inbox pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = filepath.Join(cfg.Dir, "results")
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.Dir, "processed")
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	for _, dir := range []string{cfg.ResultsDir, cfg.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return &Watcher{
		logger: logging.ForComponent(logger, logging.ComponentInbox),
		config: cfg,
		runner: runner,
		timers: xsync.NewMap[string, *time.Timer](),
	}, nil
}

// Config returns the effective configuration.
func (w *Watcher) Config() Config {
	return w.config
}

// Run processes files already in the directory, then watches it until ctx
// ends. Files are processed one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	queue := make(chan string, queueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go logging.RecoverGoRoutine(w.logger, logging.ComponentInbox, func(ctx context.Context) {
		defer wg.Done()
		w.worker(ctx, queue)
	})(ctx)

	// Scan after Add so files arriving in between are seen at least once.
	existing, err := w.Pending()
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to scan inbox directory")
	}
	for _, path := range existing {
		w.enqueue(ctx, queue, path)
	}

	w.logger.Info().
		Str(logging.FieldPath, w.config.Dir).
		Int(logging.FieldCount, len(existing)).
		Msg("watching inbox")

	defer func() {
		w.timers.Range(func(path string, t *time.Timer) bool {
			t.Stop()
			w.timers.Delete(path)
			return true
		})
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.accepts(event.Name) {
				continue
			}
			w.debounce(ctx, queue, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("inbox watcher error")
		}
	}
}

func (w *Watcher) worker(ctx context.Context, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-queue:
			if _, err := w.ProcessFile(ctx, path); err != nil && !errors.Is(err, os.ErrNotExist) {
				w.logger.Error().Err(err).Str(logging.FieldFile, filepath.Base(path)).Msg("failed to process inbox file")
			}
		}
	}
}

// debounce schedules path once it has been quiet for the settle delay.
func (w *Watcher) debounce(ctx context.Context, queue chan<- string, path string) {
	if timer, ok := w.timers.Load(path); ok {
		timer.Reset(w.config.SettleDelay)
		return
	}
	timer := time.AfterFunc(w.config.SettleDelay, func() {
		w.timers.Delete(path)
		w.enqueue(ctx, queue, path)
	})
	if existing, loaded := w.timers.LoadOrStore(path, timer); loaded {
		timer.Stop()
		existing.Reset(w.config.SettleDelay)
	}
}

func (w *Watcher) enqueue(ctx context.Context, queue chan<- string, path string) {
	select {
	case queue <- path:
		inboxQueueDepth.Set(float64(len(queue)))
	case <-ctx.Done():
	}
}

// accepts reports whether path is a visible regular file matching the pattern.
func (w *Watcher) accepts(path string) bool {
	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(w.config.Dir) {
		return false
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if ok, _ := filepath.Match(w.config.Pattern, name); !ok {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Pending lists acceptable files currently in the directory, sorted by name.
func (w *Watcher) Pending() ([]string, error) {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(w.config.Dir, e.Name())
		if w.accepts(path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ProcessFile claims path, relays its entries as one batch and writes the
// result file. A path that was already claimed fails with os.ErrNotExist.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (*FileResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := filepath.Base(path)
	claimed, err := w.claim(path)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	logger := logging.WithBatch(w.logger, batchID).With().Str(logging.FieldFile, name).Logger()

	out := &FileResult{SourceFile: name}
	entries, err := keys.ReadCredentialFile(claimed)
	if err != nil {
		inboxFilesTotal.WithLabelValues("invalid").Inc()
		out.Error = err.Error()
		logger.Warn().Err(err).Msg("inbox file is not a valid credential list")
		return out, w.writeResult(name, "error", out)
	}

	jobs := relay.JobsFromEntries(entries, w.config.DefaultAmount)
	logger.Info().Int(logging.FieldBatchSize, len(jobs)).Msg("relaying inbox file")

	out.Result = w.runner.RunBatch(ctx, batchID, jobs)
	inboxFilesTotal.WithLabelValues("processed").Inc()
	return out, w.writeResult(name, out.Result.BatchID, out)
}

// claim moves path into the processed directory. The returned path is the
// new location.
func (w *Watcher) claim(path string) (string, error) {
	name := filepath.Base(path)
	target := filepath.Join(w.config.ProcessedDir, name)
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(w.config.ProcessedDir, fmt.Sprintf("%s.%d", name, time.Now().UnixNano()))
	}
	if err := os.Rename(path, target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("inbox file %s already claimed: %w", name, os.ErrNotExist)
		}
		return "", fmt.Errorf("failed to claim inbox file %s: %w", name, err)
	}
	return target, nil
}

// writeResult writes v atomically as results/<name>.<suffix>.json.
func (w *Watcher) writeResult(name, suffix string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode inbox result: %w", err)
	}

	final := filepath.Join(w.config.ResultsDir, fmt.Sprintf("%s.%s.json", name, suffix))
	tmp, err := os.CreateTemp(w.config.ResultsDir, ".result-*")
	if err != nil {
		return fmt.Errorf("failed to create inbox result: %w", err)
	}
	if _, err = tmp.Write(append(data, '\n')); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o600)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), final)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write inbox result: %w", err)
	}
	return nil
}
