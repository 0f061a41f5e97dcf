package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/solrelay/transfer-relay/logging"
)

// SenderKeyFile is the structure of the sender key file used by the server
// and inbox front ends when a request does not carry its own sender key.
//
// Schema:
//
//	sender_key: "<base58 64-byte secret key>"
type SenderKeyFile struct {
	SenderKey string `yaml:"sender_key"`
}

// Validate checks the file structure. The key itself is validated by Decode.
func (f *SenderKeyFile) Validate() error {
	if f.SenderKey == "" {
		return fmt.Errorf("invalid sender key file: 'sender_key' field is required")
	}
	return nil
}

// FileProvider holds the sender key loaded from a SenderKeyFile and reloads
// it when the file changes. A failed reload keeps the previous key.
type FileProvider struct {
	logger   logging.Logger
	filePath string
	watcher  *fsnotify.Watcher

	mu     sync.RWMutex
	key    SigningKey
	closed bool
}

// NewFileProvider loads the sender key file at path and starts watching its
// directory, so editors that replace the file are also picked up.
func NewFileProvider(logger logging.Logger, path string) (*FileProvider, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("sender key file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to stat sender key file: %w", err)
	}

	p := &FileProvider{
		logger:   logging.ForComponent(logger, logging.ComponentKeyFileProvider),
		filePath: filepath.Clean(path),
	}

	if info.Mode().Perm()&0o077 != 0 {
		p.logger.Warn().
			Str(logging.FieldFile, p.filePath).
			Str("mode", info.Mode().Perm().String()).
			Msg("sender key file is readable by group or others")
	}

	key, err := p.load()
	if err != nil {
		return nil, err
	}
	p.key = key
	senderKeyLoaded.Set(1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.filePath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch sender key directory: %w", err)
	}
	p.watcher = watcher

	p.logger.Info().
		Str(logging.FieldFile, p.filePath).
		Str(logging.FieldSenderFingerprint, key.Fingerprint()).
		Str(logging.FieldSenderAddress, key.Address().String()).
		Msg("loaded sender key")

	return p, nil
}

// Name returns a human-readable name for this provider.
func (p *FileProvider) Name() string {
	return "sender_key_file:" + p.filePath
}

// SenderKey returns the currently loaded key.
func (p *FileProvider) SenderKey() SigningKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

// Reload re-reads the file. On failure the previous key stays in place.
func (p *FileProvider) Reload() error {
	key, err := p.load()
	if err != nil {
		keyReloadsTotal.WithLabelValues(logging.ResultFailure).Inc()
		p.logger.Warn().Err(err).Str(logging.FieldFile, p.filePath).Msg("sender key reload failed, keeping previous key")
		return err
	}

	p.mu.Lock()
	changed := p.key.Fingerprint() != key.Fingerprint()
	p.key = key
	p.mu.Unlock()

	keyReloadsTotal.WithLabelValues(logging.ResultSuccess).Inc()
	if changed {
		p.logger.Info().
			Str(logging.FieldSenderFingerprint, key.Fingerprint()).
			Msg("sender key changed")
	}
	return nil
}

// Watch reloads the key on file changes until ctx is done or Close is called.
func (p *FileProvider) Watch(ctx context.Context) {
	go logging.RecoverGoRoutine(p.logger, logging.ComponentKeyFileProvider, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-p.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != p.filePath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					_ = p.Reload()
				}
			case err, ok := <-p.watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn().Err(err).Msg("file watcher error")
			}
		}
	})(ctx)
}

// Close stops watching the file.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	senderKeyLoaded.Set(0)

	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *FileProvider) load() (SigningKey, error) {
	data, err := os.ReadFile(p.filePath)
	if err != nil {
		return SigningKey{}, fmt.Errorf("failed to read sender key file: %w", err)
	}

	var f SenderKeyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		// yaml errors can quote file content, so the cause is not wrapped.
		return SigningKey{}, fmt.Errorf("sender key file %s: not valid YAML", p.filePath)
	}
	if err := f.Validate(); err != nil {
		return SigningKey{}, fmt.Errorf("sender key file %s: %w", p.filePath, err)
	}

	key, err := Decode(f.SenderKey)
	if err != nil {
		return SigningKey{}, fmt.Errorf("sender key file %s: %w", p.filePath, err)
	}
	return key, nil
}
