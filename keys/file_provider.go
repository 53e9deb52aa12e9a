package keys

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	"github.com/dsbaars/bunker46/logging"
)

var _ Provider = (*FileProvider)(nil)

// FileProvider loads custodied keys from YAML files in a directory and
// hot-reloads on changes via fsnotify. Each file holds one key:
//
//	public_key: "64-char lowercase hex"
//	encrypted_nsec: "base64 AES-GCM envelope"
//	label: "my main key"
//	account: "alice"
//
// The file name (without extension) is the key id.
type FileProvider struct {
	logger  logging.Logger
	cipher  *Cipher
	keysDir string
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	keys   map[string]*CustodiedKey
	closed bool

	changeCh chan struct{}
	doneCh   chan struct{}
}

// NewFileProvider creates a file-based key provider rooted at keysDir.
// The directory is created if it does not exist.
func NewFileProvider(logger logging.Logger, cipher *Cipher, keysDir string) (*FileProvider, error) {
	info, err := os.Stat(keysDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat keys directory: %w", err)
		}
		if mkdirErr := os.MkdirAll(keysDir, 0o700); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create keys directory: %w", mkdirErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("keys path is not a directory: %s", keysDir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(keysDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch keys directory: %w", err)
	}

	p := &FileProvider{
		logger:   logging.ForComponent(logger, logging.ComponentKeyProvider),
		cipher:   cipher,
		keysDir:  keysDir,
		watcher:  watcher,
		keys:     make(map[string]*CustodiedKey),
		changeCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}

	if err := p.reload(); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go p.watch()

	return p, nil
}

// Get returns the key with the given id.
func (p *FileProvider) Get(_ context.Context, id string) (*CustodiedKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	return key, nil
}

// List returns all custodied keys sorted by id.
func (p *FileProvider) List(_ context.Context) ([]*CustodiedKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*CustodiedKey, 0, len(p.keys))
	for _, key := range p.keys {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Decrypt returns the raw private key hex for a custodied key. The result
// is validated against the stored public key so a corrupted key file can
// never sign with the wrong identity.
func (p *FileProvider) Decrypt(key *CustodiedKey) ([]byte, error) {
	nsecHex, err := p.cipher.Decrypt(key.EncryptedNsec)
	if err != nil {
		return nil, fmt.Errorf("decrypting key %s: %w", key.ID, err)
	}

	if _, err := hex.DecodeString(nsecHex); err != nil || len(nsecHex) != 64 {
		return nil, fmt.Errorf("key %s: decrypted material is not a 64-char hex scalar", key.ID)
	}

	derived, err := DerivePublicKey(nsecHex)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", key.ID, err)
	}
	if derived != key.PublicKey {
		return nil, fmt.Errorf("key %s: decrypted key does not match stored public key", key.ID)
	}

	return []byte(nsecHex), nil
}

// Changes returns the change-notification channel. A single pending signal
// coalesces any number of file events.
func (p *FileProvider) Changes() <-chan struct{} {
	return p.changeCh
}

// Close stops watching and releases resources.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.watcher.Close()
	<-p.doneCh
	return err
}

// reload re-reads every key file in the directory. Invalid files are
// logged and skipped so one bad file does not hide the rest of the keys.
func (p *FileProvider) reload() error {
	entries, err := os.ReadDir(p.keysDir)
	if err != nil {
		return fmt.Errorf("failed to read keys directory: %w", err)
	}

	loaded := make(map[string]*CustodiedKey)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		key, err := p.loadKeyFile(filepath.Join(p.keysDir, entry.Name()))
		if err != nil {
			p.logger.Warn().Err(err).Str("file", entry.Name()).Msg("skipping invalid key file")
			continue
		}
		loaded[key.ID] = key
	}

	p.mu.Lock()
	p.keys = loaded
	p.mu.Unlock()

	keysLoaded.Set(float64(len(loaded)))
	p.logger.Info().Int(logging.FieldCount, len(loaded)).Msg("loaded custodied keys")
	return nil
}

func (p *FileProvider) loadKeyFile(path string) (*CustodiedKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var key CustodiedKey
	if err := yaml.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	key.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &key, nil
}

// watch consumes fsnotify events until the watcher is closed.
func (p *FileProvider) watch() {
	defer close(p.doneCh)

	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			keyReloadsTotal.Inc()
			if err := p.reload(); err != nil {
				p.logger.Error().Err(err).Msg("failed to reload keys after file change")
				continue
			}
			// Coalesce: a pending signal already covers this change.
			select {
			case p.changeCh <- struct{}{}:
			default:
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Msg("key directory watcher error")
		}
	}
}

// WriteKeyFile persists a custodied key as a YAML file in dir. Used by the
// `keys` CLI commands; the daemon picks the file up via hot reload.
func WriteKeyFile(dir string, key *CustodiedKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	path := filepath.Join(dir, key.ID+".yaml")

	data, err := yaml.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("marshaling key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing key file: %w", err)
	}
	return path, nil
}
