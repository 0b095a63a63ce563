package security

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gasrelay/gasrelay/log"
)

// reloadDebounce absorbs partial writes: editors and config management
// tools often produce several events per save.
const reloadDebounce = 100 * time.Millisecond

// Store owns the security config file. It loads the file at startup
// (creating a default one when missing), publishes an immutable
// Snapshot through an atomic pointer, and hot-reloads on file changes.
// Readers never block the reloader and vice versa.
type Store struct {
	path     string
	snapshot atomic.Pointer[Snapshot]
	watcher  *fsnotify.Watcher
	done     chan struct{}
	logger   *log.Logger
}

// NewStore loads the config at path and begins watching it. A missing
// file is replaced with a well-formed default containing one example
// key.
func NewStore(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default().Module("security")
	}
	s := &Store{
		path:   path,
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("security: create default config: %w", err)
		}
		logger.Warn("security config missing, wrote default file", "path", path)
	}

	snap, err := loadSnapshot(path, logger)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snap)
	logger.Info("security config loaded", "path", path, "keys", snap.KeyCount())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("security: start watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files by
	// rename, which would silently drop a file-level watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("security: watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher
	go s.watchLoop()

	return s, nil
}

// Snapshot returns the current immutable configuration view. The
// returned snapshot stays valid for the caller's lifetime even if a
// reload happens concurrently.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Close stops the file watcher. The last published snapshot remains
// readable.
func (s *Store) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watchLoop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			s.reload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("security watcher error", "err", err)
		}
	}
}

// reload rebuilds the snapshot from disk. A malformed file keeps the
// previous snapshot in place.
func (s *Store) reload() {
	snap, err := loadSnapshot(s.path, s.logger)
	if err != nil {
		s.logger.Error("security config reload failed, keeping previous snapshot", "err", err)
		return
	}
	s.snapshot.Store(snap)
	s.logger.Info("security config reloaded", "keys", snap.KeyCount())
}

// loadSnapshot parses the file and builds the enabled-key index.
func loadSnapshot(path string, logger *log.Logger) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("security: read %s: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("security: parse %s: %w", path, err)
	}

	keys := make(map[string]*ApiKeyRecord, len(ff.APIKeys))
	for _, fk := range ff.APIKeys {
		if fk.Key == "" {
			return nil, fmt.Errorf("security: record %q has an empty key", fk.Name)
		}
		if !fk.Enabled {
			continue
		}
		wallet, err := parseWallet(fk.WalletConfig)
		if err != nil {
			// A broken wallet disables funding for this tenant but
			// does not take the key offline.
			logger.Error("ignoring invalid wallet config", "key", fk.Name, "err", err)
			wallet = nil
		}
		keys[fk.Key] = &ApiKeyRecord{
			Key:         fk.Key,
			Name:        fk.Name,
			Enabled:     true,
			AllowedIPs:  append([]string(nil), fk.AllowedIPs...),
			Description: fk.Description,
			Wallet:      wallet,
		}
	}

	return &Snapshot{
		keys:              keys,
		globalIPWhitelist: append([]string(nil), ff.GlobalIPWhitelist...),
		settings: Settings{
			RequireAPIKey:              ff.Settings.RequireAPIKey,
			EnforceIPWhitelist:         ff.Settings.EnforceIPWhitelist,
			LogFailedAttempts:          ff.Settings.LogFailedAttempts,
			RateLimitEnabled:           ff.Settings.RateLimitEnabled,
			RateLimitRequestsPerMinute: ff.Settings.RateLimitRequestsPerMinute,
		},
		loadedAt: time.Now(),
	}, nil
}

// writeDefaultConfig creates path (and its directory) with one example
// key so a fresh deployment starts in a locked-down but usable state.
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	ff := fileFormat{
		APIKeys: []fileKey{{
			Key:         generateKey(),
			Name:        "example",
			AllowedIPs:  []string{"127.0.0.1"},
			Enabled:     true,
			Description: "generated on first start; replace before production use",
		}},
		GlobalIPWhitelist: []string{"127.0.0.1", "::1"},
		Settings: fileSettings{
			RequireAPIKey:              true,
			EnforceIPWhitelist:         true,
			LogFailedAttempts:          true,
			RateLimitEnabled:           false,
			RateLimitRequestsPerMinute: 60,
		},
	}

	data, err := json.MarshalIndent(&ff, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// generateKey produces a random API key for the default config.
func generateKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	return "grk_" + hex.EncodeToString(buf)
}
