package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	done     chan struct{}
	once     sync.Once
}

// NewLoader creates a new configuration loader for the given path.
// An empty path yields the default configuration with env overrides.
func NewLoader(path string) *Loader {
	return &Loader{
		path: path,
		done: make(chan struct{}),
	}
}

// Load reads, overlays, and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		if err := decodeFile(l.path, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the most recently loaded configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after a successful reload.
// Must be called before Watch.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts watching the config file and reloads it on write.
// A reload that fails to parse or validate is logged by the caller via
// the returned error channel; the previous config stays active.
func (l *Loader) Watch() (<-chan error, error) {
	if l.path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", l.path, err)
	}
	l.watcher = watcher

	errs := make(chan error, 1)
	go l.watchLoop(errs)
	return errs, nil
}

func (l *Loader) watchLoop(errs chan<- error) {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Name != l.path || !event.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := l.reload()
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				continue
			}
			l.mu.RLock()
			callbacks := l.onChange
			l.mu.RUnlock()
			for _, fn := range callbacks {
				fn(cfg)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			select {
			case errs <- err:
			default:
			}
		}
	}
}

func (l *Loader) reload() (*Config, error) {
	cfg := Default()
	if err := decodeFile(l.path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Close stops the file watcher.
func (l *Loader) Close() error {
	l.once.Do(func() { close(l.done) })
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// decodeFile parses the file at path into cfg based on its extension.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	return nil
}
