// Package config loads the service's YAML configuration and watches it
// for changes, grounded on the ambient daemon's config loader and
// fsnotify-based watcher.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds the service's static configuration.
type Config struct {
	ServiceDir        string        `yaml:"service_dir"`
	LogLevel          string        `yaml:"log_level"`
	MetricsAddress    string        `yaml:"metrics_address"`
	DebugWSAddress    string        `yaml:"debug_ws_address"`
	Automotive        bool          `yaml:"automotive"`
	RegistrationRing  int           `yaml:"registration_ring_size"`
	ConnectionQueue   int           `yaml:"connection_queue_capacity"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	MicToggleCapHz    float64       `yaml:"mic_toggle_cap_hz"`
	IsUserBuild       bool          `yaml:"is_user_build"`
	InitialAllowlist  []string      `yaml:"initial_allowlist"`

	// IdentityKeyPassphrase, if set, encrypts the persisted HMAC identity
	// key at rest (see internal/identity.Load). Left empty, the key file
	// is stored in the clear as before. Never logged.
	IdentityKeyPassphrase string `yaml:"identity_key_passphrase"`
}

const (
	defaultServiceDir       = "/var/lib/sensord"
	defaultRegistrationRing = 256
	defaultConnectionQueue  = 256
	defaultAckTimeout       = 5 * time.Second
	defaultMicToggleCapHz   = 5.0
)

// Load reads configPath if present, applies environment overrides, then
// fills in defaults for anything left unset. A missing file is not an
// error: the service runs on defaults alone, the same tolerance the
// ambient daemon's loader extends to its own config file.
func Load(configPath string, log zerolog.Logger) (*Config, error) {
	cfg := &Config{
		ServiceDir:       defaultServiceDir,
		LogLevel:         "info",
		RegistrationRing: defaultRegistrationRing,
		ConnectionQueue:  defaultConnectionQueue,
		AckTimeout:       defaultAckTimeout,
		MicToggleCapHz:   defaultMicToggleCapHz,
		IsUserBuild:      true,
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			log.Info().Str("config_file", configPath).Msg("loaded configuration from file")
		}
	}

	if env := strings.TrimSpace(os.Getenv("SENSORD_LOG_LEVEL")); env != "" {
		cfg.LogLevel = env
	}
	if env := strings.TrimSpace(os.Getenv("SENSORD_SERVICE_DIR")); env != "" {
		cfg.ServiceDir = env
	}
	if env := os.Getenv("SENSORD_IDENTITY_KEY_PASSPHRASE"); env != "" {
		cfg.IdentityKeyPassphrase = env
	}

	if cfg.RegistrationRing <= 0 {
		cfg.RegistrationRing = defaultRegistrationRing
	}
	if cfg.ConnectionQueue <= 0 {
		cfg.ConnectionQueue = defaultConnectionQueue
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.MicToggleCapHz <= 0 {
		cfg.MicToggleCapHz = defaultMicToggleCapHz
	}

	return cfg, nil
}

// MicToggleCapPeriodNs converts the configured cap frequency to a period
// in nanoseconds, the unit the policy layer works in.
func (c *Config) MicToggleCapPeriodNs() int64 {
	return int64(1e9 / c.MicToggleCapHz)
}

// Watcher reloads Config from disk whenever configPath changes, swapping
// it atomically under a mutex so readers never observe a partially
// applied update.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching configPath's containing directory (so that
// editors which replace-via-rename still trigger an event) and applies
// reloads as they arrive.
func NewWatcher(path string, initial *Config, log zerolog.Logger) (*Watcher, error) {
	w := &Watcher{
		path:    path,
		log:     log.With().Str("component", "config_watcher").Logger(),
		current: initial,
		done:    make(chan struct{}),
	}
	if path == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dirOf(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	w.watcher = fw
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Name != w.path {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.log)
	if err != nil {
		w.log.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.log.Info().Msg("configuration reloaded")
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
