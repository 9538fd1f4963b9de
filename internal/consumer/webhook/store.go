package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultFile is the webhook document next to the settings file.
const DefaultFile = "config_webhook.json"

// ErrNotFound is returned when no webhook matches an id or name.
var ErrNotFound = errors.New("webhook not found")

// Store persists the webhook list as a JSON array.
type Store struct {
	path   string
	logger *logrus.Logger

	mu    sync.RWMutex
	hooks []Config
}

// NewStore creates an empty store backed by path. Call Load to read it.
func NewStore(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	if path == "" {
		path = DefaultFile
	}
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string { return s.path }

// Load reads the file. A missing file is an empty list.
// Entries without an id get one; invalid entries are kept and reported.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.hooks = nil
		s.mu.Unlock()
		s.logger.WithField("path", s.path).Info("No webhook file, starting with an empty list")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read webhooks: %w", err)
	}

	hooks, err := decode(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	for i := range hooks {
		hooks[i].Normalize()
		if hooks[i].ID == "" {
			hooks[i].ID = uuid.NewString()
		}
		if err := hooks[i].Validate(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"webhook": hooks[i].Name,
				"error":   err,
			}).Warn("Webhook entry is invalid and will fail on send")
		}
	}

	s.mu.Lock()
	s.hooks = hooks
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"path":  s.path,
		"count": len(hooks),
	}).Info("Loaded webhooks")
	return nil
}

// Save writes the list atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	hooks := s.hooks
	if hooks == nil {
		hooks = []Config{}
	}
	data, err := json.MarshalIndent(hooks, "", "    ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode webhooks: %w", err)
	}
	return writeFile(s.path, data)
}

// Import replaces the file with a raw JSON document after checking it parses, then reloads.
func (s *Store) Import(data []byte) (int, error) {
	hooks, err := decode(data)
	if err != nil {
		return 0, fmt.Errorf("rejected webhook document: %w", err)
	}
	if err := writeFile(s.path, data); err != nil {
		return 0, err
	}
	if err := s.Load(); err != nil {
		return 0, err
	}
	return len(hooks), nil
}

// List returns a copy of the webhooks in file order.
func (s *Store) List() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Config, len(s.hooks))
	copy(out, s.hooks)
	return out
}

// Get finds a webhook by id, falling back to name.
func (s *Store) Get(ref string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(ref); i >= 0 {
		return s.hooks[i], true
	}
	return Config{}, false
}

// Put validates cfg, then adds it or replaces the entry with the same id, and saves.
func (s *Store) Put(cfg Config) (Config, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	s.mu.Lock()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	replaced := false
	for i := range s.hooks {
		if s.hooks[i].ID == cfg.ID {
			s.hooks[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		s.hooks = append(s.hooks, cfg)
	}
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return Config{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"webhook":  cfg.Name,
		"id":       cfg.ID,
		"replaced": replaced,
	}).Info("Saved webhook")
	return cfg, nil
}

// Delete removes the webhook and saves.
func (s *Store) Delete(ref string) error {
	s.mu.Lock()
	i := s.index(ref)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	removed := s.hooks[i]
	s.hooks = append(s.hooks[:i:i], s.hooks[i+1:]...)
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return err
	}
	s.logger.WithField("webhook", removed.Name).Info("Deleted webhook")
	return nil
}

func (s *Store) index(ref string) int {
	for i, h := range s.hooks {
		if h.ID == ref {
			return i
		}
	}
	for i, h := range s.hooks {
		if h.Name == ref {
			return i
		}
	}
	return -1
}

func decode(data []byte) ([]Config, error) {
	var hooks []Config
	if err := json.Unmarshal(data, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".webhooks-*.json")
	if err != nil {
		return fmt.Errorf("failed to write webhooks: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write webhooks: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write webhooks: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write webhooks: %w", err)
	}
	return nil
}
