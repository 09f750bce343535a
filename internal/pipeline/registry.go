package pipeline

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds the pipelines a review may name. The built-in structured
// review is always present.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	builtin := StructuredReview()
	r.defs[builtin.Name] = builtin
	return r
}

// Register adds or replaces a definition after validating it.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Get looks a pipeline up by name. An empty name selects the structured review.
func (r *Registry) Get(name string) (Definition, bool) {
	if name == "" {
		name = StructuredReviewName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.defs))
}

// LoadDirectory registers every .yaml/.yml pipeline in dir and returns how many
// were loaded. A missing directory is not an error; bad files are logged and skipped.
func (r *Registry) LoadDirectory(dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("pipelines directory does not exist, skipping", "dir", dir)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read pipelines dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		def, err := LoadFile(path)
		if err != nil {
			logger.Warn("cannot load pipeline", "path", path, "err", err)
			continue
		}
		if err := r.Register(def); err != nil {
			logger.Warn("invalid pipeline", "path", path, "err", err)
			continue
		}
		logger.Info("loaded pipeline", "name", def.Name, "stages", len(def.Stages), "path", path)
		loaded++
	}
	return loaded, nil
}

// LoadFile parses one YAML pipeline. A missing name defaults to the file's base name.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read pipeline: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse pipeline %s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}
