// Package catalog loads named problem presets from YAML.
package catalog

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/annealer/internal/optimization"
)

//go:embed presets/*.yaml
var embedded embed.FS

// SourceEmbedded marks presets compiled into the binary.
const SourceEmbedded = "embedded"

// ErrNotFound is returned when no preset has the requested name.
var ErrNotFound = errors.New("preset not found")

// Preset is a named problem with the run configuration it is meant to be
// solved with.
type Preset struct {
	Name         string                       `json:"name" yaml:"name"`
	Description  string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Problem      optimization.Problem         `json:"problem" yaml:"problem"`
	Config       optimization.AnnealingConfig `json:"config" yaml:"config"`
	InitialState optimization.State           `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`

	// Source is SourceEmbedded or the file the preset was read from.
	Source string `json:"source" yaml:"-"`
}

// Info is the listing entry of a preset.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
}

// Parse decodes a preset from YAML and validates it. Unknown fields are
// rejected. Config fields that are absent keep their default values.
func Parse(data []byte) (*Preset, error) {
	p := &Preset{Config: optimization.DefaultAnnealingConfig()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("failed to parse preset yaml: %w", err)
	}

	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("invalid preset: %w",
			&optimization.InvalidConfigurationError{Field: "name", Reason: "is required"})
	}
	if p.Problem.Name == "" {
		p.Problem.Name = p.Name
	}
	p.Config = p.Config.WithDefaults()

	if err := p.Problem.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preset %q: %w", p.Name, err)
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preset %q: %w", p.Name, err)
	}

	return p, nil
}

// LoadFile reads and parses a single preset file.
func LoadFile(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path
	return p, nil
}

// Catalog holds the embedded presets overlaid with those of an optional
// directory. Directory presets replace embedded presets of the same name.
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]*Preset

	dir    string
	logger *zap.Logger
}

// New loads the embedded presets and, if dir is not empty, the presets in
// dir. A missing directory is an error; an invalid file in it is logged and
// skipped.
func New(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{dir: dir, logger: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the catalog from the embedded presets and the directory.
func (c *Catalog) Reload() error {
	presets, err := loadEmbedded()
	if err != nil {
		return err
	}

	if c.dir != "" {
		info, err := os.Stat(c.dir)
		if err != nil {
			return fmt.Errorf("catalog directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("catalog directory: %s is not a directory", c.dir)
		}

		entries, err := os.ReadDir(c.dir)
		if err != nil {
			return fmt.Errorf("catalog directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isPresetFile(entry.Name()) {
				continue
			}
			path := filepath.Join(c.dir, entry.Name())
			p, err := LoadFile(path)
			if err != nil {
				c.logger.Warn("skipping invalid preset", zap.String("path", path), zap.Error(err))
				continue
			}
			if prev, ok := presets[p.Name]; ok {
				c.logger.Debug("preset overridden",
					zap.String("name", p.Name),
					zap.String("previous", prev.Source),
					zap.String("source", p.Source))
			}
			presets[p.Name] = p
		}
	}

	c.mu.Lock()
	c.presets = presets
	c.mu.Unlock()

	c.logger.Info("catalog loaded", zap.Int("presets", len(presets)), zap.String("dir", c.dir))
	return nil
}

// Get returns a copy of the named preset.
func (c *Catalog) Get(name string) (*Preset, error) {
	c.mu.RLock()
	p, ok := c.presets[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.clone(), nil
}

// List returns the presets sorted by name.
func (c *Catalog) List() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Info, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, Info{Name: p.Name, Description: p.Description, Source: p.Source})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch reloads the catalog whenever a file in the directory changes. It
// blocks until ctx is done. Without a directory it returns immediately.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.logger.Debug("watching catalog directory", zap.String("dir", c.dir))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPresetFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.logger.Info("catalog changed, reloading",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			if err := c.Reload(); err != nil {
				c.logger.Warn("catalog reload failed", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", zap.Error(err))

		case <-ctx.Done():
			return nil
		}
	}
}

func loadEmbedded() (map[string]*Preset, error) {
	presets := make(map[string]*Preset)
	err := fs.WalkDir(embedded, "presets", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPresetFile(path) {
			return nil
		}
		data, err := embedded.ReadFile(path)
		if err != nil {
			return err
		}
		p, err := Parse(data)
		if err != nil {
			return fmt.Errorf("embedded %s: %w", path, err)
		}
		p.Source = SourceEmbedded
		presets[p.Name] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded presets: %w", err)
	}
	return presets, nil
}

func isPresetFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (p *Preset) clone() *Preset {
	out := *p
	out.Problem.Variables = append([]optimization.Variable(nil), p.Problem.Variables...)
	out.Problem.Objectives = append([]optimization.Objective(nil), p.Problem.Objectives...)
	out.Problem.Constraints = append([]optimization.Constraint(nil), p.Problem.Constraints...)
	out.InitialState = p.InitialState.Clone()
	return &out
}
