package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// paramSchema is the on-disk JSON shape of one parameter declaration,
// mirroring ParamSpec field-for-field so schema files stay plain JSON
// rather than needing custom marshaling.
type paramSchema struct {
	Name      string                  `json:"name"`
	Type      ParamType               `json:"type"`
	Required  bool                    `json:"required"`
	Default   any                     `json:"default,omitempty"`
	MinLength *int                    `json:"min_length,omitempty"`
	MaxLength *int                    `json:"max_length,omitempty"`
	MinValue  *float64                `json:"min_value,omitempty"`
	MaxValue  *float64                `json:"max_value,omitempty"`
	Pattern   string                  `json:"pattern,omitempty"`
	Enum      []string                `json:"enum,omitempty"`
	Elem      *paramSchema            `json:"elem,omitempty"`
	Fields    map[string]*paramSchema `json:"fields,omitempty"`
	Variants  []*paramSchema          `json:"variants,omitempty"`
}

func (p *paramSchema) toSpec() *ParamSpec {
	if p == nil {
		return nil
	}
	spec := &ParamSpec{
		Name:      p.Name,
		Type:      p.Type,
		Required:  p.Required,
		Default:   p.Default,
		MinLength: p.MinLength,
		MaxLength: p.MaxLength,
		MinValue:  p.MinValue,
		MaxValue:  p.MaxValue,
		Pattern:   p.Pattern,
		Enum:      p.Enum,
		Elem:      p.Elem.toSpec(),
	}
	if p.Fields != nil {
		spec.Fields = make(map[string]*ParamSpec, len(p.Fields))
		for name, f := range p.Fields {
			spec.Fields[name] = f.toSpec()
		}
	}
	for _, v := range p.Variants {
		spec.Variants = append(spec.Variants, v.toSpec())
	}
	return spec
}

// toolSchema is the on-disk JSON declaration for one operation, one
// file per tool. The category
// is taken from the containing directory, not repeated in the file.
type toolSchema struct {
	Name       string         `json:"name"`
	Parameters []*paramSchema `json:"parameters"`
	Returns    *paramSchema   `json:"returns"`
	Mutating   bool           `json:"mutating"`
	Cost       string         `json:"cost"`
	TimeoutMs  int            `json:"timeout_ms"`
	OptInGateway bool         `json:"opt_in_gateway"`
}

// LoadDir walks root, organized one subdirectory per category and one
// *.json file per operation, and registers every schema found onto reg.
// It does not bind handlers; callers attach those with
// reg.Get(name).Handler = ... after loading.
func LoadDir(reg *Registry, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading tool registry dir %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		category := entry.Name()
		categoryDir := filepath.Join(root, category)
		files, err := os.ReadDir(categoryDir)
		if err != nil {
			return fmt.Errorf("reading category dir %s: %w", categoryDir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			if err := loadSchemaFile(reg, category, filepath.Join(categoryDir, f.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadSchemaFile(reg *Registry, category, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading tool schema %s: %w", path, err)
	}
	var schema toolSchema
	if err := json.Unmarshal(body, &schema); err != nil {
		return fmt.Errorf("parsing tool schema %s: %w", path, err)
	}

	existing := reg.Get(schema.Name)

	spec := &ToolSpec{
		Name:         schema.Name,
		Category:     category,
		Returns:      schema.Returns.toSpec(),
		Mutating:     schema.Mutating,
		Cost:         schema.Cost,
		TimeoutMs:    schema.TimeoutMs,
		OptInGateway: schema.OptInGateway,
	}
	for _, p := range schema.Parameters {
		spec.Parameters = append(spec.Parameters, p.toSpec())
	}
	if existing != nil {
		// Reloading an already-registered tool (e.g. a hot reload):
		// keep its bound handler and resource-key func, only the
		// declared schema changes.
		spec.Handler = existing.Handler
		spec.ResourceKey = existing.ResourceKey
	}

	reg.Register(spec)
	return nil
}

// Watch watches root for filesystem changes and reloads the registry
// on write/create/rename events, debounced so a burst of edits to
// several schema files collapses into one reload. It blocks until ctx
// is cancelled or the watcher errors.
func Watch(ctx context.Context, reg *Registry, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating tool registry watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addRecursive(watcher, root); err != nil {
		return err
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	reload := func() {
		if err := LoadDir(reg, root); err != nil {
			// A bad edit mid-save is expected; the next debounced
			// reload picks up the corrected file.
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("tool registry watcher: %w", err)
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
