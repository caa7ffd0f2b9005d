package source

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mangashelf/internal/apperr"
	"mangashelf/internal/cache"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/utils"
)

// Registry maps source ids to adapters. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds src. Ids must be non-empty, unique and free of "_",
// which separates the source id inside compound ids.
func (r *Registry) Register(src Source) error {
	id := src.Info().ID
	if id == "" {
		return fmt.Errorf("register source: empty id: %w", apperr.ErrInvalidInput)
	}
	if strings.Contains(id, "_") {
		return fmt.Errorf("register source %q: id must not contain '_': %w", id, apperr.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sources[id]; dup {
		return fmt.Errorf("register source %q: duplicate id: %w", id, apperr.ErrInvalidInput)
	}
	r.sources[id] = src
	return nil
}

func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// Lookup is Get with an ErrUnknownSource error for missing ids.
func (r *Registry) Lookup(id string) (Source, error) {
	if src, ok := r.Get(id); ok {
		return src, nil
	}
	return nil, fmt.Errorf("source %q: %w", id, apperr.ErrUnknownSource)
}

// All returns every registered source sorted by id.
func (r *Registry) All() []Source {
	r.mu.RLock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Info().ID < out[j].Info().ID })
	return out
}

// Available filters out restricted sources unless includeRestricted is set.
func (r *Registry) Available(includeRestricted bool) []Source {
	all := r.All()
	out := all[:0]
	for _, s := range all {
		if includeRestricted || !s.Info().Restricted {
			out = append(out, s)
		}
	}
	return out
}

// BuildRegistry constructs one adapter per enabled source definition.
// Listing pages are cached for cacheTTL when c is non-nil.
func BuildRegistry(defs []utils.SourceConfig, f Fetcher, c cache.Cache, cacheTTL time.Duration, clk clock.Clock, log *zap.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, def := range defs {
		if !def.IsEnabled() {
			continue
		}
		src, err := newAdapter(def, f, clk)
		if err != nil {
			return nil, err
		}
		if c != nil {
			src = Cached(src, c, cacheTTL, log)
		}
		if err := reg.Register(src); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newAdapter(def utils.SourceConfig, f Fetcher, clk clock.Clock) (Source, error) {
	info := SourceInfo{
		ID:         def.ID,
		Name:       def.Name,
		Kind:       def.Kind,
		BaseURL:    strings.TrimRight(def.BaseURL, "/"),
		Lang:       def.Lang,
		Restricted: def.Restricted,
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	if info.BaseURL == "" {
		return nil, fmt.Errorf("source %q: base_url is required: %w", def.ID, apperr.ErrInvalidInput)
	}
	switch def.Kind {
	case "nato":
		return NewNato(info, f, clk), nil
	case "madara":
		return NewMadara(info, f, clk), nil
	case "mangadex":
		return NewMangaDex(info, f), nil
	}
	return nil, fmt.Errorf("source %q: unknown kind %q: %w", def.ID, def.Kind, apperr.ErrInvalidInput)
}
