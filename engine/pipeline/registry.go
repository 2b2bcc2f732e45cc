// Package pipeline implements the registry and orchestrator of spec.md
// §4.6 (C6): named, capability-tagged processing pipelines that the
// orchestrator can score, select and run with retry/timeout policies.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// Pipeline is the contract create_session's factory must produce; registry
// validates this at Create time (spec.md §4.6: "validates the returned
// pipeline exposes process").
type Pipeline interface {
	Process(ctx context.Context, input any) (any, error)
}

// Factory builds a live Pipeline instance from a declarative config.
type Factory func(config map[string]any) (Pipeline, error)

type registration struct {
	name     string
	factory  Factory
	metadata models.PipelineMetadata
	stats    models.PipelineStats

	mu        sync.Mutex
	instances map[string]Pipeline
}

// Registry is the name/category/capability index of spec.md §4.6. A single
// RWMutex protects it, matching the corpus's read-heavy registry shape
// (reads vastly outnumber writes per spec.md §5).
type Registry struct {
	mu  sync.RWMutex
	byName map[string]*registration
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*registration)}
}

// Register validates metadata shape and indexes name, factory_or_pipeline
// under name/category/capability/tag. Re-registering an existing name is a
// ValidationError — callers must Unregister first.
func (r *Registry) Register(name string, factory Factory, metadata models.PipelineMetadata) error {
	if name == "" {
		return models.NewValidationError("pipeline.Registry.Register", "name is required")
	}
	if factory == nil {
		return models.NewValidationError("pipeline.Registry.Register", "factory is required")
	}
	if metadata.Category == "" {
		metadata.Category = "general"
	}
	if metadata.Priority == 0 {
		metadata.Priority = 1.0
	}
	metadata.RegisteredAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return models.NewValidationError("pipeline.Registry.Register", fmt.Sprintf("pipeline %q already registered", name))
	}
	r.byName[name] = &registration{
		name:      name,
		factory:   factory,
		metadata:  metadata,
		instances: make(map[string]Pipeline),
	}
	return nil
}

// Unregister removes every index entry for name and reports whether it was
// registered. It is idempotent: a second call returns false without error
// (spec.md §8's idempotent-unregister property). Live instances are
// discarded; cleanup is fire-and-forget, matching spec.md's "ask all live
// instances to clean up" note — Pipeline has no Close method, so there is
// nothing further to await here.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return false
	}
	delete(r.byName, name)
	return true
}

func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Create invokes name's factory and stores the resulting instance under a
// caller-chosen instanceID (ExecutePipeline addresses instances by this id).
func (r *Registry) Create(name, instanceID string, config map[string]any) error {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return models.NewNotFoundError("pipeline.Registry.Create", fmt.Sprintf("pipeline %q not registered", name))
	}
	p, err := reg.factory(config)
	if err != nil {
		return models.NewPermanentError("pipeline.Registry.Create", "factory failed", err)
	}
	if p == nil {
		return models.NewValidationError("pipeline.Registry.Create", "factory returned a nil pipeline")
	}
	reg.mu.Lock()
	reg.instances[instanceID] = p
	reg.mu.Unlock()
	return nil
}

func (r *Registry) instance(name, instanceID string) (Pipeline, error) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewNotFoundError("pipeline.Registry", fmt.Sprintf("pipeline %q not registered", name))
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	p, ok := reg.instances[instanceID]
	if !ok {
		return nil, models.NewNotFoundError("pipeline.Registry", fmt.Sprintf("no instance %q of pipeline %q", instanceID, name))
	}
	return p, nil
}

// List returns every registered pipeline's metadata.
func (r *Registry) List() []models.PipelineMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PipelineMetadata, 0, len(r.byName))
	for _, reg := range r.byName {
		out = append(out, reg.metadata)
	}
	return out
}

// GetInfo returns name's metadata merged with registration defaults
// (spec.md §8's registry round-trip property).
func (r *Registry) GetInfo(name string) (models.PipelineMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return models.PipelineMetadata{}, models.NewNotFoundError("pipeline.Registry.GetInfo", fmt.Sprintf("pipeline %q not registered", name))
	}
	return reg.metadata, nil
}

func (r *Registry) FindByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, reg := range r.byName {
		for _, c := range reg.metadata.Capabilities {
			if c == capability {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) FindByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, reg := range r.byName {
		if reg.metadata.Category == category {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) FindByTags(tags []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, reg := range r.byName {
		if hasAllTags(reg.metadata.Tags, tags) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// searchResult pairs a pipeline name with its relevance score for Search.
type searchResult struct {
	name  string
	score float64
}

// Search ranks registered pipelines against text: relevance = exact-match
// bonus + word-hit count + fuzzy prefix, per spec.md §4.6.
func (r *Registry) Search(text string) []string {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}
	words := strings.Fields(needle)

	r.mu.RLock()
	defer r.mu.RUnlock()
	results := make([]searchResult, 0, len(r.byName))
	for name, reg := range r.byName {
		haystack := strings.ToLower(name + " " + reg.metadata.Description + " " + strings.Join(reg.metadata.Tags, " "))
		score := 0.0
		if strings.ToLower(name) == needle {
			score += 10
		}
		for _, w := range words {
			if strings.Contains(haystack, w) {
				score++
			}
		}
		if strings.HasPrefix(strings.ToLower(name), needle) {
			score += 0.5
		}
		if score > 0 {
			results = append(results, searchResult{name: name, score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].name < results[j].name
	})
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.name
	}
	return out
}

// observe folds one Process outcome into name's running stats.
func (r *Registry) observe(name string, d time.Duration, success bool) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	reg.mu.Lock()
	reg.stats.Observe(d, success)
	reg.mu.Unlock()
}

func (r *Registry) stats(name string) (models.PipelineStats, bool) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return models.PipelineStats{}, false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.stats, true
}
