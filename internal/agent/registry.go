package agent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"juris/internal/logging"
	"juris/internal/types"

	"gopkg.in/yaml.v3"
)

// overlayFile is the YAML shape of a persona overlay.
//
//	personas:
//	  - key: risk
//	    temperature: 0.1
//	  - key: labor
//	    name: Labor law
//	    system_prompt: ...
type overlayFile struct {
	Personas []overlayPersona `yaml:"personas"`
}

// overlayPersona uses pointers so absent fields leave built-ins untouched.
type overlayPersona struct {
	Key          string   `yaml:"key"`
	Name         *string  `yaml:"name"`
	Description  *string  `yaml:"description"`
	SystemPrompt *string  `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    *int     `yaml:"max_tokens"`
	UseKnowledge *bool    `yaml:"use_knowledge"`
}

// Registry holds the active personas. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]Persona
	path     string
}

// NewRegistry returns a registry holding only the built-in personas.
func NewRegistry() *Registry {
	r := &Registry{}
	r.personas = baseSet()
	return r
}

func baseSet() map[string]Persona {
	m := make(map[string]Persona)
	for _, p := range builtinPersonas() {
		p.Builtin = true
		m[p.Key] = p
	}
	return m
}

// Load applies the overlay at path on top of the built-ins, replacing any
// previously loaded overlay. A missing file leaves only the built-ins.
func (r *Registry) Load(path string) error {
	timer := logging.StartTimer(logging.CategoryAgent, "Registry.Load")
	defer timer.Stop()

	set := baseSet()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logging.AgentDebug("Persona overlay %s not found; using built-ins", path)
	case err != nil:
		return fmt.Errorf("read persona overlay: %w", err)
	default:
		if err := applyOverlay(set, data); err != nil {
			return fmt.Errorf("persona overlay %s: %w", path, err)
		}
	}

	r.mu.Lock()
	r.personas = set
	r.path = path
	r.mu.Unlock()

	logging.Agent("Loaded %d personas (overlay=%s)", len(set), path)
	return nil
}

func applyOverlay(set map[string]Persona, data []byte) error {
	var file overlayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	for i, o := range file.Personas {
		key := strings.TrimSpace(o.Key)
		if key == "" {
			return fmt.Errorf("persona #%d has no key: %w", i+1, types.ErrInvalid)
		}
		p, exists := set[key]
		if !exists {
			if o.SystemPrompt == nil || strings.TrimSpace(*o.SystemPrompt) == "" {
				return fmt.Errorf("new persona %q needs a system_prompt: %w", key, types.ErrInvalid)
			}
			p = Persona{Key: key, Name: key, Temperature: 0.3}
		}
		if o.Name != nil {
			p.Name = *o.Name
		}
		if o.Description != nil {
			p.Description = *o.Description
		}
		if o.SystemPrompt != nil {
			p.SystemPrompt = *o.SystemPrompt
		}
		if o.Temperature != nil {
			if *o.Temperature < 0 || *o.Temperature > 2 {
				return fmt.Errorf("persona %q temperature %.2f out of range: %w", key, *o.Temperature, types.ErrInvalid)
			}
			p.Temperature = *o.Temperature
		}
		if o.MaxTokens != nil {
			p.MaxTokens = *o.MaxTokens
		}
		if o.UseKnowledge != nil {
			p.UseKnowledge = *o.UseKnowledge
		}
		set[key] = p
	}
	return nil
}

// Get returns the persona for key. An empty key selects consultation.
func (r *Registry) Get(key string) (Persona, error) {
	if key == "" {
		key = PersonaConsultation
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[key]
	if !ok {
		return Persona{}, fmt.Errorf("persona %q: %w", key, types.ErrNotFound)
	}
	return p, nil
}

// List returns the built-ins in their fixed order followed by overlay
// personas sorted by key.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.personas))
	seen := make(map[string]bool)
	for _, b := range builtinPersonas() {
		if p, ok := r.personas[b.Key]; ok {
			out = append(out, p)
			seen[b.Key] = true
		}
	}
	var extra []string
	for k := range r.personas {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, r.personas[k])
	}
	return out
}

// Path returns the overlay path of the last Load.
func (r *Registry) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}
