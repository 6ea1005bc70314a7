// Package prompt assembles the system prompt for a turn from a named
// template and the conversation context.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// DefaultTemplateID is the template used when none is configured.
const DefaultTemplateID = "refaccionaria"

// Template is a static prompt definition. Templates are read-only once
// registered.
type Template struct {
	ID                  string            `yaml:"id"`
	BasePrompt          string            `yaml:"base_prompt"`
	ContextualModifiers []string          `yaml:"contextual_modifiers"`
	UserStyleModifiers  map[string]string `yaml:"user_style_modifiers"`
	ScenarioSpecific    map[string]string `yaml:"scenario_specific"`
}

// Registry holds templates by id.
type Registry struct {
	templates map[string]Template
}

type templatesFile struct {
	Templates []Template `yaml:"templates"`
}

// NewRegistry registers templates. Ids must be unique and non-empty.
func NewRegistry(templates ...Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]Template, len(templates))}
	var errs []error
	for _, t := range templates {
		if t.ID == "" {
			errs = append(errs, errors.New("template without id"))
			continue
		}
		if _, dup := r.templates[t.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate template %q", t.ID))
			continue
		}
		if t.BasePrompt == "" {
			errs = append(errs, fmt.Errorf("template %q has an empty base_prompt", t.ID))
			continue
		}
		r.templates[t.ID] = t
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Parse builds a registry from a YAML document with a top-level "templates" list.
func Parse(data []byte) (*Registry, error) {
	var f templatesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return NewRegistry(f.Templates...)
}

// LoadDefault loads the templates bundled with the binary.
func LoadDefault() (*Registry, error) {
	return Parse(defaultTemplates)
}

// Get returns the template registered under id.
func (r *Registry) Get(id string) (Template, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// IDs returns the registered template ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
