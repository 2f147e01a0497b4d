// Package catalog lists the models a session can fan out to.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
	"github.com/capitalize-ai/chat-orchestrator/internal/suggest"
)

// Model is one selectable model.
type Model struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Provider    string `yaml:"provider" json:"provider"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Hidden      bool   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// Catalog is the ordered model list plus the prompt suggestions offered on
// an empty chat.
type Catalog struct {
	Models      []Model              `yaml:"models"`
	Suggestions []suggest.Suggestion `yaml:"suggestions"`
}

// LoadFile reads a YAML catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog model %d has no id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("catalog model %q listed twice", m.ID)
		}
		seen[m.ID] = true
	}
	return &c, nil
}

// FromClient builds a catalog from the models a client advertises.
func FromClient(client llm.Client) *Catalog {
	c := &Catalog{}
	for _, id := range client.Models() {
		c.Models = append(c.Models, Model{ID: id, Name: id, Provider: client.Name()})
	}
	return c
}

// Visible returns the models that are not hidden, in catalog order.
func (c *Catalog) Visible() []Model {
	out := make([]Model, 0, len(c.Models))
	for _, m := range c.Models {
		if !m.Hidden {
			out = append(out, m)
		}
	}
	return out
}

// Find returns the model with id.
func (c *Catalog) Find(id string) (Model, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// DisplayName returns the model name, falling back to its id.
func (c *Catalog) DisplayName(id string) string {
	if m, ok := c.Find(id); ok && m.Name != "" {
		return m.Name
	}
	return id
}

// DefaultSelection picks the models a new chat starts with. Preferred ids
// that are not available are dropped; when none survive, the first visible
// model is used. An empty catalog yields a single empty id, which Submit
// rejects as no model selected.
func (c *Catalog) DefaultSelection(preferred []string) []string {
	var out []string
	for _, id := range preferred {
		if m, ok := c.Find(id); ok && !m.Hidden {
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		return out
	}

	if visible := c.Visible(); len(visible) > 0 {
		return []string{visible[0].ID}
	}
	return []string{""}
}

// Routes pins every catalog model that names a provider onto router. Models
// whose provider is not registered are hidden, since nothing could serve
// them, and their ids are returned.
func (c *Catalog) Routes(router *llm.Router) []string {
	registered := make(map[string]bool)
	for _, p := range router.Providers() {
		registered[p] = true
	}

	var unavailable []string
	for i := range c.Models {
		m := &c.Models[i]
		if m.Provider == "" {
			continue
		}
		if !registered[m.Provider] || router.Route(m.ID, m.Provider) != nil {
			m.Hidden = true
			unavailable = append(unavailable, m.ID)
		}
	}
	return unavailable
}
