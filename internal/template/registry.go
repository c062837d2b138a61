package template

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"
)

// Key identifies a message on the wire.
type Key struct {
	Frequency Frequency
	ID        uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Frequency, k.ID)
}

// Registry is a lookup over a parsed template by wire key and by name.
type Registry struct {
	tmpl   *MessageTemplate
	byKey  map[Key]*MessageDefinition
	byName map[string]*MessageDefinition
}

// NewRegistry indexes a parsed template.
func NewRegistry(t *MessageTemplate) *Registry {
	r := &Registry{
		tmpl:   t,
		byKey:  make(map[Key]*MessageDefinition, len(t.Messages)),
		byName: make(map[string]*MessageDefinition, len(t.Messages)),
	}
	for _, m := range t.Messages {
		r.byKey[Key{Frequency: m.Frequency, ID: m.ID}] = m
		r.byName[m.Name] = m
	}
	return r
}

// Lookup returns the definition for a wire key.
func (r *Registry) Lookup(freq Frequency, id uint32) (*MessageDefinition, bool) {
	m, ok := r.byKey[Key{Frequency: freq, ID: id}]
	return m, ok
}

// ByName returns the definition with the given message name.
func (r *Registry) ByName(name string) (*MessageDefinition, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Template returns the indexed template.
func (r *Registry) Template() *MessageTemplate {
	return r.tmpl
}

// Len returns the number of indexed messages.
func (r *Registry) Len() int {
	return len(r.byKey)
}

// Names returns all message names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

//go:embed message_template.msg
var defaultSource string

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// DefaultSource returns the bundled template text.
func DefaultSource() string {
	return defaultSource
}

// Default returns the registry built from the bundled template. The bundled
// file is parsed once per process.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		t, err := Parse(defaultSource)
		if err != nil {
			defaultErr = fmt.Errorf("failed to parse bundled message template: %w", err)
			return
		}
		defaultRegistry = NewRegistry(t)
	})
	return defaultRegistry, defaultErr
}
