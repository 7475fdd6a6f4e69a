package board

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Registry is the arena of board descriptors keyed by board type. It is
// filled once and only read afterwards, so it is safe to share between
// sessions.
type Registry struct {
	byType map[string]*Descriptor
}

// NewRegistry builds a registry from already parsed descriptors.
func NewRegistry(descs ...*Descriptor) *Registry {
	r := &Registry{byType: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		r.byType[d.Type] = d
	}
	return r
}

// LoadRegistry parses every *.yml and *.yaml board file in dir.
func LoadRegistry(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read board files: %w", err)
	}
	r := &Registry{byType: map[string]*Descriptor{}}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		d, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := r.byType[d.Type]; dup {
			return nil, fmt.Errorf("board type %s defined twice in %s", d.Type, dir)
		}
		r.byType[d.Type] = d
	}
	return r, nil
}

// Get returns the descriptor for boardType.
func (r *Registry) Get(boardType string) (*Descriptor, bool) {
	d, ok := r.byType[boardType]
	return d, ok
}

// Types lists the known board types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Board is one physical board in the lab inventory.
type Board struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	SerialPort string `yaml:"serial_port,omitempty"`
	BaudRate   int    `yaml:"baud_rate,omitempty"`
}

// Inventory lists the named boards of the lab.
type Inventory []Board

// OfType returns the boards of boardType in inventory order.
func (inv Inventory) OfType(boardType string) []Board {
	var out []Board
	for _, b := range inv {
		if b.Type == boardType {
			out = append(out, b)
		}
	}
	return out
}

// Lookup finds a board by name.
func (inv Inventory) Lookup(name string) (Board, bool) {
	for _, b := range inv {
		if b.Name == name {
			return b, true
		}
	}
	return Board{}, false
}

// Validate checks that names are unique and every type is in reg.
func (inv Inventory) Validate(reg *Registry) error {
	seen := map[string]bool{}
	var problems []string
	for _, b := range inv {
		if b.Name == "" {
			problems = append(problems, "board with empty name")
			continue
		}
		if seen[b.Name] {
			problems = append(problems, "duplicate board "+b.Name)
		}
		seen[b.Name] = true
		if _, ok := reg.Get(b.Type); !ok {
			problems = append(problems, fmt.Sprintf("board %s has unknown type %q", b.Name, b.Type))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid inventory: %s", strings.Join(problems, "; "))
	}
	return nil
}
