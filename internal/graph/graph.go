// Package graph models the module reference graph of a build.
//
// Modules are identified by slash separated paths relative to the project root.
// References are either static (bundled eagerly with the referrer) or dynamic
// (the target is loaded on demand). Static cycles are allowed; see StronglyConnected.
package graph

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

// ErrModuleNotFound indicates a reference to a module that was never added.
var ErrModuleNotFound = errors.New("module not found")

// Kind classifies a reference between two modules.
type Kind int

const (
	// Static references are resolved and bundled eagerly.
	Static Kind = iota
	// Dynamic references split their target into an on-demand chunk.
	Dynamic
)

func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Reference is an edge from one module to another.
type Reference struct {
	// Path of the target module.
	Path string
	// Specifier as written in the referrer's source, e.g. "./util" or "react".
	Specifier string
	Kind      Kind
}

// Module is a node of the graph.
type Module struct {
	Path string
	// Size is the source size in bytes, used for cache group size thresholds.
	Size int
	// ID is the module identifier used in emitted chunks, see AssignIDs.
	ID         string
	References []Reference
}

// Graph is a directed module graph. It is not safe for concurrent mutation.
type Graph struct {
	modules map[string]*Module
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{modules: make(map[string]*Module)}
}

// Normalize cleans a module path into the form used as a graph key.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

// AddModule adds a module. Adding an existing path updates its size only.
func (g *Graph) AddModule(p string, size int) *Module {
	p = Normalize(p)
	if m, ok := g.modules[p]; ok {
		m.Size = size
		return m
	}
	m := &Module{Path: p, Size: size, ID: p}
	g.modules[p] = m
	return m
}

// AddReference records an edge from the module at from. Both ends must exist.
// Duplicate edges of the same kind are ignored.
func (g *Graph) AddReference(from string, ref Reference) error {
	from = Normalize(from)
	ref.Path = Normalize(ref.Path)

	src, ok := g.modules[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, from)
	}
	if _, ok := g.modules[ref.Path]; !ok {
		return fmt.Errorf("%w: %s (referenced from %s)", ErrModuleNotFound, ref.Path, from)
	}

	for _, existing := range src.References {
		if existing.Path == ref.Path && existing.Kind == ref.Kind && existing.Specifier == ref.Specifier {
			return nil
		}
	}

	src.References = append(src.References, ref)
	return nil
}

// Module returns the module at p.
func (g *Graph) Module(p string) (*Module, bool) {
	m, ok := g.modules[Normalize(p)]
	return m, ok
}

// Len returns the number of modules.
func (g *Graph) Len() int {
	return len(g.modules)
}

// Paths returns all module paths sorted.
func (g *Graph) Paths() []string {
	paths := make([]string, 0, len(g.modules))
	for p := range g.modules {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Modules returns all modules sorted by path.
func (g *Graph) Modules() []*Module {
	out := make([]*Module, 0, len(g.modules))
	for _, p := range g.Paths() {
		out = append(out, g.modules[p])
	}
	return out
}

// StaticReferences returns the paths statically referenced by p, in reference order.
func (g *Graph) StaticReferences(p string) []string {
	return g.references(p, Static)
}

// DynamicReferences returns the paths dynamically referenced by p, in reference order.
func (g *Graph) DynamicReferences(p string) []string {
	return g.references(p, Dynamic)
}

func (g *Graph) references(p string, kind Kind) []string {
	m, ok := g.modules[Normalize(p)]
	if !ok {
		return nil
	}

	var out []string
	for _, ref := range m.References {
		if ref.Kind == kind && !slices.Contains(out, ref.Path) {
			out = append(out, ref.Path)
		}
	}
	return out
}
