// Package emit renders planned chunks into content hashed JavaScript and CSS files,
// HTML pages and a manifest.
package emit

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/chunkplan/internal/graph"
	"github.com/wolfeidau/chunkplan/internal/planner"
	"github.com/wolfeidau/chunkplan/internal/transform"
)

// Options controls naming of emitted files.
type Options struct {
	Filename    string
	CSSFilename string
	HashLength  int
	PublicPath  string
}

func (o Options) withDefaults() Options {
	if o.Filename == "" {
		o.Filename = DefaultFilename
	}
	if o.CSSFilename == "" {
		o.CSSFilename = DefaultCSSFilename
	}
	if o.HashLength <= 0 {
		o.HashLength = DefaultHashLength
	}
	if o.PublicPath == "" {
		o.PublicPath = "/"
	}
	return o
}

// Module is a compiled module ready to be wrapped into a chunk.
type Module struct {
	ID   string
	Code []byte
	CSS  []byte
	// Deps maps the specifiers used in Code to module ids.
	Deps map[string]string
}

// Modules pairs the compiled assets with the ids and references of the graph.
func Modules(g *graph.Graph, assets map[string]*transform.Asset) (map[string]*Module, error) {
	out := make(map[string]*Module, len(assets))
	for p, asset := range assets {
		m, ok := g.Module(p)
		if !ok {
			return nil, fmt.Errorf("%w: %s", graph.ErrModuleNotFound, p)
		}
		deps := make(map[string]string, len(m.References))
		for _, ref := range m.References {
			target, ok := g.Module(ref.Path)
			if !ok {
				return nil, fmt.Errorf("%w: %s referenced from %s", graph.ErrModuleNotFound, ref.Path, p)
			}
			deps[cmp.Or(ref.Specifier, ref.Path)] = target.ID
		}
		out[p] = &Module{ID: m.ID, Code: asset.Code, CSS: asset.CSS, Deps: deps}
	}
	return out, nil
}

// Artifact is the rendered output of one chunk.
type Artifact struct {
	Chunk *planner.Chunk
	// Hash is the content hash of the JavaScript file.
	Hash string
	// JS is the JavaScript file name relative to the output directory.
	JS string
	// CSS is the stylesheet file name, empty when the chunk carries no CSS.
	CSS     string
	CSSHash string

	js, css []byte
}

// Bundle holds every rendered chunk of a build.
type Bundle struct {
	Plan      *planner.Plan
	Artifacts []*Artifact

	opts   Options
	byName map[string]*Artifact
}

// Render wraps the modules of every planned chunk and names the results by content.
// On-demand chunks and their dependencies are named before the runtime so the
// runtime can embed their file names. Entry chunk names never feed into the runtime.
func Render(plan *planner.Plan, modules map[string]*Module, opts Options) (*Bundle, error) {
	opts = opts.withDefaults()
	b := &Bundle{
		Plan:   plan,
		opts:   opts,
		byName: make(map[string]*Artifact, len(plan.Chunks)),
	}

	targets := make(map[string]string, len(plan.AsyncTargets))
	for target, name := range plan.AsyncTargets {
		m, ok := modules[target]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingModule, target)
		}
		targets[m.ID] = name
	}

	for _, c := range plan.Chunks {
		if c.Kind == planner.KindRuntime {
			continue
		}
		a, err := renderChunk(c, modules)
		if err != nil {
			return nil, err
		}
		b.byName[c.Name] = a
	}

	// Dependencies of on-demand chunks may be missing from the page that imports them.
	asyncs := make(map[string]asyncChunk)
	var register func(c *planner.Chunk)
	register = func(c *planner.Chunk) {
		if _, ok := asyncs[c.Name]; ok {
			return
		}
		a := b.byName[c.Name]
		b.name(a)

		var deps []string
		for _, dep := range c.Dependencies {
			d, ok := plan.Chunk(dep)
			if !ok || d.Kind == planner.KindRuntime {
				continue
			}
			deps = append(deps, dep)
		}

		var css any
		if a.CSS != "" {
			css = a.CSS
		}
		asyncs[c.Name] = asyncChunk{a.JS, css, append([]string{}, deps...)}

		for _, dep := range deps {
			d, _ := plan.Chunk(dep)
			register(d)
		}
	}
	for _, c := range plan.Chunks {
		if c.Kind == planner.KindAsync {
			register(c)
		}
	}

	runtime, err := renderRuntime(opts.PublicPath, asyncs, targets)
	if err != nil {
		return nil, err
	}

	for _, c := range plan.Chunks {
		a := b.byName[c.Name]
		switch c.Kind {
		case planner.KindRuntime:
			a = &Artifact{Chunk: c, js: runtime}
			b.byName[c.Name] = a
		case planner.KindEntry:
			if !hasRuntime(plan, c) {
				a.js = append(slices.Clip(runtime), a.js...)
			}
		}
		if a.JS == "" {
			b.name(a)
		}
		b.Artifacts = append(b.Artifacts, a)

		log.Debug().Str("chunk", c.Name).Str("file", a.JS).Int("modules", len(c.Modules)).Msg("Rendered chunk")
	}

	return b, nil
}

// name hashes the rendered content of a and sets its file names.
func (b *Bundle) name(a *Artifact) {
	a.Hash = ContentHash(a.js, b.opts.HashLength)
	a.JS = Filename(b.opts.Filename, a.Chunk.Name, a.Hash)
	b.nameCSS(a)
}

func (b *Bundle) nameCSS(a *Artifact) {
	if len(a.css) == 0 {
		return
	}
	a.CSSHash = ContentHash(a.css, b.opts.HashLength)
	a.CSS = Filename(b.opts.CSSFilename, a.Chunk.Name, a.CSSHash)
}

func hasRuntime(plan *planner.Plan, c *planner.Chunk) bool {
	for _, dep := range c.Dependencies {
		if d, ok := plan.Chunk(dep); ok && d.Kind == planner.KindRuntime {
			return true
		}
	}
	return false
}

var dynamicImport = regexp.MustCompile(`\bimport\(\s*("(?:[^"\\]|\\.)*")\s*\)`)

// rewriteDynamicImports routes import("x") through the chunk loader when x is a known
// dependency of the module.
func rewriteDynamicImports(code []byte, deps map[string]string) []byte {
	return dynamicImport.ReplaceAllFunc(code, func(match []byte) []byte {
		sub := dynamicImport.FindSubmatch(match)
		specifier, err := strconv.Unquote(string(sub[1]))
		if err != nil {
			return match
		}
		if _, ok := deps[specifier]; !ok {
			return match
		}
		out := make([]byte, 0, len(sub[1])+len("require.e()"))
		out = append(out, "require.e("...)
		out = append(out, sub[1]...)
		return append(out, ')')
	})
}

func renderChunk(c *planner.Chunk, modules map[string]*Module) (*Artifact, error) {
	members := make([]*Module, 0, len(c.Modules))
	for _, p := range c.Modules {
		m, ok := modules[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s in chunk %s", ErrMissingModule, p, c.Name)
		}
		members = append(members, m)
	}
	slices.SortFunc(members, func(a, b *Module) int {
		return cmp.Compare(a.ID, b.ID)
	})

	var js, css bytes.Buffer
	name, err := json.Marshal([]string{c.Name})
	if err != nil {
		return nil, err
	}

	js.WriteString("(self.__chunkplan__ = self.__chunkplan__ || []).push([")
	js.Write(name)
	js.WriteString(", {\n")
	for i, m := range members {
		id, err := json.Marshal(m.ID)
		if err != nil {
			return nil, err
		}
		deps, err := json.Marshal(m.Deps)
		if err != nil {
			return nil, err
		}
		js.Write(id)
		js.WriteString(": [function (module, exports, require) {\n")
		js.Write(rewriteDynamicImports(m.Code, m.Deps))
		if len(m.Code) > 0 && m.Code[len(m.Code)-1] != '\n' {
			js.WriteByte('\n')
		}
		js.WriteString("}, ")
		js.Write(deps)
		js.WriteString("]")
		if i < len(members)-1 {
			js.WriteByte(',')
		}
		js.WriteByte('\n')

		if len(m.CSS) > 0 {
			css.Write(m.CSS)
			if m.CSS[len(m.CSS)-1] != '\n' {
				css.WriteByte('\n')
			}
		}
	}
	js.WriteString("}")

	if c.Kind == planner.KindEntry {
		root, ok := modules[c.Root]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingModule, c.Root)
		}
		id, err := json.Marshal(root.ID)
		if err != nil {
			return nil, err
		}
		js.WriteString(", ")
		js.Write(id)
	}
	js.WriteString("]);\n")

	return &Artifact{Chunk: c, js: js.Bytes(), css: css.Bytes()}, nil
}

// Artifact returns the rendered chunk with the given name.
func (b *Bundle) Artifact(name string) (*Artifact, bool) {
	a, ok := b.byName[name]
	return a, ok
}

// Scripts returns the script URLs a page loading the given entries includes, in load order.
func (b *Bundle) Scripts(entries ...string) ([]string, error) {
	return b.urls(entries, func(a *Artifact) string { return a.JS })
}

// Styles returns the stylesheet URLs a page loading the given entries includes.
func (b *Bundle) Styles(entries ...string) ([]string, error) {
	return b.urls(entries, func(a *Artifact) string { return a.CSS })
}

func (b *Bundle) urls(entries []string, file func(*Artifact) string) ([]string, error) {
	order, err := b.Plan.LoadOrder(entries...)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, name := range order {
		a, ok := b.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChunk, name)
		}
		if f := file(a); f != "" {
			urls = append(urls, b.opts.PublicPath+f)
		}
	}
	return urls, nil
}

// File is an output file relative to the output directory.
type File struct {
	Name string
	Data []byte
}

// Files returns every JavaScript and CSS file of the bundle sorted by name.
func (b *Bundle) Files() []File {
	files := make(map[string][]byte)
	for _, a := range b.Artifacts {
		files[a.JS] = a.js
		if a.CSS != "" {
			files[a.CSS] = a.css
		}
	}
	out := make([]File, 0, len(files))
	for _, name := range slices.Sorted(maps.Keys(files)) {
		out = append(out, File{Name: name, Data: files[name]})
	}
	return out
}
