// Package config loads the chunkplan project file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/wolfeidau/chunkplan/internal/emit"
	"github.com/wolfeidau/chunkplan/internal/graph"
	"github.com/wolfeidau/chunkplan/internal/planner"
	"github.com/wolfeidau/chunkplan/internal/resolver"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the project file looked up when no path is given.
const DefaultFile = "chunkplan.yaml"

var (
	// ErrInvalidConfig indicates the project file failed validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

type Config struct {
	Mode string `yaml:"mode" json:"mode"`
	// Context is the project root. Relative paths are resolved against the directory
	// of the project file.
	Context      string       `yaml:"context" json:"context"`
	Entry        Entries      `yaml:"entry" json:"entry"`
	Output       Output       `yaml:"output" json:"output"`
	Resolve      Resolve      `yaml:"resolve" json:"resolve"`
	Rules        []Rule       `yaml:"rules" json:"rules"`
	Optimization Optimization `yaml:"optimization" json:"optimization"`
	Pages        []Page       `yaml:"pages" json:"pages"`
}

type Output struct {
	Dir         string   `yaml:"dir" json:"dir"`
	Filename    string   `yaml:"filename" json:"filename"`
	CSSFilename string   `yaml:"cssFilename" json:"cssFilename"`
	HashLength  int      `yaml:"hashLength" json:"hashLength"`
	PublicPath  string   `yaml:"publicPath" json:"publicPath"`
	Compress    []string `yaml:"compress" json:"compress"`
}

type Resolve struct {
	Alias map[string]string `yaml:"alias" json:"alias"`
}

type Rule struct {
	Name    string          `yaml:"name" json:"name"`
	Test    string          `yaml:"test" json:"test"`
	Exclude string          `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	Steps   []resolver.Step `yaml:"steps" json:"steps"`
}

type Optimization struct {
	ModuleIDs      string      `yaml:"moduleIds" json:"moduleIds"`
	ModuleIDLength int         `yaml:"moduleIdLength" json:"moduleIdLength"`
	RuntimeChunk   string      `yaml:"runtimeChunk" json:"runtimeChunk"`
	StrictCycles   bool        `yaml:"strictCycles" json:"strictCycles"`
	SplitChunks    SplitChunks `yaml:"splitChunks" json:"splitChunks"`
}

type SplitChunks struct {
	CacheGroups []CacheGroup `yaml:"cacheGroups" json:"cacheGroups"`
}

type CacheGroup struct {
	Name      string `yaml:"name" json:"name"`
	Priority  int    `yaml:"priority" json:"priority"`
	MinSize   int    `yaml:"minSize" json:"minSize"`
	MinChunks int    `yaml:"minChunks" json:"minChunks"`
	Test      string `yaml:"test,omitempty" json:"test,omitempty"`
	Chunks    string `yaml:"chunks" json:"chunks"`
}

type Page struct {
	Filename string   `yaml:"filename" json:"filename"`
	Title    string   `yaml:"title" json:"title"`
	Chunks   []string `yaml:"chunks" json:"chunks"`
	// Template is an optional html/template file relative to the context.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// Entries keeps the declaration order of the entry mapping.
type Entries []planner.Entry

func (e *Entries) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: entry must be a mapping of name to path", value.Line)
	}
	out := make(Entries, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var name, path string
		if err := value.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&path); err != nil {
			return err
		}
		out = append(out, planner.Entry{Name: name, Path: path})
	}
	*e = out
	return nil
}

func (e Entries) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, entry := range e {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: entry.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: entry.Path},
		)
	}
	return node, nil
}

// Load reads the project file at path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.Context) {
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		cfg.Context = filepath.Join(dir, cfg.Context)
	}

	return cfg, nil
}

// Parse decodes a project file, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML config: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeProduction
	}
	if c.Context == "" {
		c.Context = "."
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "dist"
	}
	if c.Output.Filename == "" {
		c.Output.Filename = emit.DefaultFilename
	}
	if c.Output.CSSFilename == "" {
		c.Output.CSSFilename = emit.DefaultCSSFilename
	}
	if c.Output.HashLength == 0 {
		c.Output.HashLength = emit.DefaultHashLength
	}
	if c.Output.PublicPath == "" {
		c.Output.PublicPath = "/"
	}
	if c.Optimization.ModuleIDs == "" {
		c.Optimization.ModuleIDs = string(graph.IDsDeterministic)
	}
	if c.Optimization.ModuleIDLength == 0 {
		c.Optimization.ModuleIDLength = graph.DefaultIDLength
	}
	if c.Optimization.RuntimeChunk == "" {
		c.Optimization.RuntimeChunk = string(planner.RuntimeSingle)
	}
	for i := range c.Optimization.SplitChunks.CacheGroups {
		grp := &c.Optimization.SplitChunks.CacheGroups[i]
		if grp.Chunks == "" {
			grp.Chunks = string(planner.ChunksAll)
		}
		if grp.MinChunks == 0 {
			grp.MinChunks = planner.DefaultMinChunks
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Validate checks the configuration for problems that would fail a build later.
func (c *Config) Validate() error {
	if c.Mode != ModeProduction && c.Mode != ModeDevelopment {
		return invalid("mode must be %s or %s, got %q", ModeProduction, ModeDevelopment, c.Mode)
	}
	if len(c.Entry) == 0 {
		return invalid("at least one entry is required")
	}

	names := make(map[string]bool)
	for _, e := range c.Entry {
		if e.Name == "" || e.Path == "" {
			return invalid("entry %q must have a name and a path", e.Name)
		}
		if names[e.Name] {
			return invalid("duplicate entry %q", e.Name)
		}
		names[e.Name] = true
	}

	if err := emit.ValidateFilename(c.Output.Filename); err != nil {
		return invalid("output.filename: %v", err)
	}
	if err := emit.ValidateFilename(c.Output.CSSFilename); err != nil {
		return invalid("output.cssFilename: %v", err)
	}
	if c.Output.HashLength < 4 || c.Output.HashLength > 16 {
		return invalid("output.hashLength must be between 4 and 16, got %d", c.Output.HashLength)
	}
	for _, enc := range c.Output.Compress {
		if _, err := emit.Encoding(enc).Ext(); err != nil {
			return invalid("output.compress: %v", err)
		}
	}

	if _, err := c.ResolverRules(); err != nil {
		return err
	}
	if _, err := c.PlannerOptions(); err != nil {
		return err
	}

	switch graph.IDMode(c.Optimization.ModuleIDs) {
	case graph.IDsDeterministic, graph.IDsNamed:
	default:
		return invalid("optimization.moduleIds must be deterministic or named, got %q", c.Optimization.ModuleIDs)
	}
	if c.Optimization.ModuleIDLength < 1 {
		return invalid("optimization.moduleIdLength must be positive")
	}

	pages := make(map[string]bool)
	for _, p := range c.Pages {
		if p.Filename == "" {
			return invalid("page filename is required")
		}
		if pages[p.Filename] {
			return invalid("duplicate page %q", p.Filename)
		}
		pages[p.Filename] = true
		if len(p.Chunks) == 0 {
			return invalid("page %q must load at least one entry", p.Filename)
		}
		for _, chunk := range p.Chunks {
			if !names[chunk] {
				return invalid("page %q loads unknown entry %q", p.Filename, chunk)
			}
		}
	}

	return nil
}

// ResolverRules compiles the rule patterns in declaration order.
func (c *Config) ResolverRules() ([]resolver.Rule, error) {
	rules := make([]resolver.Rule, 0, len(c.Rules))
	for i, r := range c.Rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rules[%d]", i)
		}
		if r.Test == "" {
			return nil, invalid("rule %q: test is required", name)
		}
		test, err := regexp.Compile(r.Test)
		if err != nil {
			return nil, invalid("rule %q: test: %v", name, err)
		}
		rule := resolver.Rule{Name: name, Test: test, Steps: r.Steps}
		if r.Exclude != "" {
			if rule.Exclude, err = regexp.Compile(r.Exclude); err != nil {
				return nil, invalid("rule %q: exclude: %v", name, err)
			}
		}
		if len(r.Steps) == 0 {
			return nil, invalid("rule %q has no steps", name)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Entries returns the entries in declaration order.
func (c *Config) Entries() []planner.Entry {
	return slices.Clone(c.Entry)
}

// PlannerOptions converts the optimization section.
func (c *Config) PlannerOptions() (planner.Options, error) {
	opts := planner.Options{
		Runtime:      planner.RuntimeMode(c.Optimization.RuntimeChunk),
		StrictCycles: c.Optimization.StrictCycles,
	}
	switch opts.Runtime {
	case planner.RuntimeSingle, planner.RuntimeMultiple, planner.RuntimeNone:
	default:
		return opts, invalid("optimization.runtimeChunk must be single, multiple or none, got %q", c.Optimization.RuntimeChunk)
	}

	for _, g := range c.Optimization.SplitChunks.CacheGroups {
		if g.Name == "" {
			return opts, invalid("cache group name is required")
		}
		grp := planner.CacheGroup{
			Name:      g.Name,
			Priority:  g.Priority,
			MinSize:   g.MinSize,
			MinChunks: g.MinChunks,
			Chunks:    planner.Applicability(g.Chunks),
		}
		switch grp.Chunks {
		case planner.ChunksAll, planner.ChunksInitial, planner.ChunksAsync:
		default:
			return opts, invalid("cache group %q: chunks must be all, initial or async, got %q", g.Name, g.Chunks)
		}
		if g.Test != "" {
			re, err := regexp.Compile(g.Test)
			if err != nil {
				return opts, invalid("cache group %q: test: %v", g.Name, err)
			}
			grp.Test = re.MatchString
		}
		opts.CacheGroups = append(opts.CacheGroups, grp)
	}
	return opts, nil
}

// EmitOptions converts the output section.
func (c *Config) EmitOptions() emit.Options {
	return emit.Options{
		Filename:    c.Output.Filename,
		CSSFilename: c.Output.CSSFilename,
		HashLength:  c.Output.HashLength,
		PublicPath:  c.Output.PublicPath,
	}
}

// Encodings returns the precompression encodings of the output section.
func (c *Config) Encodings() []emit.Encoding {
	out := make([]emit.Encoding, len(c.Output.Compress))
	for i, enc := range c.Output.Compress {
		out[i] = emit.Encoding(enc)
	}
	return out
}

// EmitPages converts the pages section.
func (c *Config) EmitPages() []emit.Page {
	out := make([]emit.Page, len(c.Pages))
	for i, p := range c.Pages {
		out[i] = emit.Page{Filename: p.Filename, Title: p.Title, Chunks: slices.Clone(p.Chunks)}
	}
	return out
}

// OutputDir returns the output directory resolved against the context.
func (c *Config) OutputDir() string {
	if filepath.IsAbs(c.Output.Dir) {
		return c.Output.Dir
	}
	return filepath.Join(c.Context, c.Output.Dir)
}
