package assets

import (
	"errors"
	"fmt"
	"html/template"
	"path/filepath"
	"sync"
	"time"

	"github.com/wolfeidau/chunkplan/internal/config"
	"github.com/wolfeidau/chunkplan/internal/emit"
	"github.com/wolfeidau/chunkplan/internal/graph"
	"github.com/wolfeidau/chunkplan/internal/planner"
	"github.com/wolfeidau/chunkplan/internal/resolver"
	"github.com/wolfeidau/chunkplan/internal/transform"
)

var (
	ErrNotBuilt        = errors.New("assets not built yet, call Build() first")
	ErrNoTemplate      = errors.New("template not loaded, use NewWithTemplate or NewWithTemplateDir")
	ErrUnknownTemplate = errors.New("unknown template")
	ErrUnknownPage     = errors.New("unknown page")
)

// Result is the outcome of one build.
type Result struct {
	// ID identifies the build in logs and traces.
	ID       string
	Graph    *graph.Graph
	Plan     *planner.Plan
	Bundle   *emit.Bundle
	Manifest *emit.Manifest
	// Pages holds the rendered HTML keyed by page filename.
	Pages map[string][]byte
	// Files holds every output file: chunks, pages and the manifest.
	Files     []emit.File
	OutputDir string
	Duration  time.Duration
}

// Pipeline manages the asset build process and script loading
type Pipeline struct {
	cfg      *config.Config
	opts     Options
	resolver *resolver.Resolver
	registry *transform.Registry
	// pageTemplates holds the custom templates of configured pages.
	pageTemplates map[string]*template.Template
	tmpl          *template.Template

	build  sync.Mutex
	mu     sync.RWMutex
	result *Result
}

// New creates a new asset pipeline for the project configuration
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	opts = opts.withDefaults()

	rules, err := cfg.ResolverRules()
	if err != nil {
		return nil, err
	}
	if err := opts.Registry.Validate(rules); err != nil {
		return nil, err
	}
	r, err := resolver.New(rules)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:           cfg,
		opts:          opts,
		resolver:      r,
		registry:      opts.Registry,
		pageTemplates: make(map[string]*template.Template),
	}

	for _, page := range cfg.Pages {
		if page.Template == "" {
			continue
		}
		path := page.Template
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Context, path)
		}
		tmpl, err := template.New(filepath.Base(path)).Funcs(emit.TemplateFuncs(opts.Funcs)).ParseFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load template of page %s: %w", page.Filename, err)
		}
		p.pageTemplates[page.Filename] = tmpl
	}

	return p, nil
}

// NewWithTemplate creates a new asset pipeline and loads a single template
func NewWithTemplate(cfg *config.Config, opts Options, templatePath string) (*Pipeline, error) {
	p, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(filepath.Base(templatePath)).Funcs(emit.TemplateFuncs(opts.Funcs)).ParseFiles(templatePath)
	if err != nil {
		return nil, err
	}
	p.tmpl = tmpl
	return p, nil
}

// NewWithTemplateDir creates a new asset pipeline and loads all templates from a directory
func NewWithTemplateDir(cfg *config.Config, opts Options, templateDir string) (*Pipeline, error) {
	p, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(templateDir).Funcs(emit.TemplateFuncs(opts.Funcs)).ParseGlob(filepath.Join(templateDir, "*.html"))
	if err != nil {
		return nil, err
	}
	p.tmpl = tmpl
	return p, nil
}

// Config returns the project configuration the pipeline builds.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Resolver returns the rule resolver of the project.
func (p *Pipeline) Resolver() *resolver.Resolver {
	return p.resolver
}

// Result returns the last successful build.
func (p *Pipeline) Result() (*Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.result == nil {
		return nil, ErrNotBuilt
	}
	return p.result, nil
}

// OutputDir returns the directory builds are written to.
func (p *Pipeline) OutputDir() string {
	if p.opts.OutputDir != "" {
		return p.opts.OutputDir
	}
	return p.cfg.OutputDir()
}
