package assets

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/chunkplan/internal/emit"
	"github.com/wolfeidau/chunkplan/internal/graph"
	"github.com/wolfeidau/chunkplan/internal/planner"
	"github.com/wolfeidau/chunkplan/internal/resolver"
	"github.com/wolfeidau/chunkplan/internal/telemetry"
	"github.com/wolfeidau/chunkplan/internal/transform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/wolfeidau/chunkplan/internal/assets")

// Build scans, resolves, transforms, plans and emits the project, then writes the
// output files. Builds are serialized; readers keep seeing the previous result until
// the new one is complete.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	p.build.Lock()
	defer p.build.Unlock()

	id := uuid.NewString()
	started := time.Now()
	m := telemetry.GetMetrics()

	ctx, span := tracer.Start(ctx, "assets.Build", trace.WithAttributes(attribute.String("build.id", id)))
	defer span.End()

	logger := log.With().Str("build_id", id).Logger()
	ctx = logger.WithContext(ctx)

	logger.Info().Str("context", p.cfg.Context).Int("entries", len(p.cfg.Entry)).Msg("Building assets")

	res, err := p.run(ctx, id)
	m.BuildDuration.Record(ctx, msSince(started))
	if err != nil {
		m.BuildErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", time.Since(started)).Msg("Build failed")
		return nil, err
	}
	res.Duration = time.Since(started)
	m.BuildsTotal.Add(ctx, 1)

	p.mu.Lock()
	p.result = res
	p.mu.Unlock()

	logger.Info().
		Int("modules", res.Graph.Len()).
		Int("chunks", len(res.Plan.Chunks)).
		Int("files", len(res.Files)).
		Dur("duration", res.Duration).
		Msg("Build complete")

	return res, nil
}

// Plan scans the module graph and plans chunks without transforming or writing anything.
func (p *Pipeline) Plan(ctx context.Context) (*graph.Graph, *planner.Plan, error) {
	g, err := p.scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	plan, err := p.plan(ctx, g)
	if err != nil {
		return nil, nil, err
	}
	return g, plan, nil
}

func (p *Pipeline) run(ctx context.Context, id string) (*Result, error) {
	res := &Result{ID: id, OutputDir: p.OutputDir()}

	g, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}
	res.Graph = g

	var resolutions map[string]resolver.Resolution
	err = phase(ctx, "resolve", func(ctx context.Context) (err error) {
		resolutions, err = p.resolver.ResolveAll(ctx, g.Paths(), p.opts.Concurrency)
		return err
	})
	if err != nil {
		return nil, err
	}

	var compiled map[string]*transform.Asset
	err = phase(ctx, "transform", func(ctx context.Context) (err error) {
		compiled, err = p.transformAll(ctx, resolutions)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.Plan, err = p.plan(ctx, g); err != nil {
		return nil, err
	}

	err = phase(ctx, "emit", func(ctx context.Context) error {
		return p.emit(ctx, res, compiled)
	})
	if err != nil {
		return nil, err
	}

	if p.opts.DryRun {
		return res, nil
	}

	err = phase(ctx, "write", func(ctx context.Context) error {
		if err := emit.Write(res.OutputDir, res.Files, p.cfg.Encodings()); err != nil {
			return err
		}
		var written int64
		for _, f := range res.Files {
			written += int64(len(f.Data))
		}
		telemetry.GetMetrics().BytesWrittenTotal.Add(ctx, written)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (p *Pipeline) scan(ctx context.Context) (*graph.Graph, error) {
	entries := p.cfg.Entries()
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}

	var g *graph.Graph
	err := phase(ctx, "scan", func(ctx context.Context) (err error) {
		g, err = graph.Scan(ctx, graph.ScanOptions{
			Root:    p.cfg.Context,
			Entries: paths,
			Alias:   p.cfg.Resolve.Alias,
		})
		if err != nil {
			return err
		}
		return g.AssignIDs(graph.IDMode(p.cfg.Optimization.ModuleIDs), p.cfg.Optimization.ModuleIDLength)
	})
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().ModulesScanned.Add(ctx, int64(g.Len()))
	return g, nil
}

func (p *Pipeline) plan(ctx context.Context, g *graph.Graph) (*planner.Plan, error) {
	opts, err := p.cfg.PlannerOptions()
	if err != nil {
		return nil, err
	}

	var plan *planner.Plan
	err = phase(ctx, "plan", func(ctx context.Context) (err error) {
		plan, err = planner.Build(p.cfg.Entries(), g, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, diag := range plan.Diagnostics {
		zerolog.Ctx(ctx).Warn().Err(diag).Msg("Merged hard dependency cycle")
	}
	telemetry.GetMetrics().CycleDiagnosticsTotal.Add(ctx, int64(len(plan.Diagnostics)))

	return plan, nil
}

// transformAll runs every module through its pipeline, at most Concurrency at once.
// The first failure cancels the remaining transforms.
func (p *Pipeline) transformAll(ctx context.Context, resolutions map[string]resolver.Resolution) (map[string]*transform.Asset, error) {
	m := telemetry.GetMetrics()
	root := p.cfg.Context

	var mu sync.Mutex
	out := make(map[string]*transform.Asset, len(resolutions))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.Concurrency)

	for _, path := range slices.Sorted(maps.Keys(resolutions)) {
		res := resolutions[path]
		eg.Go(func() error {
			started := time.Now()
			attrs := metric.WithAttributes(attribute.String("rule", res.Rule))

			source, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path)))
			if err != nil {
				m.TransformErrorsTotal.Add(ctx, 1, attrs)
				return fmt.Errorf("failed to read module %s: %w", path, err)
			}

			asset, err := p.registry.Run(ctx, res, root, source)
			m.TransformDuration.Record(ctx, msSince(started), attrs)
			if err != nil {
				m.TransformErrorsTotal.Add(ctx, 1, attrs)
				return err
			}
			m.ModulesTransformedTotal.Add(ctx, 1, attrs)

			mu.Lock()
			out[path] = asset
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) emit(ctx context.Context, res *Result, compiled map[string]*transform.Asset) error {
	modules, err := emit.Modules(res.Graph, compiled)
	if err != nil {
		return err
	}

	res.Bundle, err = emit.Render(res.Plan, modules, p.cfg.EmitOptions())
	if err != nil {
		return err
	}
	telemetry.GetMetrics().ChunksEmittedTotal.Add(ctx, int64(len(res.Bundle.Artifacts)))

	res.Files = res.Bundle.Files()
	res.Pages = make(map[string][]byte, len(p.cfg.Pages))
	for _, page := range p.cfg.EmitPages() {
		html, err := res.Bundle.RenderPage(page, p.pageTemplates[page.Filename])
		if err != nil {
			return fmt.Errorf("failed to render page %s: %w", page.Filename, err)
		}
		res.Pages[page.Filename] = html
		res.Files = append(res.Files, emit.File{Name: page.Filename, Data: html})
	}

	res.Manifest, err = res.Bundle.Manifest(p.cfg.EmitPages())
	if err != nil {
		return err
	}
	data, err := res.Manifest.Marshal()
	if err != nil {
		return err
	}
	res.Files = append(res.Files, emit.File{Name: emit.ManifestFile, Data: data})

	return nil
}

// phase runs fn in its own span and records its duration.
func phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "assets."+name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	telemetry.GetMetrics().PhaseDuration.Record(ctx, msSince(started), metric.WithAttributes(attribute.String("phase", name)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("phase", name).Dur("duration", time.Since(started)).Msg("Build phase complete")
	return nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

// LoadScripts returns the ordered list of script URLs needed for the given entry
// and the URL of the entry chunk itself
func (p *Pipeline) LoadScripts(entry string) ([]string, string, error) {
	res, err := p.Result()
	if err != nil {
		return nil, "", err
	}

	scripts, err := res.Bundle.Scripts(entry)
	if err != nil {
		return nil, "", err
	}

	a, ok := res.Bundle.Artifact(entry)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", emit.ErrUnknownChunk, entry)
	}

	return scripts, p.cfg.Output.PublicPath + a.JS, nil
}

// Handler returns an http.HandlerFunc that renders the given template with the
// stylesheets and scripts of entries from the latest build
func (p *Pipeline) Handler(templateName, title string, entries []string, contextFn func(ctx context.Context) any) (http.HandlerFunc, error) {
	if p.tmpl == nil {
		return nil, ErrNoTemplate
	}
	if p.tmpl.Lookup(templateName) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateName)
	}

	if contextFn == nil {
		contextFn = func(ctx context.Context) any {
			return nil
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		res, err := p.Result()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load scripts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		data, err := res.Bundle.PageData(emit.Page{Title: title, Chunks: entries})
		if err != nil {
			log.Error().Err(err).Strs("entries", entries).Msg("Failed to load scripts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		data.Context = contextFn(r.Context())

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := p.tmpl.ExecuteTemplate(w, templateName, data); err != nil {
			log.Error().Err(err).Msg("Failed to render template")
		}
	}, nil
}

// PageHandler serves a configured page as rendered by the latest build.
func (p *Pipeline) PageHandler(filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := p.Result()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load page")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		html, ok := res.Pages[filename]
		if !ok {
			log.Error().Err(fmt.Errorf("%w: %s", ErrUnknownPage, filename)).Msg("Failed to load page")
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(html)
	}
}
