package assets

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/chunkplan/internal/config"
	"github.com/wolfeidau/chunkplan/internal/emit"
	"github.com/wolfeidau/chunkplan/internal/graph"
	"github.com/wolfeidau/chunkplan/internal/planner"
	"github.com/wolfeidau/chunkplan/internal/resolver"
	"github.com/wolfeidau/chunkplan/internal/transform"
)

var project = map[string]string{
	"src/index.js": `import { greet } from './shared';
import lib from 'lib';
import './theme.css';

export function main() {
  return greet(lib());
}

import('./lazy').then((m) => m.run());
`,
	"src/admin.js": `import { greet } from '@src/shared';
import lib from 'lib';

greet(lib());
`,
	"src/shared.js":              "export function greet(v) { return 'hi ' + v; }\n",
	"src/lazy.js":                "export function run() { return 1; }\n",
	"src/theme.css":              ".root { color: red; }\n",
	"node_modules/lib/index.js":  "module.exports = function () { return 'lib'; };\n",
	"templates/page.html":        `<title>{{ .Title }}</title>{{ range .Scripts }}<script src="{{ . }}"></script>{{ end }}<pre>{{ marshal .Context }}</pre>`,
	"templates/custom-page.html": `<h1>{{ .Title }}</h1>{{ range .Styles }}<link href="{{ . }}">{{ end }}`,
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return dir
}

func newPipeline(t *testing.T, files map[string]string, opts Options) (*Pipeline, string) {
	t.Helper()
	dir := writeProject(t, files)
	cfg := config.Default()
	cfg.Context = dir
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(dir, "dist")
	}
	p, err := New(cfg, opts)
	require.NoError(t, err)
	return p, dir
}

func TestBuild(t *testing.T) {
	p, _ := newPipeline(t, project, DefaultOptions())

	_, _, err := p.LoadScripts("main")
	require.ErrorIs(t, err, ErrNotBuilt)

	res, err := p.Build(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)

	lazy := res.Plan.AsyncTargets["src/lazy.js"]
	require.NotEmpty(t, lazy)

	names := make([]string, 0, len(res.Plan.Chunks))
	for _, c := range res.Plan.Chunks {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{planner.RuntimeChunkName, "vendors", "common", "main", "admin", lazy}, names)
	assert.Empty(t, res.Plan.Diagnostics)

	for _, f := range res.Files {
		_, err := os.Stat(filepath.Join(res.OutputDir, filepath.FromSlash(f.Name)))
		require.NoError(t, err, f.Name)
	}

	manifest, err := os.ReadFile(filepath.Join(res.OutputDir, emit.ManifestFile))
	require.NoError(t, err)
	var m emit.Manifest
	require.NoError(t, json.Unmarshal(manifest, &m))
	assert.Len(t, m.Chunks, len(res.Plan.Chunks))
	assert.Len(t, m.Pages, 2)

	scripts, entrypoint, err := p.LoadScripts("main")
	require.NoError(t, err)
	require.Len(t, scripts, 4)
	assert.True(t, strings.HasPrefix(scripts[0], "/runtime."), scripts[0])
	assert.True(t, strings.HasPrefix(scripts[1], "/vendors."), scripts[1])
	assert.True(t, strings.HasPrefix(scripts[2], "/common."), scripts[2])
	assert.Equal(t, entrypoint, scripts[3])

	lazyChunk, ok := res.Bundle.Artifact(lazy)
	require.True(t, ok)
	for _, s := range scripts {
		assert.NotContains(t, s, lazyChunk.JS)
	}

	index := string(res.Pages["index.html"])
	assert.Contains(t, index, `<link rel="stylesheet" href="/main.`)
	assert.Contains(t, index, `<script defer src="`+entrypoint+`"></script>`)
	assert.NotContains(t, index, lazyChunk.JS)

	mainChunk, ok := res.Bundle.Artifact("main")
	require.True(t, ok)
	js, err := os.ReadFile(filepath.Join(res.OutputDir, mainChunk.JS))
	require.NoError(t, err)
	assert.Contains(t, string(js), `require.e("./lazy")`)
}

func TestBuild_Deterministic(t *testing.T) {
	p, _ := newPipeline(t, project, Options{DryRun: true})

	first, err := p.Build(context.Background())
	require.NoError(t, err)
	second, err := p.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(first.Files), len(second.Files))
	for i := range first.Files {
		assert.Equal(t, first.Files[i].Name, second.Files[i].Name)
		assert.Equal(t, first.Files[i].Data, second.Files[i].Data)
	}
	assert.NotEqual(t, first.ID, second.ID)
}

func TestBuild_DryRun(t *testing.T) {
	p, dir := newPipeline(t, project, Options{DryRun: true})

	res, err := p.Build(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Files)

	_, err = os.Stat(filepath.Join(dir, "dist"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild_Compress(t *testing.T) {
	dir := writeProject(t, project)
	cfg := config.Default()
	cfg.Context = dir
	cfg.Output.Compress = []string{string(emit.EncodingGzip), string(emit.EncodingZstd)}

	p, err := New(cfg, Options{})
	require.NoError(t, err)

	res, err := p.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dist"), res.OutputDir)

	for _, f := range res.Files {
		for _, ext := range []string{"", ".gz", ".zst"} {
			_, err := os.Stat(filepath.Join(res.OutputDir, filepath.FromSlash(f.Name)+ext))
			require.NoError(t, err, f.Name+ext)
		}
	}
}

func TestBuild_TransformFailure(t *testing.T) {
	dir := writeProject(t, project)
	cfg := config.Default()
	cfg.Context = dir

	var fail atomic.Bool
	registry := transform.NewRegistry()
	registry.Register("check", transform.TransformerFunc(func(_ context.Context, asset *transform.Asset, _ transform.Options) error {
		if fail.Load() && asset.Path == "src/shared.js" {
			return errors.New("check failed")
		}
		return nil
	}))
	require.Equal(t, "script", cfg.Rules[2].Name)
	cfg.Rules[2].Steps = append([]resolver.Step{{Name: "check"}}, cfg.Rules[2].Steps...)

	p, err := New(cfg, Options{DryRun: true, Registry: registry})
	require.NoError(t, err)

	_, err = p.Build(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	_, err = p.Build(context.Background())
	require.ErrorIs(t, err, transform.ErrTransformStepFailure)

	var stepErr *transform.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "src/shared.js", stepErr.Path)
	assert.Equal(t, "script", stepErr.Rule)
	assert.Equal(t, "check", stepErr.Step)

	// the previous build stays available
	_, _, err = p.LoadScripts("main")
	require.NoError(t, err)
}

func TestBuild_ScanFailure(t *testing.T) {
	files := maps.Clone(project)
	files["src/shared.js"] = "export function greet( {\n"
	p, _ := newPipeline(t, files, Options{DryRun: true})

	_, err := p.Build(context.Background())
	require.ErrorIs(t, err, graph.ErrScanFailed)
}

func TestBuild_Cancelled(t *testing.T) {
	p, _ := newPipeline(t, project, Options{DryRun: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Build(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPlan(t *testing.T) {
	p, _ := newPipeline(t, project, Options{})

	g, plan, err := p.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, g.Len())
	assert.Equal(t, []string{"vendors"}, plan.ChunksOf("node_modules/lib/index.js"))
	assert.Equal(t, []string{"common"}, plan.ChunksOf("src/shared.js"))

	order, err := plan.LoadOrder("admin")
	require.NoError(t, err)
	assert.Equal(t, []string{planner.RuntimeChunkName, "vendors", "common", "admin"}, order)

	_, err = p.Result()
	require.ErrorIs(t, err, ErrNotBuilt)
}

func TestNew_UnknownStep(t *testing.T) {
	cfg := config.Default()
	cfg.Rules[0].Steps[0].Name = "postcss"

	_, err := New(cfg, Options{})
	require.ErrorIs(t, err, transform.ErrUnknownStep)
}

func TestHandler(t *testing.T) {
	dir := writeProject(t, project)
	cfg := config.Default()
	cfg.Context = dir

	p, err := NewWithTemplate(cfg, Options{DryRun: true}, filepath.Join(dir, "templates", "page.html"))
	require.NoError(t, err)

	_, err = p.Handler("missing.html", "Main", []string{"main"}, nil)
	require.ErrorIs(t, err, ErrUnknownTemplate)

	h, err := p.Handler("page.html", "Main", []string{"main"}, func(ctx context.Context) any {
		return map[string]string{"user": "alice"}
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	_, err = p.Build(context.Background())
	require.NoError(t, err)

	scripts, _, err := p.LoadScripts("main")
	require.NoError(t, err)

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<title>Main</title>")
	for _, s := range scripts {
		assert.Contains(t, body, `<script src="`+s+`"></script>`)
	}
	assert.Contains(t, body, "alice")
}

func TestHandler_NoTemplate(t *testing.T) {
	p, _ := newPipeline(t, project, Options{})

	_, err := p.Handler("page.html", "Main", []string{"main"}, nil)
	require.ErrorIs(t, err, ErrNoTemplate)
}

func TestNewWithTemplateDir(t *testing.T) {
	dir := writeProject(t, project)
	cfg := config.Default()
	cfg.Context = dir

	p, err := NewWithTemplateDir(cfg, Options{DryRun: true}, filepath.Join(dir, "templates"))
	require.NoError(t, err)

	_, err = p.Handler("custom-page.html", "Custom", []string{"admin"}, nil)
	require.NoError(t, err)
}

func TestPageHandler(t *testing.T) {
	dir := writeProject(t, project)
	cfg := config.Default()
	cfg.Context = dir
	cfg.Pages[1].Template = "templates/custom-page.html"
	cfg.Pages[1].Title = "Admin"

	p, err := New(cfg, Options{DryRun: true})
	require.NoError(t, err)
	_, err = p.Build(context.Background())
	require.NoError(t, err)

	tests := []struct {
		name     string
		page     string
		status   int
		contains string
	}{
		{name: "default template", page: "index.html", status: http.StatusOK, contains: "<!DOCTYPE html>"},
		{name: "custom template", page: "admin.html", status: http.StatusOK, contains: "<h1>Admin</h1>"},
		{name: "unknown page", page: "missing.html", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			p.PageHandler(tt.page)(w, httptest.NewRequest(http.MethodGet, "/"+tt.page, nil))
			require.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}
