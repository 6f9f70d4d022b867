package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/chunkplan/internal/config"
	"github.com/wolfeidau/chunkplan/internal/emit"
	"github.com/wolfeidau/chunkplan/internal/resolver"
)

var sources = map[string]string{
	"src/index.js":              "import { greet } from './shared';\nimport lib from 'lib';\nimport './theme.css';\ngreet(lib());\nimport('./lazy');\n",
	"src/admin.js":              "import { greet } from '@src/shared';\nimport lib from 'lib';\ngreet(lib());\n",
	"src/shared.js":             "export function greet(v) { return 'hi ' + v; }\n",
	"src/lazy.js":               "export const lazy = true;\n",
	"src/theme.css":             ".root { color: red; }\n",
	"node_modules/lib/index.js": "module.exports = function () { return 'lib'; };\n",
	"templates/page.html":       `<h1>{{ .Title }}</h1>{{ range .Scripts }}<script src="{{ . }}"></script>{{ end }}`,
}

func newProject(t *testing.T) *Globals {
	t.Helper()
	dir := t.TempDir()
	for name, content := range sources {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}

	var out bytes.Buffer
	require.NoError(t, (&InitCmd{Dir: dir, Mode: config.ModeProduction}).Run(&Globals{Stdout: &out}))
	require.Contains(t, out.String(), config.DefaultFile)

	return &Globals{Config: filepath.Join(dir, config.DefaultFile), Stdout: &bytes.Buffer{}}
}

func output(g *Globals) string {
	return g.Stdout.(*bytes.Buffer).String()
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()
	cmd := &InitCmd{Dir: dir, Mode: config.ModeDevelopment}

	require.NoError(t, cmd.Run(&Globals{Stdout: io.Discard}))

	cfg, err := config.Load(filepath.Join(dir, config.DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, config.ModeDevelopment, cfg.Mode)
	assert.Equal(t, []string{"main", "admin"}, []string{cfg.Entry[0].Name, cfg.Entry[1].Name})

	err = cmd.Run(&Globals{Stdout: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	cmd.Force = true
	require.NoError(t, cmd.Run(&Globals{Stdout: io.Discard}))
}

func TestBuildCmd(t *testing.T) {
	g := newProject(t)
	out := filepath.Join(t.TempDir(), "public")

	require.NoError(t, (&BuildCmd{Out: out}).Run(context.Background(), g))

	text := output(g)
	for _, chunk := range []string{"runtime", "vendors", "common", "main", "admin"} {
		assert.Contains(t, text, chunk)
	}
	assert.Contains(t, text, "6 modules")
	assert.Contains(t, text, "output: "+out)

	_, err := os.Stat(filepath.Join(out, emit.ManifestFile))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "index.html"))
	require.NoError(t, err)
}

func TestBuildCmd_MissingConfig(t *testing.T) {
	g := &Globals{Config: filepath.Join(t.TempDir(), config.DefaultFile), Stdout: io.Discard}
	require.ErrorIs(t, (&BuildCmd{}).Run(context.Background(), g), os.ErrNotExist)
}

func TestResolveCmd(t *testing.T) {
	g := newProject(t)

	err := (&ResolveCmd{Paths: []string{"src/index.js", "src/theme.styl", "node_modules/lib/index.js", "src/logo.png"}}).Run(context.Background(), g)
	require.ErrorIs(t, err, resolver.ErrUnresolvedAssetType)

	text := output(g)
	assert.Contains(t, text, `src/index.js: rule "script": script(jsx=classic, target=es2015)`)
	assert.Contains(t, text, `src/theme.styl: rule "stylus": prepend(`)
	assert.Contains(t, text, `-> css(modules=icss) -> css-extract`)
	assert.Contains(t, text, `node_modules/lib/index.js: rule "vendor": script(target=es2015)`)
	assert.NotContains(t, text, "logo.png")
}

func TestResolveCmd_JSON(t *testing.T) {
	g := newProject(t)

	require.NoError(t, (&ResolveCmd{Paths: []string{"src/theme.css"}, JSON: true}).Run(context.Background(), g))

	var resolutions []resolver.Resolution
	require.NoError(t, json.Unmarshal([]byte(output(g)), &resolutions))
	require.Len(t, resolutions, 1)
	assert.Equal(t, "css", resolutions[0].Rule)
	assert.Equal(t, "css-extract", resolutions[0].Steps[len(resolutions[0].Steps)-1].Name)
}

func TestPlanCmd(t *testing.T) {
	g := newProject(t)

	require.NoError(t, (&PlanCmd{JSON: true}).Run(context.Background(), g))

	var plan planOutput
	require.NoError(t, json.Unmarshal([]byte(output(g)), &plan))
	assert.Equal(t, []string{"runtime", "vendors", "common", "main"}, plan.LoadOrder["main"])
	assert.Equal(t, []string{"runtime", "vendors", "common", "admin"}, plan.LoadOrder["admin"])
	assert.Empty(t, plan.Diagnostics)

	_, err := os.Stat(filepath.Join(filepath.Dir(g.Config), "dist"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPlanCmd_Text(t *testing.T) {
	g := newProject(t)

	require.NoError(t, (&PlanCmd{}).Run(context.Background(), g))
	assert.Contains(t, output(g), "main: runtime -> vendors -> common -> main")
}

func TestServeHandler(t *testing.T) {
	g := newProject(t)
	cfg, err := config.Load(g.Config)
	require.NoError(t, err)

	c := &ServeCmd{CORSOrigins: []string{"http://localhost:8080"}, Out: filepath.Join(t.TempDir(), "public")}
	p, err := c.newPipeline(cfg)
	require.NoError(t, err)
	res, err := p.Build(context.Background())
	require.NoError(t, err)

	h, err := c.handler(p)
	require.NoError(t, err)

	runtime, ok := res.Bundle.Artifact("runtime")
	require.True(t, ok)

	tests := []struct {
		name         string
		method       string
		path         string
		header       map[string]string
		status       int
		cacheControl string
		allowOrigin  string
	}{
		{name: "first page at root", method: http.MethodGet, path: "/", status: http.StatusOK},
		{name: "page", method: http.MethodGet, path: "/admin.html", status: http.StatusOK},
		{
			name:         "hashed asset",
			method:       http.MethodGet,
			path:         "/" + runtime.JS,
			header:       map[string]string{"Origin": "http://localhost:8080"},
			status:       http.StatusOK,
			cacheControl: "public, max-age=31536000, immutable",
			allowOrigin:  "http://localhost:8080",
		},
		{name: "manifest", method: http.MethodGet, path: "/manifest.json", status: http.StatusOK, cacheControl: "no-cache"},
		{name: "missing asset", method: http.MethodGet, path: "/missing.js", status: http.StatusNotFound},
		{
			name:   "cross site rebuild",
			method: http.MethodPost,
			path:   RebuildPath,
			header: map[string]string{"Sec-Fetch-Site": "cross-site"},
			status: http.StatusForbidden,
		},
		{
			name:   "same origin rebuild",
			method: http.MethodPost,
			path:   RebuildPath,
			header: map[string]string{"Sec-Fetch-Site": "same-origin"},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.Equal(t, tt.status, w.Code)
			if tt.cacheControl != "" {
				assert.Equal(t, tt.cacheControl, w.Header().Get("Cache-Control"))
			}
			if tt.allowOrigin != "" {
				assert.Equal(t, tt.allowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestServeHandler_Template(t *testing.T) {
	g := newProject(t)
	cfg, err := config.Load(g.Config)
	require.NoError(t, err)

	c := &ServeCmd{Template: filepath.Join(cfg.Context, "templates", "page.html"), Out: filepath.Join(t.TempDir(), "public")}
	p, err := c.newPipeline(cfg)
	require.NoError(t, err)
	_, err = p.Build(context.Background())
	require.NoError(t, err)

	h, err := c.handler(p)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin.html", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>admin</h1>")
}

func TestServeHandler_TemplateDir(t *testing.T) {
	g := newProject(t)
	cfg, err := config.Load(g.Config)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admin.html"), []byte(`<h2>{{ .Title }}</h2>{{ range .Scripts }}<script src="{{ . }}"></script>{{ end }}`), 0o600))

	c := &ServeCmd{TemplateDir: dir, Out: filepath.Join(t.TempDir(), "public")}
	p, err := c.newPipeline(cfg)
	require.NoError(t, err)
	_, err = p.Build(context.Background())
	require.NoError(t, err)

	h, err := c.handler(p)
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		contains string
		missing  string
	}{
		{name: "page with template", path: "/admin.html", contains: "<h2>admin</h2>"},
		{name: "page without template", path: "/index.html", contains: "<script", missing: "<h2>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
			if tt.missing != "" {
				assert.NotContains(t, w.Body.String(), tt.missing)
			}
		})
	}
}

func TestFormatSteps(t *testing.T) {
	tests := []struct {
		name     string
		steps    []resolver.Step
		expected string
	}{
		{name: "empty", expected: ""},
		{name: "no options", steps: []resolver.Step{{Name: "css-extract"}}, expected: "css-extract"},
		{
			name:     "sorted options",
			steps:    []resolver.Step{{Name: "script", Options: map[string]any{"target": "es2017", "jsx": "automatic"}}, {Name: "prepend", Options: map[string]any{"data": "x"}}},
			expected: "script(jsx=automatic, target=es2017) -> prepend(data=x)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatSteps(tt.steps))
		})
	}
}
