package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/chunkplan/internal/assets"
	"github.com/wolfeidau/chunkplan/internal/config"
	httpmiddleware "github.com/wolfeidau/chunkplan/internal/http"
)

// RebuildPath triggers a rebuild of the served project.
const RebuildPath = "/_chunkplan/rebuild"

type ServeCmd struct {
	Listen      string   `help:"HTTP server listen address" default:"127.0.0.1:8080" env:"CHUNKPLAN_LISTEN"`
	CORSOrigins []string `help:"allowed CORS origins for asset requests" default:"http://localhost:8080" env:"CHUNKPLAN_CORS_ORIGINS"`
	Template    string   `help:"page template used for every page instead of the rendered pages" type:"path" env:"CHUNKPLAN_TEMPLATE" xor:"template"`
	TemplateDir string   `help:"directory of page templates named after the page files, pages without one keep the rendered page" type:"path" env:"CHUNKPLAN_TEMPLATE_DIR" xor:"template"`
	Out         string   `help:"output directory, overrides output.dir of the project file" env:"CHUNKPLAN_OUT" type:"path"`
	Telemetry   bool     `help:"export traces and metrics over OTLP" default:"false" env:"CHUNKPLAN_TELEMETRY"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Telemetry {
		shutdown := startTelemetry(ctx, globals, cfg, "serve")
		defer shutdown()
	}

	pipeline, err := c.newPipeline(cfg)
	if err != nil {
		return fmt.Errorf("failed to load assets pipeline: %w", err)
	}
	if _, err := pipeline.Build(ctx); err != nil {
		return fmt.Errorf("failed to build assets: %w", err)
	}

	handler, err := c.handler(pipeline)
	if err != nil {
		return err
	}

	srv := configureHTTPServer(c.Listen, handler)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", c.Listen).Str("output", pipeline.OutputDir()).Msg("Starting HTTP server")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (c *ServeCmd) newPipeline(cfg *config.Config) (*assets.Pipeline, error) {
	opts := assets.Options{OutputDir: c.Out}
	switch {
	case c.Template != "":
		return assets.NewWithTemplate(cfg, opts, c.Template)
	case c.TemplateDir != "":
		return assets.NewWithTemplateDir(cfg, opts, c.TemplateDir)
	default:
		return assets.New(cfg, opts)
	}
}

// handler serves pages from the latest build and the output directory below the
// public path. Assets get CORS headers, and CSRF protection covers the rebuild endpoint.
func (c *ServeCmd) handler(p *assets.Pipeline) (http.Handler, error) {
	cfg := p.Config()
	mux := http.NewServeMux()

	for i, page := range cfg.Pages {
		h, err := c.pageHandler(p, page)
		if err != nil {
			return nil, err
		}
		mux.Handle("GET /"+page.Filename, h)
		if i == 0 {
			mux.Handle("GET /{$}", h)
		}
	}

	mux.HandleFunc("POST "+RebuildPath, rebuildHandler(p))

	prefix := "/"
	if strings.HasPrefix(cfg.Output.PublicPath, "/") {
		prefix = cfg.Output.PublicPath
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}
	static := http.FileServer(http.Dir(p.OutputDir()))
	static = httpmiddleware.CacheControl(hashedFile(p))(static)
	mux.Handle(prefix, http.StripPrefix(strings.TrimSuffix(prefix, "/"), withCORS(c.CORSOrigins, static)))

	protection := csrf.New()
	return httpmiddleware.AccessLog(log.Logger)(gzhttp.GzipHandler(protection.Handler(mux))), nil
}

func (c *ServeCmd) pageHandler(p *assets.Pipeline, page config.Page) (http.Handler, error) {
	switch {
	case c.Template != "":
		return p.Handler(filepath.Base(c.Template), page.Title, page.Chunks, nil)
	case c.TemplateDir != "":
		h, err := p.Handler(page.Filename, page.Title, page.Chunks, nil)
		if errors.Is(err, assets.ErrUnknownTemplate) {
			return p.PageHandler(page.Filename), nil
		}
		return h, err
	default:
		return p.PageHandler(page.Filename), nil
	}
}

// hashedFile reports whether path names a chunk file of the latest build.
func hashedFile(p *assets.Pipeline) func(path string) bool {
	return func(path string) bool {
		res, err := p.Result()
		if err != nil {
			return false
		}
		name := strings.TrimPrefix(path, "/")
		for _, a := range res.Bundle.Artifacts {
			if name == a.JS || (a.CSS != "" && name == a.CSS) {
				return true
			}
		}
		return false
	}
}

func rebuildHandler(p *assets.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := p.Build(r.Context())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Rebuild failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data, err := res.Manifest.Marshal()
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	return middleware.Handler(h)
}
