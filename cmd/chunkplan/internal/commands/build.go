package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/chunkplan/internal/assets"
	"github.com/wolfeidau/chunkplan/internal/config"
	"github.com/wolfeidau/chunkplan/internal/telemetry"
)

type BuildCmd struct {
	Out       string `help:"output directory, overrides output.dir of the project file" env:"CHUNKPLAN_OUT" type:"path"`
	DryRun    bool   `help:"plan and render without writing files" default:"false"`
	Telemetry bool   `help:"export traces and metrics over OTLP" default:"false" env:"CHUNKPLAN_TELEMETRY"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.setup()
	if err != nil {
		return err
	}

	if c.Telemetry {
		shutdown := startTelemetry(ctx, globals, cfg, "build")
		defer shutdown()
	}

	pipeline, err := assets.New(cfg, assets.Options{OutputDir: c.Out, DryRun: c.DryRun})
	if err != nil {
		return fmt.Errorf("failed to load assets pipeline: %w", err)
	}

	res, err := pipeline.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build assets: %w", err)
	}

	return printBuild(globals.stdout(), res)
}

// startTelemetry initializes OTLP exporters for the project and returns a function
// flushing them.
func startTelemetry(ctx context.Context, globals *Globals, cfg *config.Config, command string) func() {
	log.Info().Msg("Telemetry is enabled")
	shutdown, err := telemetry.Start(ctx, telemetry.Project{
		Version: globals.Version,
		Command: command,
		Config:  globals.Config,
		Context: cfg.Context,
		Mode:    cfg.Mode,
		Entries: len(cfg.Entry),
		Serve:   command == "serve",
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

func printBuild(w io.Writer, res *assets.Result) error {
	sizes := make(map[string]int, len(res.Files))
	for _, f := range res.Files {
		sizes[f.Name] = len(f.Data)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tKIND\tMODULES\tFILES\tSIZE")
	for _, a := range res.Bundle.Artifacts {
		files, size := a.JS, sizes[a.JS]
		if a.CSS != "" {
			files += ", " + a.CSS
			size += sizes[a.CSS]
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", a.Chunk.Name, a.Chunk.Kind, len(a.Chunk.Modules), files, size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, diag := range res.Plan.Diagnostics {
		fmt.Fprintf(w, "warning: %v\n", diag)
	}

	fmt.Fprintf(w, "\n%d modules, %d chunks, %d pages in %s (build %s)\n",
		res.Graph.Len(), len(res.Bundle.Artifacts), len(res.Pages), res.Duration.Round(time.Millisecond), res.ID)
	if res.OutputDir != "" {
		fmt.Fprintf(w, "output: %s\n", res.OutputDir)
	}
	return nil
}
