package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// ErrScanFailed indicates esbuild could not walk the module graph.
var ErrScanFailed = errors.New("module graph scan failed")

// DialectExtensions are stylesheet dialects esbuild cannot parse. They are loaded
// as empty modules during the scan; their own pipelines compile them later.
var DialectExtensions = []string{".scss", ".sass", ".less", ".styl", ".stylus"}

// ScanOptions configures a graph scan.
type ScanOptions struct {
	// Root is the project directory. Module paths are relative to it.
	Root string
	// Entries are entry module paths relative to Root.
	Entries []string
	// Alias maps import prefixes to replacement paths, e.g. "@src" -> "./src".
	Alias map[string]string
	// Loaders overrides the esbuild loader used for an extension.
	Loaders map[string]api.Loader
	// External lists import paths left out of the graph.
	External []string
}

// Scan walks every module reachable from the entries with esbuild and returns
// the resulting graph. Nothing is written to disk.
func Scan(ctx context.Context, opts ScanOptions) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(opts.Entries) == 0 {
		return nil, fmt.Errorf("%w: no entry points", ErrScanFailed)
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	loaders := make(map[string]api.Loader, len(DialectExtensions)+len(opts.Loaders))
	for _, ext := range DialectExtensions {
		loaders[ext] = api.LoaderEmpty
	}
	for ext, loader := range opts.Loaders {
		loaders[ext] = loader
	}

	tmp, err := os.MkdirTemp("", "chunkplan-scan-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scan directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	log.Debug().Strs("entrypoints", opts.Entries).Str("root", root).Msg("Scanning module graph")

	result := api.Build(api.BuildOptions{
		EntryPoints:   opts.Entries,
		AbsWorkingDir: root,
		Bundle:        true,
		Splitting:     true,
		Write:         false,
		Outdir:        tmp,
		Format:        api.FormatESModule,
		JSX:           api.JSXPreserve,
		Loader:        loaders,
		Alias:         opts.Alias,
		External:      opts.External,
		Metafile:      true,
		LogLevel:      api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, msg := range result.Errors {
			log.Error().Str("error", formatMessage(msg)).Msg("Scan error")
			msgs = append(msgs, formatMessage(msg))
		}
		return nil, fmt.Errorf("%w: %s", ErrScanFailed, strings.Join(msgs, "; "))
	}

	g, err := FromMetafile([]byte(result.Metafile))
	if err != nil {
		return nil, err
	}

	for _, entry := range opts.Entries {
		if _, ok := g.Module(entry); !ok {
			return nil, fmt.Errorf("%w: entry %s missing from metafile", ErrScanFailed, entry)
		}
	}

	log.Debug().Int("modules", g.Len()).Msg("Scanned module graph")

	return g, nil
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}
