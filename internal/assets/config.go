package assets

import (
	"html/template"
	"runtime"

	"github.com/wolfeidau/chunkplan/internal/transform"
)

type Options struct {
	// Output directory override, defaults to output.dir of the project file
	OutputDir string
	// Maximum number of modules transformed at once
	Concurrency int
	// Plan and render without writing any files
	DryRun bool
	// Extra functions available to page templates
	Funcs template.FuncMap
	// Transform steps, defaults to the built-in steps
	Registry *transform.Registry
}

// DefaultOptions returns a sensible default configuration
func DefaultOptions() Options {
	return Options{
		Concurrency: runtime.GOMAXPROCS(0),
		Registry:    transform.NewRegistry(),
	}
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.GOMAXPROCS(0)
	}
	if o.Registry == nil {
		o.Registry = transform.NewRegistry()
	}
	return o
}
