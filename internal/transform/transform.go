// Package transform runs the step pipelines selected by the resolver.
//
// Every source file enters a pipeline as an Asset holding its raw contents. Steps
// rewrite the asset in order until it is an executable CommonJS style module body that
// the emitter can wrap. Stylesheets become executable through the css-extract or
// style-inject steps.
package transform

import (
	"context"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/chunkplan/internal/resolver"
)

// Kind is the language an asset's code is currently written in.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
)

// Step names understood by the default registry.
const (
	StepScript      = "script"
	StepPrepend     = "prepend"
	StepCommand     = "command"
	StepCSS         = "css"
	StepCSSExtract  = "css-extract"
	StepStyleInject = "style-inject"
)

var styleExtensions = []string{".css", ".scss", ".sass", ".less", ".styl", ".stylus"}

// KindOf returns the initial kind for a path based on its extension.
func KindOf(p string) Kind {
	if slices.Contains(styleExtensions, strings.ToLower(path.Ext(p))) {
		return KindStyle
	}
	return KindScript
}

// Asset is a module passing through a pipeline.
type Asset struct {
	// Path is the slash separated path relative to the project root.
	Path string
	// Dir is the directory external commands run in.
	Dir  string
	Code []byte
	Kind Kind
	// CSS holds the stylesheet extracted from the module, if any.
	CSS []byte
	// Exports holds values declared in ICSS :export blocks.
	Exports map[string]string
	// Executable is set once Code is a module body the runtime can evaluate.
	Executable bool
}

// Options is the option bag of a single step.
type Options map[string]any

// Transformer is a single pipeline step.
type Transformer interface {
	Transform(ctx context.Context, asset *Asset, opts Options) error
}

// TransformerFunc adapts a function to a Transformer.
type TransformerFunc func(ctx context.Context, asset *Asset, opts Options) error

func (f TransformerFunc) Transform(ctx context.Context, asset *Asset, opts Options) error {
	return f(ctx, asset, opts)
}

// Registry maps step names to transformers.
type Registry struct {
	steps map[string]Transformer
}

// NewRegistry returns a registry holding the built-in steps.
func NewRegistry() *Registry {
	return &Registry{
		steps: map[string]Transformer{
			StepScript:      TransformerFunc(scriptStep),
			StepPrepend:     TransformerFunc(prependStep),
			StepCommand:     TransformerFunc(commandStep),
			StepCSS:         TransformerFunc(cssStep),
			StepCSSExtract:  TransformerFunc(cssExtractStep),
			StepStyleInject: TransformerFunc(styleInjectStep),
		},
	}
}

// Register adds or replaces a step.
func (r *Registry) Register(name string, t Transformer) {
	r.steps[name] = t
}

// Names returns the registered step names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.steps))
}

// Validate checks that every step of every rule is registered.
func (r *Registry) Validate(rules []resolver.Rule) error {
	for _, rule := range rules {
		for _, step := range rule.Steps {
			if _, ok := r.steps[step.Name]; !ok {
				return fmt.Errorf("%w: %q in rule %q", ErrUnknownStep, step.Name, rule.Name)
			}
		}
	}
	return nil
}

// Run executes the resolved steps over source and returns the final asset. dir is the
// directory external commands run in.
func (r *Registry) Run(ctx context.Context, res resolver.Resolution, dir string, source []byte) (*Asset, error) {
	asset := &Asset{
		Path: res.Path,
		Dir:  dir,
		Code: source,
		Kind: KindOf(res.Path),
	}

	for _, step := range res.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t, ok := r.steps[step.Name]
		if !ok {
			return nil, &StepError{Path: res.Path, Rule: res.Rule, Step: step.Name, Err: ErrUnknownStep}
		}

		if err := t.Transform(ctx, asset, Options(step.Options)); err != nil {
			return nil, &StepError{Path: res.Path, Rule: res.Rule, Step: step.Name, Err: err}
		}
	}

	if !asset.Executable {
		return nil, fmt.Errorf("%w: %s (rule %q) ends as %s", ErrIncompletePipeline, res.Path, res.Rule, asset.Kind)
	}

	log.Debug().Str("path", res.Path).Str("rule", res.Rule).Int("bytes", len(asset.Code)).Msg("Transformed module")

	return asset, nil
}

func prependStep(_ context.Context, asset *Asset, opts Options) error {
	data, err := opts.String("data")
	if err != nil {
		return err
	}
	asset.Code = append([]byte(data), asset.Code...)
	return nil
}

// String returns an optional string option.
func (o Options) String(key string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidOption, key, v)
	}
	return s, nil
}

// Bool returns an optional boolean option.
func (o Options) Bool(key string) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidOption, key, v)
	}
	return b, nil
}

// Strings returns an optional list of strings option.
func (o Options) Strings(key string) ([]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch vals := v.(type) {
	case []string:
		return slices.Clone(vals), nil
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must only contain strings, got %T", ErrInvalidOption, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrInvalidOption, key, v)
	}
}
