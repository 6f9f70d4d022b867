package transform

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var scriptLoaders = map[string]api.Loader{
	".js":  api.LoaderJS,
	".mjs": api.LoaderJS,
	".cjs": api.LoaderJS,
	".jsx": api.LoaderJSX,
	".ts":  api.LoaderTS,
	".mts": api.LoaderTS,
	".cts": api.LoaderTS,
	".tsx": api.LoaderTSX,
}

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// scriptStep compiles JavaScript, JSX, TypeScript and TSX to a CommonJS module body.
// Dynamic import() expressions are kept so the emitter can route them through the
// chunk loader.
func scriptStep(_ context.Context, asset *Asset, opts Options) error {
	if asset.Kind != KindScript {
		return fmt.Errorf("%w: script step expects script input, got %s", ErrInvalidOption, asset.Kind)
	}

	loader, ok := scriptLoaders[strings.ToLower(path.Ext(asset.Path))]
	if !ok {
		loader = api.LoaderJS
	}

	target := api.ES2017
	if name, err := opts.String("target"); err != nil {
		return err
	} else if name != "" {
		if target, ok = targets[strings.ToLower(name)]; !ok {
			return fmt.Errorf("%w: unsupported target %q", ErrInvalidOption, name)
		}
	}

	jsx := api.JSXTransform
	switch mode, err := opts.String("jsx"); {
	case err != nil:
		return err
	case mode == "" || mode == "classic":
	case mode == "automatic":
		jsx = api.JSXAutomatic
	default:
		return fmt.Errorf("%w: unsupported jsx runtime %q", ErrInvalidOption, mode)
	}

	factory, err := opts.String("jsxFactory")
	if err != nil {
		return err
	}
	fragment, err := opts.String("jsxFragment")
	if err != nil {
		return err
	}
	minify, err := opts.Bool("minify")
	if err != nil {
		return err
	}

	result := api.Transform(string(asset.Code), api.TransformOptions{
		Loader:            loader,
		Format:            api.FormatCommonJS,
		Target:            target,
		JSX:               jsx,
		JSXFactory:        factory,
		JSXFragment:       fragment,
		MinifyWhitespace:  minify,
		MinifyIdentifiers: minify,
		MinifySyntax:      minify,
		Sourcefile:        asset.Path,
		LogLevel:          api.LogLevelSilent,
		Supported:         map[string]bool{"dynamic-import": true},
	})
	if err := messagesError(result.Errors); err != nil {
		return err
	}

	asset.Code = result.Code
	asset.Executable = true
	return nil
}

func messagesError(msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			errs = append(errs, fmt.Errorf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
			continue
		}
		errs = append(errs, errors.New(msg.Text))
	}
	return errors.Join(errs...)
}
