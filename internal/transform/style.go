package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// styleInjectTemplate wraps CSS in a module body that injects a <style> tag once per
// file and exports the ICSS values.
const styleInjectTemplate = `var __file = %s;
var s = document.querySelector('style[data-file="' + __file + '"]');
if (!s) { s = document.createElement("style"); s.setAttribute("data-file", __file); document.head.appendChild(s); }
s.textContent = %s;
module.exports = %s;
`

var exportBlock = regexp.MustCompile(`:export\s*\{([^}]*)\}`)

// ParseExports removes ICSS :export blocks from css and returns the declared values.
func ParseExports(css []byte) ([]byte, map[string]string) {
	exports := map[string]string{}
	for _, m := range exportBlock.FindAllSubmatch(css, -1) {
		for decl := range strings.SplitSeq(string(m[1]), ";") {
			name, value, ok := strings.Cut(decl, ":")
			if !ok {
				continue
			}
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			exports[name] = strings.TrimSpace(value)
		}
	}
	return exportBlock.ReplaceAll(css, nil), exports
}

// cssStep normalises plain CSS with esbuild. With modules: icss the :export blocks are
// collected into the asset exports.
func cssStep(_ context.Context, asset *Asset, opts Options) error {
	if asset.Kind != KindStyle {
		return fmt.Errorf("%w: css step expects style input, got %s", ErrInvalidOption, asset.Kind)
	}

	modules, err := opts.String("modules")
	if err != nil {
		return err
	}
	minify, err := opts.Bool("minify")
	if err != nil {
		return err
	}

	code := asset.Code
	switch modules {
	case "":
	case "icss":
		var exports map[string]string
		code, exports = ParseExports(code)
		if asset.Exports == nil {
			asset.Exports = map[string]string{}
		}
		maps.Copy(asset.Exports, exports)
	default:
		return fmt.Errorf("%w: unsupported css modules mode %q", ErrInvalidOption, modules)
	}

	result := api.Transform(string(code), api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: minify,
		MinifySyntax:     minify,
		Sourcefile:       asset.Path,
		LogLevel:         api.LogLevelSilent,
	})
	if err := messagesError(result.Errors); err != nil {
		return err
	}

	asset.Code = result.Code
	return nil
}

// cssExtractStep moves the stylesheet into the asset's extracted CSS. The module body
// left behind only exports the ICSS values.
func cssExtractStep(_ context.Context, asset *Asset, _ Options) error {
	if asset.Kind != KindStyle {
		return fmt.Errorf("%w: css-extract expects style input, got %s", ErrInvalidOption, asset.Kind)
	}

	exports, err := exportsJSON(asset.Exports)
	if err != nil {
		return err
	}

	asset.CSS = asset.Code
	asset.Code = []byte("module.exports = " + exports + ";\n")
	asset.Kind = KindScript
	asset.Executable = true
	return nil
}

func styleInjectStep(_ context.Context, asset *Asset, _ Options) error {
	if asset.Kind != KindStyle {
		return fmt.Errorf("%w: style-inject expects style input, got %s", ErrInvalidOption, asset.Kind)
	}

	file, err := json.Marshal(asset.Path)
	if err != nil {
		return err
	}
	css, err := json.Marshal(string(asset.Code))
	if err != nil {
		return err
	}
	exports, err := exportsJSON(asset.Exports)
	if err != nil {
		return err
	}

	asset.Code = fmt.Appendf(nil, styleInjectTemplate, file, css, exports)
	asset.Kind = KindScript
	asset.Executable = true
	return nil
}

func exportsJSON(exports map[string]string) (string, error) {
	if exports == nil {
		exports = map[string]string{}
	}
	data, err := json.Marshal(exports)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
