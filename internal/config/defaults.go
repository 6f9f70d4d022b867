package config

import (
	"github.com/wolfeidau/chunkplan/internal/planner"
	"github.com/wolfeidau/chunkplan/internal/resolver"
	"github.com/wolfeidau/chunkplan/internal/transform"
)

// styleSteps runs a compiled stylesheet through the css step with ICSS exports and
// either extracts it (production) or injects it at runtime (development).
func styleSteps(mode string, compile ...resolver.Step) []resolver.Step {
	last := transform.StepCSSExtract
	if mode == ModeDevelopment {
		last = transform.StepStyleInject
	}
	steps := append([]resolver.Step{}, compile...)
	return append(steps,
		resolver.Step{Name: transform.StepCSS, Options: map[string]any{"modules": "icss"}},
		resolver.Step{Name: last},
	)
}

// DefaultRules covers Stylus, Less, scripts (JS, JSX, TS, TSX), Sass/SCSS, plain CSS and
// third party scripts, in that order.
func DefaultRules(mode string) []Rule {
	return []Rule{
		{
			Name: "stylus",
			Test: `(?i)\.styl(us)?$`,
			Steps: styleSteps(mode,
				resolver.Step{Name: transform.StepPrepend, Options: map[string]any{"data": "@import 'src/stylus-vars.styl'\n"}},
				resolver.Step{Name: transform.StepCommand, Options: map[string]any{"command": "stylus", "args": []any{"--print", "--include", "."}}},
			),
		},
		{
			Name: "less",
			Test: `(?i)\.less$`,
			Steps: styleSteps(mode,
				resolver.Step{Name: transform.StepPrepend, Options: map[string]any{"data": "@import \"src/less-vars.less\";\n"}},
				resolver.Step{Name: transform.StepCommand, Options: map[string]any{"command": "lessc", "args": []any{"--include-path=.", "-"}}},
			),
		},
		{
			Name:    "script",
			Test:    `\.[jt]sx?$`,
			Exclude: `node_modules`,
			Steps: []resolver.Step{
				{Name: transform.StepScript, Options: map[string]any{"target": "es2015", "jsx": "classic"}},
			},
		},
		{
			Name: "sass",
			Test: `(?i)\.s[ac]ss$`,
			Steps: styleSteps(mode,
				resolver.Step{Name: transform.StepPrepend, Options: map[string]any{"data": "@import \"src/scss-vars.scss\";\n"}},
				resolver.Step{Name: transform.StepCommand, Options: map[string]any{"command": "sass", "args": []any{"--stdin", "--load-path=."}}},
			),
		},
		{
			Name:  "css",
			Test:  `(?i)\.css$`,
			Steps: styleSteps(mode),
		},
		{
			Name: "vendor",
			Test: `(^|[\\/])node_modules[\\/].*\.[cm]?js$`,
			Steps: []resolver.Step{
				{Name: transform.StepScript, Options: map[string]any{"target": "es2015"}},
			},
		},
	}
}

// Default returns the two page demo project: main and admin entries sharing vendor
// and common code.
func Default() *Config {
	cfg := &Config{
		Mode:    ModeProduction,
		Context: ".",
		Entry: Entries{
			{Name: "main", Path: "./src/index.js"},
			{Name: "admin", Path: "./src/admin.js"},
		},
		Output: Output{Dir: "dist"},
		Resolve: Resolve{
			Alias: map[string]string{"@src": "./src"},
		},
		Rules: DefaultRules(ModeProduction),
		Optimization: Optimization{
			SplitChunks: SplitChunks{
				CacheGroups: []CacheGroup{
					{Name: "vendors", Priority: 10, MinSize: 0, MinChunks: 1, Test: `(^|[\\/])node_modules[\\/]`, Chunks: string(planner.ChunksAll)},
					{Name: "common", Priority: 5, MinSize: 0, MinChunks: 2, Chunks: string(planner.ChunksAll)},
				},
			},
		},
		Pages: []Page{
			{Filename: "index.html", Title: "main", Chunks: []string{"main"}},
			{Filename: "admin.html", Title: "admin", Chunks: []string{"admin"}},
		},
	}
	cfg.applyDefaults()
	return cfg
}
