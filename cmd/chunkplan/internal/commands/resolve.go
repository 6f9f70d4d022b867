package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/wolfeidau/chunkplan/internal/resolver"
	"github.com/wolfeidau/chunkplan/internal/transform"
)

type ResolveCmd struct {
	Paths []string `arg:"" help:"module paths relative to the project root"`
	JSON  bool     `help:"print resolutions as JSON" default:"false"`
}

func (c *ResolveCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.setup()
	if err != nil {
		return err
	}

	rules, err := cfg.ResolverRules()
	if err != nil {
		return err
	}
	if err := transform.NewRegistry().Validate(rules); err != nil {
		return err
	}
	r, err := resolver.New(rules)
	if err != nil {
		return err
	}

	var (
		resolutions []resolver.Resolution
		errs        []error
	)
	for _, p := range c.Paths {
		rule, err := r.Match(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		steps, _ := r.Resolve(p)
		resolutions = append(resolutions, resolver.Resolution{Path: p, Rule: rule.Name, Steps: steps})
	}

	w := globals.stdout()
	if c.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resolutions); err != nil {
			return err
		}
	} else {
		for _, res := range resolutions {
			fmt.Fprintf(w, "%s: rule %q: %s\n", res.Path, res.Rule, formatSteps(res.Steps))
		}
	}

	return errors.Join(errs...)
}

// formatSteps renders steps in execution order, e.g. "prepend -> command(command=sass) -> css".
func formatSteps(steps []resolver.Step) string {
	out := make([]string, len(steps))
	for i, s := range steps {
		if len(s.Options) == 0 {
			out[i] = s.Name
			continue
		}
		opts := make([]string, 0, len(s.Options))
		for _, k := range slices.Sorted(maps.Keys(s.Options)) {
			opts = append(opts, fmt.Sprintf("%s=%v", k, s.Options[k]))
		}
		out[i] = fmt.Sprintf("%s(%s)", s.Name, strings.Join(opts, ", "))
	}
	return strings.Join(out, " -> ")
}
