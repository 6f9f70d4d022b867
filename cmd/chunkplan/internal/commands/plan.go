package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/wolfeidau/chunkplan/internal/assets"
	"github.com/wolfeidau/chunkplan/internal/planner"
)

type PlanCmd struct {
	JSON bool `help:"print the plan as JSON" default:"false"`
}

type planOutput struct {
	Chunks      []planChunk         `json:"chunks"`
	LoadOrder   map[string][]string `json:"loadOrder"`
	Diagnostics []string            `json:"diagnostics,omitempty"`
}

type planChunk struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Root         string   `json:"root,omitempty"`
	Modules      []string `json:"modules"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func (c *PlanCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.setup()
	if err != nil {
		return err
	}

	pipeline, err := assets.New(cfg, assets.Options{DryRun: true})
	if err != nil {
		return fmt.Errorf("failed to load assets pipeline: %w", err)
	}

	_, plan, err := pipeline.Plan(ctx)
	if err != nil {
		return fmt.Errorf("failed to plan chunks: %w", err)
	}

	out := planOutput{LoadOrder: make(map[string][]string)}
	for _, ch := range plan.Chunks {
		out.Chunks = append(out.Chunks, planChunk{
			Name:         ch.Name,
			Kind:         string(ch.Kind),
			Root:         ch.Root,
			Modules:      ch.Modules,
			Dependencies: ch.Dependencies,
		})
	}
	for _, e := range cfg.Entries() {
		order, err := plan.LoadOrder(e.Name)
		if err != nil {
			return err
		}
		out.LoadOrder[e.Name] = order
	}
	for _, diag := range plan.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, diag.Error())
	}

	w := globals.stdout()
	if c.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	return printPlan(w, out, cfg.Entries())
}

func printPlan(w io.Writer, out planOutput, entries []planner.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tKIND\tDEPENDS ON\tMODULES")
	for _, ch := range out.Chunks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ch.Name, ch.Kind, strings.Join(ch.Dependencies, ","), strings.Join(ch.Modules, " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, e := range entries {
		fmt.Fprintf(w, "%s: %s\n", e.Name, strings.Join(out.LoadOrder[e.Name], " -> "))
	}
	for _, diag := range out.Diagnostics {
		fmt.Fprintf(w, "warning: %s\n", diag)
	}
	return nil
}
