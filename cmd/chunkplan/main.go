package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/chunkplan/cmd/chunkplan/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool   `help:"Enable debug mode." env:"CHUNKPLAN_DEBUG"`
		Config  string `help:"Path of the project file." default:"chunkplan.yaml" env:"CHUNKPLAN_CONFIG" type:"path"`
		Version kong.VersionFlag

		Init    commands.InitCmd    `cmd:"" help:"Write a default project file"`
		Build   commands.BuildCmd   `cmd:"" help:"Build the project"`
		Resolve commands.ResolveCmd `cmd:"" help:"Print the pipeline each path resolves to"`
		Plan    commands.PlanCmd    `cmd:"" help:"Print the chunk plan without transforming or writing files"`
		Serve   commands.ServeCmd   `cmd:"" help:"Build the project and serve it over HTTP"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("chunkplan"),
		kong.Description("Plan and emit content hashed chunks for multi-entry web projects."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Config: cli.Config})
	cmd.FatalIfErrorf(err)
}
