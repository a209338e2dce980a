package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (YAML)" env:"HANDOFF_CONFIG" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve ServeCmd `cmd:"" help:"Run the handoff host and its HTTP API"`

	Instances   InstancesCmd   `cmd:"" help:"List service instances"`
	Instantiate InstantiateCmd `cmd:"" help:"Create a service instance"`
	Execute     ExecuteCmd     `cmd:"" help:"Send an execute message to an instance"`
	Query       QueryCmd       `cmd:"" help:"Send a query to an instance"`
	Migrate     MigrateCmd     `cmd:"" help:"Hand a source off to its target"`
	Pull        PullCmd        `cmd:"" help:"Pull migrated data into a target"`
	Events      EventsCmd      `cmd:"" help:"Show the committed events of an instance"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("handoffd"),
		kong.Description("One-time, secret-gated state handoff between services."),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("handoffd %s (commit: %s, built: %s)", version, commit, date)},
	)
	if err := ctx.Run(&cli); err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}
