package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/linuxmatters/poreflow/internal/cli"
)

// version is set via ldflags at build time
// Local dev builds: "dev"
// Release builds: git tag (e.g. "v0.1.0")
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	LogFile  string      `help:"Write logs to this file instead of stderr." placeholder:"path" type:"path"`
	LogLevel string      `help:"Log level: debug, info, warn or error." default:"info" enum:"debug,info,warn,error"`
	Version  versionFlag `help:"Show version information."`
}

// versionFlag prints the styled version and exits before any command runs.
type versionFlag bool

func (v versionFlag) BeforeReset(app *kong.Kong, vars kong.Vars) error {
	cli.PrintVersion(vars["version"])
	app.Exit(0)
	return nil
}

var CLI struct {
	Globals

	Scan   ScanCmd   `cmd:"" help:"Detect events in one or more recordings."`
	Info   InfoCmd   `cmd:"" help:"Show format, statistics and noise spectrum of recordings."`
	Events EventsCmd `cmd:"" help:"List stored runs or the events of one run."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("poreflow"),
		kong.Description(cli.Tagline),
		kong.Vars{"version": version},
		kong.UsageOnError(),
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)

	if err := ctx.Run(&CLI.Globals); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

func closeQuietly(name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		cli.PrintWarning(fmt.Sprintf("closing %s: %v", name, err))
	}
}
