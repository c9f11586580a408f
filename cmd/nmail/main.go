// Command nmail is the entrypoint for the mail synchronization core: it
// loads the application directory, acquires the exclusive directory lock,
// starts the IMAP and SMTP workers and the prefetch planner, and runs
// until asked to stop. The interactive terminal UI itself is an external,
// out-of-scope renderer (spec's non-goal); this binary owns the backend
// lifecycle a UI would attach to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusong7/nmail-go/internal/config"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	app := &cli.App{
		Name:                   "nmail",
		Usage:                  "terminal-based email client core",
		UseShortOptionHandling: true,
		Version:                version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "confdir", Aliases: []string{"d"}, Usage: "override the application directory"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"e"}, Usage: "enable debug logs"},
			&cli.BoolFlag{Name: "offline", Aliases: []string{"o"}, Usage: "do not open network connections"},
			&cli.StringFlag{Name: "setup", Aliases: []string{"s"}, Usage: "write a pre-filled config for gmail|outlook and exit"},
		},
		Action: mainAction,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "nmail: %v\n", err)
		return 1
	}
	return 0
}

func mainAction(c *cli.Context) error {
	dir := c.String("confdir")
	if dir == "" {
		var err error
		dir, err = config.DefaultDir()
		if err != nil {
			return fmt.Errorf("resolve application directory: %w", err)
		}
	}

	if provider := c.String("setup"); provider != "" {
		return runSetup(dir, provider)
	}

	return runCore(c.Context, dir, c.Bool("verbose"), c.Bool("offline"))
}
