// Command themesync uploads a local Shopify theme through a paced,
// coalescing upload queue.
//
// Usage:
//
//	themesync [global options] deploy|watch|purge|status|version
//
// Exit codes:
//   - 0: success
//   - 1: one or more uploads failed
//   - 2: configuration or startup error
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "themesync",
		Usage:          "sync a local theme with a Shopify store",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags:          globalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			deployCommand(),
			watchCommand(),
			purgeCommand(),
			statusCommand(),
			versionCommand(),
		},
	}
}

// exitErrHandler keeps exit codes from cli.Exit and maps anything else
// to 1.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
