/*
Package app provides the top-level application structure of the mx
command line tool.
*/
package app

import (
	"fmt"
	"strings"

	"github.com/mxhub/mx/cli/master"
	"github.com/mxhub/mx/cli/query"
	"github.com/mxhub/mx/cli/quit"
	"github.com/urfave/cli/v2"
)

// Version is the version of the tool, set at the build time.
var Version = "dev"

// shortValueFlags are the short options that take a value and may be
// written with the value glued on, "-nBla" style.
var shortValueFlags = map[byte]string{
	'n': "mx-name",
	'h': "mx-host",
	'c': "config-file",
}

func init() {
	// The legacy tool uses -h for the MX host, so the help flag keeps
	// only its long spelling.
	cli.HelpFlag = &cli.BoolFlag{
		Name:  "help",
		Usage: "Show help",
	}
}

// New creates the mx CLI application.
func New() *cli.App {
	app := cli.NewApp()
	app.Name = "mx"
	app.Usage = "message exchange control tool"
	app.Version = Version
	app.HideVersion = true

	app.Commands = append(app.Commands, master.NewCommands()...)
	app.Commands = append(app.Commands, query.NewCommands()...)
	app.Commands = append(app.Commands, quit.NewCommands()...)
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "version",
		Usage: "Show the current version of MX",
		Action: func(ctx *cli.Context) error {
			fmt.Fprintln(ctx.App.Writer, Version)
			return nil
		},
	})

	return app
}

// NormalizeArgs rewrites the legacy option spellings into ones the
// flag parser understands: "-nBla" becomes "--mx-name=Bla" and "-v2" becomes
// "--verbose=2" ("-v" alone is level 1). "--long VAL" and
// "--long=VAL" pass through untouched.
func NormalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case len(arg) > 2 && arg[0] == '-' && arg[1] != '-':
			if long, ok := shortValueFlags[arg[1]]; ok {
				out = append(out, "--"+long+"="+arg[2:])
				continue
			}
			if arg[1] == 'v' && isDigits(arg[2:]) {
				out = append(out, "--verbose="+arg[2:])
				continue
			}
			out = append(out, arg)
		case arg == "-v" || arg == "--verbose":
			out = append(out, "--verbose=1")
		default:
			out = append(out, arg)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	return strings.Trim(s, "0123456789") == ""
}
