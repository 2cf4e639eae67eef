/*
Package query implements the read-only mx subcommands: name, host,
port and list.
*/
package query

import (
	"fmt"

	"github.com/mxhub/mx/cli/options"
	"github.com/mxhub/mx/pkg/config"
	"github.com/mxhub/mx/pkg/exchange"
	"github.com/mxhub/mx/pkg/wire"
	"github.com/urfave/cli/v2"
)

// listSettleTime is how long "mx list" lets the directory reports
// trickle in before printing, in seconds.
const listSettleTime = 1.0

// NewCommands returns the 'name', 'host', 'port' and 'list' commands.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "name",
			Usage:  "Print the effective MX name",
			Action: printName,
		},
		{
			Name:   "host",
			Usage:  "Print the effective MX host",
			Action: printHost,
		},
		{
			Name:      "port",
			Usage:     "Print the effective MX port",
			UsageText: "mx port [-n NAME]",
			Action:    printPort,
			Flags:     []cli.Flag{options.MXName},
		},
		{
			Name:      "list",
			Usage:     "Show a list of participating components",
			UsageText: "mx list [-n NAME] [-h HOST] [-v[LEVEL]]",
			Action:    list,
			Flags: []cli.Flag{
				options.MXName,
				options.MXHost,
				&cli.IntFlag{
					Name:        "verbose",
					Aliases:     []string{"v"},
					Usage:       "Verbosity: 1 also shows subscriptions, 2 includes system ones",
					DefaultText: "0",
				},
			},
		},
	}
}

func printName(ctx *cli.Context) error {
	name, err := config.EffectiveName(ctx.String("mx-name"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, name)
	return nil
}

func printHost(ctx *cli.Context) error {
	fmt.Fprintln(ctx.App.Writer, config.EffectiveHost(ctx.String("mx-host")))
	return nil
}

func printPort(ctx *cli.Context) error {
	name, err := config.EffectiveName(ctx.String("mx-name"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, config.EffectivePort(name))
	return nil
}

// list joins the exchange as a short-lived client: the hello handshake
// makes the master report every component, so after a settling period
// the local directory holds the full roster.
func list(ctx *cli.Context) error {
	verbosity := ctx.Int("verbose")
	if verbosity < 0 || verbosity > 2 {
		return cli.Exit("verbosity level out of bounds (0 - 2)", 1)
	}

	e, err := exchange.Client(exchange.Config{
		MXName: ctx.String("mx-name"),
		MXHost: ctx.String("mx-host"),
		MyName: "mx-list",
	})
	if err != nil {
		return cli.Exit(err, 1)
	}

	e.CreateTimer(0, exchange.Now()+listSettleTime, func(e *exchange.Exchange, id uint32, t float64) {
		for _, comp := range e.Components() {
			fmt.Fprintf(ctx.App.Writer, "%s (%s:%d)\n", comp.Name, comp.Host, comp.Port)
			if verbosity == 0 {
				continue
			}
			for _, typ := range comp.Subscriptions {
				if verbosity == 2 || typ >= wire.NumReserved {
					fmt.Fprintf(ctx.App.Writer, "\t%d (%s)\n", typ, e.MessageName(typ))
				}
			}
		}
		e.Shutdown()
	})

	if err := e.Run(); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}
