/*
Package quit implements the "mx quit" subcommand, asking a running
master to exit.
*/
package quit

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/mxhub/mx/cli/options"
	"github.com/mxhub/mx/pkg/config"
	"github.com/mxhub/mx/pkg/wire"
	"github.com/urfave/cli/v2"
)

const exitWait = 5 * time.Second

// NewCommands returns the 'quit' command.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "quit",
			Usage:     "Ask the master component to exit",
			UsageText: "mx quit [-n NAME] [-h HOST] [-v]",
			Action:    run,
			Flags: []cli.Flag{
				options.MXName,
				options.MXHost,
				&cli.BoolFlag{
					Name:    "verbose",
					Aliases: []string{"v"},
					Usage:   "Be verbose",
				},
			},
		},
	}
}

// run talks to the master over a bare socket: one QuitRequest frame
// out, then wait for the master to close the connection. No full
// client boot is needed to say goodbye.
func run(ctx *cli.Context) error {
	verbose := ctx.Bool("verbose")

	host := config.EffectiveHost(ctx.String("mx-host"))
	name, err := config.EffectiveName(ctx.String("mx-name"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	port := config.EffectivePort(name)
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	if verbose {
		fmt.Fprintf(ctx.App.ErrWriter, "Connecting to master for %q at %s... ", name, addr)
	}

	conn, err := net.DialTimeout("tcp", addr, exitWait)
	if err != nil {
		if verbose {
			fmt.Fprintln(ctx.App.ErrWriter, "failed.")
		}
		return cli.Exit(fmt.Sprintf("couldn't connect to master for %q at %s", name, addr), 1)
	}
	defer conn.Close()
	if verbose {
		fmt.Fprintln(ctx.App.ErrWriter, "done.")
		fmt.Fprintln(ctx.App.ErrWriter, "Sending quit request.")
	}

	frame := wire.EncodeFrame(nil, wire.QuitRequest, 0, nil)
	if _, err := conn.Write(frame); err != nil {
		return cli.Exit(err, 1)
	}

	if verbose {
		fmt.Fprint(ctx.App.ErrWriter, "Waiting for master to exit... ")
	}

	_ = conn.SetReadDeadline(time.Now().Add(exitWait))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	switch {
	case n > 0:
		return cli.Exit("master replied?!", 1)
	case err == io.EOF:
		if verbose {
			fmt.Fprintln(ctx.App.ErrWriter, "done.")
		}
		return nil
	default:
		if verbose {
			fmt.Fprintln(ctx.App.ErrWriter, "timeout!")
		}
		return cli.Exit("timed out waiting for master to exit", 1)
	}
}
