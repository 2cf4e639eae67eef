/*
Package master implements the "mx master" subcommand: it runs the
directory component of an exchange, optionally daemonized.
*/
package master

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mxhub/mx/cli/options"
	"github.com/mxhub/mx/pkg/config"
	"github.com/mxhub/mx/pkg/exchange"
	"github.com/mxhub/mx/pkg/services/metrics"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// daemonEnv marks the re-executed child of "mx master -d".
const daemonEnv = "MX_MASTER_DAEMONIZED"

// NewCommands returns the 'master' command.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "master",
			Usage:     "Run a master component",
			UsageText: "mx master [-n NAME] [-d|-f] [-c FILE]",
			Action:    run,
			Flags: []cli.Flag{
				options.MXName,
				options.ConfigFile,
				options.Debug,
				&cli.BoolFlag{
					Name:    "daemon",
					Aliases: []string{"d"},
					Usage:   "Run in the background",
				},
				&cli.BoolFlag{
					Name:    "foreground",
					Aliases: []string{"f"},
					Usage:   "Stay in the foreground (default)",
				},
			},
		},
	}
}

func run(ctx *cli.Context) error {
	cfg, err := options.LoadConfig(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}

	mxName, err := config.EffectiveName(firstOf(ctx.String("mx-name"), cfg.Name))
	if err != nil {
		return cli.Exit(err, 1)
	}

	if ctx.Bool("daemon") && os.Getenv(daemonEnv) == "" {
		return daemonize()
	}

	log, closer, err := options.HandleLoggingParams(ctx, cfg.Logger)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer closer()

	e, err := exchange.Master(exchange.Config{MXName: mxName, Logger: log})
	if err != nil {
		return cli.Exit(err, 1)
	}

	if !ctx.Bool("daemon") {
		fmt.Fprintf(ctx.App.ErrWriter, "Master listening on port %d for mx %q\n",
			e.Port(), mxName)
	}

	prometheus := metrics.NewPrometheusService(cfg.Prometheus, log)
	prometheus.Start()
	pprof := metrics.NewPprofService(cfg.Pprof, log)
	pprof.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info("signal received, shutting down", zap.Stringer("signal", s))
		e.Shutdown()
	}()

	err = e.Run()
	signal.Stop(sigCh)

	prometheus.ShutDown()
	pprof.ShutDown()

	if errText := e.Errors(); errText != "" {
		log.Info("runtime notices", zap.String("errors", errText))
	}
	if err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
