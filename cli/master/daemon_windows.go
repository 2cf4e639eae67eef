//go:build windows

package master

import "github.com/urfave/cli/v2"

func daemonize() error {
	return cli.Exit("daemon mode is not supported on Windows", 1)
}
