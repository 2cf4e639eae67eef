//go:build !windows

package master

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/urfave/cli/v2"
)

// daemonize re-executes the current command detached from the
// terminal. The caller has already verified the exchange name; the
// child opens the listen port itself. The parent returns as soon as the
// child has started and does not wait for the port to be open.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return cli.Exit(err, 1)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}
