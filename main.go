package main

import (
	"fmt"
	"os"

	"github.com/mxhub/mx/cli/app"
)

func main() {
	a := app.New()
	args := append([]string{os.Args[0]}, app.NormalizeArgs(os.Args[1:])...)
	if err := a.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
