// Package main provides the sitectl command-line application.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/clean-dependency-project/sitectl/internal/cli"
	"github.com/clean-dependency-project/sitectl/internal/shell"
)

func main() {
	app := cli.NewApp()

	if err := app.Run(os.Args); err != nil {
		var cmdErr *shell.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
			fmt.Fprintln(os.Stderr, cmdErr.Stderr)
		}
		log.Fatal(err)
	}
}
