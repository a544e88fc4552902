// Command shopsync runs the shop billing reconciliation agent.
package main

import (
	"context"
	"os"

	"github.com/roach88/shopsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
