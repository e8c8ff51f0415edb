package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/plenum/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "plenum:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
