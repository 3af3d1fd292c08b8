// Command paper-trader runs the NSE paper trading engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"

	"paper-trader/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
