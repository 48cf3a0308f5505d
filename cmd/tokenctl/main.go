// Command tokenctl is the clinic admin CLI. See package cli.
package main

import (
	"fmt"
	"os"

	"github.com/warp/token-engine/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
