package main

import (
	"fmt"
	"os"

	"github.com/half-blood-labs/route-shield/internal/cli"
	"github.com/half-blood-labs/route-shield/internal/logging"
)

func main() {
	defer logging.Sync()
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "route-shield: %v\n", err)
		os.Exit(1)
	}
}
