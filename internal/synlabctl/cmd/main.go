// Package main is the synlabctl command itself.
package main

import (
	"fmt"
	"os"

	"github.com/LeonardoBeccarini/synlab/internal/synlabctl"
)

func main() {
	if err := synlabctl.NewApp(os.Stdout, nil).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "synlabctl: %v\n", err)
		os.Exit(1)
	}
}
