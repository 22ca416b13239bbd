package main

import (
	"os"

	"github.com/crewmux/crewmux/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
