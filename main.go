package main

import (
	"os"

	"github.com/stepscope/stepscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
