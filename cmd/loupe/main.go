package main

import (
	"os"

	"github.com/weft-tools/loupe/cmd/loupe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
