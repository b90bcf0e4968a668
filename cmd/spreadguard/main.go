package main

import (
	"os"

	"github.com/rustyeddy/spreadguard/cmd/spreadguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
