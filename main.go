package main

import (
	"os"

	"github.com/knowd-ai/knowd/cmd/root"
)

func main() {
	if err := root.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
