package main

import (
	"os"

	"github.com/isol8/isol8/cmd/isol8/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
