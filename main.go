package main

import (
	"os"

	"github.com/gluk-w/remotescope/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
