package main

import (
	"os"

	"nkit/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
