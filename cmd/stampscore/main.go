package main

import (
	"context"
	"os"

	"github.com/stampscore/stampscore/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
