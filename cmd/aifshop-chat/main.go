package main

import (
	"context"
	"os"

	"aifshop/cmd/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
