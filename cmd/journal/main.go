package main

import (
	"context"
	"os"

	"tradejournal/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
