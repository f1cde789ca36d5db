package main

import (
	"context"
	"os"

	"github.com/bnema/altq/internal/cli"
	"github.com/bnema/altq/internal/infrastructure/logger"
)

var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).ExecuteContext(context.Background()); err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}
}
