package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/adpipe/internal/app"
)

func main() {
	ctx, cancel := app.SignalContext(context.Background())
	code := app.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
