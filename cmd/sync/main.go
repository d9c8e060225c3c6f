// Package main provides the sfbridge entry point: an AWS Lambda handler by default, plus local
// commands for setup, one-off syncs and serving the sync API over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/peteski22/sfbridge/internal/config"
	"github.com/peteski22/sfbridge/internal/logging"
)

const usage = `usage: sfbridge [<command>] [<args>]

With no command, sfbridge runs as an AWS Lambda handler configured from the environment.

Commands
   init        Create ~/.sfbridge/config.yaml
   auth        Authorize with Salesforce and store the refresh token locally
   run         Sync events from a JSON file using the local config
   serve       Serve the sync API over HTTP using the environment configuration
   help        Display this message
`

func main() {
	if len(os.Args) < 2 {
		if err := runLambda(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	var err error
	switch cmd := os.Args[1]; cmd {
	case "init":
		err = runInit()
	case "auth":
		err = runSalesforceAuth(ctx)
	case "run":
		err = runLocal(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runLambda builds the sync service from the environment and hands it to the Lambda runtime.
func runLambda() error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.Setup(settings.Logging.Level, settings.Logging.Format)

	app, err := newAWSApp(context.Background(), settings, logger)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}

	lambda.Start(app.service.Run)
	return nil
}
